package address

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	foundationBounceable = "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"
	foundationRaw        = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer([][2]string{{"EQ", "UQ"}}, false)
}

func TestEquivalentForms_Empty(t *testing.T) {
	assert.Empty(t, newTestNormalizer().EquivalentForms("  "))
}

func TestEquivalentForms_ParsedAddress(t *testing.T) {
	forms := newTestNormalizer().EquivalentForms(foundationBounceable)

	assert.Contains(t, forms, foundationBounceable)
	assert.Contains(t, forms, foundationRaw)

	var nonBounceable int
	for f := range forms {
		if strings.HasPrefix(f, "UQ") {
			nonBounceable++
		}
	}
	assert.GreaterOrEqual(t, nonBounceable, 1)
}

func TestEquivalentForms_PrefixSubstitutionOnly(t *testing.T) {
	forms := newTestNormalizer().EquivalentForms("EQnot-a-real-address")

	assert.Len(t, forms, 2)
	assert.Contains(t, forms, "EQnot-a-real-address")
	assert.Contains(t, forms, "UQnot-a-real-address")
}

func TestEquivalent(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", foundationBounceable, foundationBounceable, true},
		{"bounceable vs raw", foundationBounceable, foundationRaw, true},
		{"raw upper case", foundationRaw, strings.ToUpper(foundationRaw), true},
		{"prefix pair", "EQxyz", "UQxyz", true},
		{"prefix pair reversed", "UQxyz", "EQxyz", true},
		{"different accounts", "EQxyz", "UQabc", false},
		{"empty", "", foundationRaw, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Equivalent(tt.a, tt.b))
			assert.Equal(t, tt.want, n.Equivalent(tt.b, tt.a))
		})
	}
}

func TestEquivalentForms_Symmetric(t *testing.T) {
	n := newTestNormalizer()
	for f := range n.EquivalentForms(foundationBounceable) {
		assert.True(t, n.Equivalent(f, foundationBounceable), "form %s", f)
	}
}

func TestCanonical(t *testing.T) {
	n := newTestNormalizer()
	assert.Equal(t, foundationRaw, n.Canonical(foundationBounceable))
	assert.Equal(t, "garbage", n.Canonical(" garbage "))
}

func TestSet(t *testing.T) {
	n := newTestNormalizer()
	set := n.NewSet([]string{foundationBounceable, "EQdenied"})

	assert.True(t, set.Contains(foundationRaw))
	assert.True(t, set.Contains("UQdenied"))
	assert.False(t, set.Contains("EQallowed"))
	assert.False(t, set.Contains(""))
	assert.Positive(t, set.Len())

	var empty *Set
	assert.False(t, empty.Contains(foundationRaw))
	assert.Zero(t, empty.Len())
}
