// Package address compares ledger account addresses that may arrive in
// different textual encodings.
package address

import (
	"strings"

	"github.com/tonkeeper/tongo/ton"
)

// Normalizer expands an address into every textual form denoting the same
// account: the raw workchain:hex form, user-friendly bounceable and
// non-bounceable forms, and any configured prefix substitutions.
type Normalizer struct {
	pairs   [][2]string
	testnet bool
}

// NewNormalizer creates a Normalizer. Each pair is applied in both
// directions, e.g. {"EQ", "UQ"} maps EQ... to UQ... and back.
func NewNormalizer(pairs [][2]string, testnet bool) *Normalizer {
	return &Normalizer{pairs: pairs, testnet: testnet}
}

// EquivalentForms returns the set of interchangeable forms of addr,
// including addr itself. Unparseable input still gets prefix substitution.
func (n *Normalizer) EquivalentForms(addr string) map[string]struct{} {
	addr = strings.TrimSpace(addr)
	forms := make(map[string]struct{})
	if addr == "" {
		return forms
	}
	forms[addr] = struct{}{}

	if id, err := ton.ParseAccountID(addr); err == nil {
		forms[id.ToRaw()] = struct{}{}
		forms[id.ToHuman(true, n.testnet)] = struct{}{}
		forms[id.ToHuman(false, n.testnet)] = struct{}{}
	}

	base := make([]string, 0, len(forms))
	for f := range forms {
		base = append(base, f)
	}
	for _, f := range base {
		for _, p := range n.pairs {
			if rest, ok := strings.CutPrefix(f, p[0]); ok {
				forms[p[1]+rest] = struct{}{}
			}
			if rest, ok := strings.CutPrefix(f, p[1]); ok {
				forms[p[0]+rest] = struct{}{}
			}
		}
	}
	return forms
}

// Equivalent reports whether a and b denote the same account.
func (n *Normalizer) Equivalent(a, b string) bool {
	fa := n.EquivalentForms(a)
	for f := range n.EquivalentForms(b) {
		if _, ok := fa[f]; ok {
			return true
		}
	}
	return false
}

// Canonical returns the raw form of addr when it parses, otherwise addr trimmed.
func (n *Normalizer) Canonical(addr string) string {
	addr = strings.TrimSpace(addr)
	if id, err := ton.ParseAccountID(addr); err == nil {
		return id.ToRaw()
	}
	return addr
}

// Set is a membership test over addresses that ignores encoding.
type Set struct {
	n     *Normalizer
	forms map[string]struct{}
}

// NewSet builds a Set from addrs.
func (n *Normalizer) NewSet(addrs []string) *Set {
	s := &Set{n: n, forms: make(map[string]struct{})}
	for _, a := range addrs {
		for f := range n.EquivalentForms(a) {
			s.forms[f] = struct{}{}
		}
	}
	return s
}

// Contains reports whether any form of addr is in the set.
func (s *Set) Contains(addr string) bool {
	if s == nil || len(s.forms) == 0 {
		return false
	}
	for f := range s.n.EquivalentForms(addr) {
		if _, ok := s.forms[f]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of stored forms.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.forms)
}
