package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldNoColor := Out, Err, color.NoColor
	Out, Err, color.NoColor = &out, &errOut, true
	t.Cleanup(func() {
		Out, Err, color.NoColor = oldOut, oldErr, oldNoColor
	})
	return &out, &errOut
}

func TestMessages(t *testing.T) {
	out, errOut := capture(t)

	Success("Created %d items in %s", 5, "database")
	Info("Profile: %s", "default")
	Warn("token expires soon")
	Error("Failed to connect to %s on port %d", "server", 8080)

	assert.Contains(t, out.String(), "✓ Created 5 items in database")
	assert.Contains(t, out.String(), "Profile: default")
	assert.Contains(t, out.String(), "⚠ token expires soon")
	assert.Contains(t, errOut.String(), "✗ Failed to connect to server on port 8080")
	assert.NotContains(t, out.String(), "Failed to connect")
}

func TestRender(t *testing.T) {
	v := map[string]any{"memo": "AB1234", "status": "confirmed"}

	tests := []struct {
		format string
		check  func(t *testing.T, got string)
	}{
		{FormatJSON, func(t *testing.T, got string) {
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(got), &decoded))
			assert.Equal(t, "AB1234", decoded["memo"])
			assert.Contains(t, got, "  \"memo\"")
		}},
		{FormatYAML, func(t *testing.T, got string) {
			var decoded map[string]any
			require.NoError(t, yaml.Unmarshal([]byte(got), &decoded))
			assert.Equal(t, "confirmed", decoded["status"])
		}},
		{FormatTable, func(t *testing.T, got string) {
			assert.Equal(t, "table\n", got)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, _ := capture(t)
			err := Render(tt.format, v, func() { Info("table") })
			require.NoError(t, err)
			tt.check(t, out.String())
		})
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	capture(t)
	err := Render("xml", nil, func() {})
	assert.ErrorContains(t, err, "unknown output format")
}

func TestTable_Render(t *testing.T) {
	out, _ := capture(t)

	table := NewTable([]string{"Memo", "Status"})
	table.AddRow([]string{"AB1234", "confirmed"})
	table.AddRow([]string{"CD5678", "expired"})
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Memo  "))
	assert.True(t, strings.HasPrefix(lines[1], "------"))
	assert.Equal(t, strings.Index(lines[0], "Status"), strings.Index(lines[2], "confirmed"))
	assert.Equal(t, strings.Index(lines[2], "confirmed"), strings.Index(lines[3], "expired"))
}

func TestTable_RenderIgnoresColorCodes(t *testing.T) {
	out, _ := capture(t)
	color.NoColor = false
	defer func() { color.NoColor = true }()

	table := NewTable([]string{"Status", "Memo"})
	table.AddRow([]string{Status("confirmed"), "AB1234"})
	table.AddRow([]string{"pending", "CD5678"})
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, visibleLen(lines[2][:strings.Index(lines[2], "AB1234")]), strings.Index(lines[3], "CD5678"))
}

func TestVisibleLen(t *testing.T) {
	assert.Equal(t, 9, visibleLen("confirmed"))
	assert.Equal(t, 9, visibleLen("\x1b[32;1mconfirmed\x1b[0m"))
	assert.Equal(t, 0, visibleLen(""))
}
