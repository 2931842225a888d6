package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type body struct {
		OwnerID string `json:"owner_id"`
		Amount  string `json:"amount"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{name: "valid body", payload: `{"owner_id":"u1","amount":"10.00"}`},
		{name: "empty body", payload: ``, wantErr: "request body is empty"},
		{name: "unknown field", payload: `{"owner_id":"u1","bogus":1}`, wantErr: "invalid request body"},
		{name: "malformed", payload: `{"owner_id":`, wantErr: "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(tt.payload))
			var dst body
			err := DecodeJSON(req, &dst)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", dst.OwnerID)
			assert.Equal(t, "10.00", dst.Amount)
		})
	}
}

func TestParseIntParam(t *testing.T) {
	assert.Equal(t, 5, ParseIntParam("", 5))
	assert.Equal(t, 5, ParseIntParam("abc", 5))
	assert.Equal(t, 12, ParseIntParam("12", 5))
	assert.Equal(t, -3, ParseIntParam("-3", 5))
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		page   int
		limit  int
		offset int
	}{
		{name: "defaults", query: "", page: 1, limit: 50, offset: 0},
		{name: "explicit", query: "page=3&limit=20", page: 3, limit: 20, offset: 40},
		{name: "limit clamped", query: "limit=5000", page: 1, limit: 200, offset: 0},
		{name: "negative page", query: "page=-2&limit=10", page: 1, limit: 10, offset: 0},
		{name: "zero limit", query: "limit=0", page: 1, limit: 50, offset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/review?"+tt.query, nil)
			p := ParsePagination(req, 50, 200)
			assert.Equal(t, tt.page, p.Page)
			assert.Equal(t, tt.limit, p.Limit)
			assert.Equal(t, tt.offset, p.Offset())
		})
	}
}
