package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   interface{}
	}{
		{name: "map", status: http.StatusOK, data: map[string]string{"status": "pending"}},
		{name: "struct", status: http.StatusCreated, data: struct{ Memo string }{"AB1234"}},
		{name: "slice", status: http.StatusOK, data: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var decoded interface{}
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
		})
	}
}

func TestWriteJSON_InvalidData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, make(chan int))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusNotFound, "payment not found")

	require.Equal(t, http.StatusNotFound, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "payment not found", body.Error)
	assert.Empty(t, body.Code)
}

func TestWriteErrorCode(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorCode(w, http.StatusConflict, "duplicate_memo", "memo already in use")

	require.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "duplicate_memo", body.Code)
	assert.Equal(t, "memo already in use", body.Error)
}
