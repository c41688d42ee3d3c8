package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		expectedLimit int
		expectedOff   int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "limit=10&offset=20", 10, 20},
		{"invalid limit", "limit=zero", 50, 0},
		{"negative offset", "offset=-5", 50, 0},
		{"zero limit rejected", "limit=0", 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/messages?"+tt.query, nil)
			limit, offset := parsePagination(r, 50)
			assert.Equal(t, tt.expectedLimit, limit)
			assert.Equal(t, tt.expectedOff, offset)
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, 404, "message not found")

	assert.Equal(t, 404, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"message not found"}`, w.Body.String())
}

func TestSaveAccountValidation(t *testing.T) {
	h := NewAccountsHandler(nil, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "{"},
		{"missing email", `{"imap_host":"mail.example.com","imap_password":"pw"}`},
		{"missing password", `{"email":"a@example.com","imap_host":"mail.example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("POST", "/api/v1/accounts", strings.NewReader(tt.body))
			h.SaveAccount(w, r)
			require.Equal(t, 400, w.Code)
		})
	}
}

func TestBlockSenderValidation(t *testing.T) {
	h := NewSpamHandler(nil, nil, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/v1/spam/block", strings.NewReader(`{}`))
	h.BlockSender(w, r)
	assert.Equal(t, 400, w.Code)
}
