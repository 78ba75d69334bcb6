package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDescribe_MapsEveryKind(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"database not found", NewNotFoundError("find instance"), http.StatusNotFound, "database"},
		{"database other", NewDatabaseError("insert user", errors.New("conn reset")), http.StatusInternalServerError, "database"},
		{"http", NewHTTPError("search", errors.New("dial tcp: timeout")), http.StatusInternalServerError, "http_client"},
		{"url", NewURLError("parse", errors.New("bad url")), http.StatusBadRequest, "invalid_url"},
		{"invalid path", NewInvalidPathError("callback"), http.StatusNotFound, "invalid_path"},
		{"registration", NewRegistrationError("register", "missing client_id"), http.StatusBadGateway, "registration"},
		{"banned", NewBannedError("begin", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)), http.StatusForbidden, "banned"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Describe(tt.err)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantCode, p.Code)
			assert.NotEmpty(t, p.Description)
		})
	}
}

func TestDescribe_RemoteErrorKeepsStatusAndDescription(t *testing.T) {
	remote := &RemoteError{Status: http.StatusUnauthorized, Code: "invalid_token", Description: "token revoked"}
	err := fmt.Errorf("rewrite failed: %w", NewRemoteError("search", remote))

	p := Describe(err)

	assert.Equal(t, http.StatusUnauthorized, p.Status)
	assert.Equal(t, "invalid_token", p.Code)
	assert.Equal(t, "token revoked", p.Description)
	assert.Equal(t, KindRemote, KindOf(err))
}

func TestKindOf_UnwrapsChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewHTTPError("token", errors.New("eof")))
	assert.Equal(t, KindHTTP, KindOf(err))
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
}

func TestNotFoundError_IsErrNotFound(t *testing.T) {
	err := NewNotFoundError("find user")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInstance_IsBanned(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.False(t, (&Instance{}).IsBanned(now))
	assert.True(t, (&Instance{BannedUntil: &future}).IsBanned(now))
	assert.False(t, (&Instance{BannedUntil: &past}).IsBanned(now))
}

func TestInstance_URL(t *testing.T) {
	i := &Instance{Domain: "mastodon.example"}
	assert.Equal(t, "https://mastodon.example/", i.URL().String())
}
