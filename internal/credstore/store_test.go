package credstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagedeck/usagedeck/internal/errors"
)

func writeAuthFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestFileStoreExtract(t *testing.T) {
	dir := t.TempDir()
	writeAuthFile(t, dir, "acme.json", `{
		"type": "oauth",
		"email": "dev@acme.test",
		"access_token": "at-1",
		"refresh_token": "rt-1",
		"expiry_date": 1893456000000
	}`)

	fs := NewFileStore(dir, map[string]string{"acme": "acme.json"}, nil, nil)

	material, err := fs.Extract(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "at-1", material.AccessToken)
	assert.Equal(t, "rt-1", material.RefreshSecret)
	assert.Equal(t, time.UnixMilli(1893456000000), material.ExpiresAt)
}

func TestFileStoreExtractRFC3339Expiry(t *testing.T) {
	dir := t.TempDir()
	writeAuthFile(t, dir, "acme.json", `{
		"access_token": "at-1",
		"expires_at": "2030-01-01T00:00:00Z"
	}`)

	fs := NewFileStore(dir, map[string]string{"acme": "acme.json"}, nil, nil)

	material, err := fs.Extract(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2030, material.ExpiresAt.Year())
}

func TestFileStoreExtractUnavailable(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir, map[string]string{"acme": "acme.json"}, nil, nil)

	// Missing file.
	_, err := fs.Extract(context.Background(), "acme")
	require.ErrorIs(t, err, errors.ErrCredentialUnavailable)

	// Unknown account.
	_, err = fs.Extract(context.Background(), "ghost")
	require.ErrorIs(t, err, errors.ErrCredentialUnavailable)

	// Malformed JSON.
	writeAuthFile(t, dir, "acme.json", `{not json`)
	_, err = fs.Extract(context.Background(), "acme")
	require.ErrorIs(t, err, errors.ErrCredentialUnavailable)

	// Empty tokens.
	writeAuthFile(t, dir, "acme.json", `{"type":"oauth"}`)
	_, err = fs.Extract(context.Background(), "acme")
	require.ErrorIs(t, err, errors.ErrCredentialUnavailable)
}

func TestRefresherSuccess(t *testing.T) {
	var gotGrant, gotSecret, gotClient string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrant = r.Form.Get("grant_type")
		gotSecret = r.Form.Get("refresh_token")
		gotClient = r.Form.Get("client_id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	r := NewRefresher(server.URL, "deck-cli", nil)
	r.now = func() time.Time { return time.Unix(1000, 0) }

	material, err := r.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "rt-1", gotSecret)
	assert.Equal(t, "deck-cli", gotClient)
	assert.Equal(t, "at-2", material.AccessToken)
	assert.Equal(t, "rt-2", material.RefreshSecret)
	assert.Equal(t, time.Unix(4600, 0), material.ExpiresAt)
}

func TestRefresherInvalidGrantIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"revoked"}`))
	}))
	defer server.Close()

	r := NewRefresher(server.URL, "", nil)
	_, err := r.Refresh(context.Background(), "rt-old")
	require.ErrorIs(t, err, errors.ErrCredentialExpired)
}

func TestRefresherTransientFailureIsNotPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	r := NewRefresher(server.URL, "", nil)
	_, err := r.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrCredentialExpired)
}

func TestRefresherEmptySecret(t *testing.T) {
	r := NewRefresher("http://unused.invalid", "", nil)
	_, err := r.Refresh(context.Background(), "  ")
	require.ErrorIs(t, err, errors.ErrCredentialUnavailable)
}

func TestFileStoreWatcherNotifiesOnRewrite(t *testing.T) {
	dir := t.TempDir()
	writeAuthFile(t, dir, "acme.json", `{"access_token":"at-1"}`)

	fs := NewFileStore(dir, map[string]string{"acme": "acme.json"}, nil, nil)
	changed := make(chan string, 1)
	fs.SetOnChange(func(accountID string) {
		select {
		case changed <- accountID:
		default:
		}
	})
	require.NoError(t, fs.StartWatcher())
	defer fs.StopWatcher()

	writeAuthFile(t, dir, "acme.json", `{"access_token":"at-2"}`)

	select {
	case id := <-changed:
		assert.Equal(t, "acme", id)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report auth file change")
	}
}
