package api

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestStaticTokenSource(t *testing.T) {
	tok, err := StaticTokenSource("abc").Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestStaticTokenSource_Empty(t *testing.T) {
	_, err := StaticTokenSource("").Token()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestTokenFile_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")

	written := &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, writeTokenFile(path, written))

	// Token files must not be world-readable.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(tokenFileMode), info.Mode().Perm())

	read, err := readTokenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "access-1", read.AccessToken)
	assert.Equal(t, "refresh-1", read.RefreshToken)
}

func TestReadTokenFile_Missing(t *testing.T) {
	_, err := readTokenFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestReadTokenFile_EmptyToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := readTokenFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestReadTokenFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := readTokenFile(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
}

func TestTokenSourceFromPath_Missing(t *testing.T) {
	cfg := &oauth2.Config{}

	_, err := TokenSourceFromPath(context.Background(), filepath.Join(t.TempDir(), "nope.json"), cfg, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestFileTokenSource_Token(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, writeTokenFile(path, &oauth2.Token{AccessToken: "access-1"}))

	// A token without an expiry never refreshes.
	src, err := TokenSourceFromPath(context.Background(), path, &oauth2.Config{}, slog.Default())
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	assert.NoError(t, src.Valid(context.Background()))
}

func TestFileTokenSource_PersistsRotatedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, writeTokenFile(path, &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"}))

	src, err := TokenSourceFromPath(context.Background(), path, &oauth2.Config{}, slog.Default())
	require.NoError(t, err)

	// Simulate the oauth2 layer rotating the credential.
	src.source = staticOAuthSource{&oauth2.Token{AccessToken: "access-2", RefreshToken: "refresh-2"}}

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)

	onDisk, err := readTokenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "access-2", onDisk.AccessToken, "rotated token persisted for the next process start")
}

func TestFileTokenSource_ValidFailure(t *testing.T) {
	src := &FileTokenSource{
		tokenPath: filepath.Join(t.TempDir(), "token.json"),
		logger:    slog.Default(),
		source:    failingOAuthSource{},
	}

	err := src.Valid(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

// staticOAuthSource is an oauth2.TokenSource returning a fixed token.
type staticOAuthSource struct {
	tok *oauth2.Token
}

func (s staticOAuthSource) Token() (*oauth2.Token, error) {
	return s.tok, nil
}

// failingOAuthSource is an oauth2.TokenSource that always fails, standing in
// for a revoked refresh token.
type failingOAuthSource struct{}

func (failingOAuthSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("invalid_grant")
}
