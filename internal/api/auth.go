package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNotAuthenticated indicates no usable credential is available. The
// orchestrator's auth gate maps this to its Disabled state rather than
// attempting a cycle that would fail on every request.
var ErrNotAuthenticated = errors.New("api: not authenticated")

// tokenFileMode restricts the persisted token to the owning user.
const tokenFileMode = 0o600

// StaticTokenSource returns a TokenSource that always yields the given
// bearer token. Used in tests and for service deployments with a
// pre-provisioned credential.
func StaticTokenSource(token string) TokenSource {
	return staticSource(token)
}

type staticSource string

func (s staticSource) Token() (string, error) {
	if s == "" {
		return "", ErrNotAuthenticated
	}

	return string(s), nil
}

// FileTokenSource yields bearer tokens from an oauth2 token persisted at
// tokenPath, refreshing through cfg when expired and writing the refreshed
// token back so the next process start does not need to refresh again.
type FileTokenSource struct {
	tokenPath string
	logger    *slog.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
	last   *oauth2.Token
}

// TokenSourceFromPath loads the persisted token at tokenPath and returns a
// FileTokenSource bound to ctx. Returns ErrNotAuthenticated if no token
// file exists. ctx must outlive the source — pass context.Background() for
// long-lived sessions.
func TokenSourceFromPath(ctx context.Context, tokenPath string, cfg *oauth2.Config, logger *slog.Logger) (*FileTokenSource, error) {
	tok, err := readTokenFile(tokenPath)
	if err != nil {
		return nil, err
	}

	return &FileTokenSource{
		tokenPath: tokenPath,
		logger:    logger,
		source:    cfg.TokenSource(ctx, tok),
		last:      tok,
	}, nil
}

// Token returns a valid bearer token, refreshing if necessary. A refresh
// that yields a new token is persisted before the token is returned.
func (f *FileTokenSource) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tok, err := f.source.Token()
	if err != nil {
		return "", fmt.Errorf("api: refreshing token: %w", err)
	}

	// Persist on rotation so restarts resume with the fresh credential.
	if f.last == nil || tok.AccessToken != f.last.AccessToken {
		if writeErr := writeTokenFile(f.tokenPath, tok); writeErr != nil {
			f.logger.Warn("could not persist refreshed token",
				slog.String("path", f.tokenPath),
				slog.String("error", writeErr.Error()),
			)
		} else {
			f.logger.Debug("persisted refreshed token", slog.String("path", f.tokenPath))
		}

		f.last = tok
	}

	return tok.AccessToken, nil
}

// Valid reports whether a usable credential is currently available. It
// drives the orchestrator's auth gate: a refresh failure here parks the
// engine instead of burning a cycle on guaranteed 401s.
func (f *FileTokenSource) Valid(_ context.Context) error {
	if _, err := f.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	return nil
}

// readTokenFile loads and decodes a persisted oauth2 token.
func readTokenFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotAuthenticated
	}

	if err != nil {
		return nil, fmt.Errorf("api: reading token file %s: %w", path, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("api: parsing token file %s: %w", path, err)
	}

	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	return &tok, nil
}

// writeTokenFile persists a token atomically (write temp, rename).
func writeTokenFile(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("api: encoding token: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("api: creating token dir: %w", err)
	}

	if err := os.WriteFile(tmp, data, tokenFileMode); err != nil {
		return fmt.Errorf("api: writing token file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("api: replacing token file: %w", err)
	}

	return nil
}
