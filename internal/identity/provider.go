// Package identity tracks who owns the watchlist on this machine: a signed-in
// account (session file), an explicit guest (guest flag file), or nobody yet.
// Sessions come from the account backend's GoTrue auth API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/cinelist/internal/tokenfile"
	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// File names inside the data directory.
const (
	SessionFile = "session.json"
	GuestFile   = "guest"
)

// ErrNotSignedIn is returned when an operation needs a session and none
// exists.
var ErrNotSignedIn = errors.New("identity: not signed in")

// Session is the signed-in identity. Tokens stay inside this package and
// tokenfile; callers only see the user and expiry.
type Session struct {
	UserID string
	Email  string
	Expiry time.Time
}

// Config configures NewFileProvider.
type Config struct {
	DataDir    string // holds the session file and guest flag
	AuthURL    string // project URL; /auth/v1 is appended
	AnonKey    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// FileProvider is an identity provider backed by files in the data
// directory. Several processes may share one data directory; Subscribe picks
// up changes made by any of them.
type FileProvider struct {
	dataDir     string
	sessionPath string
	guestPath   string
	authURL     string
	anonKey     string
	httpClient  *http.Client
	logger      *slog.Logger

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewFileProvider creates a provider rooted at cfg.DataDir.
func NewFileProvider(cfg *Config) *FileProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &FileProvider{
		dataDir:     cfg.DataDir,
		sessionPath: filepath.Join(cfg.DataDir, SessionFile),
		guestPath:   filepath.Join(cfg.DataDir, GuestFile),
		authURL:     strings.TrimRight(cfg.AuthURL, "/") + "/auth/v1",
		anonKey:     cfg.AnonKey,
		httpClient:  httpClient,
		logger:      logger,
		nowFunc:     time.Now,
		sleepFunc:   timeSleep,
	}
}

// SessionPath returns the session file location.
func (p *FileProvider) SessionPath() string {
	return p.sessionPath
}

// CurrentSession returns the saved session, or nil when signed out.
func (p *FileProvider) CurrentSession(_ context.Context) (*Session, error) {
	f, err := tokenfile.Load(p.sessionPath)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	if f == nil {
		return nil, nil //nolint:nilnil // nil session means signed out
	}

	return &Session{UserID: f.UserID, Email: f.Email, Expiry: f.Token.Expiry}, nil
}

// IsGuest reports whether the user chose to continue without an account.
func (p *FileProvider) IsGuest() bool {
	_, err := os.Stat(p.guestPath)
	return err == nil
}

// ContinueAsGuest persists the guest choice.
func (p *FileProvider) ContinueAsGuest() error {
	if err := os.MkdirAll(p.dataDir, tokenfile.DirPerms); err != nil {
		return fmt.Errorf("identity: creating data directory: %w", err)
	}

	if err := os.WriteFile(p.guestPath, []byte("1\n"), tokenfile.FilePerms); err != nil {
		return fmt.Errorf("identity: writing guest flag: %w", err)
	}

	p.logger.Info("continuing as guest")

	return nil
}

// SignOut removes the session and the guest flag. Signing out twice is not
// an error.
func (p *FileProvider) SignOut() error {
	if err := tokenfile.Remove(p.sessionPath); err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	if err := removeIfExists(p.guestPath); err != nil {
		return err
	}

	p.logger.Info("signed out", slog.String("path", p.sessionPath))

	return nil
}

// Owner resolves the current owner. A session that cannot be read counts as
// no session.
func (p *FileProvider) Owner(ctx context.Context) watchlist.OwnerContext {
	s, err := p.CurrentSession(ctx)
	if err != nil {
		p.logger.Warn("unreadable session, treating as guest",
			slog.String("error", err.Error()),
		)
	}

	return OwnerOf(s)
}

// OwnerOf maps a session to the watchlist owner: Authenticated for a
// session, Guest otherwise.
func OwnerOf(s *Session) watchlist.OwnerContext {
	if s == nil {
		return watchlist.Guest()
	}

	return watchlist.Authenticated(s.UserID)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("identity: removing %s: %w", path, err)
	}

	return nil
}
