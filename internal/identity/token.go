package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/cinelist/internal/tokenfile"
)

// BearerSource hands out access tokens for the signed-in user, refreshing
// and persisting them as they expire. Safe for concurrent use.
type BearerSource struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

// TokenSource returns a bearer source for the saved session. ctx bounds
// refresh requests and must outlive the source. Returns ErrNotSignedIn when
// there is no session.
func (p *FileProvider) TokenSource(ctx context.Context) (*BearerSource, error) {
	f, err := tokenfile.Load(p.sessionPath)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	if f == nil {
		return nil, ErrNotSignedIn
	}

	p.logger.Debug("loaded saved session",
		slog.String("user_id", f.UserID),
		slog.Time("expiry", f.Token.Expiry),
		slog.Bool("valid", f.Token.Valid()),
	)

	refresh := &refreshSource{ctx: ctx, p: p, refreshToken: f.Token.RefreshToken}

	return &BearerSource{
		src:    oauth2.ReuseTokenSource(f.Token, refresh),
		logger: p.logger,
	}, nil
}

// Token returns a valid access token.
func (b *BearerSource) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("identity: obtaining token: %w", err)
	}

	return t.AccessToken, nil
}

// refreshSource exchanges the refresh token for a new access token and
// writes the result back to the session file. GoTrue rotates refresh tokens,
// so the latest one is kept here and re-read from disk in case another
// process refreshed first.
type refreshSource struct {
	ctx context.Context
	p   *FileProvider

	mu           sync.Mutex
	refreshToken string
}

func (s *refreshSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := tokenfile.Load(s.p.sessionPath)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	if saved == nil {
		return nil, ErrNotSignedIn
	}

	if saved.Token.RefreshToken != "" {
		s.refreshToken = saved.Token.RefreshToken
	}

	if s.refreshToken == "" {
		return nil, ErrSessionExpired
	}

	tr, err := s.p.requestToken(s.ctx, "refresh_token", map[string]string{
		"refresh_token": s.refreshToken,
	})
	if err != nil {
		if errors.Is(err, errGrantRejected) {
			return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}

		return nil, err
	}

	tok := s.p.oauthToken(tr)
	if tok.RefreshToken == "" {
		tok.RefreshToken = s.refreshToken
	}

	s.refreshToken = tok.RefreshToken

	if err := tokenfile.UpdateToken(s.p.sessionPath, tok); err != nil {
		s.p.logger.Warn("failed to persist refreshed token",
			slog.String("path", s.p.sessionPath),
			slog.String("error", err.Error()),
		)
	} else {
		s.p.logger.Info("persisted refreshed token",
			slog.String("path", s.p.sessionPath),
			slog.Time("new_expiry", tok.Expiry),
		)
	}

	return tok, nil
}
