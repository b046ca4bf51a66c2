package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/cinelist/internal/tokenfile"
)

// Sentinel errors for auth failures.
var (
	ErrInvalidCredentials = errors.New("identity: invalid email or password")
	ErrSessionExpired     = errors.New("identity: session expired, sign in again")
)

// maxErrorBody bounds how much of an auth error response is read.
const maxErrorBody = 4096

// tokenResponse is the GoTrue /token response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// errorResponse covers the error shapes GoTrue has used across versions.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}

	return "unknown error"
}

// SignIn exchanges email and password for a session, saves it, and clears
// the guest flag.
func (p *FileProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	p.logger.Info("signing in", slog.String("email", email))

	resp, err := p.requestToken(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		if errors.Is(err, errGrantRejected) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}

		return nil, err
	}

	userID := resp.User.ID
	if userID == "" {
		if userID, err = subjectFromJWT(resp.AccessToken); err != nil {
			return nil, err
		}
	}

	userEmail := resp.User.Email
	if userEmail == "" {
		userEmail = email
	}

	tok := p.oauthToken(resp)

	if err := tokenfile.Save(p.sessionPath, &tokenfile.File{
		Token:  tok,
		UserID: userID,
		Email:  userEmail,
	}); err != nil {
		return nil, fmt.Errorf("identity: saving session: %w", err)
	}

	if err := removeIfExists(p.guestPath); err != nil {
		return nil, err
	}

	p.logger.Info("sign-in successful",
		slog.String("user_id", userID),
		slog.Time("expiry", tok.Expiry),
	)

	return &Session{UserID: userID, Email: userEmail, Expiry: tok.Expiry}, nil
}

// errGrantRejected marks a 4xx answer from the token endpoint.
var errGrantRejected = errors.New("grant rejected")

// requestToken posts a grant to the GoTrue token endpoint.
func (p *FileProvider) requestToken(ctx context.Context, grant string, body any) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("identity: encoding %s grant: %w", grant, err)
	}

	url := p.authURL + "/token?grant_type=" + grant

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("identity: creating request: %w", err)
	}

	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: %s grant: %w", grant, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		var er errorResponse
		_ = json.Unmarshal(raw, &er)

		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("identity: %s grant: HTTP %d: %s: %w",
				grant, resp.StatusCode, er.text(), errGrantRejected)
		}

		return nil, fmt.Errorf("identity: %s grant: HTTP %d: %s", grant, resp.StatusCode, er.text())
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("identity: decoding token response: %w", err)
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("identity: %s grant returned no access token", grant)
	}

	return &tr, nil
}

// oauthToken converts a GoTrue response to an oauth2.Token. When expires_in
// is missing the JWT exp claim is used.
func (p *FileProvider) oauthToken(tr *tokenResponse) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}

	if tr.ExpiresIn > 0 {
		tok.Expiry = p.nowFunc().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else if exp, err := expiryFromJWT(tr.AccessToken); err == nil {
		tok.Expiry = exp
	}

	return tok
}

// parseClaims decodes a JWT without verifying its signature. The token came
// straight from the auth server over TLS; only the server verifies it.
func parseClaims(accessToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("identity: parsing access token: %w", err)
	}

	return claims, nil
}

func subjectFromJWT(accessToken string) (string, error) {
	claims, err := parseClaims(accessToken)
	if err != nil {
		return "", err
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("identity: access token has no subject")
	}

	return sub, nil
}

func expiryFromJWT(accessToken string) (time.Time, error) {
	claims, err := parseClaims(accessToken)
	if err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("identity: access token has no expiry")
	}

	return exp.Time, nil
}
