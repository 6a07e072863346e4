package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/graphdrive/internal/tokenfile"
)

// Azure AD application registered as a public client (multi-tenant + personal).
const defaultClientID = "8efac532-bbe7-4bc5-919c-1443ccab860a"

var defaultScopes = []string{
	"offline_access",
	"Files.ReadWrite.All",
	"User.Read",
}

// ErrNotLoggedIn is returned when no saved token exists.
var ErrNotLoggedIn = errors.New("graph: not logged in")

// DeviceAuth holds the device code response fields that the CLI displays.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// OAuthConfig returns the OAuth2 configuration for the public client.
func OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: defaultClientID,
		Scopes:   defaultScopes,
		Endpoint: microsoft.AzureADEndpoint("common"),
	}
}

// Login performs the device code flow, saves the token at tokenPath and
// returns a TokenSource that persists refreshed tokens.
//
// The returned TokenSource binds ctx to the oauth2 token source; ctx must
// outlive it, so pass context.Background() for long-lived use.
func Login(
	ctx context.Context, cfg *oauth2.Config, tokenPath, drive string, display func(DeviceAuth), logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting device code auth flow", slog.String("path", tokenPath))

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: device auth request failed: %w", err)
	}

	display(DeviceAuth{UserCode: da.UserCode, VerificationURI: da.VerificationURI})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("graph: device code authorization failed: %w", err)
	}

	if err := tokenfile.Save(tokenPath, &tokenfile.File{Token: tok, Drive: drive}); err != nil {
		return nil, fmt.Errorf("graph: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newPersistingSource(ctx, cfg, tok, tokenPath, drive, logger), nil
}

// TokenSourceFromPath loads the token saved at tokenPath and returns a
// TokenSource that refreshes it when expired and writes refreshed tokens
// back to disk.
func TokenSourceFromPath(ctx context.Context, cfg *oauth2.Config, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	tf, err := tokenfile.Load(tokenPath)
	if errors.Is(err, tokenfile.ErrNotFound) {
		return nil, ErrNotLoggedIn
	}

	if err != nil {
		return nil, err
	}

	expired := !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	return newPersistingSource(ctx, cfg, tf.Token, tokenPath, tf.Drive, logger), nil
}

// Logout removes the saved token.
func Logout(tokenPath string, logger *slog.Logger) error {
	if err := tokenfile.Remove(tokenPath); err != nil {
		return err
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// persistingSource adapts oauth2.TokenSource to TokenSource and saves the
// token whenever the underlying source hands out a new access token.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	drive  string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func newPersistingSource(
	ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, path, drive string, logger *slog.Logger,
) *persistingSource {
	return &persistingSource{
		src:    oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)),
		path:   path,
		drive:  drive,
		logger: logger,
		last:   tok.AccessToken,
	}
}

func (p *persistingSource) Token() (string, error) {
	t, err := p.src.Token()
	if err != nil {
		p.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("graph: obtaining token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if t.AccessToken != p.last {
		p.last = t.AccessToken

		if saveErr := tokenfile.Save(p.path, &tokenfile.File{Token: t, Drive: p.drive}); saveErr != nil {
			p.logger.Warn("failed to persist refreshed token",
				slog.String("path", p.path),
				slog.String("error", saveErr.Error()),
			)
		} else {
			p.logger.Info("persisted refreshed token", slog.Time("new_expiry", t.Expiry))
		}
	}

	return t.AccessToken, nil
}

// StaticToken is a TokenSource returning a fixed access token, for tokens
// obtained outside this program.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrNotLoggedIn
	}

	return string(s), nil
}
