// Package tokens hands out OAuth access tokens for sellers, refreshing them when expired.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/julienbonastre/listing-copier/internal/database"
	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// DefaultTokenURL is the marketplace OAuth token endpoint.
const DefaultTokenURL = "https://api.mercadolibre.com/oauth/token"

// expiryMargin treats tokens as expired slightly early.
const expiryMargin = 60 * time.Second

// Store persists seller credentials.
type Store interface {
	GetSeller(ctx context.Context, slug string) (*database.Seller, error)
	UpdateSellerToken(ctx context.Context, slug, accessToken, refreshToken string, expiresAt time.Time) error
}

// Config holds the application-level OAuth credentials used when a seller has none.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
}

// Provider implements marketplace.TokenSource on top of a seller store.
type Provider struct {
	store  Store
	config Config
	logger *zap.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewProvider creates a token provider
func NewProvider(store Store, cfg Config, logger *zap.Logger) *Provider {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Token returns a valid access token for seller, refreshing it at most once concurrently.
func (p *Provider) Token(ctx context.Context, seller string) (string, error) {
	v, err, _ := p.group.Do(seller, func() (any, error) {
		return p.token(ctx, seller)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) token(ctx context.Context, slug string) (string, error) {
	s, err := p.store.GetSeller(ctx, slug)
	if errors.Is(err, database.ErrSellerNotFound) {
		return "", fmt.Errorf("%w: seller %q is not registered", marketplace.ErrUnauthenticated, slug)
	}
	if err != nil {
		return "", fmt.Errorf("load seller %s: %w", slug, err)
	}
	if !s.Active {
		return "", fmt.Errorf("%w: seller %q is inactive", marketplace.ErrUnauthenticated, slug)
	}

	if s.AccessToken != "" && s.TokenExpiresAt != nil && p.now().Add(expiryMargin).Before(*s.TokenExpiresAt) {
		return s.AccessToken, nil
	}

	if s.RefreshToken == "" {
		return "", fmt.Errorf("%w: seller %q has no refresh token", marketplace.ErrUnauthenticated, slug)
	}

	tok, err := p.refresh(ctx, s)
	if err != nil {
		return "", err
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = s.RefreshToken
	}
	if err := p.store.UpdateSellerToken(ctx, slug, tok.AccessToken, refresh, tok.Expiry); err != nil {
		// The fresh token is still usable for this call.
		p.logger.Error("Failed to persist refreshed token", zap.String("seller", slug), zap.Error(err))
	}

	p.logger.Info("Refreshed seller token", zap.String("seller", slug), zap.Time("expires_at", tok.Expiry))
	return tok.AccessToken, nil
}

func (p *Provider) refresh(ctx context.Context, s *database.Seller) (*oauth2.Token, error) {
	clientID, clientSecret := s.AppID, s.SecretKey
	if clientID == "" || clientSecret == "" {
		clientID, clientSecret = p.config.ClientID, p.config.ClientSecret
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	if p.config.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.config.HTTPClient)
	}

	expired := &oauth2.Token{
		RefreshToken: s.RefreshToken,
		Expiry:       p.now().Add(-time.Minute),
	}
	tok, err := cfg.TokenSource(ctx, expired).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: refresh for seller %q rejected: %v", marketplace.ErrUnauthenticated, s.Slug, err)
		}
		return nil, fmt.Errorf("refresh token for seller %s: %w", s.Slug, err)
	}
	return tok, nil
}
