package ghapp

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cli/go-gh/v2/pkg/api"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

const (
	defaultHost = "github.com"
	// GitHub rejects app JWTs valid for more than ten minutes.
	jwtLifetime = 9 * time.Minute
	jwtBackdate = 60 * time.Second
	// Installation tokens live one hour; refresh well before that.
	tokenRefreshMargin = 5 * time.Minute
	defaultTimeout     = 10 * time.Second
)

// ErrNoInstallation is returned when no installation can be found for a repository.
var ErrNoInstallation = errors.New("no GitHub App installation")

// Options tune how the App reaches the GitHub API.
type Options struct {
	// Host is github.com or a GitHub Enterprise Server hostname.
	Host    string
	Timeout time.Duration
	// Transport overrides the HTTP transport of every client built by the App.
	Transport http.RoundTripper
	// BaseURL overrides the REST API root, e.g. an httptest server in tests.
	BaseURL string
}

// App authenticates as a GitHub App and hands out installation-scoped clients.
type App struct {
	id   int64
	key  *rsa.PrivateKey
	opts Options

	mu     sync.Mutex
	tokens map[int64]oauth2.TokenSource
}

// New parses the PEM encoded private key (PKCS#1 or PKCS#8) of app id.
func New(id int64, privateKeyPEM []byte, opts Options) (*App, error) {
	if id == 0 {
		return nil, errors.New("ghapp: app id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("ghapp: parsing private key: %w", err)
	}
	if opts.Host == "" {
		opts.Host = defaultHost
	}
	return &App{id: id, key: key, opts: opts, tokens: make(map[int64]oauth2.TokenSource)}, nil
}

// JWT signs a short-lived token identifying the App itself.
func (a *App) JWT(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": a.id,
		"iat": now.Add(-jwtBackdate).Unix(),
		"exp": now.Add(jwtLifetime).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("ghapp: signing JWT: %w", err)
	}
	return signed, nil
}

// Token implements oauth2.TokenSource with the App JWT.
func (a *App) Token() (*oauth2.Token, error) {
	now := time.Now()
	signed, err := a.JWT(now)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      now.Add(jwtLifetime - time.Minute),
	}, nil
}

// InstallationToken exchanges the App JWT for a new installation access token.
func (a *App) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	tok, err := a.createInstallationToken(ctx, installationID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (a *App) createInstallationToken(ctx context.Context, installationID int64) (*oauth2.Token, error) {
	client, err := a.restClient(ctx, oauth2.ReuseTokenSource(nil, a))
	if err != nil {
		return nil, err
	}
	tok, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("ghapp: creating token for installation %d: %w", installationID, err)
	}
	if tok.GetToken() == "" {
		return nil, fmt.Errorf("ghapp: empty token for installation %d", installationID)
	}
	return &oauth2.Token{
		AccessToken: tok.GetToken(),
		TokenType:   "token",
		Expiry:      tok.GetExpiresAt().Time,
	}, nil
}

// installationTokenSource mints installation tokens on demand.
type installationTokenSource struct {
	app *App
	id  int64
}

func (s installationTokenSource) Token() (*oauth2.Token, error) {
	timeout := s.app.opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.app.createInstallationToken(ctx, s.id)
}

// cachedToken returns the installation token, minting a new one only when
// the cached one is within tokenRefreshMargin of expiring.
func (a *App) cachedToken(installationID int64) (string, error) {
	a.mu.Lock()
	ts, ok := a.tokens[installationID]
	if !ok {
		ts = oauth2.ReuseTokenSourceWithExpiry(nil, installationTokenSource{app: a, id: installationID}, tokenRefreshMargin)
		a.tokens[installationID] = ts
	}
	a.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// InstallationID picks the installation to act as: the id carried by the
// delivery, then the configured fallback, then a lookup on the repository.
func (a *App) InstallationID(ctx context.Context, fromEvent, fallback int64, owner, repo string) (int64, error) {
	if fromEvent != 0 {
		return fromEvent, nil
	}
	if fallback != 0 {
		return fallback, nil
	}
	client, err := a.restClient(ctx, oauth2.ReuseTokenSource(nil, a))
	if err != nil {
		return 0, err
	}
	inst, _, err := client.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return 0, fmt.Errorf("ghapp: finding installation for %s/%s: %w", owner, repo, err)
	}
	if inst.GetID() == 0 {
		return 0, fmt.Errorf("%w for %s/%s", ErrNoInstallation, owner, repo)
	}
	return inst.GetID(), nil
}

// REST returns a go-github client authenticated as the installation. The
// installation token is shared with GraphQL until it nears expiry.
func (a *App) REST(ctx context.Context, installationID int64) (*github.Client, error) {
	tok, err := a.cachedToken(installationID)
	if err != nil {
		return nil, err
	}
	return a.restClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}))
}

// GraphQL returns a GraphQL client authenticated as the installation.
func (a *App) GraphQL(_ context.Context, installationID int64) (*api.GraphQLClient, error) {
	tok, err := a.cachedToken(installationID)
	if err != nil {
		return nil, err
	}
	return a.GraphQLWithToken(tok)
}

// GraphQLWithToken returns a GraphQL client authenticated with a fixed
// token, such as a personal access token.
func (a *App) GraphQLWithToken(token string) (*api.GraphQLClient, error) {
	client, err := api.NewGraphQLClient(api.ClientOptions{
		AuthToken:    token,
		Host:         a.opts.Host,
		Timeout:      a.opts.Timeout,
		Transport:    a.opts.Transport,
		LogIgnoreEnv: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ghapp: creating GraphQL client: %w", err)
	}
	return client, nil
}

func (a *App) restClient(ctx context.Context, ts oauth2.TokenSource) (*github.Client, error) {
	if a.opts.Transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: a.opts.Transport})
	}
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = a.opts.Timeout

	client := github.NewClient(hc)
	switch {
	case a.opts.BaseURL != "":
		base, err := url.Parse(strings.TrimSuffix(a.opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("ghapp: parsing base URL: %w", err)
		}
		client.BaseURL = base
	case a.opts.Host != defaultHost:
		var err error
		client, err = client.WithEnterpriseURLs(
			fmt.Sprintf("https://%s/api/v3/", a.opts.Host),
			fmt.Sprintf("https://%s/api/uploads/", a.opts.Host),
		)
		if err != nil {
			return nil, fmt.Errorf("ghapp: configuring enterprise URLs: %w", err)
		}
	}
	return client, nil
}
