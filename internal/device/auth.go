package device

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthConfig enables OAuth2 client-credentials auth against the device API.
type AuthConfig struct {
	TokenURL         string
	ClientID         string
	ClientSecretFile string
	Scopes           []string
}

func (a *AuthConfig) wrap(ctx context.Context, base *http.Client) (*http.Client, error) {
	if a.TokenURL == "" {
		return nil, fmt.Errorf("auth token_url is required")
	}
	if a.ClientID == "" {
		return nil, fmt.Errorf("auth client_id is required")
	}
	secret, err := readSecretFile(a.ClientSecretFile)
	if err != nil {
		return nil, fmt.Errorf("auth client secret: %w", err)
	}

	conf := &clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: secret,
		TokenURL:     a.TokenURL,
		Scopes:       a.Scopes,
	}
	// Token requests go through the guarded client so they share its budget.
	ctx = context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	client := &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, conf.TokenSource(ctx)),
			Base:   transportOf(base),
		},
	}
	return client, nil
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}

func readSecretFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return value, nil
}
