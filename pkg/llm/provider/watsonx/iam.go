package watsonx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultIAMURL is the IBM Cloud token endpoint.
	DefaultIAMURL = "https://iam.cloud.ibm.com/identity/token"

	iamGrantType = "urn:ibm:params:oauth:grant-type:apikey"
)

// iamSource exchanges an API key for a bearer token. It is wrapped in an
// oauth2.ReuseTokenSource so the token is cached until shortly before it
// expires.
type iamSource struct {
	ctx     context.Context
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func (s *iamSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	form := url.Values{
		"grant_type": {iamGrantType},
		"apikey":     {s.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating iam request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting iam token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading iam response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("iam token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tok iamToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decoding iam token: %w", err)
	}

	expiry := time.Unix(tok.Expiration, 0)
	if tok.Expiration == 0 && tok.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
	}, nil
}

// tokenCache hands out the cached IAM token and can drop it when the server
// reports it as expired.
type tokenCache struct {
	mu     sync.Mutex
	source *iamSource
	reuse  oauth2.TokenSource
}

func newTokenCache(source *iamSource) *tokenCache {
	return &tokenCache{source: source, reuse: oauth2.ReuseTokenSource(nil, source)}
}

func (c *tokenCache) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	ts := c.reuse
	c.mu.Unlock()
	return ts.Token()
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.reuse = oauth2.ReuseTokenSource(nil, c.source)
	c.mu.Unlock()
}
