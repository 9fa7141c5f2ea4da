package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultCredentialLifetime = 30 * 24 * time.Hour
	refreshWindow             = 7 * 24 * time.Hour
	probeQuery                = "durov"
)

var reHash = regexp.MustCompile(`api\?hash=([0-9a-fA-F]{8,})`)

// Credential is the session token plus capability hash the upstream API requires.
type Credential struct {
	Token      string
	Hash       string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (c Credential) usable() bool {
	return c.Token != "" && c.Hash != ""
}

// Persister stores the last known good credential between restarts.
type Persister interface {
	LoadCredential(ctx context.Context) (Credential, bool, error)
	SaveCredential(ctx context.Context, cred Credential) error
}

// Init picks the first credential that validates, in priority order:
// operator override, persisted value, automatic acquisition.
func (c *Client) Init(ctx context.Context) error {
	if cred, ok := c.override(); ok {
		if err := c.validate(ctx, cred); err == nil {
			c.install(ctx, cred, true)
			log.Println("catalog: using operator-provided credential")
			return nil
		} else {
			log.Printf("catalog: operator credential rejected: %v", err)
		}
	}

	if c.cfg.Persister != nil {
		cred, ok, err := c.cfg.Persister.LoadCredential(ctx)
		switch {
		case err != nil:
			log.Printf("catalog: load persisted credential: %v", err)
		case ok && cred.usable():
			if err := c.validate(ctx, cred); err == nil {
				c.install(ctx, cred, false)
				log.Println("catalog: using persisted credential")
				return nil
			} else {
				log.Printf("catalog: persisted credential rejected: %v", err)
			}
		}
	}

	if !c.cfg.AutoRefresh {
		return fmt.Errorf("%w: no valid credential and automatic acquisition is disabled", ErrNotInitialized)
	}
	cred, err := c.acquire(ctx)
	if err == nil {
		err = c.validate(ctx, cred)
	}
	if err != nil {
		return fmt.Errorf("%w: automatic acquisition failed: %v", ErrNotInitialized, err)
	}
	c.install(ctx, cred, true)
	log.Println("catalog: acquired credential automatically")
	return nil
}

// Refresh replaces the current credential, trying operator override,
// revalidation of the existing one, then automatic acquisition.
// Concurrent callers share one refresh.
func (c *Client) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Client) refresh(ctx context.Context) error {
	current, hasCurrent := c.Credential()

	if cred, ok := c.override(); ok && (!hasCurrent || cred.Token != current.Token || cred.Hash != current.Hash) {
		if err := c.validate(ctx, cred); err == nil {
			c.install(ctx, cred, true)
			log.Println("catalog: refreshed from operator credential")
			return nil
		}
	}

	if hasCurrent {
		if err := c.validate(ctx, current); err == nil {
			log.Println("catalog: existing credential still valid")
			return nil
		}
	}

	if !c.cfg.AutoRefresh {
		return errors.New("catalog: refresh failed: automatic acquisition is disabled")
	}
	cred, err := c.acquire(ctx)
	if err == nil {
		err = c.validate(ctx, cred)
	}
	if err != nil {
		return fmt.Errorf("catalog: refresh failed: %w", err)
	}
	c.install(ctx, cred, true)
	log.Println("catalog: refreshed credential automatically")
	return nil
}

// CheckExpiry refreshes a credential that is within seven days of expiry.
func (c *Client) CheckExpiry(ctx context.Context) error {
	cred, ok := c.Credential()
	if !ok || cred.ExpiresAt.IsZero() {
		return nil
	}
	if cred.ExpiresAt.Sub(c.now()) > refreshWindow {
		return nil
	}
	log.Printf("catalog: credential expires at %s, refreshing", cred.ExpiresAt.Format(time.RFC3339))
	return c.Refresh(ctx)
}

func (c *Client) Ready() bool {
	_, ok := c.Credential()
	return ok
}

func (c *Client) Credential() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred == nil {
		return Credential{}, false
	}
	return *c.cred, true
}

func (c *Client) override() (Credential, bool) {
	if c.cfg.Override == nil {
		return Credential{}, false
	}
	cred, ok := c.cfg.Override()
	if !ok || !cred.usable() {
		return Credential{}, false
	}
	return cred, true
}

func (c *Client) install(ctx context.Context, cred Credential, persist bool) {
	if cred.AcquiredAt.IsZero() {
		cred.AcquiredAt = c.now()
	}
	c.mu.Lock()
	c.cred = &cred
	c.mu.Unlock()

	if persist && c.cfg.Persister != nil {
		if err := c.cfg.Persister.SaveCredential(ctx, cred); err != nil {
			log.Printf("catalog: persist credential: %v", err)
		}
	}
}

// validate issues a cheap real search with the candidate credential.
func (c *Client) validate(ctx context.Context, cred Credential) error {
	var out searchResponse
	err := c.do(ctx, cred, "searchPremiumGiftRecipient", map[string]string{
		"query":  probeQuery,
		"months": "3",
	}, &out)
	if err == nil {
		return nil
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) && !IsAuthFailure(err) {
		// The provider answered with a business error, so the credential was accepted.
		return nil
	}
	return err
}

// acquire scrapes the capability hash from the public page and harvests the
// session cookies set on the response.
func (c *Client) acquire(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PageURL, nil)
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("fetch %s: %w", c.cfg.PageURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("read %s: %w", c.cfg.PageURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, &APIError{Method: "page", Status: resp.StatusCode, Body: truncate(string(body))}
	}

	m := reHash.FindSubmatch(body)
	if m == nil {
		return Credential{}, errors.New("capability hash not found on page")
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return Credential{}, errors.New("no session cookies on page response")
	}

	now := c.now()
	expires := time.Time{}
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
		exp := ck.Expires
		if exp.IsZero() && ck.MaxAge > 0 {
			exp = now.Add(time.Duration(ck.MaxAge) * time.Second)
		}
		if !exp.IsZero() && (expires.IsZero() || exp.Before(expires)) {
			expires = exp
		}
	}
	if expires.IsZero() {
		expires = now.Add(defaultCredentialLifetime)
	}

	return Credential{
		Token:      strings.Join(parts, "; "),
		Hash:       string(m[1]),
		AcquiredAt: now,
		ExpiresAt:  expires,
	}, nil
}
