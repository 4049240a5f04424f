package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/util"

	"go.uber.org/zap"
)

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// refreshAttempt is one in-flight token refresh. Waiters block on done and
// read the result fields afterwards, so every concurrent caller observes the
// same outcome.
type refreshAttempt struct {
	done  chan struct{}
	token string
	err   error
}

// TokenBroker exchanges the long-lived refresh credential for short-lived
// access tokens and caches the result in process memory. Concurrent callers
// needing a refresh coalesce onto a single upstream call.
type TokenBroker struct {
	tokenURL     string
	refreshToken string
	safetyMargin time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	inflight  *refreshAttempt
}

// NewTokenBroker creates a new token broker
func NewTokenBroker(tokenURL, refreshToken string, safetyMargin, timeout time.Duration) *TokenBroker {
	return &TokenBroker{
		tokenURL:     tokenURL,
		refreshToken: refreshToken,
		safetyMargin: safetyMargin,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       util.GetLogger(),
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing it when the cached one is
// missing or within the safety margin of expiry. If a refresh is already in
// flight the caller waits for that attempt instead of issuing its own.
func (b *TokenBroker) Token(ctx context.Context) (string, error) {
	for {
		b.mu.Lock()
		if b.token != "" && b.now().Before(b.expiresAt.Add(-b.safetyMargin)) {
			token := b.token
			b.mu.Unlock()
			return token, nil
		}

		if b.inflight != nil {
			attempt := b.inflight
			b.mu.Unlock()

			select {
			case <-attempt.done:
				if attempt.err != nil {
					return "", attempt.err
				}
				return attempt.token, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		attempt := &refreshAttempt{done: make(chan struct{})}
		b.inflight = attempt
		b.mu.Unlock()

		token, expiresAt, err := b.refresh(ctx)

		b.mu.Lock()
		if err == nil {
			b.token = token
			b.expiresAt = expiresAt
		}
		b.inflight = nil
		b.mu.Unlock()

		attempt.token = token
		attempt.err = err
		close(attempt.done)

		if err != nil {
			util.TokenRefreshTotal.WithLabelValues("failure").Inc()
			return "", err
		}
		util.TokenRefreshTotal.WithLabelValues("success").Inc()
		return token, nil
	}
}

// Invalidate clears the cached token. Called after an observed 401 so the
// next caller forces a fresh refresh.
func (b *TokenBroker) Invalidate() {
	b.mu.Lock()
	b.token = ""
	b.expiresAt = time.Time{}
	b.mu.Unlock()
}

func (b *TokenBroker) refresh(ctx context.Context) (string, time.Time, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": b.refreshToken})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token refresh: %w: %v", apperr.ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", time.Time{}, fmt.Errorf("token refresh rejected (%d): %w", resp.StatusCode, apperr.ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token refresh returned %d: %w", resp.StatusCode, apperr.ErrDownstreamUnavailable)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("token response missing accessToken or expiresIn")
	}

	expiresAt := b.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	b.logger.Info("PMS token refreshed", zap.Time("expires_at", expiresAt))

	return tr.AccessToken, expiresAt, nil
}
