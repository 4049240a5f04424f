package pms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/models"
	"staybroker/internal/util"

	"go.uber.org/zap"
)

// blockedSubtrees are PMS path subtrees (relative to the API root) that the
// proxy refuses to forward no matter what any upstream allowlist says. The
// allowlist is treated as fallible; this list is authoritative.
var blockedSubtrees = []string{
	"/auth",
	"/oauth",
	"/accounts",
	"/users",
	"/apiKeys",
	"/permissions",
}

// ProxyRequest is an ad hoc admin call to forward into the PMS
type ProxyRequest struct {
	Method    string                 `json:"method" binding:"required"`
	Path      string                 `json:"path" binding:"required"`
	Query     map[string]string      `json:"query,omitempty"`
	Body      map[string]interface{} `json:"body,omitempty"`
	Allowlist []string               `json:"allowlist,omitempty"`
}

// ProxyResult carries the raw PMS response plus the redacted audit entry.
// The audit entry is present whenever the request was actually forwarded,
// including forwards that failed downstream.
type ProxyResult struct {
	Status int
	Body   json.RawMessage
	Audit  *models.ProxyAuditEntry
}

// ProxyGate is the last-line-of-defense forwarding layer for admin calls.
// Upstream layers already enforce feature flag, caller authorization, rate
// limits and an allowlist; this layer re-checks the path against its own
// block list and redacts PII from the audit trail.
type ProxyGate struct {
	client *Client
	logger *zap.Logger
}

// NewProxyGate creates a new proxy gate
func NewProxyGate(client *Client) *ProxyGate {
	return &ProxyGate{
		client: client,
		logger: util.GetLogger(),
	}
}

// normalizePath resolves dot segments, collapses repeated separators and
// strips the trailing separator, so block-list matching sees the same path
// the PMS will resolve. "//users/" and "properties/../oauth" style dodges
// both land on their canonical form before any check runs.
func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func isBlocked(relPath string) bool {
	for _, subtree := range blockedSubtrees {
		if relPath == subtree || strings.HasPrefix(relPath, subtree+"/") {
			return true
		}
	}
	return false
}

// Forward validates, forwards and audits one admin proxy call.
func (g *ProxyGate) Forward(ctx context.Context, req *ProxyRequest) (*ProxyResult, error) {
	reqPath := normalizePath(req.Path)

	if !strings.HasPrefix(reqPath, APIRoot) {
		util.ProxyRequestsTotal.WithLabelValues("invalid_path").Inc()
		return nil, fmt.Errorf("path must start with %s: %w", APIRoot, apperr.ErrValidation)
	}

	if isBlocked(strings.TrimPrefix(reqPath, APIRoot)) {
		util.ProxyRequestsTotal.WithLabelValues("blocked").Inc()
		g.logger.Warn("Admin proxy request to blocked path", zap.String("path", reqPath))
		return nil, fmt.Errorf("%s: %w", reqPath, apperr.ErrProxyBlocked)
	}

	query := url.Values{}
	for k, v := range req.Query {
		query.Set(k, v)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal proxy body: %w", apperr.ErrValidation)
		}
	}

	start := time.Now()
	resp, err := g.client.Do(ctx, strings.ToUpper(req.Method), reqPath, query, body)

	audit := &models.ProxyAuditEntry{
		Method:       strings.ToUpper(req.Method),
		Path:         reqPath,
		Query:        query.Encode(),
		BodyRedacted: RedactJSON(body),
		DurationMs:   time.Since(start).Milliseconds(),
	}

	if err != nil {
		util.ProxyRequestsTotal.WithLabelValues("downstream_error").Inc()
		return &ProxyResult{Audit: audit}, err
	}

	audit.Status = resp.StatusCode
	audit.ResponseRedacted = RedactJSON(resp.Body)
	util.ProxyRequestsTotal.WithLabelValues("forwarded").Inc()

	return &ProxyResult{
		Status: resp.StatusCode,
		Body:   resp.Body,
		Audit:  audit,
	}, nil
}

// ValidMethod reports whether the proxy accepts the HTTP method.
func ValidMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
