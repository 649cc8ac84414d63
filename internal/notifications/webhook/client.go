// Package webhook implements the HTTP webhook senders: Slack incoming
// webhooks (Block Kit), Microsoft Teams workflows (Adaptive Cards) and the
// generic JSON envelope webhook.
//
// Every sender makes exactly one request per Send and describes failures in
// a core.SendResult. Outbound connections use the SSRF-safe client from the
// security package.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"alertrelay/internal/notifications/core"
	"alertrelay/internal/security"
	"alertrelay/internal/types"
)

// maxResponseBodyRead limits how much of a response body is read for error
// messages.
const maxResponseBodyRead = 4096

// maxBodyInError caps the response body quoted in a failure.
const maxBodyInError = 200

// responseCheck inspects a 2xx response for provider soft failures.
type responseCheck func(statusCode int, body []byte) error

// request is one outbound webhook call.
type request struct {
	method   string
	url      string
	headers  map[string]string
	body     []byte
	encoding string
	check    responseCheck
}

// poster performs webhook requests and maps the outcome to a SendResult.
type poster struct {
	client    *http.Client
	userAgent string
	logger    types.Logger
}

func newPoster(client *http.Client, userAgent string, logger types.Logger) *poster {
	return &poster{client: client, userAgent: userAgent, logger: logger}
}

// do executes r once.
//
// Response handling:
//   - 2xx: success unless check reports a soft failure (retryable)
//   - any other status: retryable failure quoting the truncated body
//   - blocked destination or redirect loop: configuration failure
//   - other transport errors: retryable failure
func (p *poster) do(ctx context.Context, r request) core.SendResult {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bytes.NewReader(r.body))
	if err != nil {
		return core.ConfigFailure(fmt.Sprintf("invalid webhook request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	if r.encoding != "" {
		req.Header.Set("Content-Encoding", r.encoding)
	}
	if reqID := types.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	host := hostOf(r.url)
	resp, err := p.client.Do(req)
	if err != nil {
		if isSSRFError(err) {
			p.logger.Error("webhook destination blocked", "host", host, "error", err.Error())
			return core.ConfigFailure(fmt.Sprintf("webhook destination blocked: %v", err))
		}
		p.logger.Warn("webhook network error", "host", host, "error", err.Error())
		return core.TransientFailure(0, fmt.Sprintf("webhook request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("webhook rejected",
			"host", host,
			"status", resp.StatusCode,
			"body", truncateBody(body),
		)
		return core.TransientFailure(resp.StatusCode, fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, truncateBody(body)))
	}

	if r.check != nil {
		if err := r.check(resp.StatusCode, body); err != nil {
			p.logger.Warn("webhook soft failure", "host", host, "status", resp.StatusCode, "error", err.Error())
			return core.TransientFailure(resp.StatusCode, err.Error())
		}
	}

	return core.Succeeded(resp.StatusCode, resp.Header.Get("X-Request-Id"))
}

// configString returns the first non-empty string value among keys.
func configString(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := cfg[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// validateURL checks that raw is an absolute http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("webhook url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

// hostOf is logged instead of the full URL, which often embeds a token.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func truncateBody(body []byte) string {
	return types.TruncateError(strings.TrimSpace(string(body)), maxBodyInError)
}

func isSSRFError(err error) bool {
	return errors.Is(err, security.ErrBlockedAddress) || errors.Is(err, security.ErrTooManyRedirects)
}
