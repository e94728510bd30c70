// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultBrevoURL is the Brevo transactional email endpoint.
const DefaultBrevoURL = "https://api.brevo.com/v3/smtp/email"

// BrevoConfig configures a BrevoSink.
type BrevoConfig struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	// URL overrides DefaultBrevoURL.
	URL        string
	HTTPClient *http.Client
	// MaxRetries bounds retries of transient failures. Zero means 3.
	MaxRetries uint64
	// BaseBackoff is the first retry delay. Zero means 500ms.
	BaseBackoff time.Duration
}

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

// BrevoSink sends mail through the Brevo HTTP API.
type BrevoSink struct {
	cfg    BrevoConfig
	client *http.Client
}

// NewBrevoSink validates cfg and creates a BrevoSink.
func NewBrevoSink(cfg BrevoConfig) (*BrevoSink, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("brevo api key is required")
	}
	if cfg.SenderEmail == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("brevo sender email is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultBrevoURL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BrevoSink{cfg: cfg, client: client}, nil
}

func (s *BrevoSink) backoff() retry.Backoff {
	b := retry.NewExponential(s.cfg.BaseBackoff)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(10*time.Second, b)
	return retry.WithMaxRetries(s.cfg.MaxRetries, b)
}

// Send posts the message, retrying network errors, 429 and 5xx responses.
// Any other non-2xx status fails immediately.
func (s *BrevoSink) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(brevoRequest{
		Sender:      brevoAddress{Email: s.cfg.SenderEmail, Name: s.cfg.SenderName},
		To:          []brevoAddress{{Email: to}},
		Subject:     subject,
		TextContent: body,
	})
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}

	attempts := 0
	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++
		return s.post(ctx, payload)
	})
	if err != nil {
		return oops.With("attempts", attempts).With("to", to).Wrap(err)
	}
	return nil
}

func (s *BrevoSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return oops.Code("NOTIFY_REQUEST_INVALID").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return retry.RetryableError(oops.Code("NOTIFY_TRANSPORT_FAILED").Wrap(err))
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // best-effort error detail

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.RetryableError(oops.Code("NOTIFY_UPSTREAM_UNAVAILABLE").
			With("status", resp.StatusCode).
			Errorf("brevo returned %d: %s", resp.StatusCode, detail))
	default:
		return oops.Code("NOTIFY_REJECTED").
			With("status", resp.StatusCode).
			Errorf("brevo returned %d: %s", resp.StatusCode, detail)
	}
}
