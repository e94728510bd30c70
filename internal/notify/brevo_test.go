// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/internal/notify"
	"github.com/gatekeeper/gatekeeper/pkg/errutil"
)

func newBrevo(t *testing.T, handler http.HandlerFunc) *notify.BrevoSink {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sink, err := notify.NewBrevoSink(notify.BrevoConfig{
		APIKey:      "key-123",
		SenderEmail: "noreply@example.com",
		SenderName:  "Gatekeeper",
		URL:         srv.URL,
		HTTPClient:  srv.Client(),
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return sink
}

func TestBrevoSink_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the transactional payload", func(t *testing.T) {
		var got map[string]any
		sink := newBrevo(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "key-123", r.Header.Get("api-key"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
		})

		require.NoError(t, sink.Send(ctx, "user@example.com", "Verify your email", "Your one-time code is 123456."))
		assert.Equal(t, "Verify your email", got["subject"])
		assert.Equal(t, "Your one-time code is 123456.", got["textContent"])
		assert.Equal(t, map[string]any{"email": "noreply@example.com", "name": "Gatekeeper"}, got["sender"])
		assert.Equal(t, []any{map[string]any{"email": "user@example.com"}}, got["to"])
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		sink := newBrevo(t, func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})

		require.NoError(t, sink.Send(ctx, "user@example.com", "s", "b"))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhausted retries surface the upstream error", func(t *testing.T) {
		var calls atomic.Int32
		sink := newBrevo(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		})

		err := sink.Send(ctx, "user@example.com", "s", "b")
		errutil.AssertErrorCode(t, err, "NOTIFY_UPSTREAM_UNAVAILABLE")
		errutil.AssertErrorContext(t, err, "attempts", 3)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		sink := newBrevo(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, `{"code":"unauthorized"}`, http.StatusUnauthorized)
		})

		err := sink.Send(ctx, "user@example.com", "s", "b")
		errutil.AssertErrorCode(t, err, "NOTIFY_REJECTED")
		assert.Contains(t, err.Error(), "unauthorized")
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestNewBrevoSink_Validation(t *testing.T) {
	_, err := notify.NewBrevoSink(notify.BrevoConfig{SenderEmail: "a@example.com"})
	errutil.AssertErrorCode(t, err, "NOTIFY_CONFIG_INVALID")

	_, err = notify.NewBrevoSink(notify.BrevoConfig{APIKey: "k"})
	errutil.AssertErrorCode(t, err, "NOTIFY_CONFIG_INVALID")
}

func TestLogSink_NeverFails(t *testing.T) {
	require.NoError(t, notify.NewLogSink(quietLogger()).Send(context.Background(), "a@example.com", "s", "b"))
	require.NoError(t, notify.NewLogSink(nil).Send(context.Background(), "a@example.com", "s", "b"))
}
