package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"objectos/pkg/logging"
)

// LogHandler returns the shipped handler for channels without a real
// transport wired: it logs the rendered notification. Email, SMS and push
// delivery against actual providers is a plugin concern.
func LogHandler(channel string) Handler {
	return func(_ context.Context, n *Notification) error {
		logging.Info("Notify", "[%s] to=%s subject=%q body=%q",
			channel, strings.Join(n.Recipients, ","), n.Subject, n.Body)
		return nil
	}
}

// WebhookHandler returns a handler that POSTs the rendered notification as
// JSON to each recipient URL. client may be nil for a default with a 30s
// timeout.
func WebhookHandler(client *http.Client) Handler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return func(ctx context.Context, n *Notification) error {
		payload, err := json.Marshal(map[string]interface{}{
			"id":      n.ID,
			"channel": n.Channel,
			"subject": n.Subject,
			"body":    n.Body,
			"data":    n.Data,
		})
		if err != nil {
			return fmt.Errorf("failed to encode webhook payload: %w", err)
		}

		for _, target := range n.Recipients {
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				return fmt.Errorf("webhook recipient %q is not an http(s) URL", target)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("failed to create webhook request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("webhook request to %s failed: %w", target, err)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusMultipleChoices {
				return fmt.Errorf("webhook %s returned status %d", target, resp.StatusCode)
			}
		}
		return nil
	}
}
