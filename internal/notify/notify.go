// Package notify posts run alerts to an ntfy-compatible HTTP endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/supervisor"
)

const sendTimeout = 5 * time.Second

// Send posts message to endpoint. A non-empty title is sent as the ntfy Title header.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if endpoint == "" {
		return errors.New("notify: endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Alerter sends one notification per settled run whose state is watched.
type Alerter struct {
	endpoint string
	client   *http.Client
	states   map[string]bool
}

// NewAlerter watches states, e.g. failed and timed_out.
func NewAlerter(endpoint string, client *http.Client, states []string) *Alerter {
	a := &Alerter{endpoint: endpoint, client: client, states: make(map[string]bool)}
	for _, s := range states {
		if s = strings.TrimSpace(s); s != "" {
			a.states[s] = true
		}
	}
	return a
}

// Watches reports whether a run in state triggers a notification.
func (a *Alerter) Watches(state string) bool { return a.states[state] }

// RunSettled notifies about res when its state is watched.
func (a *Alerter) RunSettled(ctx context.Context, res supervisor.Result) error {
	if !a.Watches(res.State) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	title := "indicator run " + strings.ReplaceAll(res.State, "_", " ")
	msg := fmt.Sprintf("%s on %s %s", res.InstanceID, res.Symbol, res.Timeframe)
	if res.Error != "" {
		msg += ": " + res.Error
	}
	if err := Send(ctx, a.client, a.endpoint, title, msg); err != nil {
		slog.Warn("Run notification failed", "run_id", res.RunID, "error", err)
		return err
	}
	return nil
}
