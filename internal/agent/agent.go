// Package agent implements the two webhook agents that sit next to the
// scraper: a profiler that turns survey responses into a user profile, and a
// retrieval-augmented responder that answers a profile from a Vectara corpus.
// Both receive an Envelope and POST their result back to the sender.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/FranksOps/vaxscrape/pkg/httpclient"
)

// ErrBadRequest marks envelopes the agents refuse to process.
var ErrBadRequest = errors.New("agent: bad request")

// Envelope is the inbound agent message. Sender is the reply webhook.
type Envelope struct {
	Sender  string                     `json:"sender"`
	Payload map[string]json.RawMessage `json:"payload"`
}

// Field returns payload[key] as text. JSON strings are unquoted; any other
// JSON value is returned verbatim. Missing or null fields are "".
func (e Envelope) Field(key string) string {
	raw, ok := e.Payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	v := strings.TrimSpace(string(raw))
	if v == "null" {
		return ""
	}
	return v
}

func (e Envelope) replyURL() (string, error) {
	u, err := url.Parse(e.Sender)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: sender must be an http(s) webhook url, got %q", ErrBadRequest, e.Sender)
	}
	return u.String(), nil
}

// reply posts payload to the envelope's sender.
func reply(ctx context.Context, client *httpclient.Client, to string, payload any) error {
	if err := client.DoJSON(ctx, http.MethodPost, to, nil, payload, nil); err != nil {
		return fmt.Errorf("agent: reply to %s: %w", to, err)
	}
	return nil
}
