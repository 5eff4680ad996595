package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

const (
	// DefaultGraphBaseURL is the WhatsApp Cloud API host.
	DefaultGraphBaseURL = "https://graph.facebook.com"
	// DefaultGraphVersion is the Graph API version used when none is configured.
	DefaultGraphVersion = "v22.0"
	// DefaultHTTPTimeout bounds every outbound HTTP call.
	DefaultHTTPTimeout = 15 * time.Second
)

// GraphOpts configures the WhatsApp Cloud API dispatcher.
type GraphOpts struct {
	BaseURL       string
	Version       string
	PhoneNumberID string
	Token         string
	HTTPClient    *http.Client
}

// GraphOption mutates GraphOpts.
type GraphOption func(*GraphOpts)

// WithGraphBaseURL overrides the Graph API host (tests point it at httptest).
func WithGraphBaseURL(u string) GraphOption {
	return func(o *GraphOpts) { o.BaseURL = u }
}

// WithGraphVersion sets the Graph API version path segment.
func WithGraphVersion(v string) GraphOption {
	return func(o *GraphOpts) { o.Version = v }
}

// WithGraphPhoneNumberID sets the sending business phone number id.
func WithGraphPhoneNumberID(id string) GraphOption {
	return func(o *GraphOpts) { o.PhoneNumberID = id }
}

// WithGraphToken sets the bearer token.
func WithGraphToken(token string) GraphOption {
	return func(o *GraphOpts) { o.Token = token }
}

// WithGraphHTTPClient replaces the default HTTP client.
func WithGraphHTTPClient(c *http.Client) GraphOption {
	return func(o *GraphOpts) { o.HTTPClient = c }
}

// GraphDispatcher sends WhatsApp text messages through the Cloud API.
type GraphDispatcher struct {
	endpoint string
	token    string
	client   *http.Client
}

type graphText struct {
	Body string `json:"body"`
}

type graphMessage struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Text             graphText `json:"text"`
}

// NewGraphDispatcher validates the options and builds the dispatcher.
func NewGraphDispatcher(opts ...GraphOption) (*GraphDispatcher, error) {
	cfg := GraphOpts{BaseURL: DefaultGraphBaseURL, Version: DefaultGraphVersion}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("graph API token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("graph API phone number id must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.BaseURL, "/"), cfg.Version, cfg.PhoneNumberID)
	slog.Debug("NewGraphDispatcher: configured", "endpoint", endpoint)
	return &GraphDispatcher{endpoint: endpoint, token: cfg.Token, client: cfg.HTTPClient}, nil
}

// Channel implements Dispatcher.
func (g *GraphDispatcher) Channel() models.Channel { return models.ChannelWhatsApp }

// Send implements Dispatcher.
func (g *GraphDispatcher) Send(ctx context.Context, address, text string) error {
	payload, err := json.Marshal(graphMessage{
		MessagingProduct: "whatsapp",
		To:               address,
		Text:             graphText{Body: text},
	})
	if err != nil {
		return fmt.Errorf("encode graph message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request to %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: graph API status %d: %s", ErrDeliveryFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	slog.Debug("GraphDispatcher.Send: delivered", "to", address)
	return nil
}
