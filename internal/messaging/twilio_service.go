package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// whatsAppPrefix marks Twilio addresses on the WhatsApp channel.
const whatsAppPrefix = "whatsapp:"

// messageCreator is the slice of the Twilio REST API the dispatcher uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration for the Twilio dispatcher.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
	Channel    models.Channel
}

// TwilioOption defines a configuration option for the Twilio dispatcher.
type TwilioOption func(*TwilioOpts)

// WithTwilioAccountSID sets the account SID.
func WithTwilioAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithTwilioAuthToken sets the auth token.
func WithTwilioAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithTwilioFrom sets the sending number. For the WhatsApp channel the
// "whatsapp:" prefix is added when missing.
func WithTwilioFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

// WithTwilioChannel selects SMS (default) or WhatsApp.
func WithTwilioChannel(c models.Channel) TwilioOption {
	return func(o *TwilioOpts) { o.Channel = c }
}

// TwilioDispatcher sends SMS or WhatsApp messages through the Twilio REST API.
type TwilioDispatcher struct {
	api     messageCreator
	from    string
	channel models.Channel
}

// NewTwilioDispatcher creates a dispatcher, falling back to TWILIO_* environment
// variables for credentials that were not passed as options.
func NewTwilioDispatcher(opts ...TwilioOption) (*TwilioDispatcher, error) {
	cfg := TwilioOpts{Channel: models.ChannelSMS}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	slog.Debug("Twilio dispatcher config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"channel", cfg.Channel)

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("twilio from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioDispatcher(client.Api, cfg.From, cfg.Channel), nil
}

func newTwilioDispatcher(api messageCreator, from string, channel models.Channel) *TwilioDispatcher {
	if !channel.IsValid() {
		channel = models.ChannelSMS
	}
	return &TwilioDispatcher{
		api:     api,
		from:    twilioAddress(from, channel),
		channel: channel,
	}
}

// twilioAddress formats a phone for the given channel: "+<digits>" for SMS and
// "whatsapp:+<digits>" for WhatsApp.
func twilioAddress(phone string, channel models.Channel) string {
	p := strings.TrimPrefix(strings.TrimSpace(phone), whatsAppPrefix)
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	if channel == models.ChannelWhatsApp {
		return whatsAppPrefix + p
	}
	return p
}

// Channel implements Dispatcher.
func (t *TwilioDispatcher) Channel() models.Channel { return t.channel }

// Send implements Dispatcher.
func (t *TwilioDispatcher) Send(ctx context.Context, address, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(twilioAddress(address, t.channel))
	params.SetFrom(t.from)
	params.SetBody(text)

	msg, err := t.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioDispatcher.Send failed", "to", address, "error", err)
		return fmt.Errorf("%w: twilio send to %s: %v", ErrDeliveryFailed, address, err)
	}
	if msg != nil && msg.Sid != nil {
		slog.Debug("TwilioDispatcher.Send: message queued", "sid", *msg.Sid)
	}

	slog.Debug("TwilioDispatcher.Send: sent", "to", address, "channel", t.channel)
	return nil
}
