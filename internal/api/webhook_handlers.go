package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	twilioClient "github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// cloudPayload is the subset of a WhatsApp Cloud API notification we read.
type cloudPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []cloudMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// firstMessage returns entry[0].changes[0].value.messages[0] if present.
func (p cloudPayload) firstMessage() (cloudMessage, bool) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return cloudMessage{}, false
	}
	msgs := p.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return cloudMessage{}, false
	}
	return msgs[0], true
}

// smsPayload is what the Android SMS bridge posts.
type smsPayload struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	SentStamp string `json:"sentStamp"`
}

// UnmarshalJSON accepts sentStamp as a string or a number.
func (p *smsPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		From      string          `json:"from"`
		Text      string          `json:"text"`
		SentStamp json.RawMessage `json:"sentStamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.From, p.Text = raw.From, raw.Text
	p.SentStamp = strings.Trim(strings.TrimSpace(string(raw.SentStamp)), `"`)
	if p.SentStamp == "null" {
		p.SentStamp = ""
	}
	return nil
}

func tokensEqual(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// verifyWebhookHandler answers the WhatsApp Cloud API subscription handshake.
func (s *Server) verifyWebhookHandler(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode == "subscribe" && tokensEqual(token, s.opts.WebhookVerifyToken) {
		slog.Info("Server.verifyWebhookHandler: webhook verified")
		return c.Status(fiber.StatusOK).SendString(c.Query("hub.challenge"))
	}
	slog.Warn("Server.verifyWebhookHandler: verification rejected", "mode", mode)
	return c.SendStatus(fiber.StatusForbidden)
}

// whatsAppWebhookHandler receives WhatsApp Cloud API notifications.
func (s *Server) whatsAppWebhookHandler(c *fiber.Ctx) error {
	var payload cloudPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		slog.Warn("Server.whatsAppWebhookHandler: invalid payload", "error", err)
		return writeJSON(c, fiber.StatusBadRequest, Error("invalid JSON payload"))
	}

	msg, ok := payload.firstMessage()
	if !ok {
		// status callbacks and other notifications carry no messages
		return c.SendStatus(fiber.StatusOK)
	}
	if msg.Type != "text" {
		slog.Debug("Server.whatsAppWebhookHandler: ignoring non-text message", "id", msg.ID, "type", msg.Type)
		return c.SendStatus(fiber.StatusOK)
	}

	address, err := messaging.CanonicalizeAddress(msg.From)
	if err != nil {
		slog.Warn("Server.whatsAppWebhookHandler: invalid sender", "from", msg.From, "error", err)
		return c.SendStatus(fiber.StatusOK)
	}
	s.accept(msg.ID, address, msg.Text.Body, models.ChannelWhatsApp)
	return c.SendStatus(fiber.StatusOK)
}

// requireVerifyKey guards the SMS bridge and admin routes.
func (s *Server) requireVerifyKey(c *fiber.Ctx) error {
	key := c.Get("x-verify-key")
	if key == "" {
		key = c.Query("verify_key")
	}
	if !tokensEqual(key, s.opts.SMSVerifyToken) {
		slog.Warn("Server.requireVerifyKey: rejected request", "path", c.Path(), "ip", c.IP())
		return writeJSON(c, fiber.StatusForbidden, Error("forbidden"))
	}
	return c.Next()
}

// smsHandler receives messages forwarded by the Android SMS bridge.
func (s *Server) smsHandler(c *fiber.Ctx) error {
	var payload smsPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return writeJSON(c, fiber.StatusBadRequest, Error("invalid JSON payload"))
	}
	from := strings.TrimPrefix(strings.TrimSpace(payload.From), "+")
	if from == "" || strings.TrimSpace(payload.Text) == "" {
		return writeJSON(c, fiber.StatusBadRequest, Error("from and text are required"))
	}

	address, err := messaging.CanonicalizeAddress(from)
	if err != nil {
		return writeJSON(c, fiber.StatusBadRequest, Error(err.Error()))
	}

	var id string
	if payload.SentStamp != "" {
		id = "sms-" + address + "-" + payload.SentStamp
	}
	if !s.accept(id, address, payload.Text, models.ChannelSMS) {
		return writeJSON(c, fiber.StatusOK, Success(fiber.Map{"duplicate": true}))
	}
	return writeJSON(c, fiber.StatusOK, Success(nil))
}

// twilioSignature rejects Twilio callbacks without a valid X-Twilio-Signature.
func (s *Server) twilioSignature(c *fiber.Ctx) error {
	if !s.opts.ValidateTwilio {
		return c.Next()
	}

	params := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})

	url := c.BaseURL() + c.OriginalURL()
	if s.opts.PublicBaseURL != "" {
		url = strings.TrimRight(s.opts.PublicBaseURL, "/") + c.OriginalURL()
	}

	validator := twilioClient.NewRequestValidator(s.opts.TwilioAuthToken)
	if !validator.Validate(url, params, c.Get("X-Twilio-Signature")) {
		slog.Warn("Server.twilioSignature: invalid signature", "url", url, "ip", c.IP())
		return c.SendStatus(fiber.StatusForbidden)
	}
	return c.Next()
}

// twilioWebhookHandler receives inbound SMS and WhatsApp messages from Twilio.
func (s *Server) twilioWebhookHandler(c *fiber.Ctx) error {
	from := c.FormValue("From")
	body := c.FormValue("Body")
	sid := c.FormValue("MessageSid")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Debug("Server.twilioWebhookHandler: ignoring callback without sender or body", "sid", sid)
		return c.SendStatus(fiber.StatusOK)
	}

	channel := models.ChannelSMS
	if strings.HasPrefix(from, "whatsapp:") {
		channel = models.ChannelWhatsApp
	}
	address, err := messaging.CanonicalizeAddress(from)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid sender", "from", from, "error", err)
		return c.SendStatus(fiber.StatusOK)
	}

	s.accept(sid, address, body, channel)
	return c.SendStatus(fiber.StatusOK)
}
