// Package whatsapp wraps the whatsmeow client for the linked-device WhatsApp transport.
//
// It logs in with a QR code on first start, sends text messages and forwards
// incoming direct-chat texts to a callback.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	waStore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/OrderPipe/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/orderpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// LinkedDevice is implemented by Client and MockClient.
type LinkedDevice interface {
	SendMessage(ctx context.Context, to string, body string) error
	OnText(fn func(TextMessage))
	Disconnect()
}

// TextMessage is an incoming direct-chat text.
type TextMessage struct {
	ID     string
	Sender string // phone number part of the sender JID
	Text   string
}

// Opts holds configuration options for the WhatsApp client.
// This focuses solely on WhatsApp/whatsmeow database configuration and login settings.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// HasForeignKeys reports whether a SQLite DSN enables foreign keys.
func HasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "foreign_keys")
}

// Errors returned by Client.SendMessage.
var (
	ErrNotConnected = errors.New("whatsapp: client not connected")
	ErrEmptyMessage = errors.New("whatsapp: recipient and body are required")
)

// Client is a linked WhatsApp device.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient opens the device store, links the device with a QR code when it
// has never been linked, and connects. Linking blocks until the code is
// scanned or times out.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultSQLitePath
	}
	ctx := context.Background()

	device, err := openDevice(ctx, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	wa := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))

	if wa.Store.ID == nil {
		err = link(ctx, wa, cfg)
	} else {
		err = wa.Connect()
	}
	if err != nil {
		return nil, fmt.Errorf("whatsapp: connect: %w", err)
	}
	slog.Info("whatsapp.NewClient: linked device connected", "jid", wa.Store.ID)
	return &Client{waClient: wa}, nil
}

// openDevice returns the first device in the whatsmeow store at dsn, or a new
// one when the store is empty.
func openDevice(ctx context.Context, dsn string) (*waStore.Device, error) {
	driver := store.DetectDSNType(dsn)
	if driver == "sqlite3" && !HasForeignKeys(dsn) {
		slog.Warn("whatsapp.openDevice: whatsmeow expects SQLite foreign keys; add ?_foreign_keys=on to the DSN",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: load device: %w", err)
	}
	return device, nil
}

// link runs the pairing flow, rendering each code to the configured output.
func link(ctx context.Context, wa *whatsmeow.Client, cfg Opts) error {
	qrChan, err := wa.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := wa.Connect(); err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("create QR output %s: %w", cfg.QRPath, err)
		}
		defer f.Close()
		out = f
	}

	slog.Info("whatsapp.link: device not linked, scan the code with WhatsApp > Linked devices")
	for evt := range qrChan {
		switch {
		case evt.Event == "code" && cfg.NumericCode:
			fmt.Fprintln(out, evt.Code)
		case evt.Event == "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		case evt.Event == "success":
			slog.Info("whatsapp.link: device linked")
		default:
			slog.Warn("whatsapp.link: pairing event", "event", evt.Event)
		}
	}
	if wa.Store.ID == nil {
		return errors.New("device was not linked")
	}
	return nil
}

// SendMessage sends body as a plain text message to the phone number to.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || !c.waClient.IsConnected() {
		return ErrNotConnected
	}
	if to == "" || body == "" {
		return ErrEmptyMessage
	}

	jid := types.NewJID(to, JIDSuffix)
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return fmt.Errorf("whatsapp: send to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "id", resp.ID, "body_length", len(body))
	return nil
}

// OnText registers fn for every incoming text message from another user.
// Group chats, status broadcasts and our own echoes are skipped.
func (c *Client) OnText(fn func(TextMessage)) {
	if c.waClient == nil || fn == nil {
		return
	}
	c.waClient.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			if tm, ok := ExtractText(v); ok {
				fn(tm)
			}
		case *events.Disconnected:
			slog.Warn("WhatsApp client disconnected")
		case *events.LoggedOut:
			slog.Error("WhatsApp device logged out; re-link with a new QR code")
		}
	})
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// ExtractText turns a whatsmeow message event into a TextMessage. It reports
// false for events that carry no text or do not come from a direct chat.
func ExtractText(evt *events.Message) (TextMessage, bool) {
	if evt == nil || evt.Message == nil {
		return TextMessage{}, false
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return TextMessage{}, false
	}

	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage() != nil:
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		return TextMessage{}, false
	}

	return TextMessage{
		ID:     string(evt.Info.ID),
		Sender: evt.Info.Sender.User,
		Text:   text,
	}, true
}

// MockClient records sent messages instead of talking to WhatsApp.
type MockClient struct {
	mu           sync.Mutex
	Sent         []TextMessage
	handlers     []func(TextMessage)
	Err          error
	disconnected bool
}

// NewMockClient returns an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendMessage records the message, or returns Err when set.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, TextMessage{Sender: to, Text: body})
	return nil
}

// OnText registers fn; Deliver invokes it.
func (m *MockClient) OnText(fn func(TextMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Deliver simulates an incoming text message. Nothing is delivered after Disconnect.
func (m *MockClient) Deliver(tm TextMessage) {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return
	}
	hs := append([]func(TextMessage){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range hs {
		h(tm)
	}
}

// Disconnect stops further deliveries.
func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

// Disconnected reports whether Disconnect was called.
func (m *MockClient) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}
