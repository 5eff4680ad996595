package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":3000"

// InboundHandler runs the conversation for one inbound message.
// conversation.Engine implements it.
type InboundHandler interface {
	HandleInboundMessage(ctx context.Context, address, text string, channel models.Channel)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr               string
	WebhookVerifyToken string
	SMSVerifyToken     string
	// TwilioAuthToken enables the Twilio webhook; when ValidateTwilio is set
	// every request must carry a valid X-Twilio-Signature.
	TwilioAuthToken string
	ValidateTwilio  bool
	// PublicBaseURL is the URL Twilio signs against when the server sits
	// behind a proxy. Empty means the request's own URL.
	PublicBaseURL string
	Version       string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookVerifyToken sets the WhatsApp Cloud API verification token.
func WithWebhookVerifyToken(token string) Option {
	return func(o *Opts) { o.WebhookVerifyToken = token }
}

// WithSMSVerifyToken sets the shared secret of the SMS bridge and admin routes.
func WithSMSVerifyToken(token string) Option {
	return func(o *Opts) { o.SMSVerifyToken = token }
}

// WithTwilio enables the Twilio webhook.
func WithTwilio(authToken string, validateSignature bool) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = authToken
		o.ValidateTwilio = validateSignature
	}
}

// WithPublicBaseURL sets the externally visible base URL.
func WithPublicBaseURL(u string) Option {
	return func(o *Opts) { o.PublicBaseURL = u }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(o *Opts) { o.Version = v }
}

// Server receives webhooks and hands messages to the conversation engine.
type Server struct {
	app     *fiber.App
	handler InboundHandler
	dedup   store.DedupRepo
	orders  store.OrderStore
	opts    Opts

	// mu guards closed and queues. Every inflight.Add happens under mu while
	// closed is false, so Shutdown's Wait never races an Add.
	mu       sync.Mutex
	closed   bool
	queues   map[string][]func()
	inflight sync.WaitGroup
}

// NewServer builds the fiber app and registers every route.
func NewServer(handler InboundHandler, dedup store.DedupRepo, orders store.OrderStore, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api: inbound handler is required")
	}
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewServer: options set", "addr", cfg.Addr,
		"webhook_token_set", cfg.WebhookVerifyToken != "",
		"sms_token_set", cfg.SMSVerifyToken != "",
		"twilio_enabled", cfg.TwilioAuthToken != "",
		"twilio_validate", cfg.ValidateTwilio)

	s := &Server{
		handler: handler,
		dedup:   dedup,
		orders:  orders,
		opts:    cfg,
		queues:  make(map[string][]func()),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "OrderPipe",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "${time} ${status} - ${latency} ${method} ${path}\n",
	}))
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Get("/health", s.healthHandler)

	s.app.Get("/webhook", s.verifyWebhookHandler)
	s.app.Post("/webhook", s.whatsAppWebhookHandler)

	s.app.Post("/sms", s.requireVerifyKey, s.smsHandler)

	if s.opts.TwilioAuthToken != "" {
		s.app.Post("/twilio/webhook", s.twilioSignature, s.twilioWebhookHandler)
	}

	if s.orders != nil {
		orders := s.app.Group("/orders", s.requireVerifyKey)
		orders.Get("/", s.listOrdersHandler)
		orders.Get("/:id", s.getOrderHandler)
		orders.Patch("/:id/status", s.updateOrderStatusHandler)
	}
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	slog.Info("Server.Listen: API server listening", "addr", s.opts.Addr)
	if err := s.app.Listen(s.opts.Addr); err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.opts.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight conversations.
// Messages submitted afterwards are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Server.Shutdown: in-flight messages drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("api: waiting for in-flight messages: %w", ctx.Err())
	}
}

// Wait blocks until every message accepted so far has been handled.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// accept dedups an inbound message and queues it for the engine. It reports
// false for duplicates and after Shutdown. The webhook answers before the
// conversation runs, so providers never time out and redeliver.
func (s *Server) accept(messageID, address, text string, channel models.Channel) bool {
	if s.isClosed() {
		slog.Warn("Server.accept: shutting down, message dropped", "message_id", messageID, "address", address)
		return false
	}
	ctx := context.Background()
	key := models.SessionKey(address, channel)
	if messageID != "" && s.dedup != nil {
		fresh, err := s.dedup.RecordInbound(ctx, messageID, key)
		if err != nil {
			slog.Error("Server.accept: dedup record failed, processing anyway", "message_id", messageID, "error", err)
		} else if !fresh {
			slog.Info("Server.accept: duplicate message ignored", "message_id", messageID, "address", address)
			return false
		}
	}

	queued := s.enqueue(key, func() {
		s.handler.HandleInboundMessage(ctx, address, text, channel)
		if messageID != "" && s.dedup != nil {
			if err := s.dedup.MarkProcessed(ctx, messageID); err != nil {
				slog.Warn("Server.accept: mark processed failed", "message_id", messageID, "error", err)
			}
		}
	})
	if !queued {
		slog.Warn("Server.accept: closed while recording, message dropped", "message_id", messageID, "address", address)
	}
	return queued
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// enqueue appends job to the queue of key. Jobs of one key run one at a time
// in the order they were accepted; different keys run concurrently.
func (s *Server) enqueue(key string, job func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	q, running := s.queues[key]
	s.queues[key] = append(q, job)
	if !running {
		go s.drain(key)
	}
	return true
}

// drain runs the jobs of key until its queue is empty, then forgets the key.
func (s *Server) drain(key string) {
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		job := q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()

		s.run(key, job)
	}
}

func (s *Server) run(key string, job func()) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Server.run: inbound handler panicked", "key", key, "panic", r)
		}
	}()
	job()
}

// Submit feeds a message that did not arrive over HTTP, such as a linked-device
// event, through the same dedup, queue and drain path as the webhooks. It does
// not block on the conversation.
func (s *Server) Submit(_ context.Context, in messaging.Inbound) {
	s.accept(in.ID, in.Address, in.Text, in.Channel)
}

// errorHandler renders fiber errors in the JSON envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		slog.Error("Server: request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return writeJSON(c, code, Error(err.Error()))
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return writeJSON(c, fiber.StatusOK, Success(fiber.Map{
		"service": "OrderPipe",
		"version": s.opts.Version,
	}))
}
