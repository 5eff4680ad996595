package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/OrderPipe/internal/api"
	"github.com/BTreeMap/OrderPipe/internal/config"
	"github.com/BTreeMap/OrderPipe/internal/conversation"
	"github.com/BTreeMap/OrderPipe/internal/directory"
	"github.com/BTreeMap/OrderPipe/internal/genai"
	"github.com/BTreeMap/OrderPipe/internal/lockfile"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/order"
	"github.com/BTreeMap/OrderPipe/internal/scheduler"
	"github.com/BTreeMap/OrderPipe/internal/store"
	"github.com/BTreeMap/OrderPipe/internal/whatsapp"
)

// shutdownTimeout bounds how long in-flight conversations may take to finish.
const shutdownTimeout = 30 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the idle session sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// linkedDevice is a dispatcher that also delivers inbound messages itself.
type linkedDevice interface {
	messaging.Dispatcher
	Listen(ctx context.Context, handler messaging.InboundHandler)
	Close()
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("Bootstrapping OrderPipe", "version", Version, "state_dir", cfg.StateDir)

	lock, err := lockfile.Acquire(cfg.StateDir, "serve")
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	dir, err := directory.Open(cfg.DirectoryDSN)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer dir.Close()

	dispatchers, device, err := buildDispatchers(cfg)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	engine, err := conversation.NewEngine(conversation.Deps{
		Sessions: st,
		Orders:   st,
		Gateway:  dir,
		Catalog:  dir,
		Parser:   buildParser(cfg),
		Outbox:   messaging.NewRegistry(dispatchers...),
	},
		conversation.WithReminderAfter(cfg.SessionReminderAfter),
		conversation.WithExpireAfter(cfg.SessionExpireAfter),
		conversation.WithReminderMessage(cfg.ReminderMessage),
		conversation.WithExpiryMessage(cfg.ExpiryMessage),
		conversation.WithScheduler(sched),
	)
	if err != nil {
		return fmt.Errorf("create conversation engine: %w", err)
	}

	server, err := api.NewServer(engine, st, st, buildAPIOptions(cfg)...)
	if err != nil {
		return err
	}

	if device != nil {
		device.Listen(ctx, server.Submit)
		slog.Info("runServe: linked-device inbound bridge started", "channel", device.Channel())
	}

	// Sessions that went idle while the process was down are handled now
	// rather than one interval later.
	engine.SweepIdleSessions(ctx)

	stopSweep, err := engine.StartIdleSweep(cfg.SessionCheckInterval)
	if err != nil {
		return err
	}
	defer stopSweep()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen()
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		slog.Info("runServe: shutdown signal received")
	}

	// The device goes first so nothing new is submitted while the server drains.
	if device != nil {
		device.Close()
		slog.Info("runServe: linked device disconnected")
	}
	if serveErr != nil {
		return serveErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("runServe: graceful shutdown incomplete", "error", err)
		return err
	}
	slog.Info("OrderPipe exited successfully")
	return nil
}

// buildParser returns the language model parser. Without an API key every
// order goes to manual processing.
func buildParser(cfg *config.Config) order.Parser {
	client, err := genai.NewClient(
		genai.WithAPIKey(cfg.OpenAIAPIKey),
		genai.WithBaseURL(cfg.OpenAIBaseURL),
		genai.WithModel(cfg.AIModel),
		genai.WithTemperature(cfg.AITemperature),
		genai.WithMaxCompletionTokens(int(cfg.AIMaxTokens)),
	)
	if err != nil {
		slog.Warn("buildParser: language model unavailable, orders will be processed manually", "error", err)
		return order.NewLLMParser(nil)
	}
	slog.Info("buildParser: language model parser ready", "model", client.Model())
	return order.NewLLMParser(client)
}

// buildDispatchers creates one dispatcher per channel. The second result is
// non-nil when the WhatsApp transport also receives messages.
func buildDispatchers(cfg *config.Config) ([]messaging.Dispatcher, linkedDevice, error) {
	var device linkedDevice

	var wa messaging.Dispatcher
	switch cfg.WhatsAppTransport {
	case config.TransportGraph:
		d, err := messaging.NewGraphDispatcher(
			messaging.WithGraphToken(cfg.GraphAPIToken),
			messaging.WithGraphPhoneNumberID(cfg.WhatsAppPhoneNumberID),
			messaging.WithGraphVersion(cfg.GraphAPIVersion),
			messaging.WithGraphBaseURL(cfg.GraphAPIBaseURL),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsapp graph transport: %w", err)
		}
		wa = d
	case config.TransportWhatsmeow:
		var opts []whatsapp.Option
		if cfg.WhatsmeowDSN != "" {
			opts = append(opts, whatsapp.WithDBDSN(cfg.WhatsmeowDSN))
		}
		if cfg.WhatsmeowQROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.WhatsmeowQROutput))
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsapp linked device: %w", err)
		}
		d := messaging.NewWhatsmeowDispatcher(client)
		wa, device = d, d
	case config.TransportTwilio:
		d, err := messaging.NewTwilioDispatcher(
			messaging.WithTwilioAccountSID(cfg.TwilioAccountSID),
			messaging.WithTwilioAuthToken(cfg.TwilioAuthToken),
			messaging.WithTwilioFrom(cfg.TwilioWhatsAppFrom),
			messaging.WithTwilioChannel(models.ChannelWhatsApp),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsapp twilio transport: %w", err)
		}
		wa = d
	default:
		slog.Warn("buildDispatchers: whatsapp replies go to the mock dispatcher")
		wa = messaging.NewMockDispatcher(models.ChannelWhatsApp)
	}

	var sms messaging.Dispatcher
	switch cfg.SMSTransport {
	case config.TransportADB:
		sms = messaging.NewADBDispatcher(
			messaging.WithADBPath(cfg.ADBPath),
			messaging.WithADBSerial(cfg.ADBSerial),
		)
	case config.TransportTwilio:
		d, err := messaging.NewTwilioDispatcher(
			messaging.WithTwilioAccountSID(cfg.TwilioAccountSID),
			messaging.WithTwilioAuthToken(cfg.TwilioAuthToken),
			messaging.WithTwilioFrom(cfg.TwilioFromNumber),
			messaging.WithTwilioChannel(models.ChannelSMS),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("sms twilio transport: %w", err)
		}
		sms = d
	default:
		slog.Warn("buildDispatchers: sms replies go to the mock dispatcher")
		sms = messaging.NewMockDispatcher(models.ChannelSMS)
	}

	slog.Debug("buildDispatchers: transports ready", "whatsapp", cfg.WhatsAppTransport, "sms", cfg.SMSTransport)
	return []messaging.Dispatcher{wa, sms}, device, nil
}

func buildAPIOptions(cfg *config.Config) []api.Option {
	opts := []api.Option{
		api.WithAddr(cfg.APIAddr),
		api.WithWebhookVerifyToken(cfg.WebhookVerifyToken),
		api.WithSMSVerifyToken(cfg.SMSVerifyToken),
		api.WithPublicBaseURL(cfg.PublicBaseURL),
		api.WithVersion(Version),
	}
	if cfg.UsesTwilio() {
		opts = append(opts, api.WithTwilio(cfg.TwilioAuthToken, cfg.TwilioValidateSignature))
	}
	return opts
}
