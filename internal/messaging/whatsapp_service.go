package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/whatsapp"
)

// WhatsmeowDispatcher sends WhatsApp replies through a linked device and
// bridges its incoming texts to an InboundHandler.
type WhatsmeowDispatcher struct {
	device whatsapp.LinkedDevice
}

// NewWhatsmeowDispatcher wraps a linked device (whatsapp.Client or whatsapp.MockClient).
func NewWhatsmeowDispatcher(device whatsapp.LinkedDevice) *WhatsmeowDispatcher {
	return &WhatsmeowDispatcher{device: device}
}

// Channel implements Dispatcher.
func (w *WhatsmeowDispatcher) Channel() models.Channel { return models.ChannelWhatsApp }

// Send implements Dispatcher.
func (w *WhatsmeowDispatcher) Send(ctx context.Context, address, text string) error {
	to, err := CanonicalizeAddress(address)
	if err != nil {
		return err
	}
	if err := w.device.SendMessage(ctx, to, text); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Listen forwards every incoming direct-chat text to handler until ctx is done.
// The handler runs on whatsmeow's event goroutine in arrival order and must not
// block; api.Server.Submit only queues the message.
func (w *WhatsmeowDispatcher) Listen(ctx context.Context, handler InboundHandler) {
	w.device.OnText(func(tm whatsapp.TextMessage) {
		if ctx.Err() != nil {
			slog.Debug("WhatsmeowDispatcher: dropping inbound text after shutdown", "id", tm.ID)
			return
		}
		slog.Debug("WhatsmeowDispatcher: inbound text", "from", tm.Sender, "id", tm.ID)
		handler(ctx, Inbound{
			ID:      tm.ID,
			Address: tm.Sender,
			Text:    tm.Text,
			Channel: models.ChannelWhatsApp,
		})
	})
}

// Close disconnects the linked device so no further events arrive.
func (w *WhatsmeowDispatcher) Close() {
	w.device.Disconnect()
}
