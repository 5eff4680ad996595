package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/order"
)

var (
	// errNoParseResult is returned when the parser answers with neither a result nor an error.
	errNoParseResult = errors.New("order parser returned no result")
	// errParserFallback marks a result the parser itself gave up on.
	errParserFallback = errors.New("order parser requested manual processing")
)

// transition loads the session and dispatches on its state.
func (e *Engine) transition(ctx context.Context, key, address, text string, channel models.Channel) error {
	sess, err := e.sessions.GetOrCreate(ctx, key, address, channel)
	if err != nil {
		return fmt.Errorf("load session %s: %w", key, err)
	}

	switch sess.State {
	case models.StateStart:
		return e.handleStart(ctx, sess, text)
	case models.StateAwaitingVat:
		return e.handleAwaitingVat(ctx, sess, text)
	case models.StateVerified:
		return e.handleVerified(ctx, sess, text)
	case models.StateAwaitingConfirmation:
		return e.handleAwaitingConfirmation(ctx, sess, text)
	default:
		slog.Warn("Engine.transition: unknown state, resetting", "key", key, "state", sess.State)
		if _, err := e.sessions.Update(ctx, key, models.SessionUpdate{
			State:    models.StatePtr(models.StateStart),
			ClientID: models.StringPtr(""),
		}); err != nil {
			return fmt.Errorf("reset session %s: %w", key, err)
		}
		e.reply(ctx, sess.Channel, sess.Address, msgUnknownState)
		return nil
	}
}

func normalizeToken(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func (e *Engine) handleStart(ctx context.Context, sess *models.Session, text string) error {
	if normalizeToken(text) != startCommand {
		e.reply(ctx, sess.Channel, sess.Address, msgSendStart)
		return nil
	}

	client, err := e.gateway.FindClientByPhone(ctx, sess.Address)
	if err != nil {
		return fmt.Errorf("find client by phone %s: %w", sess.Address, err)
	}
	if client == nil {
		if _, err := e.sessions.Update(ctx, sess.Key, models.SessionUpdate{State: models.StatePtr(models.StateAwaitingVat)}); err != nil {
			return fmt.Errorf("update session %s: %w", sess.Key, err)
		}
		slog.Info("Engine.handleStart: phone not found, asking for tax id", "key", sess.Key)
		e.reply(ctx, sess.Channel, sess.Address, msgPhoneNotFound)
		return nil
	}

	if err := e.markVerified(ctx, sess, client.ID); err != nil {
		return err
	}
	slog.Info("Engine.handleStart: phone verified", "key", sess.Key, "client", client.ID)
	e.reply(ctx, sess.Channel, sess.Address, fmt.Sprintf(msgWelcome, client.Name))
	return nil
}

func (e *Engine) handleAwaitingVat(ctx context.Context, sess *models.Session, text string) error {
	client, err := e.gateway.FindClientByTaxID(ctx, text)
	if err != nil {
		return fmt.Errorf("find client by tax id: %w", err)
	}
	if client == nil {
		e.reply(ctx, sess.Channel, sess.Address, msgVATNotFound)
		return nil
	}

	name, err := e.gateway.GetClientName(ctx, client.VAT)
	if err != nil {
		return fmt.Errorf("get client name %s: %w", client.VAT, err)
	}
	if name == "" {
		name = client.Name
	}
	if err := e.gateway.UpdateClientPhone(ctx, sess.Address, client.VAT); err != nil {
		return fmt.Errorf("update client phone %s: %w", client.VAT, err)
	}
	if err := e.markVerified(ctx, sess, client.ID); err != nil {
		return err
	}
	slog.Info("Engine.handleAwaitingVat: tax id verified", "key", sess.Key, "client", client.ID)
	e.reply(ctx, sess.Channel, sess.Address, fmt.Sprintf(msgWelcome, name))
	return nil
}

func (e *Engine) markVerified(ctx context.Context, sess *models.Session, clientID string) error {
	_, err := e.sessions.Update(ctx, sess.Key, models.SessionUpdate{
		State:    models.StatePtr(models.StateVerified),
		ClientID: models.StringPtr(clientID),
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.Key, err)
	}
	return nil
}

// decision is the outcome of evaluating a free-text order. A nil proposal
// keeps the session in verified.
type decision struct {
	proposal *models.OrderProposal
	reply    string
}

func (e *Engine) handleVerified(ctx context.Context, sess *models.Session, text string) error {
	if !sess.HasClient() {
		slog.Error("Engine.handleVerified: verified session without client", "key", sess.Key)
		e.reply(ctx, sess.Channel, sess.Address, msgSessionClosed)
		return e.deleteSession(ctx, sess.Key)
	}

	catalog, err := e.catalog.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}

	d, err := e.evaluateOrder(ctx, text, catalog)
	if err != nil {
		slog.Error("Engine.handleVerified: order processing failed, switching to manual mode", "key", sess.Key, "error", err)
		return e.awaitConfirmation(ctx, sess, &models.OrderProposal{OriginalText: text, FallbackMode: true},
			fmt.Sprintf(msgManualFallback, text))
	}
	if d.proposal == nil {
		e.reply(ctx, sess.Channel, sess.Address, d.reply)
		return nil
	}
	return e.awaitConfirmation(ctx, sess, d.proposal, d.reply)
}

func (e *Engine) awaitConfirmation(ctx context.Context, sess *models.Session, p *models.OrderProposal, prompt string) error {
	_, err := e.sessions.Update(ctx, sess.Key, models.SessionUpdate{
		State:        models.StatePtr(models.StateAwaitingConfirmation),
		PendingOrder: p,
	})
	if err != nil {
		return fmt.Errorf("store pending order for %s: %w", sess.Key, err)
	}
	slog.Info("Engine: awaiting confirmation", "key", sess.Key, "items", len(p.ValidatedItems),
		"partial", p.IsPartial, "fallback", p.FallbackMode)
	e.reply(ctx, sess.Channel, sess.Address, prompt)
	return nil
}

// evaluateOrder runs the parser and validator. Errors and panics from either
// are returned as an error so the caller can switch to manual processing.
func (e *Engine) evaluateOrder(ctx context.Context, text string, catalog []models.Product) (d decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("order processing panicked: %v", r)
		}
	}()

	res, err := e.parser.Parse(ctx, text, catalog)
	if err != nil {
		return decision{}, err
	}
	if res == nil {
		return decision{}, errNoParseResult
	}
	if res.Fallback {
		return decision{}, errParserFallback
	}

	switch {
	case res.HasError():
		if res.IsPartialWithItems() {
			v := e.validator.Validate(res.Items, catalog)
			if v.IsValid {
				return decision{
					proposal: &models.OrderProposal{OriginalText: text, Parsed: res, ValidatedItems: v.ValidatedItems, IsPartial: true},
					reply:    res.OrderSummary + msgPartialPrompt,
				}, nil
			}
			return decision{reply: orderErrorReply(res, false)}, nil
		}
		return decision{reply: orderErrorReply(res, true)}, nil

	case res.NeedsClarification:
		msg := res.ClarificationMessage
		if msg == "" {
			msg = res.OrderSummary
		}
		return decision{reply: msg}, nil

	case len(res.Items) > 0:
		v := e.validator.Validate(res.Items, catalog)
		if !v.IsValid {
			return decision{reply: fmt.Sprintf(msgValidationFailed, strings.Join(v.Errors, ", "))}, nil
		}
		return decision{
			proposal: &models.OrderProposal{OriginalText: text, Parsed: res, ValidatedItems: v.ValidatedItems},
			reply:    res.OrderSummary,
		}, nil

	default:
		if res.OrderSummary != "" {
			return decision{reply: res.OrderSummary}, nil
		}
		return decision{reply: msgNoItems}, nil
	}
}

// orderErrorReply renders a parser error. onlyNew adds the error detail only
// when it differs from the summary.
func orderErrorReply(res *models.ParseResult, onlyNew bool) string {
	msg := res.OrderSummary
	if msg == "" {
		msg = msgOrderError
	}
	if res.Error == "" {
		return msg
	}
	if onlyNew {
		if res.Error != res.OrderSummary {
			msg += fmt.Sprintf(msgOrderErrorDetail, res.Error)
		}
		return msg
	}
	return msg + "\n\n" + res.Error
}

func (e *Engine) handleAwaitingConfirmation(ctx context.Context, sess *models.Session, text string) error {
	switch normalizeToken(text) {
	case yesToken:
		return e.confirmOrder(ctx, sess)
	case noToken:
		if _, err := e.sessions.Update(ctx, sess.Key, models.SessionUpdate{
			State:             models.StatePtr(models.StateVerified),
			ClearPendingOrder: true,
		}); err != nil {
			return fmt.Errorf("cancel pending order for %s: %w", sess.Key, err)
		}
		slog.Info("Engine.handleAwaitingConfirmation: order cancelled", "key", sess.Key)
		e.reply(ctx, sess.Channel, sess.Address, msgCancelled)
		return nil
	default:
		e.reply(ctx, sess.Channel, sess.Address, msgAnswerYesNo)
		return nil
	}
}

func (e *Engine) confirmOrder(ctx context.Context, sess *models.Session) error {
	p := sess.PendingOrder
	if !sess.HasClient() || p == nil || p.OriginalText == "" {
		slog.Error("Engine.confirmOrder: missing client or order data", "key", sess.Key,
			"has_client", sess.HasClient(), "has_order", p != nil)
		e.reply(ctx, sess.Channel, sess.Address, msgSessionClosed)
		return e.deleteSession(ctx, sess.Key)
	}

	created, err := e.orders.CreateOrder(ctx, models.NewOrder{
		OrderText:   p.OriginalText,
		ClientID:    sess.ClientID,
		Channel:     sess.Channel,
		Items:       p.ValidatedItems,
		Summary:     p.Summary(),
		AIProcessed: !p.FallbackMode,
	})
	if err != nil {
		return fmt.Errorf("create order for %s: %w", sess.Key, err)
	}
	slog.Info("Engine.confirmOrder: order created", "key", sess.Key, "order", created.ID,
		"client", created.ClientID, "total", created.Total)

	msg := msgConfirmed
	if p.IsPartial {
		msg = msgPartialConfirmed
	}
	if len(p.ValidatedItems) > 0 {
		msg += "\n\n" + order.FormatSummary(p.ValidatedItems)
		if p.IsPartial {
			msg += msgPartialNote
		}
	}
	e.reply(ctx, sess.Channel, sess.Address, msg)
	return e.deleteSession(ctx, sess.Key)
}

func (e *Engine) deleteSession(ctx context.Context, key string) error {
	if err := e.sessions.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}
