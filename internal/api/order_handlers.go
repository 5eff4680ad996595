package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// OrderStatusRequest is the body of PATCH /orders/:id/status.
type OrderStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

func (s *Server) listOrdersHandler(c *fiber.Ctx) error {
	filter := store.OrderFilter{
		ClientID: c.Query("client_id"),
		Channel:  models.Channel(c.Query("channel")),
		Status:   models.OrderStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return writeJSON(c, fiber.StatusBadRequest, Error(models.ErrInvalidOrderStatus.Error()))
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return writeJSON(c, fiber.StatusBadRequest, Error("limit must be a non-negative integer"))
		}
		filter.Limit = limit
	}

	orders, err := s.orders.ListOrders(c.UserContext(), filter)
	if err != nil {
		slog.Error("Server.listOrdersHandler: list failed", "error", err)
		return writeJSON(c, fiber.StatusInternalServerError, Error("failed to list orders"))
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return writeJSON(c, fiber.StatusOK, Success(orders))
}

func (s *Server) getOrderHandler(c *fiber.Ctx) error {
	o, err := s.orders.GetOrder(c.UserContext(), c.Params("id"))
	if errors.Is(err, models.ErrOrderNotFound) {
		return writeJSON(c, fiber.StatusNotFound, Error(err.Error()))
	}
	if err != nil {
		slog.Error("Server.getOrderHandler: lookup failed", "id", c.Params("id"), "error", err)
		return writeJSON(c, fiber.StatusInternalServerError, Error("failed to load order"))
	}
	return writeJSON(c, fiber.StatusOK, Success(o))
}

func (s *Server) updateOrderStatusHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	var req OrderStatusRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return writeJSON(c, fiber.StatusBadRequest, Error("invalid JSON payload"))
	}
	if !req.Status.IsValid() {
		return writeJSON(c, fiber.StatusBadRequest, Error(models.ErrInvalidOrderStatus.Error()))
	}

	err := s.orders.UpdateOrderStatus(c.UserContext(), id, req.Status)
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return writeJSON(c, fiber.StatusNotFound, Error(err.Error()))
	case errors.Is(err, models.ErrInvalidOrderStatus):
		return writeJSON(c, fiber.StatusBadRequest, Error(err.Error()))
	case err != nil:
		slog.Error("Server.updateOrderStatusHandler: update failed", "id", id, "error", err)
		return writeJSON(c, fiber.StatusInternalServerError, Error("failed to update order"))
	}
	slog.Info("Server.updateOrderStatusHandler: order status updated", "id", id, "status", req.Status)
	return writeJSON(c, fiber.StatusOK, Success(fiber.Map{"id": id, "status": req.Status}))
}
