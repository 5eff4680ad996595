// Package api exposes the OrderPipe webhooks over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the JSON envelope of every API answer.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success builds an ok response carrying result.
func Success(result interface{}) Response {
	return Response{Status: StatusOK, Result: result}
}

// Error builds an error response.
func Error(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// Pre-marshaled fallback response to avoid runtime JSON encoding failures
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(c *fiber.Ctx, statusCode int, response interface{}) error {
	// Marshal first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSON: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = fiber.StatusInternalServerError
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(statusCode).Send(jsonData)
}
