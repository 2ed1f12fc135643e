package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/alexey-tyurin/messaging-service/internal/webhook"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// webhookBodyLimit caps provider callback bodies; real receipts are tiny.
const webhookBodyLimit = 256 * 1024

func webhookHandler(rec *webhook.Reconciler) echo.HandlerFunc {
	return func(c echo.Context) error {
		providerName := c.Param("provider")

		body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookBodyLimit))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		}

		res, err := rec.Handle(c.Request().Context(), providerName, c.Request().Header, body)
		if err != nil {
			switch {
			case errors.Is(err, webhook.ErrUnknownProvider):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown provider"})
			case errors.Is(err, webhook.ErrSignature):
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			case errors.Is(err, webhook.ErrBadPayload):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			}

			log.Errorf("webhook processing failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"duplicate":  res.Duplicate,
			"applied":    res.Applied,
			"message_id": res.MessageID,
		})
	}
}
