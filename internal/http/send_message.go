package http

import (
	"errors"
	"net/http"

	"github.com/alexey-tyurin/messaging-service/internal/queue"
	"github.com/alexey-tyurin/messaging-service/internal/service/intake"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func sendMessageHandler(intakeSvc *intake.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req intake.Request
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		m, err := intakeSvc.Create(c.Request().Context(), req)
		if err != nil {
			if errors.Is(err, intake.ErrValidation) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			if errors.Is(err, queue.ErrUnavailable) {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "message queue unavailable"})
			}

			log.Errorf("send message failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"id":              m.ID,
			"status":          m.Status.String(),
			"channel":         m.Channel.String(),
			"conversation_id": m.ConversationID,
		})
	}
}
