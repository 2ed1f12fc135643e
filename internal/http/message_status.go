package http

import (
	"net/http"

	"github.com/alexey-tyurin/messaging-service/internal/repository"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func messageStatusHandler(msgsRepo repository.MessagesRepository, eventsRepo repository.EventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing message id"})
		}

		m, err := msgsRepo.Get(c.Request().Context(), id)
		if err != nil {
			log.Errorf("message lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if m == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "message not found"})
		}

		events, err := eventsRepo.ListByMessage(c.Request().Context(), id)
		if err != nil {
			log.Errorf("event lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"message": m,
			"events":  events,
		})
	}
}
