package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/alexey-tyurin/messaging-service/internal/model"
	"github.com/alexey-tyurin/messaging-service/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func conversationMessagesHandler(reportsRepo repository.ReportsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		convID := c.Param("id")
		if convID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing conversation id"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var st model.MessageStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.MessageStatus(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		msgs, err := reportsRepo.ListByConversation(c.Request().Context(), convID, st, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(msgs),
			"results": msgs,
		})
	}
}
