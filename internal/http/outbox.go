package http

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/haven-cms/eventcore/internal/repository"
)

// Operator endpoints for dead-lettered outbox entries: list what fell out
// of the retry budget, and requeue after the downstream issue is fixed.

func listFailedOutboxHandler(outbox repository.OutboxStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		entries, err := outbox.ListFailed(c.Request().Context(), limit)
		if err != nil {
			c.Logger().Errorf("list failed outbox: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(entries),
			"results": entries,
		})
	}
}

func retryOutboxHandler(outbox repository.OutboxStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		if err := outbox.Requeue(c.Request().Context(), id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found or not FAILED"})
			}

			c.Logger().Errorf("requeue outbox %d: %v", id, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "requeue failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{"requeued": true, "id": id})
	}
}
