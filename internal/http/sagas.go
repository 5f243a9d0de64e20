package http

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/haven-cms/eventcore/internal/repository"
)

// listStuckSagasHandler returns sagas parked in COMPENSATING after a
// compensation step failed. These need a human.
func listStuckSagasHandler(sagas repository.SagaStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		stuck, err := sagas.ListCompensating(c.Request().Context(), limit)
		if err != nil {
			c.Logger().Errorf("list stuck sagas: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(stuck),
			"results": stuck,
		})
	}
}
