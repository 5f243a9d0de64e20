package http

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/haven-cms/eventcore/internal/repository"
)

func listEventsHandler(events repository.EventStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		aggregateID := c.Param("id")
		if aggregateID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "aggregate id required"})
		}

		var fromVersion int64
		if v := c.QueryParam("from_version"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid from_version"})
			}
			fromVersion = n
		}

		evts, err := events.Load(c.Request().Context(), aggregateID, fromVersion)
		if err != nil {
			c.Logger().Errorf("load events failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		// durable head version, independent of the from_version window
		version, err := events.CurrentVersion(c.Request().Context(), aggregateID)
		if err != nil {
			c.Logger().Errorf("current version failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"aggregate_id": aggregateID,
			"version":      version,
			"count":        len(evts),
			"events":       evts,
		})
	}
}
