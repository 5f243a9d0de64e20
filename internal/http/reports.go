package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/haven-cms/eventcore/internal/projection"
)

func activityReportHandler(activity projection.ActivityRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
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

		aggregateType := strings.TrimSpace(c.QueryParam("aggregate_type"))
		eventType := strings.TrimSpace(c.QueryParam("event_type"))

		rows, err := activity.List(c.Request().Context(), aggregateType, eventType, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse activity list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
