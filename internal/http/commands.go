package http

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/haven-cms/eventcore/internal/command"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
)

func submitCommandHandler(exec *command.Executor) echo.HandlerFunc {
	return func(c echo.Context) error {
		var cmd model.Command
		if err := c.Bind(&cmd); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		result, err := exec.Submit(c.Request().Context(), cmd)
		if err != nil {
			switch {
			case errors.Is(err, command.ErrValidation):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			case errors.Is(err, command.ErrUnknownCommand):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			case errors.Is(err, repository.ErrCommandInFlight):
				// a previous attempt with this command id is still running
				return c.JSON(http.StatusConflict, map[string]string{"error": "command_in_flight"})
			case errors.Is(err, repository.ErrConcurrencyConflict):
				return c.JSON(http.StatusConflict, map[string]string{"error": "concurrency_conflict"})
			case errors.Is(err, repository.ErrNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}

			log.Errorf("submit failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"command_id":   cmd.CommandID,
			"aggregate_id": result.AggregateID,
			"version":      result.Version,
			"event_ids":    result.EventIDs,
			"data":         result.Data,
		})
	}
}
