package presenter

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/ortto-dashboard/internal/logging"
)

type errorResponse struct {
	Error   string `json:"error"`
	Dropped int    `json:"dropped,omitempty"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func BadRequest(c echo.Context, err error) error {
	logging.Debug().Str("module", "rest").Err(err).Str("path", c.Path()).Msg("bad request")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func BadRequestMessage(c echo.Context, msg string) error {
	logging.Debug().Str("module", "rest").Str("path", c.Path()).Msg("bad request: " + msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// ValidationFailed reports a request whose items were all malformed.
func ValidationFailed(c echo.Context, msg string, dropped int) error {
	logging.Debug().Str("module", "rest").Int("dropped", dropped).Msg("validation failed")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Dropped: dropped})
}

func Unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: msg})
}

func BadGateway(c echo.Context, err error) error {
	logging.Warn().Str("module", "rest").Err(err).Str("path", c.Path()).Msg("upstream failure")
	return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
}

func InternalError(c echo.Context, err error) error {
	logging.Error().Str("module", "rest").Err(err).Str("path", c.Path()).Msg("internal error")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
