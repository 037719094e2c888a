// Package response renders the JSON envelope shared by every API endpoint.
package response

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/apperr"
)

type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func OK(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func Created(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

// ErrorHandler returns an echo.HTTPErrorHandler that renders apperr and
// echo errors as envelopes. Internal causes are only exposed when
// showDetail is set.
func ErrorHandler(logger zerolog.Logger, showDetail bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, env := render(err, showDetail)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, env)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func render(err error, showDetail bool) (int, Envelope) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		env := Envelope{Message: msg, Error: codeForStatus(he.Code)}
		if showDetail && he.Internal != nil {
			env.Detail = he.Internal.Error()
		}
		return he.Code, env
	}

	kind := apperr.KindOf(err)
	env := Envelope{Message: apperr.MessageOf(err), Error: apperr.Code(kind)}
	if showDetail && kind == apperr.KindInternal {
		env.Detail = err.Error()
	}
	if !showDetail && kind == apperr.KindInternal {
		env.Message = "internal server error"
	}
	return apperr.HTTPStatus(kind), env
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return apperr.Code(apperr.KindValidation)
	case http.StatusUnauthorized:
		return apperr.Code(apperr.KindUnauthorized)
	case http.StatusForbidden:
		return apperr.Code(apperr.KindForbidden)
	case http.StatusNotFound:
		return apperr.Code(apperr.KindNotFound)
	case http.StatusConflict:
		return apperr.Code(apperr.KindConflict)
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return apperr.Code(apperr.KindInternal)
		}
		return "REQUEST_ERROR"
	}
}
