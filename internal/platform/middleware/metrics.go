package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/metrics"
)

// Metrics records request counts and latency by route template.
func Metrics(rec metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = apperr.HTTPStatus(apperr.KindOf(err))
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			rec.HTTPRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
