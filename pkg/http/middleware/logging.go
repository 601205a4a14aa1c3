package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "MacroPulse/pkg/logger"
)

// RequestLogging logs each request at debug level, 4xx at warn and 5xx at error.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", c.Request().Method),
				applogger.String("route", routeOf(c)),
				applogger.Int("status", status),
				applogger.String("remote", c.RealIP()),
				applogger.Duration("duration_ms", time.Since(start)),
			}
			switch {
			case status >= 500:
				l.Error("http request", append(fields, applogger.Error(err))...)
			case status >= 400:
				l.Warn("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

// routeOf returns the route template to keep label and log cardinality low.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
