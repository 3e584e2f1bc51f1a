package middlewares

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

const serviceName = "devguard-policy"

func registerMiddlewares(e *echo.Echo) {
	e.Pre(middleware.AddTrailingSlash())

	e.Use(otelecho.Middleware(serviceName))

	e.Use(logger())

	e.Use(recovermiddleware())

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		// do the logging straight inside the error handler
		// this keeps controller methods clean
		slog.Error(err.Error(), "method", ctx.Request().Method, "path", ctx.Request().URL)

		if ctx.Response().Committed {
			return
		}

		if he, ok := err.(*echo.HTTPError); ok {
			message := he.Message
			switch m := he.Message.(type) {
			case string:
				message = echo.Map{"message": m}
			case json.Marshaler:
				// do nothing - this type knows how to format itself to JSON
			case error:
				message = echo.Map{"message": m.Error()}
			}
			if err := ctx.JSON(he.Code, message); err != nil {
				slog.Error("could not send error response", "error", err)
			}
			return
		}

		if ctx.Request().Method == http.MethodHead { // Issue #608
			if err := ctx.NoContent(http.StatusInternalServerError); err != nil {
				slog.Error("could not send error response", "error", err)
			}
			return
		}

		message := echo.Map{"message": http.StatusText(http.StatusInternalServerError)}
		if e.Debug {
			message["error"] = err.Error()
		}
		if err := ctx.JSON(http.StatusInternalServerError, message); err != nil {
			slog.Error("could not send error response", "error", err)
		}
	}
}

// Server creates the echo instance serving the health, metrics and trigger routes.
func Server() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(99)
	registerMiddlewares(e)
	return e
}
