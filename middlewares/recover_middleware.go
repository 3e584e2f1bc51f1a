package middlewares

import (
	"fmt"
	"net/http"

	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/labstack/echo/v4"
)

func recovermiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) (returnErr error) {
			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						panic(r)
					}
					err, ok := r.(error)
					if !ok {
						err = fmt.Errorf("%v", r)
					}
					monitoring.RecoverAndAlert("recovered from panic in http handler", err)
					returnErr = echo.NewHTTPError(http.StatusInternalServerError).WithInternal(err)
				}
			}()
			return next(ctx)
		}
	}
}
