// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l3montree-dev/devguard-policy/controllers"
	"github.com/l3montree-dev/devguard-policy/middlewares"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type APIV1Router struct {
	*echo.Group
}

// NewAPIV1Router registers the ops routes on the server and the internal
// trigger routes below /api/v1.
func NewAPIV1Router(
	srv *echo.Echo,
	db shared.DB,
	pool *pgxpool.Pool,
	mergeRequestController *controllers.MergeRequestController,
	complianceController *controllers.ComplianceController,
) APIV1Router {
	srv.GET("/health/", healthHandler(db))
	srv.GET("/metrics/", echo.WrapHandler(promhttp.Handler()))
	srv.GET("/info/", infoHandler(db, pool))

	apiV1Router := srv.Group("/api/v1")
	apiV1Router.POST("/merge-requests/:mergeRequestID/resync/", mergeRequestController.Resync)

	complianceRouter := apiV1Router.Group("/compliance")
	complianceRouter.GET("/coverage/", complianceController.CoverageStatistics)
	complianceRouter.GET("/control-coverage/", complianceController.ControlCoverageStatistics)
	complianceRouter.POST("/control-statuses/", complianceController.ReportControlStatus)

	return APIV1Router{
		Group: apiV1Router,
	}
}

func listenAddr() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
}

var RouterModule = fx.Options(
	fx.Provide(middlewares.Server),
	fx.Provide(NewAPIV1Router),
	fx.Invoke(func(lc fx.Lifecycle, srv *echo.Echo, _ APIV1Router) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				addr := listenAddr()
				go func() {
					if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("failed to start server", "err", err)
					}
				}()
				slog.Info("http server started", "addr", addr)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
