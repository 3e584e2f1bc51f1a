// Copyright (C) 2025 l3montree GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l3montree-dev/devguard-policy/controllers"
	"github.com/l3montree-dev/devguard-policy/daemons"
	"github.com/l3montree-dev/devguard-policy/database"
	"github.com/l3montree-dev/devguard-policy/database/repositories"
	"github.com/l3montree-dev/devguard-policy/integrations"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/router"
	"github.com/l3montree-dev/devguard-policy/services"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"go.uber.org/fx"
)

var release string // Will be filled at build time

func main() {
	shared.LoadConfig() // nolint: errcheck
	shared.InitLogger()

	if os.Getenv("ERROR_TRACKING_DSN") != "" {
		initSentry()

		// Catch panics
		defer func() {
			if err := recover(); err != nil {
				sentry.CurrentHub().Recover(err)
				// Wait for events to be send to server
				sentry.Flush(time.Second * 5)
			}
		}()
	}

	shutdownTracing, err := monitoring.InitTracing(context.Background(), "devguard-policy")
	if err != nil {
		slog.Error("could not initialize tracing", "err", err)
		panic(err)
	}

	pool, db, err := database.DatabaseFactory()
	if err != nil {
		slog.Error(err.Error())
		panic(errors.New("Failed to setup database connection"))
	}

	if os.Getenv("DISABLE_AUTOMIGRATE") != "true" {
		slog.Info("running database migrations...")
		if err := database.RunMigrationsWithDB(db); err != nil {
			slog.Error("failed to run database migrations", "error", err)
			panic(errors.New("Failed to run database migrations"))
		}
	} else {
		slog.Info("automatic migrations disabled via DISABLE_AUTOMIGRATE=true")
	}

	fx.New(
		fx.Supply(pool, db),
		fx.Provide(database.BrokerFactory),
		fx.Provide(func(pool *pgxpool.Pool) shared.Lease {
			return database.LeaseFactory(pool, os.Getenv("COMMENT_LOCK_BACKEND"), utils.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"))
		}),
		repositories.Module,
		services.ServiceModule,
		integrations.Module,
		controllers.ControllerModule,
		router.RouterModule,
		daemons.Module,
		fx.Invoke(func(lc fx.Lifecycle) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					pool.Close()
					return shutdownTracing(ctx)
				},
			})
		}),
	).Run()
}

func initSentry() {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "dev"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         os.Getenv("ERROR_TRACKING_DSN"),
		Environment: environment,
		Release:     release,

		Debug: environment == "dev",

		AttachStacktrace: true,

		// personally identifiable information is never sent
		SendDefaultPII: false,
	})
	if err != nil {
		slog.Error("Failed to init logger", "err", err)
	}
}
