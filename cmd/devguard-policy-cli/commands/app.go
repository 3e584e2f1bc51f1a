package commands

import (
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l3montree-dev/devguard-policy/daemons"
	"github.com/l3montree-dev/devguard-policy/database"
	"github.com/l3montree-dev/devguard-policy/database/repositories"
	"github.com/l3montree-dev/devguard-policy/integrations"
	"github.com/l3montree-dev/devguard-policy/services"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/l3montree-dev/devguard-policy/utils"
	"go.uber.org/fx"
)

// withApp builds the service graph of the daemon without starting its
// listeners and fills the targets. The http server and the daemons are
// not part of it.
func withApp(targets []any, run func() error) error {
	pool, db, err := database.DatabaseFactory()
	if err != nil {
		return err
	}
	defer pool.Close()

	app := fx.New(
		fx.NopLogger,
		fx.Supply(pool, db),
		fx.Provide(database.BrokerFactory),
		fx.Provide(func(pool *pgxpool.Pool) shared.Lease {
			return database.LeaseFactory(pool, os.Getenv("COMMENT_LOCK_BACKEND"), utils.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"))
		}),
		repositories.Module,
		services.ServiceModule,
		integrations.Module,
		fx.Provide(daemons.NewDaemonRunner),
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}
	return run()
}
