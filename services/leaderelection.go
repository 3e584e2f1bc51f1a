package services

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/shared"
)

const leaderElectionKey = "leaderElection"

// a leader which did not ping for this long is considered dead
const leaderTimeout = 360 * time.Second

type leaderElectionConfig struct {
	LeaderID string `json:"leaderId"`
	LastPing int64  `json:"lastPing"`
}

type databaseLeaderElector struct {
	leaderElectorID string
	configService   shared.ConfigService
	isLeader        atomic.Bool // updated by the daemon goroutine
	now             func() time.Time
}

func NewDatabaseLeaderElector(configService shared.ConfigService) *databaseLeaderElector {
	leaderElector := newDatabaseLeaderElector(configService, time.Now)
	go leaderElector.daemon(context.Background())
	return leaderElector
}

func newDatabaseLeaderElector(configService shared.ConfigService, now func() time.Time) *databaseLeaderElector {
	return &databaseLeaderElector{
		configService:   configService,
		leaderElectorID: uuid.New().String(),
		now:             now,
	}
}

func randomNumberBetween(min, max int) int {
	return rand.IntN(max-min) + min // #nosec
}

func (e *databaseLeaderElector) daemon(ctx context.Context) {
	for {
		isLeader, err := e.checkIfLeader()
		if err != nil {
			slog.Error("could not check if leader", "err", err)
		}
		e.isLeader.Store(isLeader)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(randomNumberBetween(60, 359)) * time.Second):
		}
	}
}

func (e *databaseLeaderElector) IsLeader() bool {
	return e.isLeader.Load()
}

func (e *databaseLeaderElector) makeLeader() error {
	return e.configService.SetJSONConfig(leaderElectionKey, leaderElectionConfig{
		LeaderID: e.leaderElectorID,
		LastPing: e.now().Unix(),
	})
}

func (e *databaseLeaderElector) checkIfLeader() (bool, error) {
	var config leaderElectionConfig

	err := e.configService.GetJSONConfig(leaderElectionKey, &config)
	if err != nil {
		slog.Info("could not get leader election config", "err", err)
		// there is no leader yet
		return true, e.makeLeader()
	}

	if e.now().Unix()-config.LastPing > int64(leaderTimeout.Seconds()) {
		// the leader probably died
		return true, e.makeLeader()
	}

	if config.LeaderID == e.leaderElectorID {
		// keep the lease alive
		return true, e.makeLeader()
	}
	return false, nil
}
