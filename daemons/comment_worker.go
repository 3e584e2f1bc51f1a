// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package daemons

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/monitoring"
	"github.com/l3montree-dev/devguard-policy/shared"
	"golang.org/x/time/rate"
)

const (
	commentsPerSecond = 5
	commentBurst      = 10
	maxCommentRetries = 3
)

// CommentWorker generates the bot comments requested over the broker. The
// forge apis are rate limited, so are we.
type CommentWorker struct {
	service       shared.PolicyCommentService
	leaderElector shared.LeaderElector
	limiter       *rate.Limiter
	retryDelay    time.Duration
}

func NewCommentWorker(service shared.PolicyCommentService, leaderElector shared.LeaderElector) *CommentWorker {
	return &CommentWorker{
		service:       service,
		leaderElector: leaderElector,
		limiter:       rate.NewLimiter(rate.Limit(commentsPerSecond), commentBurst),
		retryDelay:    2 * time.Second,
	}
}

func (w *CommentWorker) Run(ctx context.Context, messages <-chan map[string]any) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				return
			}
			if !w.leaderElector.IsLeader() {
				continue
			}
			var event dtos.GenerateCommentEvent
			if err := shared.DecodePayload(payload, &event); err != nil {
				slog.Error("could not decode comment event", "err", err)
				continue
			}
			if err := w.Handle(ctx, event); err != nil {
				monitoring.Alert("could not generate policy violation comment", err)
			}
		}
	}
}

// Handle retries a comment whose merge request lease was taken by another
// generation.
func (w *CommentWorker) Handle(ctx context.Context, event dtos.GenerateCommentEvent) error {
	var err error
	for attempt := 0; attempt < maxCommentRetries; attempt++ {
		if err = w.limiter.Wait(ctx); err != nil {
			return err
		}
		err = w.service.Execute(ctx, event)
		if !errors.Is(err, shared.ErrLockTimeout) {
			return err
		}
		slog.Warn("comment lease is taken, retrying", "merge_request_id", event.MergeRequestID, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryDelay):
		}
	}
	return err
}
