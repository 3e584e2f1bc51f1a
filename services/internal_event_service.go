// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
)

type InternalEventService struct {
	broker shared.PubSubBroker
}

func NewInternalEventService(broker shared.PubSubBroker) *InternalEventService {
	return &InternalEventService{broker: broker}
}

// TrackEvent publishes in the background. Failures are only logged.
func (s *InternalEventService) TrackEvent(name string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msg := shared.NewSimplePubSubMessage(shared.InternalEvents, shared.PayloadOf(dtos.InternalEvent{Name: name, Payload: payload}))
		if err := s.broker.Publish(ctx, msg); err != nil {
			slog.Warn("could not track internal event", "event", name, "err", err)
		}
	}()
}
