// Copyright 2025 l3montree GmbH.
// SPDX-License-Identifier: 	AGPL-3.0-or-later

package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/spaolacci/murmur3"
)

const (
	EventIssueCreated             = "issue_created"
	EventIssueClosed              = "issue_closed"
	EventIssueFirstAssignedAt     = "issue_first_assigned_at"
	EventIssueLabelAdded          = "issue_label_added"
	EventIssueLabelRemoved        = "issue_label_removed"
	EventMergeRequestCreated      = "merge_request_created"
	EventMergeRequestMerged       = "merge_request_merged"
	EventMergeRequestClosed       = "merge_request_closed"
	EventMergeRequestLabelAdded   = "merge_request_label_added"
	EventMergeRequestLabelRemoved = "merge_request_label_removed"

	labelAddedSuffix   = "_label_added"
	labelRemovedSuffix = "_label_removed"
)

var eventIdentifiers = map[string]dtos.AnalyticsModel{
	EventIssueCreated:             dtos.AnalyticsModelIssue,
	EventIssueClosed:              dtos.AnalyticsModelIssue,
	EventIssueFirstAssignedAt:     dtos.AnalyticsModelIssue,
	EventIssueLabelAdded:          dtos.AnalyticsModelIssue,
	EventIssueLabelRemoved:        dtos.AnalyticsModelIssue,
	EventMergeRequestCreated:      dtos.AnalyticsModelMergeRequest,
	EventMergeRequestMerged:       dtos.AnalyticsModelMergeRequest,
	EventMergeRequestClosed:       dtos.AnalyticsModelMergeRequest,
	EventMergeRequestLabelAdded:   dtos.AnalyticsModelMergeRequest,
	EventMergeRequestLabelRemoved: dtos.AnalyticsModelMergeRequest,
}

// StageModel returns the model both events of the stage belong to.
func StageModel(stage models.ValueStreamStage) (dtos.AnalyticsModel, bool) {
	start, ok := eventIdentifiers[stage.StartEventIdentifier]
	if !ok {
		return "", false
	}
	end, ok := eventIdentifiers[stage.EndEventIdentifier]
	if !ok || start != end {
		return "", false
	}
	return start, true
}

func isLabelEvent(identifier string) bool {
	return strings.HasSuffix(identifier, labelAddedSuffix) || strings.HasSuffix(identifier, labelRemovedSuffix)
}

func labelKey(label *uuid.UUID) string {
	if label == nil {
		return ""
	}
	return label.String()
}

// StageEventHashID identifies the event pair of a stage. Stages with the same
// events share their stage event rows.
func StageEventHashID(stage models.ValueStreamStage) int64 {
	key := strings.Join([]string{
		stage.StartEventIdentifier,
		labelKey(stage.StartEventLabelID),
		stage.EndEventIdentifier,
		labelKey(stage.EndEventLabelID),
	}, "|")
	return int64(murmur3.Sum64([]byte(key))) // #nosec G115
}

// NewValueStreamStage validates the event identifiers and computes the hash id.
func NewValueStreamStage(namespaceID uuid.UUID, name, start, end string, startLabel, endLabel *uuid.UUID) (models.ValueStreamStage, error) {
	stage := models.ValueStreamStage{
		NamespaceID:          namespaceID,
		Name:                 name,
		StartEventIdentifier: start,
		EndEventIdentifier:   end,
		StartEventLabelID:    startLabel,
		EndEventLabelID:      endLabel,
	}
	if _, ok := StageModel(stage); !ok {
		return stage, fmt.Errorf("events %s and %s do not form a stage", start, end)
	}
	if isLabelEvent(start) != (startLabel != nil) || isLabelEvent(end) != (endLabel != nil) {
		return stage, errors.New("label events need a label")
	}
	stage.StageEventHashID = StageEventHashID(stage)
	return stage, nil
}

// labelTimeline holds the add and remove timestamps of one label on one issuable.
type labelTimeline struct {
	added   []time.Time
	removed []time.Time
}

type labelTimelines map[uuid.UUID]map[uuid.UUID]*labelTimeline

func newLabelTimelines(model dtos.AnalyticsModel, events []models.ResourceLabelEvent) labelTimelines {
	timelines := labelTimelines{}
	for _, e := range events {
		issuableID := e.IssueID
		if model == dtos.AnalyticsModelMergeRequest {
			issuableID = e.MergeRequestID
		}
		if issuableID == nil {
			continue
		}
		byLabel, ok := timelines[*issuableID]
		if !ok {
			byLabel = map[uuid.UUID]*labelTimeline{}
			timelines[*issuableID] = byLabel
		}
		t, ok := byLabel[e.LabelID]
		if !ok {
			t = &labelTimeline{}
			byLabel[e.LabelID] = t
		}
		switch e.Action {
		case models.LabelActionAdd:
			t.added = append(t.added, e.CreatedAt)
		case models.LabelActionRemove:
			t.removed = append(t.removed, e.CreatedAt)
		}
	}
	for _, byLabel := range timelines {
		for _, t := range byLabel {
			sort.Slice(t.added, func(i, j int) bool { return t.added[i].Before(t.added[j]) })
			sort.Slice(t.removed, func(i, j int) bool { return t.removed[i].Before(t.removed[j]) })
		}
	}
	return timelines
}

func (l labelTimelines) get(issuableID uuid.UUID, label *uuid.UUID) *labelTimeline {
	if label == nil {
		return nil
	}
	byLabel, ok := l[issuableID]
	if !ok {
		return nil
	}
	return byLabel[*label]
}

func firstAfter(times []time.Time, after *time.Time) *time.Time {
	for _, t := range times {
		if after == nil || !t.Before(*after) {
			return &t
		}
	}
	return nil
}

func lastAfter(times []time.Time, after *time.Time) *time.Time {
	for i := len(times) - 1; i >= 0; i-- {
		if after == nil || !times[i].Before(*after) {
			return &times[i]
		}
	}
	return nil
}

// eventTimestamp returns nil when the event did not happen (yet). An end
// event is only searched after start.
func eventTimestamp(identifier string, label *uuid.UUID, record models.IssuableRecord, timelines labelTimelines, start *time.Time) *time.Time {
	switch identifier {
	case EventIssueCreated, EventMergeRequestCreated:
		return &record.CreatedAt
	case EventIssueClosed, EventMergeRequestClosed:
		return record.ClosedAt
	case EventIssueFirstAssignedAt:
		return record.FirstAssignedAt
	case EventMergeRequestMerged:
		return record.MergedAt
	}
	timeline := timelines.get(record.ID, label)
	if timeline == nil {
		return nil
	}
	switch {
	case strings.HasSuffix(identifier, labelAddedSuffix):
		return firstAfter(timeline.added, start)
	case strings.HasSuffix(identifier, labelRemovedSuffix):
		if start == nil {
			return firstAfter(timeline.removed, nil)
		}
		return lastAfter(timeline.removed, start)
	}
	return nil
}

// labelDuration sums the add to remove pairs of a label. It returns false
// when the pairs do not line up.
func labelDuration(timeline *labelTimeline) (time.Duration, bool) {
	if timeline == nil || len(timeline.added) == 0 || len(timeline.added) != len(timeline.removed) {
		return 0, false
	}
	var total time.Duration
	for i := range timeline.added {
		if timeline.removed[i].Before(timeline.added[i]) {
			return 0, false
		}
		if i > 0 && timeline.added[i].Before(timeline.removed[i-1]) {
			return 0, false
		}
		total += timeline.removed[i].Sub(timeline.added[i])
	}
	return total, true
}

// BuildStageEvent returns false when the issuable has no row for the stage.
func BuildStageEvent(stage models.ValueStreamStage, groupID uuid.UUID, record models.IssuableRecord, timelines labelTimelines) (models.StageEvent, bool) {
	start := eventTimestamp(stage.StartEventIdentifier, stage.StartEventLabelID, record, timelines, nil)
	if start == nil {
		return models.StageEvent{}, false
	}
	end := eventTimestamp(stage.EndEventIdentifier, stage.EndEventLabelID, record, timelines, start)
	if end != nil && end.Before(*start) {
		return models.StageEvent{}, false
	}

	event := models.StageEvent{
		StageEventHashID:    stage.StageEventHashID,
		IssuableID:          record.ID,
		GroupID:             groupID,
		ProjectID:           record.ProjectID,
		StartEventTimestamp: *start,
		EndEventTimestamp:   end,
		State:               record.State,
		AuthorID:            record.AuthorID,
		Weight:              record.Weight,
	}
	if end == nil {
		return event, true
	}

	duration := end.Sub(*start)
	sameLabel := stage.StartEventLabelID != nil && stage.EndEventLabelID != nil && *stage.StartEventLabelID == *stage.EndEventLabelID
	if sameLabel && strings.HasSuffix(stage.StartEventIdentifier, labelAddedSuffix) && strings.HasSuffix(stage.EndEventIdentifier, labelRemovedSuffix) {
		if paired, ok := labelDuration(timelines.get(record.ID, stage.StartEventLabelID)); ok {
			duration = paired
		}
	}
	if duration <= 0 {
		return models.StageEvent{}, false
	}
	ms := duration.Milliseconds()
	event.DurationInMilliseconds = &ms
	return event, true
}

// RuntimeLimiter is consulted between batches.
type RuntimeLimiter struct {
	maxRuntime time.Duration
	startedAt  time.Time
	now        func() time.Time
}

func NewRuntimeLimiter(maxRuntime time.Duration, now func() time.Time) *RuntimeLimiter {
	if now == nil {
		now = time.Now
	}
	return &RuntimeLimiter{maxRuntime: maxRuntime, startedAt: now(), now: now}
}

func (l *RuntimeLimiter) ElapsedTime() time.Duration {
	return l.now().Sub(l.startedAt)
}

func (l *RuntimeLimiter) OverTimeLimit() bool {
	return l.ElapsedTime() >= l.maxRuntime
}
