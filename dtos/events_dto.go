package dtos

import "github.com/google/uuid"

// payloads sent over the broker

type PipelineCompletedEvent struct {
	PipelineID uuid.UUID `json:"pipelineId"`
}

type PolicyChangedEvent struct {
	ProjectID uuid.UUID `json:"projectId"`
}

type GenerateCommentEvent struct {
	MergeRequestID uuid.UUID          `json:"mergeRequestId"`
	ReportType     ApprovalReportType `json:"reportType"`
	Violated       bool               `json:"violated"`
	// set when the report type requires approval on the merge request
	RequiresApproval bool `json:"requiresApproval"`
}

type ViolationsUpdatedEvent struct {
	MergeRequestID uuid.UUID `json:"mergeRequestId"`
}

type PolicyViolationsDetectedEvent struct {
	MergeRequestID uuid.UUID `json:"mergeRequestId"`
}

type PolicyViolationsResolvedEvent struct {
	MergeRequestID uuid.UUID `json:"mergeRequestId"`
}

type InternalEvent struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ResyncMergeRequestRequest struct {
	PipelineID *uuid.UUID `json:"pipelineId"`
}

// BotCommentHeader starts the body of every policy violation comment.
const BotCommentHeader = "<!-- policy_violation_comment -->"

// BotComment is a comment on a merge request authored by the bot user.
type BotComment struct {
	ID   string
	Body string
}
