package dtos

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

type AnalyticsModel string

const (
	AnalyticsModelIssue        AnalyticsModel = "Issue"
	AnalyticsModelMergeRequest AnalyticsModel = "MergeRequest"
)

func (m AnalyticsModel) Valid() bool {
	return m == AnalyticsModelIssue || m == AnalyticsModelMergeRequest
}

type LoaderReason string

const (
	ReasonModelProcessed            LoaderReason = "model_processed"
	ReasonLimitReached              LoaderReason = "limit_reached"
	ReasonNamespaceProcessed        LoaderReason = "namespace_processed"
	ReasonMissingLicense            LoaderReason = "missing_license"
	ReasonRequiresTopLevelNamespace LoaderReason = "requires_top_level_namespace"
)

// LoaderCursor is the keyset position of the last processed record. Batches
// are ordered by the updated_at and id of the issuable rather than by the end
// event timestamp and issuable id, so records that change after a run are
// picked up again by the next one.
type LoaderCursor struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        uuid.UUID `json:"id"`
}

// LoaderContext is passed back into the next run to resume where the
// previous one stopped.
type LoaderContext struct {
	// keyed by stage event hash id
	Cursors          map[int64]LoaderCursor `json:"cursors,omitempty"`
	ProcessedRecords int                    `json:"processed_records"`
	Runtime          time.Duration          `json:"runtime"`
}

func (c *LoaderContext) Cursor(stageEventHashID int64) *LoaderCursor {
	if c == nil || c.Cursors == nil {
		return nil
	}
	cursor, ok := c.Cursors[stageEventHashID]
	if !ok {
		return nil
	}
	return &cursor
}

// Clone returns a copy which does not share the cursors with c.
func (c LoaderContext) Clone() LoaderContext {
	c.Cursors = maps.Clone(c.Cursors)
	return c
}

func (c *LoaderContext) SetCursor(stageEventHashID int64, cursor LoaderCursor) {
	if c.Cursors == nil {
		c.Cursors = make(map[int64]LoaderCursor)
	}
	c.Cursors[stageEventHashID] = cursor
}

// LoaderResult is returned for every expected outcome of a loader run.
type LoaderResult struct {
	Reason  LoaderReason  `json:"reason"`
	Model   string        `json:"model,omitempty"`
	Context LoaderContext `json:"context"`
}

func (r LoaderResult) Success() bool {
	switch r.Reason {
	case ReasonModelProcessed, ReasonLimitReached, ReasonNamespaceProcessed:
		return true
	}
	return false
}
