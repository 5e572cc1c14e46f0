package models

// AssignmentRunRequest overrides the resolver thresholds for one run.
type AssignmentRunRequest struct {
	DirectThreshold    *float64 `json:"directThresholdM,omitempty"`
	ReferenceThreshold *float64 `json:"referenceThresholdM,omitempty"`
}

// Validate validates the request.
func (r *AssignmentRunRequest) Validate() []FieldError {
	var errs []FieldError
	if r.DirectThreshold != nil && *r.DirectThreshold <= 0 {
		errs = append(errs, FieldError{Field: "directThresholdM", Message: "must be positive", Code: "OUT_OF_RANGE"})
	}
	if r.ReferenceThreshold != nil && *r.ReferenceThreshold <= 0 {
		errs = append(errs, FieldError{Field: "referenceThresholdM", Message: "must be positive", Code: "OUT_OF_RANGE"})
	}
	return errs
}

// AssignmentRun is the outcome of an assignment run.
type AssignmentRun struct {
	RunID              string         `json:"runId"`
	DryRun             bool           `json:"dryRun"`
	StartedAt          Timestamp      `json:"startedAt"`
	DurationMs         int64          `json:"durationMs"`
	DirectThreshold    float64        `json:"directThresholdM"`
	ReferenceThreshold float64        `json:"referenceThresholdM"`
	Schools            int            `json:"schools"`
	Assigned           int            `json:"assigned"`
	BySource           map[string]int `json:"bySource"`
	DirectByNetwork    map[string]int `json:"directByNetwork"`
	Skipped            []string       `json:"skipped"`

	// Assignments holds the computed assignment per URN for dry runs.
	Assignments map[string]Assignment `json:"assignments,omitempty"`
}

// SnapshotRefresh is the outcome of a snapshot refresh.
type SnapshotRefresh struct {
	Snapshot SnapshotStatus `json:"snapshot"`
}

// BaselineImport is the outcome of a baseline import.
type BaselineImport struct {
	Total        int      `json:"total"`
	Imported     int      `json:"imported"`
	WithBaseline int      `json:"withBaseline"`
	Skipped      []string `json:"skipped"`
}
