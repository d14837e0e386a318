package models

// PipelineJoin is the join-counter row for a parallel step group. The group
// members increment CompletedCount atomically on completion; the member
// that brings it to ExpectedCount enqueues the tail step.
type PipelineJoin struct {
	BaseModel

	// ChainID groups the join with the tasks of one pipeline launch.
	ChainID ULID `gorm:"type:varchar(26);not null;uniqueIndex" json:"chain_id"`

	// RecordingID is the recording this chain processes.
	RecordingID int64 `gorm:"not null;index" json:"recording_id"`

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null" json:"user_id"`

	// ExpectedCount is the number of parallel members.
	ExpectedCount int `gorm:"not null" json:"expected_count"`

	// CompletedCount counts members that reached a terminal stage status.
	CompletedCount int `gorm:"default:0" json:"completed_count"`

	// TailPayload is the payload of the step enqueued after the join.
	TailPayload JSONMap `gorm:"type:text;serializer:json" json:"tail_payload,omitempty"`

	// TailEnqueued guards against double-enqueueing the tail.
	TailEnqueued bool `gorm:"default:false" json:"tail_enqueued"`
}

// TableName returns the table name for PipelineJoin.
func (PipelineJoin) TableName() string {
	return "pipeline_joins"
}

// Complete returns true when every member finished.
func (j *PipelineJoin) Complete() bool {
	return j.CompletedCount >= j.ExpectedCount
}
