package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrUserIDRequired indicates a required user ID field is zero.
	ErrUserIDRequired = errors.New("user_id is required")

	// ErrRecordingIDRequired indicates a required recording ID field is zero.
	ErrRecordingIDRequired = errors.New("recording_id is required")

	// ErrDisplayNameRequired indicates a required display name field is empty.
	ErrDisplayNameRequired = errors.New("display_name is required")

	// ErrInvalidSourceKind indicates an invalid input source kind.
	ErrInvalidSourceKind = errors.New("invalid source kind: must be 'meeting', 'urllist', 'cloudfolder', or 'local'")

	// ErrInvalidStageType indicates an invalid processing stage type.
	ErrInvalidStageType = errors.New("invalid stage type")

	// ErrTaskTypeRequired indicates a required task type field is empty.
	ErrTaskTypeRequired = errors.New("task type is required")

	// ErrQueueRequired indicates a required queue field is empty.
	ErrQueueRequired = errors.New("queue is required")

	// ErrPlatformRequired indicates a required platform field is empty.
	ErrPlatformRequired = errors.New("platform is required")

	// ErrCredentialIDRequired indicates a required credential reference is zero.
	ErrCredentialIDRequired = errors.New("credential_id is required")

	// ErrScheduleRequired indicates a required cron schedule field is empty.
	ErrScheduleRequired = errors.New("schedule is required")

	// ErrTemplateIDsRequired indicates an automation job without templates.
	ErrTemplateIDsRequired = errors.New("at least one template_id is required")

	// ErrPeriodRequired indicates a required quota period field is empty.
	ErrPeriodRequired = errors.New("period is required")

	// ErrNotSoftDeleted indicates a restore on a recording that is not in the
	// soft delete state.
	ErrNotSoftDeleted = errors.New("recording is not soft-deleted")

	// ErrDeleteStateChanged indicates a guarded mutation found the delete
	// state diverged from what the caller observed.
	ErrDeleteStateChanged = errors.New("recording delete state changed")

	// ErrRetriesExhausted indicates a stage retry past max_retries.
	ErrRetriesExhausted = errors.New("stage retries exhausted")

	// ErrRecordingDeleted indicates a pipeline mutation on a recording that
	// entered the deletion lifecycle.
	ErrRecordingDeleted = errors.New("recording is deleted")
)
