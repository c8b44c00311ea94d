package tasks

import (
	"time"
)

const (
	// PendingState - initial state of a task
	PendingState = "PENDING"
	// StartedState - when the worker starts processing the task
	StartedState = "STARTED"
	// RetryState - when failed task has been scheduled for retry
	RetryState = "RETRY"
	// SuccessState - when the task is processed successfully
	SuccessState = "SUCCESS"
	// FailureState - when processing of the task fails
	FailureState = "FAILURE"
)

// TaskState represents a state of a task
type TaskState struct {
	TaskUUID  string        `bson:"_id" json:"task_uuid"`
	TaskName  string        `bson:"task_name" json:"task_name"`
	State     string        `bson:"state" json:"state"`
	Results   []*TaskResult `bson:"results" json:"results"`
	Error     string        `bson:"error" json:"error"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
	TTL       int64         `bson:"ttl,omitempty" json:"ttl,omitempty"`
}

// GroupMeta stores useful metadata about tasks within the same group
// E.g. UUIDs of all tasks which are used in order to check if all tasks
// completed successfully or not and thus whether to trigger chord callback
type GroupMeta struct {
	GroupUUID      string    `bson:"_id" json:"group_uuid"`
	TaskUUIDs      []string  `bson:"task_uuids" json:"task_uuids"`
	ChordTriggered bool      `bson:"chord_triggered" json:"chord_triggered"`
	Lock           bool      `bson:"lock" json:"lock"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	TTL            int64     `bson:"ttl,omitempty" json:"ttl,omitempty"`
}

// NewPendingTaskState ...
func NewPendingTaskState(signature *Signature) *TaskState {
	return &TaskState{
		TaskUUID:  signature.UUID,
		TaskName:  signature.Name,
		State:     PendingState,
		CreatedAt: time.Now().UTC(),
	}
}

// NewStartedTaskState ...
func NewStartedTaskState(signature *Signature) *TaskState {
	return &TaskState{
		TaskUUID: signature.UUID,
		State:    StartedState,
	}
}

// NewSuccessTaskState ...
func NewSuccessTaskState(signature *Signature, results []*TaskResult) *TaskState {
	return &TaskState{
		TaskUUID: signature.UUID,
		State:    SuccessState,
		Results:  results,
	}
}

// NewFailureTaskState ...
func NewFailureTaskState(signature *Signature, err string) *TaskState {
	return &TaskState{
		TaskUUID: signature.UUID,
		State:    FailureState,
		Error:    err,
	}
}

// NewRetryTaskState ...
func NewRetryTaskState(signature *Signature) *TaskState {
	return &TaskState{
		TaskUUID: signature.UUID,
		State:    RetryState,
	}
}

// IsCompleted returns true if state is SUCCESS or FAILURE,
// i.e. the task has finished processing and either succeeded or failed.
func (taskState *TaskState) IsCompleted() bool {
	return taskState.IsSuccess() || taskState.IsFailure()
}

// IsSuccess returns true if state is SUCCESS
func (taskState *TaskState) IsSuccess() bool {
	return taskState.State == SuccessState
}

// IsFailure returns true if state is FAILURE
func (taskState *TaskState) IsFailure() bool {
	return taskState.State == FailureState
}
