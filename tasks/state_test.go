package tasks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/forge/tasks"
)

func TestTaskStateIsCompleted(t *testing.T) {
	t.Parallel()

	taskState := &tasks.TaskState{
		TaskUUID: "taskUUID",
		State:    tasks.PendingState,
	}

	assert.False(t, taskState.IsCompleted())

	taskState.State = tasks.StartedState
	assert.False(t, taskState.IsCompleted())

	taskState.State = tasks.RetryState
	assert.False(t, taskState.IsCompleted())

	taskState.State = tasks.SuccessState
	assert.True(t, taskState.IsCompleted())
	assert.True(t, taskState.IsSuccess())

	taskState.State = tasks.FailureState
	assert.True(t, taskState.IsCompleted())
	assert.True(t, taskState.IsFailure())
}
