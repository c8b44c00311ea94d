package tasks_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/forge/tasks"
)

func TestReflectArgs(t *testing.T) {
	t.Parallel()

	task := new(tasks.Task)
	args := []tasks.Arg{
		{
			Type:  "[]int64",
			Value: []interface{}{int64(1), int64(2)},
		},
	}

	err := task.ReflectArgs(args)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(task.Args))
	assert.Equal(t, "[]int64", task.Args[0].Type().String())
}

func TestInvalidArgRobustness(t *testing.T) {
	t.Parallel()

	// Create a test task function
	f := func(x int) error { return nil }

	// Construct an invalid argument list and reflect it
	args := []tasks.Arg{
		{Type: "bool", Value: true},
	}

	task, err := tasks.New(f, args)
	assert.NoError(t, err)

	// Invoking the task must recover from the reflection panic
	results, err := task.Call()
	assert.Equal(t, "reflect: Call using bool as type int", err.Error())
	assert.Nil(t, results)
}

func TestInterfaceValuedResult(t *testing.T) {
	t.Parallel()

	f := func() (interface{}, error) { return math.Pi, nil }

	task, err := tasks.New(f, []tasks.Arg{})
	assert.NoError(t, err)

	taskResults, err := task.Call()
	assert.NoError(t, err)
	assert.Equal(t, "float64", taskResults[0].Type)
	assert.Equal(t, math.Pi, taskResults[0].Value)
}

func TestTaskHasContext(t *testing.T) {
	t.Parallel()

	f := func(c context.Context) (interface{}, error) {
		assert.NotNil(t, c)
		return math.Pi, nil
	}
	task, err := tasks.New(f, []tasks.Arg{})
	assert.NoError(t, err)
	taskResults, err := task.Call()
	assert.NoError(t, err)
	assert.Equal(t, "float64", taskResults[0].Type)
	assert.Equal(t, math.Pi, taskResults[0].Value)
}

func TestTaskCallError(t *testing.T) {
	t.Parallel()

	f := func() error { return errors.New("some error") }

	task, err := tasks.New(f, []tasks.Arg{})
	assert.NoError(t, err)

	results, err := task.Call()
	assert.Nil(t, results)
	assert.EqualError(t, err, "some error")
}

func TestTaskCallRetriableError(t *testing.T) {
	t.Parallel()

	f := func() error { return tasks.NewErrRetryTaskLater("try again", 5*time.Second) }

	task, err := tasks.New(f, []tasks.Arg{})
	assert.NoError(t, err)

	_, err = task.Call()
	retriable, ok := err.(tasks.ErrRetryTaskLater)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, retriable.RetryIn())
}

func TestTaskCallWithTimeout(t *testing.T) {
	t.Parallel()

	f := func(c context.Context) (string, error) {
		select {
		case <-c.Done():
			return "", c.Err()
		case <-time.After(time.Second):
			return "done", nil
		}
	}

	task, err := tasks.New(f, []tasks.Arg{})
	assert.NoError(t, err)

	results, err := task.CallWithTimeout(10 * time.Millisecond)
	assert.Nil(t, results)
	assert.Error(t, err)
}

func TestValidateTask(t *testing.T) {
	t.Parallel()

	assert.Equal(t, tasks.ErrTaskMustBeFunc, tasks.ValidateTask(123))
	assert.Equal(t, tasks.ErrTaskReturnsNoValue, tasks.ValidateTask(func() {}))
	assert.Equal(t, tasks.ErrLastReturnValueMustBeError, tasks.ValidateTask(func() string { return "" }))
	assert.NoError(t, tasks.ValidateTask(func() error { return nil }))
	assert.NoError(t, tasks.ValidateTask(func(a, b int64) (int64, error) { return a + b, nil }))
}
