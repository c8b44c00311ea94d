package forge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/taskforge/forge/config"
	"github.com/taskforge/forge/tasks"
)

type EagerIntegrationTestSuite struct {
	suite.Suite

	srv        *Server
	called     float64
	sumCalls   int64
	failCalls  int64
	errRecords []string
}

func TestEagerIntegrationTestSuite(t *testing.T) {
	suite.Run(t, &EagerIntegrationTestSuite{})
}

func (s *EagerIntegrationTestSuite) SetupSuite() {
	var err error

	// init server
	cnf := config.Config{
		Broker:        "eager",
		ResultBackend: "eager",
	}
	s.srv, err = NewServer(&cnf)
	s.Nil(err)
	s.NotNil(s.srv)

	// register tasks
	err = s.srv.RegisterTasks(map[string]interface{}{
		"float_called": func(i float64) (float64, error) {
			s.called = i
			return s.called, nil
		},
		"float_result": func(i float64) (float64, error) {
			return i + 100.0, nil
		},
		"add": func(a, b int64) (int64, error) {
			return a + b, nil
		},
		"multiply": func(args ...int64) (int64, error) {
			n := int64(1)
			for _, arg := range args {
				n *= arg
			}
			return n, nil
		},
		"sum": func(args ...int64) (int64, error) {
			var n int64
			for _, arg := range args {
				n += arg
			}
			atomic.AddInt64(&s.sumCalls, 1)
			return n, nil
		},
		"record_error": func(errMsg string) error {
			s.errRecords = append(s.errRecords, errMsg)
			return nil
		},
		"always_fails": func() error {
			return errNeverWorks
		},
		"always_fails_counted": func() error {
			atomic.AddInt64(&s.failCalls, 1)
			return errNeverWorks
		},
		"panics": func() (string, error) {
			panic("oops")
		},
		"sleepy": func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Second):
				return nil
			}
		},
	})
	s.Nil(err)
}

var errNeverWorks = errors.New("this task never works")

func (s *EagerIntegrationTestSuite) TestCalled() {
	_, err := s.srv.SendTask(&tasks.Signature{
		Name: "float_called",
		Args: []tasks.Arg{
			{
				Type:  "float64",
				Value: 100.0,
			},
		},
	})

	s.Nil(err)
	s.Equal(100.0, s.called)
}

func (s *EagerIntegrationTestSuite) TestSuccessResult() {
	result, err := s.srv.SendTask(&tasks.Signature{
		Name: "float_result",
		Args: []tasks.Arg{
			{
				Type:  "float64",
				Value: 100.0,
			},
		},
	})

	s.NotNil(result)
	s.Nil(err)
	if result != nil {
		s.True(result.GetState().IsCompleted())
		s.True(result.GetState().IsSuccess())

		results, err := result.Get(time.Millisecond)
		s.Nil(err)
		s.Equal(1, len(results))
		s.Equal(float64(200), results[0].Float())
	}
}

func (s *EagerIntegrationTestSuite) TestChain() {
	task1 := &tasks.Signature{
		Name: "add",
		Args: []tasks.Arg{
			{Type: "int64", Value: 1},
			{Type: "int64", Value: 1},
		},
	}
	task2 := &tasks.Signature{
		Name: "add",
		Args: []tasks.Arg{
			{Type: "int64", Value: 3},
		},
	}

	chain, err := tasks.NewChain(task1, task2)
	s.Nil(err)

	chainAsyncResult, err := s.srv.SendChain(chain)
	s.Nil(err)

	results, err := chainAsyncResult.Get(time.Millisecond)
	s.Nil(err)
	s.Equal(1, len(results))
	// 1 + 1 = 2, then 3 + 2 = 5
	s.Equal(int64(5), results[0].Int())
}

func (s *EagerIntegrationTestSuite) TestChainAbortsOnFailure() {
	task1 := &tasks.Signature{Name: "always_fails"}
	task2 := &tasks.Signature{
		Name: "float_called",
		Args: []tasks.Arg{
			{Type: "float64", Value: 42.0},
		},
	}

	s.called = 0

	chain, err := tasks.NewChain(task1, task2)
	s.Nil(err)

	chainAsyncResult, err := s.srv.SendChain(chain)
	s.Nil(err)

	_, err = chainAsyncResult.Get(time.Millisecond)
	s.Error(err)

	// The second task of the chain must never have run
	s.Equal(float64(0), s.called)
}

func (s *EagerIntegrationTestSuite) TestGroup() {
	task1 := &tasks.Signature{
		Name: "add",
		Args: []tasks.Arg{
			{Type: "int64", Value: 1},
			{Type: "int64", Value: 2},
		},
	}
	task2 := &tasks.Signature{
		Name: "add",
		Args: []tasks.Arg{
			{Type: "int64", Value: 3},
			{Type: "int64", Value: 4},
		},
	}

	group, err := tasks.NewGroup(task1, task2)
	s.Nil(err)

	asyncResults, err := s.srv.SendGroup(group, 0)
	s.Nil(err)
	s.Equal(2, len(asyncResults))

	expected := []int64{3, 7}
	for i, asyncResult := range asyncResults {
		results, err := asyncResult.Get(time.Millisecond)
		s.Nil(err)
		s.Equal(1, len(results))
		s.Equal(expected[i], results[0].Int())
	}
}

func (s *EagerIntegrationTestSuite) TestChord() {
	task1 := &tasks.Signature{
		Name: "multiply",
		Args: []tasks.Arg{
			{Type: "int64", Value: 2},
			{Type: "int64", Value: 3},
		},
	}
	task2 := &tasks.Signature{
		Name: "multiply",
		Args: []tasks.Arg{
			{Type: "int64", Value: 4},
			{Type: "int64", Value: 5},
		},
	}
	task3 := &tasks.Signature{
		Name: "multiply",
		Args: []tasks.Arg{
			{Type: "int64", Value: 6},
			{Type: "int64", Value: 7},
		},
	}
	callback := &tasks.Signature{Name: "sum"}

	group, err := tasks.NewGroup(task1, task2, task3)
	s.Nil(err)

	chord, err := tasks.NewChord(group, callback)
	s.Nil(err)

	atomic.StoreInt64(&s.sumCalls, 0)

	chordAsyncResult, err := s.srv.SendChord(chord, 0)
	s.Nil(err)

	results, err := chordAsyncResult.Get(time.Millisecond)
	s.Nil(err)
	s.Equal(1, len(results))
	// 6 + 20 + 42 = 68
	s.Equal(int64(68), results[0].Int())

	// The callback must fire exactly once even though every group member
	// reaches the completion check
	s.Equal(int64(1), atomic.LoadInt64(&s.sumCalls))
}

func (s *EagerIntegrationTestSuite) TestRetryCountExhausted() {
	atomic.StoreInt64(&s.failCalls, 0)

	result, err := s.srv.SendTask(&tasks.Signature{
		Name:       "always_fails_counted",
		RetryCount: 2,
	})
	s.Nil(err)

	_, err = result.Get(time.Millisecond)
	s.Error(err)
	s.True(result.GetState().IsFailure())

	// A retry count of 2 buys exactly two extra attempts, three calls total
	s.Equal(int64(3), atomic.LoadInt64(&s.failCalls))
}

// Tasks which do not declare a retry count of their own fall back to the
// configured default.
func TestDefaultRetryCountApplied(t *testing.T) {
	srv, err := NewServer(&config.Config{
		Broker:            "eager",
		ResultBackend:     "eager",
		DefaultRetryCount: 3,
	})
	assert.NoError(t, err)

	var attempts int64
	err = srv.RegisterTask("flaky", func() error {
		atomic.AddInt64(&attempts, 1)
		return errNeverWorks
	})
	assert.NoError(t, err)

	result, err := srv.SendTask(&tasks.Signature{Name: "flaky"})
	assert.NoError(t, err)

	_, err = result.Get(time.Millisecond)
	assert.Error(t, err)
	assert.True(t, result.GetState().IsFailure())

	// One initial call plus the three default retries, and the exhausted
	// counter is never topped back up to the default
	assert.Equal(t, int64(4), atomic.LoadInt64(&attempts))
}

func (s *EagerIntegrationTestSuite) TestErrorCallback() {
	s.errRecords = nil

	_, err := s.srv.SendTask(&tasks.Signature{
		Name: "always_fails",
		OnError: []*tasks.Signature{
			{Name: "record_error"},
		},
	})
	s.Nil(err)

	s.Equal(1, len(s.errRecords))
	s.Equal(errNeverWorks.Error(), s.errRecords[0])
}

func (s *EagerIntegrationTestSuite) TestPanicsInTask() {
	result, err := s.srv.SendTask(&tasks.Signature{Name: "panics"})
	s.Nil(err)

	_, err = result.Get(time.Millisecond)
	if s.Error(err) {
		s.Equal("oops", err.Error())
	}
	s.True(result.GetState().IsFailure())
}

func (s *EagerIntegrationTestSuite) TestUnregisteredTaskFailsTerminally() {
	result, err := s.srv.SendTask(&tasks.Signature{Name: "never_registered"})
	s.Nil(err)

	s.True(result.GetState().IsFailure())

	_, err = result.Get(time.Millisecond)
	if s.Error(err) {
		s.Contains(err.Error(), "Unknown task to process: never_registered")
	}
}

func (s *EagerIntegrationTestSuite) TestTaskTimeout() {
	result, err := s.srv.SendTask(&tasks.Signature{
		Name:           "sleepy",
		TimeoutSeconds: 1,
	})
	s.Nil(err)

	_, err = result.Get(time.Millisecond)
	if s.Error(err) {
		s.Contains(err.Error(), "Task timed out after 1s")
	}
	s.True(result.GetState().IsFailure())
}
