package eager_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/taskforge/forge/backends/eager"
	"github.com/taskforge/forge/backends/iface"
	"github.com/taskforge/forge/tasks"
)

type EagerBackendTestSuite struct {
	suite.Suite

	backend iface.Backend
}

func TestEagerBackendTestSuite(t *testing.T) {
	suite.Run(t, &EagerBackendTestSuite{})
}

func (s *EagerBackendTestSuite) SetupTest() {
	s.backend = eager.New()
}

func (s *EagerBackendTestSuite) initGroup(groupUUID string, taskUUIDs []string) []*tasks.Signature {
	signatures := make([]*tasks.Signature, 0, len(taskUUIDs))
	for _, taskUUID := range taskUUIDs {
		sig := &tasks.Signature{
			UUID:           taskUUID,
			GroupUUID:      groupUUID,
			GroupTaskCount: len(taskUUIDs),
		}
		signatures = append(signatures, sig)
		s.Nil(s.backend.SetStatePending(sig))
	}
	s.Nil(s.backend.InitGroup(groupUUID, taskUUIDs))
	return signatures
}

func (s *EagerBackendTestSuite) TestSetStateTransitions() {
	sig := &tasks.Signature{UUID: "task_1"}

	s.Nil(s.backend.SetStatePending(sig))
	state, err := s.backend.GetState(sig.UUID)
	s.Nil(err)
	s.Equal(tasks.PendingState, state.State)
	s.False(state.IsCompleted())

	s.Nil(s.backend.SetStateStarted(sig))
	state, err = s.backend.GetState(sig.UUID)
	s.Nil(err)
	s.Equal(tasks.StartedState, state.State)

	s.Nil(s.backend.SetStateRetry(sig))
	state, err = s.backend.GetState(sig.UUID)
	s.Nil(err)
	s.Equal(tasks.RetryState, state.State)

	taskResults := []*tasks.TaskResult{{Type: "int64", Value: 1}}
	s.Nil(s.backend.SetStateSuccess(sig, taskResults))
	state, err = s.backend.GetState(sig.UUID)
	s.Nil(err)
	s.True(state.IsSuccess())
	s.True(state.IsCompleted())

	s.Nil(s.backend.SetStateFailure(sig, "some error"))
	state, err = s.backend.GetState(sig.UUID)
	s.Nil(err)
	s.True(state.IsFailure())
	s.Equal("some error", state.Error)
}

func (s *EagerBackendTestSuite) TestGetStateNotFound() {
	_, err := s.backend.GetState("nothing-here")
	s.Error(err)
}

func (s *EagerBackendTestSuite) TestGroupCompleted() {
	signatures := s.initGroup("group_1", []string{"1-1", "1-2", "1-3"})

	completed, err := s.backend.GroupCompleted("group_1", len(signatures))
	s.Nil(err)
	s.False(completed)

	// a mix of terminal states counts as completed
	s.Nil(s.backend.SetStateSuccess(signatures[0], nil))
	s.Nil(s.backend.SetStateSuccess(signatures[1], nil))

	completed, err = s.backend.GroupCompleted("group_1", len(signatures))
	s.Nil(err)
	s.False(completed)

	s.Nil(s.backend.SetStateFailure(signatures[2], "boom"))

	completed, err = s.backend.GroupCompleted("group_1", len(signatures))
	s.Nil(err)
	s.True(completed)
}

func (s *EagerBackendTestSuite) TestGroupCompletedUnknownGroup() {
	_, err := s.backend.GroupCompleted("no-such-group", 1)
	s.Error(err)
}

func (s *EagerBackendTestSuite) TestGroupTaskStatesOrder() {
	signatures := s.initGroup("group_1", []string{"1-1", "1-2", "1-3"})
	for _, sig := range signatures {
		s.Nil(s.backend.SetStateSuccess(sig, nil))
	}

	states, err := s.backend.GroupTaskStates("group_1", len(signatures))
	s.Nil(err)
	s.Equal(len(signatures), len(states))

	// states come back in the group's task insertion order
	for i, state := range states {
		s.Equal(signatures[i].UUID, state.TaskUUID)
	}
}

func (s *EagerBackendTestSuite) TestTriggerChordOnlyOnce() {
	s.initGroup("group_1", []string{"1-1", "1-2"})

	shouldTrigger, err := s.backend.TriggerChord("group_1")
	s.Nil(err)
	s.True(shouldTrigger)

	// every subsequent call must report the chord as already triggered
	shouldTrigger, err = s.backend.TriggerChord("group_1")
	s.Nil(err)
	s.False(shouldTrigger)

	_, err = s.backend.TriggerChord("no-such-group")
	s.Error(err)
}

func (s *EagerBackendTestSuite) TestPurge() {
	signatures := s.initGroup("group_1", []string{"1-1", "1-2"})

	s.Nil(s.backend.PurgeState(signatures[0].UUID))
	_, err := s.backend.GetState(signatures[0].UUID)
	s.Error(err)

	shouldTrigger, err := s.backend.TriggerChord("group_1")
	s.Nil(err)
	s.True(shouldTrigger)

	s.Nil(s.backend.PurgeGroupMeta("group_1"))
	_, err = s.backend.GroupCompleted("group_1", len(signatures))
	s.Error(err)

	// purging group meta also resets the chord trigger
	s.Nil(s.backend.InitGroup("group_1", []string{"1-1", "1-2"}))
	shouldTrigger, err = s.backend.TriggerChord("group_1")
	s.Nil(err)
	s.True(shouldTrigger)
}
