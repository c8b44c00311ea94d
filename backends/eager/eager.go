package eager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/taskforge/forge/backends/iface"
	"github.com/taskforge/forge/common"
	"github.com/taskforge/forge/config"
	"github.com/taskforge/forge/tasks"
)

// ErrGroupNotFound ...
type ErrGroupNotFound struct {
	groupUUID string
}

// NewErrGroupNotFound returns new instance of ErrGroupNotFound
func NewErrGroupNotFound(groupUUID string) ErrGroupNotFound {
	return ErrGroupNotFound{groupUUID: groupUUID}
}

// Error implements error interface
func (e ErrGroupNotFound) Error() string {
	return fmt.Sprintf("Group not found: %v", e.groupUUID)
}

// ErrTaskNotFound ...
type ErrTaskNotFound struct {
	taskUUID string
}

// NewErrTaskNotFound returns new instance of ErrTaskNotFound
func NewErrTaskNotFound(taskUUID string) ErrTaskNotFound {
	return ErrTaskNotFound{taskUUID: taskUUID}
}

// Error implements error interface
func (e ErrTaskNotFound) Error() string {
	return fmt.Sprintf("Task not found: %v", e.taskUUID)
}

// Backend represents an "eager" in-memory result backend
type Backend struct {
	common.Backend
	groups     map[string][]string
	triggered  map[string]bool
	tasks      map[string][]byte
	stateMutex sync.Mutex
}

// New creates EagerBackend instance
func New() iface.Backend {
	return &Backend{
		Backend:   common.NewBackend(new(config.Config)),
		groups:    make(map[string][]string),
		triggered: make(map[string]bool),
		tasks:     make(map[string][]byte),
	}
}

// InitGroup creates and saves a group meta data object
func (b *Backend) InitGroup(groupUUID string, taskUUIDs []string) error {
	tasks := make([]string, 0, len(taskUUIDs))
	// copy every task
	tasks = append(tasks, taskUUIDs...)

	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()
	b.groups[groupUUID] = tasks
	return nil
}

// GroupCompleted returns true if all tasks in a group finished
func (b *Backend) GroupCompleted(groupUUID string, groupTaskCount int) (bool, error) {
	b.stateMutex.Lock()
	tasks, ok := b.groups[groupUUID]
	b.stateMutex.Unlock()
	if !ok {
		return false, NewErrGroupNotFound(groupUUID)
	}

	var countSuccessTasks = 0
	for _, v := range tasks {
		t, err := b.GetState(v)
		if err != nil {
			return false, err
		}

		if t.IsCompleted() {
			countSuccessTasks++
		}
	}

	return countSuccessTasks == groupTaskCount, nil
}

// GroupTaskStates returns states of all tasks in the group, preserving the
// order in which tasks were added to the group
func (b *Backend) GroupTaskStates(groupUUID string, groupTaskCount int) ([]*tasks.TaskState, error) {
	b.stateMutex.Lock()
	taskUUIDs, ok := b.groups[groupUUID]
	b.stateMutex.Unlock()
	if !ok {
		return nil, NewErrGroupNotFound(groupUUID)
	}

	ret := make([]*tasks.TaskState, 0, groupTaskCount)
	for _, taskUUID := range taskUUIDs {
		t, err := b.GetState(taskUUID)
		if err != nil {
			return nil, err
		}

		ret = append(ret, t)
	}

	return ret, nil
}

// TriggerChord returns true exactly once per group so the chord callback
// fires a single time even when several group members finish concurrently
func (b *Backend) TriggerChord(groupUUID string) (bool, error) {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if _, ok := b.groups[groupUUID]; !ok {
		return false, NewErrGroupNotFound(groupUUID)
	}

	if b.triggered[groupUUID] {
		return false, nil
	}

	b.triggered[groupUUID] = true
	return true, nil
}

// SetStatePending updates task state to PENDING
func (b *Backend) SetStatePending(signature *tasks.Signature) error {
	state := tasks.NewPendingTaskState(signature)
	return b.updateState(state)
}

// SetStateStarted updates task state to STARTED
func (b *Backend) SetStateStarted(signature *tasks.Signature) error {
	state := tasks.NewStartedTaskState(signature)
	return b.updateState(state)
}

// SetStateRetry updates task state to RETRY
func (b *Backend) SetStateRetry(signature *tasks.Signature) error {
	state := tasks.NewRetryTaskState(signature)
	return b.updateState(state)
}

// SetStateSuccess updates task state to SUCCESS
func (b *Backend) SetStateSuccess(signature *tasks.Signature, results []*tasks.TaskResult) error {
	state := tasks.NewSuccessTaskState(signature, results)
	return b.updateState(state)
}

// SetStateFailure updates task state to FAILURE
func (b *Backend) SetStateFailure(signature *tasks.Signature, err string) error {
	state := tasks.NewFailureTaskState(signature, err)
	return b.updateState(state)
}

// GetState returns the latest task state
func (b *Backend) GetState(taskUUID string) (*tasks.TaskState, error) {
	b.stateMutex.Lock()
	taskStateBytes, ok := b.tasks[taskUUID]
	b.stateMutex.Unlock()
	if !ok {
		return nil, NewErrTaskNotFound(taskUUID)
	}

	state := new(tasks.TaskState)
	decoder := json.NewDecoder(bytes.NewReader(taskStateBytes))
	decoder.UseNumber()
	if err := decoder.Decode(state); err != nil {
		return nil, fmt.Errorf("Failed to unmarshal task state %v", b)
	}

	return state, nil
}

// PurgeState deletes stored task state
func (b *Backend) PurgeState(taskUUID string) error {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	_, ok := b.tasks[taskUUID]
	if !ok {
		return NewErrTaskNotFound(taskUUID)
	}

	delete(b.tasks, taskUUID)
	return nil
}

// PurgeGroupMeta deletes stored group meta data
func (b *Backend) PurgeGroupMeta(groupUUID string) error {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	_, ok := b.groups[groupUUID]
	if !ok {
		return NewErrGroupNotFound(groupUUID)
	}

	delete(b.groups, groupUUID)
	delete(b.triggered, groupUUID)
	return nil
}

func (b *Backend) updateState(s *tasks.TaskState) error {
	// simulate the behavior of json marshal/unmarshal
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()
	msg, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("Marshal task state error: %v", err)
	}

	b.tasks[s.TaskUUID] = msg
	return nil
}
