package tasks

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrEmptyChain is returned when building a chain with no tasks
	ErrEmptyChain = errors.New("A chain must contain at least one task")
	// ErrEmptyGroup is returned when building a group with no tasks
	ErrEmptyGroup = errors.New("A group must contain at least one task")
	// ErrNilChordCallback is returned when building a chord without a callback
	ErrNilChordCallback = errors.New("A chord must have a callback task")
)

// Chain creates a chain of tasks to be executed one after another
type Chain struct {
	Tasks []*Signature
}

// Group creates a set of tasks to be executed in parallel
type Group struct {
	GroupUUID string
	Tasks     []*Signature
}

// Chord adds an optional callback to the group to be executed
// after all tasks in the group finished
type Chord struct {
	Group    *Group
	Callback *Signature
}

// GetUUIDs returns slice of task UUIDS
func (group *Group) GetUUIDs() []string {
	taskUUIDs := make([]string, len(group.Tasks))
	for i, signature := range group.Tasks {
		taskUUIDs[i] = signature.UUID
	}
	return taskUUIDs
}

// NewChain creates a new chain of tasks to be processed one by one, passing
// results unless task signatures are set to be immutable
func NewChain(signatures ...*Signature) (*Chain, error) {
	if len(signatures) == 0 {
		return nil, ErrEmptyChain
	}

	// Auto generate task UUIDs if needed
	for _, signature := range signatures {
		if signature == nil {
			return nil, errors.New("A chain must not contain a nil task")
		}
		if signature.UUID == "" {
			signatureID := uuid.New().String()
			signature.UUID = fmt.Sprintf("task_%v", signatureID)
		}
	}

	for i := len(signatures) - 1; i > 0; i-- {
		if i > 0 {
			signatures[i-1].OnSuccess = []*Signature{signatures[i]}
		}
	}

	chain := &Chain{Tasks: signatures}

	return chain, nil
}

// NewGroup creates a new group of tasks to be processed in parallel
func NewGroup(signatures ...*Signature) (*Group, error) {
	if len(signatures) == 0 {
		return nil, ErrEmptyGroup
	}

	// Generate a group UUID
	groupUUID := uuid.New().String()
	groupID := fmt.Sprintf("group_%v", groupUUID)

	// Auto generate task UUIDs if needed, group tasks by common group UUID
	for _, signature := range signatures {
		if signature == nil {
			return nil, errors.New("A group must not contain a nil task")
		}
		if signature.UUID == "" {
			signatureID := uuid.New().String()
			signature.UUID = fmt.Sprintf("task_%v", signatureID)
		}
		signature.GroupUUID = groupID
		signature.GroupTaskCount = len(signatures)
	}

	return &Group{
		GroupUUID: groupID,
		Tasks:     signatures,
	}, nil
}

// NewChord creates a new chord (a group of tasks with a single callback
// to be executed after all tasks in the group has completed)
func NewChord(group *Group, callback *Signature) (*Chord, error) {
	if group == nil || len(group.Tasks) == 0 {
		return nil, ErrEmptyGroup
	}
	if callback == nil {
		return nil, ErrNilChordCallback
	}
	for _, signature := range group.Tasks {
		if signature == callback {
			return nil, errors.New("A chord callback must not be a member of its own group")
		}
	}

	if callback.UUID == "" {
		// Generate a UUID for the chord callback
		callbackUUID := uuid.New().String()
		callback.UUID = fmt.Sprintf("chord_%v", callbackUUID)
	}

	// Add a chord callback to all tasks
	for _, signature := range group.Tasks {
		signature.ChordCallback = callback
	}

	return &Chord{Group: group, Callback: callback}, nil
}
