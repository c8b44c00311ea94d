package tasks_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/taskforge/forge/tasks"
)

type workflowSuite struct {
	suite.Suite
	task1 *tasks.Signature
	task2 *tasks.Signature
	task3 *tasks.Signature
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(workflowSuite))
}

func (s *workflowSuite) SetupTest() {
	s.task1 = &tasks.Signature{
		Name: "foo",
		Args: []tasks.Arg{
			{
				Type:  "float64",
				Value: interface{}(1),
			},
			{
				Type:  "float64",
				Value: interface{}(1),
			},
		},
	}

	s.task2 = &tasks.Signature{
		Name: "bar",
		Args: []tasks.Arg{
			{
				Type:  "float64",
				Value: interface{}(5),
			},
			{
				Type:  "float64",
				Value: interface{}(6),
			},
		},
	}

	s.task3 = &tasks.Signature{
		Name: "qux",
		Args: []tasks.Arg{
			{
				Type:  "float64",
				Value: interface{}(4),
			},
		},
	}
}

func (s *workflowSuite) TestNewChain() {
	chain, err := tasks.NewChain(s.task1, s.task2, s.task3)
	s.Nil(err)

	firstTask := chain.Tasks[0]

	s.Equal("foo", firstTask.Name)
	s.Equal("bar", firstTask.OnSuccess[0].Name)
	s.Equal("qux", firstTask.OnSuccess[0].OnSuccess[0].Name)
}

func (s *workflowSuite) TestNewEmptyChain() {
	chain, err := tasks.NewChain()
	s.Nil(chain)
	s.Equal(tasks.ErrEmptyChain, err)
}

func (s *workflowSuite) TestNewGroup() {
	group, err := tasks.NewGroup(s.task1, s.task2, s.task3)
	s.Nil(err)
	s.Equal(len(group.Tasks), 3)
	for _, task := range group.Tasks {
		s.Equal(task.GroupUUID, group.GroupUUID)
		s.Equal(task.GroupTaskCount, len(group.Tasks))
	}
}

func (s *workflowSuite) TestNewEmptyGroup() {
	group, err := tasks.NewGroup()
	s.Nil(group)
	s.Equal(tasks.ErrEmptyGroup, err)
}

func (s *workflowSuite) TestNewChord() {
	group, err := tasks.NewGroup(s.task1, s.task2)
	s.Nil(err)

	chord, err := tasks.NewChord(group, s.task3)
	s.Nil(err)
	s.Equal(chord.Callback, s.task3)

	for _, task := range group.Tasks {
		s.Equal(task.ChordCallback, s.task3)
	}
}

func (s *workflowSuite) TestNewChordNilCallback() {
	group, err := tasks.NewGroup(s.task1, s.task2)
	s.Nil(err)

	chord, err := tasks.NewChord(group, nil)
	s.Nil(chord)
	s.Equal(tasks.ErrNilChordCallback, err)
}

func (s *workflowSuite) TestNewChordCallbackInGroup() {
	group, err := tasks.NewGroup(s.task1, s.task2)
	s.Nil(err)

	chord, err := tasks.NewChord(group, s.task2)
	s.Nil(chord)
	s.Error(err)
}
