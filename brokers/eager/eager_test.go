package eager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/taskforge/forge/brokers/eager"
	"github.com/taskforge/forge/brokers/iface"
	"github.com/taskforge/forge/tasks"
)

type recordingProcessor struct {
	processed []*tasks.Signature
	returnErr error
}

func (p *recordingProcessor) Process(signature *tasks.Signature) error {
	p.processed = append(p.processed, signature)
	return p.returnErr
}

func (p *recordingProcessor) CustomQueue() string { return "" }

func (p *recordingProcessor) PreConsumeHandler() bool { return true }

type EagerBrokerTestSuite struct {
	suite.Suite

	broker    iface.Broker
	processor *recordingProcessor
}

func (s *EagerBrokerTestSuite) SetupTest() {
	s.broker = eager.New()
	s.processor = new(recordingProcessor)
}

func (s *EagerBrokerTestSuite) TestPublishWithoutWorker() {
	err := s.broker.Publish(context.Background(), &tasks.Signature{Name: "test_task"})
	s.Error(err)
	s.Empty(s.processor.processed)
}

func (s *EagerBrokerTestSuite) TestAssignWorkerAndPublish() {
	mode, ok := s.broker.(eager.Mode)
	s.Require().True(ok)
	mode.AssignWorker(s.processor)

	signature := &tasks.Signature{
		UUID: "task_1",
		Name: "test_task",
		Args: []tasks.Arg{
			{Type: "int64", Value: 3},
		},
	}
	s.NoError(s.broker.Publish(context.Background(), signature))

	s.Require().Len(s.processor.processed, 1)
	got := s.processor.processed[0]
	s.Equal("task_1", got.UUID)
	s.Equal("test_task", got.Name)
	// the signature goes through a marshal/unmarshal round trip
	s.NotSame(signature, got)
}

func (s *EagerBrokerTestSuite) TestPublishPropagatesProcessError() {
	mode, ok := s.broker.(eager.Mode)
	s.Require().True(ok)
	mode.AssignWorker(s.processor)
	s.processor.returnErr = tasks.NewErrRetryTaskLater("not now", 0)

	err := s.broker.Publish(context.Background(), &tasks.Signature{Name: "test_task"})
	s.Equal(s.processor.returnErr, err)
}

func (s *EagerBrokerTestSuite) TestStartConsumingReturnsImmediately() {
	retry, err := s.broker.StartConsuming("test_consumer", 1, s.processor)
	s.True(retry)
	s.NoError(err)
	s.broker.StopConsuming()
}

func TestEagerBrokerTestSuite(t *testing.T) {
	suite.Run(t, new(EagerBrokerTestSuite))
}
