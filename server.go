package forge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	backendsiface "github.com/taskforge/forge/backends/iface"
	"github.com/taskforge/forge/backends/result"
	eagerbroker "github.com/taskforge/forge/brokers/eager"
	brokersiface "github.com/taskforge/forge/brokers/iface"
	"github.com/taskforge/forge/config"
	"github.com/taskforge/forge/tasks"
	"github.com/taskforge/forge/tracing"
)

var (
	// ErrBackendNotConfigured is returned when a result backend is required
	// but the server was configured without one
	ErrBackendNotConfigured = errors.New("Result backend not configured")
)

// ErrUnroutableQueue is returned when a task's routing key does not match any
// queue declared in the configuration
type ErrUnroutableQueue struct {
	queue string
}

// NewErrUnroutableQueue returns new ErrUnroutableQueue instance
func NewErrUnroutableQueue(queue string) ErrUnroutableQueue {
	return ErrUnroutableQueue{queue: queue}
}

// Error implements the error interface
func (e ErrUnroutableQueue) Error() string {
	return fmt.Sprintf("Queue not routable: %v", e.queue)
}

// Server is the main orchestration object and stores all configuration
// All the tasks workers process are registered against the server
type Server struct {
	config          *config.Config
	registeredTasks *sync.Map
	broker          brokersiface.Broker
	backend         backendsiface.Backend
}

// NewServerWithBrokerBackend creates Server instance with provided broker and backend
func NewServerWithBrokerBackend(cnf *config.Config, brokerServer brokersiface.Broker, backendServer backendsiface.Backend) *Server {
	return &Server{
		config:          cnf,
		registeredTasks: new(sync.Map),
		broker:          brokerServer,
		backend:         backendServer,
	}
}

// NewServer creates Server instance, building the broker and result backend
// from connection strings in the config
func NewServer(cnf *config.Config) (*Server, error) {
	broker, err := BrokerFactory(cnf)
	if err != nil {
		return nil, err
	}

	// Backend is optional so we ignore the error
	backend, _ := BackendFactory(cnf)

	srv := NewServerWithBrokerBackend(cnf, broker, backend)

	// init for eager-mode
	eager, ok := broker.(eagerbroker.Mode)
	if ok {
		// we don't need to call worker.Launch in eager mode
		eager.AssignWorker(srv.NewWorker("eager", 0))
	}

	return srv, nil
}

// NewWorker creates Worker instance
func (server *Server) NewWorker(consumerTag string, concurrency int) *Worker {
	return &Worker{
		server:      server,
		ConsumerTag: consumerTag,
		Concurrency: concurrency,
		Queue:       "",
	}
}

// NewCustomQueueWorker creates Worker instance with a custom queue
func (server *Server) NewCustomQueueWorker(consumerTag string, concurrency int, queue string) *Worker {
	return &Worker{
		server:      server,
		ConsumerTag: consumerTag,
		Concurrency: concurrency,
		Queue:       queue,
	}
}

// GetBroker returns broker
func (server *Server) GetBroker() brokersiface.Broker {
	return server.broker
}

// SetBroker sets broker
func (server *Server) SetBroker(broker brokersiface.Broker) {
	server.broker = broker
}

// GetBackend returns backend
func (server *Server) GetBackend() backendsiface.Backend {
	return server.backend
}

// SetBackend sets backend
func (server *Server) SetBackend(backend backendsiface.Backend) {
	server.backend = backend
}

// GetConfig returns connection object
func (server *Server) GetConfig() *config.Config {
	return server.config
}

// SetConfig sets config
func (server *Server) SetConfig(cnf *config.Config) {
	server.config = cnf
}

// RegisterTasks registers all tasks at once
func (server *Server) RegisterTasks(namedTaskFuncs map[string]interface{}) error {
	for _, task := range namedTaskFuncs {
		if err := tasks.ValidateTask(task); err != nil {
			return err
		}
	}

	for k, v := range namedTaskFuncs {
		server.registeredTasks.Store(k, v)
	}

	server.broker.SetRegisteredTaskNames(server.GetRegisteredTaskNames())
	return nil
}

// RegisterTask registers a single task
func (server *Server) RegisterTask(name string, taskFunc interface{}) error {
	if err := tasks.ValidateTask(taskFunc); err != nil {
		return err
	}
	server.registeredTasks.Store(name, taskFunc)
	server.broker.SetRegisteredTaskNames(server.GetRegisteredTaskNames())
	return nil
}

// IsTaskRegistered returns true if the task name is registered with this server
func (server *Server) IsTaskRegistered(name string) bool {
	_, ok := server.registeredTasks.Load(name)
	return ok
}

// GetRegisteredTask returns registered task by name
func (server *Server) GetRegisteredTask(name string) (interface{}, error) {
	taskFunc, ok := server.registeredTasks.Load(name)
	if !ok {
		return nil, fmt.Errorf("Task not registered error: %s", name)
	}
	return taskFunc, nil
}

// GetRegisteredTaskNames returns slice of registered task names
func (server *Server) GetRegisteredTaskNames() []string {
	taskNames := make([]string, 0)

	server.registeredTasks.Range(func(key, value interface{}) bool {
		taskNames = append(taskNames, key.(string))
		return true
	})
	return taskNames
}

// applyDefaultRetryCount gives tasks which did not declare a retry count the
// configured default. Requeued tasks carry a non zero RetryTimeout, their
// exhausted counter must not be topped up again.
func (server *Server) applyDefaultRetryCount(signature *tasks.Signature) {
	if signature.RetryCount == 0 && signature.RetryTimeout == 0 {
		signature.RetryCount = server.config.DefaultRetryCount
	}
}

// validateRoutingKey makes sure a task is not published to a queue no worker
// can be bound to. An empty routing key always routes to the default queue.
func (server *Server) validateRoutingKey(signature *tasks.Signature) error {
	if signature.RoutingKey == "" {
		return nil
	}
	if !server.config.IsQueueRoutable(signature.RoutingKey) {
		return NewErrUnroutableQueue(signature.RoutingKey)
	}
	return nil
}

// SendTaskWithContext will inject the trace context in the signature headers before publishing it
func (server *Server) SendTaskWithContext(ctx context.Context, signature *tasks.Signature) (*result.AsyncResult, error) {
	ctx, span := tracing.StartSpanFromHeaders(ctx, signature.Headers, "SendTask")
	defer span.End()

	// tag the span with some info about the signature
	tracing.AnnotateSpanWithSignatureInfo(span, signature)

	// Make sure result backend is defined
	if server.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	if err := server.validateRoutingKey(signature); err != nil {
		return nil, err
	}

	server.applyDefaultRetryCount(signature)

	// Auto generate a UUID if not set already
	if signature.UUID == "" {
		taskID := uuid.New().String()
		signature.UUID = fmt.Sprintf("task_%v", taskID)
	}

	// Set initial task state to PENDING
	if err := server.backend.SetStatePending(signature); err != nil {
		return nil, fmt.Errorf("Set state pending error: %s", err)
	}

	// inject the tracing span into the signature headers
	signature.Headers = tracing.HeadersWithSpan(ctx, signature.Headers)

	if err := server.broker.Publish(ctx, signature); err != nil {
		return nil, fmt.Errorf("Publish message error: %s", err)
	}

	return result.NewAsyncResult(signature, server.backend), nil
}

// SendTask publishes a task to the default queue
func (server *Server) SendTask(signature *tasks.Signature) (*result.AsyncResult, error) {
	return server.SendTaskWithContext(context.Background(), signature)
}

// SendChainWithContext will inject the trace context in all the signature headers before publishing it
func (server *Server) SendChainWithContext(ctx context.Context, chain *tasks.Chain) (*result.ChainAsyncResult, error) {
	ctx, span := tracing.StartSpanFromHeaders(ctx, chain.Tasks[0].Headers, "SendChain")
	defer span.End()

	span.SetAttributes(tracing.WorkflowChainTag)
	tracing.AnnotateSpanWithChainInfo(ctx, span, chain)

	return server.SendChain(chain)
}

// SendChain triggers a chain of tasks
func (server *Server) SendChain(chain *tasks.Chain) (*result.ChainAsyncResult, error) {
	// Make sure result backend is defined
	if server.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	for _, signature := range chain.Tasks {
		if err := server.validateRoutingKey(signature); err != nil {
			return nil, err
		}
	}

	_, err := server.SendTask(chain.Tasks[0])
	if err != nil {
		return nil, err
	}

	return result.NewChainAsyncResult(chain.Tasks, server.backend), nil
}

// SendGroupWithContext will inject the trace context in all the signature headers before publishing it
func (server *Server) SendGroupWithContext(ctx context.Context, group *tasks.Group, sendConcurrency int) ([]*result.AsyncResult, error) {
	ctx, span := tracing.StartSpanFromHeaders(ctx, group.Tasks[0].Headers, "SendGroup")
	defer span.End()

	span.SetAttributes(tracing.WorkflowGroupTag)
	tracing.AnnotateSpanWithGroupInfo(ctx, span, group, sendConcurrency)

	// Make sure result backend is defined
	if server.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	for _, signature := range group.Tasks {
		if err := server.validateRoutingKey(signature); err != nil {
			return nil, err
		}
	}

	asyncResults := make([]*result.AsyncResult, len(group.Tasks))

	var wg sync.WaitGroup
	wg.Add(len(group.Tasks))
	errorsChan := make(chan error, len(group.Tasks)*2)

	// Init group
	server.backend.InitGroup(group.GroupUUID, group.GetUUIDs())

	// Init the tasks Pending state first
	for _, signature := range group.Tasks {
		server.applyDefaultRetryCount(signature)
		if err := server.backend.SetStatePending(signature); err != nil {
			errorsChan <- err
			continue
		}
	}

	pool := make(chan struct{}, sendConcurrency)
	go func() {
		for i := 0; i < sendConcurrency; i++ {
			pool <- struct{}{}
		}
	}()

	for i, signature := range group.Tasks {
		if sendConcurrency > 0 {
			<-pool
		}

		go func(s *tasks.Signature, index int) {
			defer wg.Done()

			// Publish task
			err := server.broker.Publish(ctx, s)

			if sendConcurrency > 0 {
				pool <- struct{}{}
			}

			if err != nil {
				errorsChan <- fmt.Errorf("Publish message error: %s", err)
				return
			}

			asyncResults[index] = result.NewAsyncResult(s, server.backend)
		}(signature, i)
	}

	done := make(chan int)
	go func() {
		wg.Wait()
		done <- 1
	}()

	select {
	case err := <-errorsChan:
		return asyncResults, err
	case <-done:
		return asyncResults, nil
	}
}

// SendGroup triggers a group of parallel tasks
func (server *Server) SendGroup(group *tasks.Group, sendConcurrency int) ([]*result.AsyncResult, error) {
	return server.SendGroupWithContext(context.Background(), group, sendConcurrency)
}

// SendChordWithContext will inject the trace context in all the signature headers before publishing it
func (server *Server) SendChordWithContext(ctx context.Context, chord *tasks.Chord, sendConcurrency int) (*result.ChordAsyncResult, error) {
	ctx, span := tracing.StartSpanFromHeaders(ctx, chord.Group.Tasks[0].Headers, "SendChord")
	defer span.End()

	span.SetAttributes(tracing.WorkflowChordTag)
	tracing.AnnotateSpanWithChordInfo(ctx, span, chord, sendConcurrency)

	if chord.Callback != nil {
		if err := server.validateRoutingKey(chord.Callback); err != nil {
			return nil, err
		}
	}

	_, err := server.SendGroupWithContext(ctx, chord.Group, sendConcurrency)
	if err != nil {
		return nil, err
	}

	return result.NewChordAsyncResult(
		chord.Group.Tasks,
		chord.Callback,
		server.backend,
	), nil
}

// SendChord triggers a group of parallel tasks with a callback
func (server *Server) SendChord(chord *tasks.Chord, sendConcurrency int) (*result.ChordAsyncResult, error) {
	return server.SendChordWithContext(context.Background(), chord, sendConcurrency)
}
