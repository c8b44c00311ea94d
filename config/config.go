package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/service/sqs"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	// DefaultResultsExpireIn is a default time used to expire task states and
	// group metadata from the backend (in seconds)
	DefaultResultsExpireIn = 3600
)

var (
	// Start with sensible default values
	defaultCnf = &Config{
		Broker:          "redis://localhost:6379",
		DefaultQueue:    "forge_tasks",
		ResultBackend:   "redis://localhost:6379",
		ResultsExpireIn: DefaultResultsExpireIn,
		AMQP: &AMQPConfig{
			Exchange:      "forge_exchange",
			ExchangeType:  "direct",
			BindingKey:    "forge_task",
			PrefetchCount: 3,
		},
		Redis: &RedisConfig{
			NormalTasksPollPeriod:  1000,
			DelayedTasksPollPeriod: 500,
		},
	}

	cnf          = defaultCnf
	configLoaded = false

	reloadDelay = time.Second * 10
)

// Config holds all configuration for our program
type Config struct {
	Broker          string `yaml:"broker" envconfig:"BROKER"`
	DefaultQueue    string `yaml:"default_queue" envconfig:"DEFAULT_QUEUE"`
	ResultBackend   string `yaml:"result_backend" envconfig:"RESULT_BACKEND"`
	ResultsExpireIn int    `yaml:"results_expire_in" envconfig:"RESULTS_EXPIRE_IN"`

	// Queues maps known queue names to their worker concurrency. Tasks may
	// only be routed to queues listed here (the default queue is always
	// routable). An empty map disables routing validation.
	Queues map[string]int `yaml:"queues" envconfig:"QUEUES"`

	// DefaultTaskTimeout is the execution timeout in seconds applied to tasks
	// which do not set one themselves. Zero means no timeout.
	DefaultTaskTimeout int `yaml:"default_task_timeout" envconfig:"DEFAULT_TASK_TIMEOUT"`

	// DefaultRetryCount is the number of retry attempts given to tasks which
	// fail without declaring their own retry count
	DefaultRetryCount int `yaml:"default_retry_count" envconfig:"DEFAULT_RETRY_COUNT"`

	AMQP      *AMQPConfig    `yaml:"amqp"`
	SQS       *SQSConfig     `yaml:"sqs"`
	Redis     *RedisConfig   `yaml:"redis"`
	MongoDB   *MongoDBConfig `yaml:"-" ignored:"true"`
	TLSConfig *tls.Config

	// NoUnixSignals - when set disables signal handling in the worker
	NoUnixSignals bool `yaml:"no_unix_signals" envconfig:"NO_UNIX_SIGNALS"`
}

// QueueBindingArgs arguments which are used when binding to the exchange
type QueueBindingArgs map[string]interface{}

// QueueDeclareArgs arguments which are used when declaring a queue
type QueueDeclareArgs map[string]interface{}

// AMQPConfig wraps RabbitMQ related configuration
type AMQPConfig struct {
	Exchange         string           `yaml:"exchange" envconfig:"AMQP_EXCHANGE"`
	ExchangeType     string           `yaml:"exchange_type" envconfig:"AMQP_EXCHANGE_TYPE"`
	QueueDeclareArgs QueueDeclareArgs `yaml:"queue_declare_args" envconfig:"AMQP_QUEUE_DECLARE_ARGS"`
	QueueBindingArgs QueueBindingArgs `yaml:"queue_binding_args" envconfig:"AMQP_QUEUE_BINDING_ARGS"`
	BindingKey       string           `yaml:"binding_key" envconfig:"AMQP_BINDING_KEY"`
	PrefetchCount    int              `yaml:"prefetch_count" envconfig:"AMQP_PREFETCH_COUNT"`
	AutoDelete       bool             `yaml:"auto_delete" envconfig:"AMQP_AUTO_DELETE"`
}

// SQSConfig wraps SQS related configuration
type SQSConfig struct {
	Client          *sqs.SQS
	WaitTimeSeconds int `yaml:"receive_wait_time_seconds" envconfig:"SQS_WAIT_TIME_SECONDS"`
	// https://docs.aws.amazon.com/AWSSimpleQueueService/latest/SQSDeveloperGuide/sqs-visibility-timeout.html
	// visibility timeout should default to nil to use the overall visibility timeout for the queue
	VisibilityTimeout *int `yaml:"receive_visibility_timeout" envconfig:"SQS_VISIBILITY_TIMEOUT"`
}

// RedisConfig ...
type RedisConfig struct {
	// NormalTasksPollPeriod specifies the period in milliseconds when polling redis for normal tasks
	// Default: 1000
	NormalTasksPollPeriod int `yaml:"normal_tasks_poll_period" envconfig:"REDIS_NORMAL_TASKS_POLL_PERIOD"`

	// DelayedTasksPollPeriod specifies the period in milliseconds when polling redis for delayed tasks
	// Default: 500
	DelayedTasksPollPeriod int    `yaml:"delayed_tasks_poll_period" envconfig:"REDIS_DELAYED_TASKS_POLL_PERIOD"`
	DelayedTasksKey        string `yaml:"delayed_tasks_key" envconfig:"REDIS_DELAYED_TASKS_KEY"`

	// MasterName specifies a redis master name in order to configure a sentinel-backed redis FailoverClient
	MasterName string `yaml:"master_name" envconfig:"REDIS_MASTER_NAME"`

	// ClusterMode when set connects to a redis cluster instead of a single instance
	ClusterMode bool `yaml:"cluster_mode" envconfig:"REDIS_CLUSTER_MODE"`
}

// MongoDBConfig ...
type MongoDBConfig struct {
	Client   *mongo.Client
	Database string
}

// Refresh sets config through pointer so config actually gets refreshed
func Refresh(newCnf *Config) {
	*cnf = *newCnf
}

// IsQueueRoutable returns true when tasks may be routed to the given queue.
// The default queue is always routable; other queues must be declared in the
// Queues map unless the map is empty (no validation configured).
func (c *Config) IsQueueRoutable(queue string) bool {
	if queue == "" || queue == c.DefaultQueue {
		return true
	}
	if len(c.Queues) == 0 {
		return true
	}
	_, ok := c.Queues[queue]
	return ok
}

// QueueConcurrency returns the configured worker concurrency for a queue,
// zero meaning "let the worker decide"
func (c *Config) QueueConcurrency(queue string) int {
	if len(c.Queues) == 0 {
		return 0
	}
	return c.Queues[queue]
}

// Decode from yaml to map (any field whose type or pointer-to-type implements
// envconfig.Decoder can control its own deserialization)
func (args *QueueBindingArgs) Decode(value string) error {
	pairs := strings.Split(value, ",")
	mp := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		kvpair := strings.Split(pair, ":")
		if len(kvpair) != 2 {
			return fmt.Errorf("invalid map item: %q", pair)
		}
		mp[kvpair[0]] = kvpair[1]
	}
	*args = QueueBindingArgs(mp)
	return nil
}
