package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/forge/utils"
)

// Arg represents a single argument passed to invocation of a task
type Arg struct {
	Name  string      `json:"name,omitempty" bson:"name"`
	Type  string      `json:"type,omitempty" bson:"type"`
	Value interface{} `json:"value,omitempty" bson:"value"`
}

// Headers represents the headers which should be used to direct the task
type Headers map[string]interface{}

// Get on Headers implements a text map carrier for trace propagation
func (h Headers) Get(key string) string {
	v, ok := h[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// Set on Headers implements a text map carrier for trace propagation
func (h Headers) Set(key, val string) {
	h[key] = val
}

// Keys on Headers implements a text map carrier for trace propagation
func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// Signature represents a single task invocation
type Signature struct {
	UUID           string       `json:"UUID,omitempty"`
	Name           string       `json:"name,omitempty"`
	RoutingKey     string       `json:"routingKey,omitempty"`
	ETA            *time.Time   `json:"ETA,omitempty"`
	GroupUUID      string       `json:"groupUUID,omitempty"`
	GroupTaskCount int          `json:"groupTaskCount,omitempty"`
	Args           []Arg        `json:"args,omitempty"`
	Headers        Headers      `json:"headers,omitempty"`
	Priority       uint8        `json:"priority,omitempty"`
	Immutable      bool         `json:"immutable,omitempty"`
	RetryCount     int          `json:"retryCount,omitempty"`
	RetryTimeout   int          `json:"retryTimeout,omitempty"`
	TimeoutSeconds int          `json:"timeoutSeconds,omitempty"`
	OnSuccess      []*Signature `json:"onSuccess,omitempty"`
	OnError        []*Signature `json:"onError,omitempty"`
	ChordCallback  *Signature   `json:"chordCallback,omitempty"`
	// MessageGroupId for brokers which support it, e.g. SQS FIFO queues
	BrokerMessageGroupId string `json:"brokerMessageGroupId,omitempty"`
	// ReceiptHandle of SQS Message
	SQSReceiptHandle string `json:"SQSReceiptHandle,omitempty"`
	// StopTaskDeletionOnError used with SQS when we want to send failed messages to a
	// dead letter queue rather than have the broker delete them from the source queue
	StopTaskDeletionOnError bool `json:"stopTaskDeletionOnError,omitempty"`
}

// NewSignature creates a new task signature
func NewSignature(name string, args []Arg) (*Signature, error) {
	signatureID := uuid.New().String()
	return &Signature{
		UUID: fmt.Sprintf("task_%v", signatureID),
		Name: name,
		Args: args,
	}, nil
}

// CopySignatures makes deep copies of a slice of signatures
func CopySignatures(signatures ...*Signature) []*Signature {
	sigs := make([]*Signature, len(signatures))
	for index, signature := range signatures {
		sigs[index] = CopySignature(signature)
	}
	return sigs
}

// CopySignature makes a deep copy of a signature
func CopySignature(signature *Signature) *Signature {
	sig := new(Signature)
	_ = utils.DeepCopy(sig, signature)
	return sig
}
