package tasks

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrTaskReturnsNoValue ...
	ErrTaskReturnsNoValue = errors.New("Task returns no value. Must return at least error value")
	// ErrLastReturnValueMustBeError ..
	ErrLastReturnValueMustBeError = errors.New("Last return value of a task must be error")
)

// TaskResult represents an actual return value of a processed task
type TaskResult struct {
	Type  string      `bson:"type" json:"type"`
	Value interface{} `bson:"value" json:"value"`
}

// ReflectTaskResults converts stored task results to reflect values so they
// can be fed into a follow up task invocation
func ReflectTaskResults(taskResults []*TaskResult) ([]reflect.Value, error) {
	resultValues := make([]reflect.Value, len(taskResults))
	for i, taskResult := range taskResults {
		resultValue, err := ReflectValue(taskResult.Type, taskResult.Value)
		if err != nil {
			return nil, err
		}
		resultValues[i] = resultValue
	}
	return resultValues, nil
}

// HumanReadableResults formats results into a human readable string
func HumanReadableResults(results []reflect.Value) string {
	if len(results) == 1 {
		return fmt.Sprintf("%v", results[0].Interface())
	}

	readableResults := make([]string, len(results))
	for i := 0; i < len(results); i++ {
		readableResults[i] = fmt.Sprintf("%v", results[i].Interface())
	}

	return fmt.Sprintf("[%s]", strings.Join(readableResults, ", "))
}
