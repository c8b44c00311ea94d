package tasks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/forge/tasks"
)

func TestNewSignature(t *testing.T) {
	t.Parallel()

	signature, err := tasks.NewSignature("add", []tasks.Arg{
		{Type: "int64", Value: 1},
		{Type: "int64", Value: 2},
	})
	assert.NoError(t, err)
	assert.Equal(t, "add", signature.Name)
	assert.Contains(t, signature.UUID, "task_")
	assert.Len(t, signature.Args, 2)
}

func TestCopySignature(t *testing.T) {
	t.Parallel()

	sig1 := &tasks.Signature{
		Name: "send",
		Args: []tasks.Arg{{Type: "string", Value: "hello"}},
	}
	sig2 := tasks.CopySignature(sig1)
	assert.True(t, sig2 != sig1)
	assert.Equal(t, sig1.Name, sig2.Name)

	sig2.Args[0].Value = "changed"
	assert.Equal(t, "hello", sig1.Args[0].Value)
}

func TestHeadersCarrier(t *testing.T) {
	t.Parallel()

	headers := tasks.Headers{}
	headers.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", headers.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, headers.Keys())
}
