package tasks_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/forge/tasks"
)

func TestReflectValue(t *testing.T) {
	t.Parallel()

	value, err := tasks.ReflectValue("bool", interface{}(true))
	assert.NoError(t, err)
	assert.Equal(t, "bool", value.Type().String())

	value, err = tasks.ReflectValue("string", interface{}("123"))
	assert.NoError(t, err)
	assert.Equal(t, "string", value.Type().String())

	// Signatures decoded off the wire carry numbers as json.Number
	value, err = tasks.ReflectValue("int64", interface{}(json.Number("64")))
	assert.NoError(t, err)
	assert.Equal(t, "int64", value.Type().String())
	assert.Equal(t, int64(64), value.Int())

	value, err = tasks.ReflectValue("float64", interface{}(json.Number("0.5")))
	assert.NoError(t, err)
	assert.Equal(t, "float64", value.Type().String())
	assert.Equal(t, 0.5, value.Float())

	value, err = tasks.ReflectValue("[]int64", interface{}([]interface{}{json.Number("1"), json.Number("2")}))
	assert.NoError(t, err)
	assert.Equal(t, "[]int64", value.Type().String())

	// Byte slices travel base64 encoded
	value, err = tasks.ReflectValue("[]uint8", interface{}("aGVsbG8="))
	assert.NoError(t, err)
	assert.Equal(t, "[]uint8", value.Type().String())
	assert.Equal(t, []byte("hello"), value.Interface())

	_, err = tasks.ReflectValue("unsupported_type", interface{}(1))
	assert.Error(t, err)
}
