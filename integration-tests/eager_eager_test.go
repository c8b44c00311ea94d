package integration_test

import (
	"testing"

	"github.com/taskforge/forge/config"
)

func TestEagerEager(t *testing.T) {
	// Eager broker, eager result backend. Everything runs in-process so no
	// external services are needed. The delay test is skipped because the
	// eager broker executes tasks inline and ignores the ETA.
	server := testSetup(&config.Config{
		Broker:        "eager",
		ResultBackend: "eager",
	})

	testSendTask(server, t)
	testSendGroup(server, t, 0)
	testSendChord(server, t)
	testSendChain(server, t)
	testReturnJustError(server, t)
	testReturnMultipleValues(server, t)
	testPanic(server, t)
	testUnregisteredTaskFails(server, t)
}
