// Package testlogger builds loggers for tests. Debug output is enabled with
// ADKG_TEST_LOGS=DEBUG.
package testlogger

import (
	"os"
	"testing"

	"github.com/zhazhalaila/AsyncDKG/log"
)

// Level returns the level selected by ADKG_TEST_LOGS.
func Level(t testing.TB) int {
	if os.Getenv("ADKG_TEST_LOGS") == "DEBUG" {
		return log.DebugLevel
	}
	return log.WarnLevel
}

// New returns a logger tagged with the test name.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}
