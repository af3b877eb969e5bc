// Package unittest contains helpers that document the external requirements
// of tests and skip or fail them when those requirements are not met.
package unittest

import (
	"os"

	"github.com/scholarr/scholarr/go/sktest"
)

// CockroachDBEnvVar is the environment variable that points at a running
// CockroachDB instance to be used by tests, e.g. "localhost:26257". For
// historical reasons the name says "EMULATOR", despite it being a real
// instance.
const CockroachDBEnvVar = "COCKROACHDB_EMULATOR_HOST"

// RequiresCockroachDB documents that a test requires a local running
// CockroachDB instance and checks that the appropriate environment variable
// is set, skipping the test if it is not.
func RequiresCockroachDB(t sktest.TestingT) {
	if os.Getenv(CockroachDBEnvVar) == "" {
		t.Skipf(`This test requires a local CockroachDB instance, which you can start with

    cockroach start-single-node --insecure --listen-addr=localhost:26257

and make sure the environment variable %s is set to its host:port.`, CockroachDBEnvVar)
	}
}
