package testhelpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger routes global and context log output through the test, so
// log lines appear attached to the test that produced them.
func SetupLogger(t *testing.T) {
	t.Helper()

	logger := zerolog.New(zerolog.NewTestWriter(t))

	previousGlobal := log.Logger
	previousContext := zerolog.DefaultContextLogger

	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	t.Cleanup(func() {
		log.Logger = previousGlobal
		zerolog.DefaultContextLogger = previousContext
	})
}
