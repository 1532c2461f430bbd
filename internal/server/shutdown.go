// Package server carries the pieces of running an HTTP process that are not
// routing: graceful shutdown and the hooks that release resources when the
// process drains.
package server

import (
	"context"

	"github.com/rs/zerolog/log"
)

type shutdownHook struct {
	name string
	run  func(context.Context) error
}

// ShutdownHooks collects the cleanup functions to run once the server has
// stopped accepting requests. Hooks run in registration order, and a failing
// hook never prevents the ones after it from running.
type ShutdownHooks struct {
	hooks []shutdownHook
}

// AddContext registers a hook that observes the shutdown deadline through
// its context. Nil hooks are ignored.
func (s *ShutdownHooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("nil shutdown hook ignored")
		return
	}

	log.Debug().Str("hook", name).Msg("registering shutdown hook")
	s.hooks = append(s.hooks, shutdownHook{name: name, run: hook})
}

// Add registers a hook that has no use for the shutdown context.
func (s *ShutdownHooks) Add(name string, hook func() error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("nil shutdown hook ignored")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return hook()
	})
}

// AddClose registers any resource with a Close method. Nil closers are
// ignored.
func (s *ShutdownHooks) AddClose(name string, closer interface{ Close() }) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("nil shutdown hook ignored")
		return
	}

	s.AddContext(name, func(context.Context) error { closer.Close(); return nil })
}

// Execute runs every registered hook in order, logging the outcome of each.
// Failures are logged and skipped over so later hooks still run.
func (s *ShutdownHooks) Execute(ctx context.Context) {
	l := log.Ctx(ctx)
	for _, hook := range s.hooks {
		hookLog := l.With().Str("hook", hook.name).Logger()

		hookLog.Info().Msg("shutdown started")
		if err := hook.run(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown failed")
			continue
		}
		hookLog.Info().Msg("shutdown complete")
	}
}
