package platformsdk

import "log/slog"

// Option configures a Node before it is built by New.
type Option func(*buildOpts)

type buildOpts struct {
	logger *slog.Logger
}

// WithLogger overrides the structured logger a Node and every component it
// wires (lifecycle, AMS, DF, transport, migration) logs through. Defaults
// to slog.Default() when not set.
func WithLogger(logger *slog.Logger) Option {
	return func(o *buildOpts) { o.logger = logger }
}
