package graph

import "log/slog"

// Option configures a DB.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	ids       IDGenerator
	clock     Clock
	codec     PropertyCodec
	policy    PathPolicy
	traversal Traversal
	observer  Observer
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		ids:      UUIDv7Generator{},
		clock:    SystemClock{},
		codec:    JSONCodec{},
		observer: nopObserver{},
	}
}

// WithLogger sets the logger. Malformed stored properties are reported here.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithCodec replaces the JSON property codec.
func WithCodec(c PropertyCodec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithPathPolicy sets the FindPath cycle policy. The default is PathSimple.
func WithPathPolicy(p PathPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithTraversal selects recursive SQL or in-memory search for path and
// neighbourhood queries.
func WithTraversal(t Traversal) Option {
	return func(o *options) { o.traversal = t }
}

// WithObserver receives per-operation timings.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}
