package clipvault

import (
	"github.com/hupe1980/clipvault/pipeline"
)

type options struct {
	logger   *Logger
	features pipeline.Features
	semantic bool
	recover  bool
}

func defaultOptions() options {
	return options{
		logger:   NewLogger(nil),
		features: pipeline.DefaultFeatures(),
		semantic: true,
		recover:  true,
	}
}

// Option configures Vault construction.
type Option func(*options)

// WithLogger configures the logger used by the vault and every component it
// wires. Passing nil restores the default text logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NewLogger(nil)
		}
		o.logger = logger
	}
}

// WithFeatures toggles individual enrichment stages. Stages whose provider
// is nil are skipped regardless.
func WithFeatures(features pipeline.Features) Option {
	return func(o *options) {
		o.features = features
	}
}

// WithSemanticSearch enables or disables the vector search path. Disabled
// semantic search makes every query take the keyword path; embeddings are
// neither generated nor compared.
func WithSemanticSearch(enabled bool) Option {
	return func(o *options) {
		o.semantic = enabled
	}
}

// WithoutRecovery skips the startup re-enqueue of entries left InProgress by
// a previous process. Intended for tools that only read the store.
func WithoutRecovery() Option {
	return func(o *options) {
		o.recover = false
	}
}
