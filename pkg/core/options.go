package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram-go/pkg/memory"
)

// Option configures the engine at construction time.
type Option func(*engineOptions)

type engineOptions struct {
	logger *zap.Logger
	nodeID int64
	clock  func() time.Time
}

// WithLogger sets the engine's logger. The default is a no-op logger.
//
// Example:
//
//	logger, _ := zap.NewDevelopment()
//	engine, _ := core.New(cfg, core.WithLogger(logger))
func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithNodeID sets the snowflake node ID used for record and episode IDs.
// Give each process writing to a shared backend a distinct ID.
func WithNodeID(id int64) Option {
	return func(o *engineOptions) {
		o.nodeID = id
	}
}

// RememberOption configures a single Remember call.
type RememberOption func(*rememberOptions)

type rememberOptions struct {
	recordType memory.Type
	tags       []string
	source     *memory.Source
	context    memory.Context
	importance *float64
	confidence *float64
}

// WithType sets the memory type. The default is fact.
//
// Example:
//
//	rec, _ := engine.Remember(ctx, "prefers dark mode", core.WithType(memory.TypePreference))
func WithType(t memory.Type) RememberOption {
	return func(o *rememberOptions) {
		o.recordType = t
	}
}

// WithTags attaches tags to the new record.
func WithTags(tags ...string) RememberOption {
	return func(o *rememberOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithSource records where the memory came from. The default is a user
// origin with full reliability.
func WithSource(src memory.Source) RememberOption {
	return func(o *rememberOptions) {
		o.source = &src
	}
}

// WithContext scopes the new record to the current exchange.
//
// Example:
//
//	rec, _ := engine.Remember(ctx, "works at Acme",
//	    core.WithContext(memory.Context{UserID: "user_1", ConversationID: "conv_42"}))
func WithContext(c memory.Context) RememberOption {
	return func(o *rememberOptions) {
		o.context = c
	}
}

// WithImportance overrides the computed importance score.
func WithImportance(v float64) RememberOption {
	return func(o *rememberOptions) {
		o.importance = &v
	}
}

// WithConfidence overrides the default confidence.
func WithConfidence(v float64) RememberOption {
	return func(o *rememberOptions) {
		o.confidence = &v
	}
}

// RecallOption configures a single Recall call.
type RecallOption func(*recallOptions)

type recallOptions struct {
	context       memory.Context
	types         []memory.Type
	minImportance float64
	since         time.Time
	until         time.Time
	maxResults    int
}

// WithRecallContext scopes the search and its ranking to the current
// exchange.
func WithRecallContext(c memory.Context) RecallOption {
	return func(o *recallOptions) {
		o.context = c
	}
}

// WithRecallTypes restricts results to the given memory types.
func WithRecallTypes(types ...memory.Type) RecallOption {
	return func(o *recallOptions) {
		o.types = append(o.types, types...)
	}
}

// WithMinImportance drops results below the importance floor.
func WithMinImportance(v float64) RecallOption {
	return func(o *recallOptions) {
		o.minImportance = v
	}
}

// WithTimeRange bounds result creation time. Zero times are open ends.
func WithTimeRange(since, until time.Time) RecallOption {
	return func(o *recallOptions) {
		o.since = since
		o.until = until
	}
}

// WithMaxResults caps the result set size.
func WithMaxResults(n int) RecallOption {
	return func(o *recallOptions) {
		o.maxResults = n
	}
}
