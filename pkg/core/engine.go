package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/engramlabs/engram-go/pkg/analysis"
	"github.com/engramlabs/engram-go/pkg/consolidation"
	"github.com/engramlabs/engram-go/pkg/conversation"
	"github.com/engramlabs/engram-go/pkg/embedder"
	openaiembedder "github.com/engramlabs/engram-go/pkg/embedder/openai"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/index"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/profile"
	"github.com/engramlabs/engram-go/pkg/retrieval"
	"github.com/engramlabs/engram-go/pkg/scoring"
	"github.com/engramlabs/engram-go/pkg/storage"
	"github.com/engramlabs/engram-go/pkg/storage/mysql"
	"github.com/engramlabs/engram-go/pkg/storage/postgres"
	"github.com/engramlabs/engram-go/pkg/storage/sqlite"
)

// uniquenessSampleSize bounds how many scoped records Remember compares
// against when estimating uniqueness.
const uniquenessSampleSize = 100

// Engine is the Engram client. One Engine owns a storage backend, the
// vector index, and all memory subsystems; it is safe for concurrent
// use.
//
// Example:
//
//	cfg, _ := core.LoadConfigFromEnv()
//	engine, err := core.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	rec, _ := engine.Remember(ctx, "Alice prefers morning meetings",
//	    core.WithType(memory.TypePreference),
//	    core.WithContext(memory.Context{UserID: "alice"}))
//	resp, _ := engine.Recall(ctx, "when does Alice like meetings?",
//	    core.WithRecallContext(memory.Context{UserID: "alice"}))
type Engine struct {
	config *Config
	logger *zap.Logger
	node   *snowflake.Node

	store    storage.Store
	provider embedder.Provider
	index    *index.Index

	retrieval     *retrieval.Engine
	graph         *graph.Graph
	conversations *conversation.Manager
	episodes      *episodic.Memory
	profiles      *profile.Manager
	consolidator  *consolidation.Engine
	sweeper       *consolidation.Sweeper

	now func() time.Time
}

// snowflakeIDs adapts a snowflake node to the IDSource interfaces.
type snowflakeIDs struct {
	node *snowflake.Node
}

func (s snowflakeIDs) NextID() int64 {
	return s.node.Generate().Int64()
}

// New creates an engine from the configuration.
//
// Without an embedding API key the engine runs in lexical-only mode:
// Remember skips embeddings and Recall answers from keyword and entity
// signals.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewMemoryError("New", err)
	}

	options := &engineOptions{nodeID: 1, clock: time.Now}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	node, err := snowflake.NewNode(options.nodeID)
	if err != nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: node id: %v", ErrInvalidConfig, err))
	}

	store, err := initStorage(cfg)
	if err != nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}

	e := &Engine{
		config: cfg,
		logger: logger,
		node:   node,
		store:  store,
		now:    options.clock,
	}

	if cfg.Embedder.APIKey != "" {
		inner, err := openaiembedder.NewClient(&openaiembedder.Config{
			APIKey:     cfg.Embedder.APIKey,
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			_ = store.Close()
			return nil, NewMemoryError("New", err)
		}
		e.provider = embedder.NewResilient(inner, cfg.Embedder.Timeout, 0, logger)

		ix, err := index.New(e.provider, logger)
		if err != nil {
			_ = store.Close()
			return nil, NewMemoryError("New", err)
		}
		e.index = ix
	} else {
		logger.Warn("no embedding api key configured, semantic search disabled")
	}

	ids := snowflakeIDs{node: node}
	e.retrieval = retrieval.NewEngine(store, e.index, logger)
	e.graph = graph.New(store, logger)
	e.conversations = conversation.NewManager(store)
	e.episodes = episodic.New(store, ids)
	e.profiles = profile.NewManager(store)
	e.consolidator = consolidation.NewEngine(store, e.index, ids, logger)
	e.sweeper = consolidation.NewSweeper(e.consolidator, store, e.graph, e.index,
		cfg.Consolidation.SweepInterval, logger)

	return e, nil
}

// initStorage creates the configured storage backend.
func initStorage(cfg *Config) (storage.Store, error) {
	switch cfg.Storage.Provider {
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{DBPath: cfg.Storage.SQLite.Path})
	case "postgres":
		p := cfg.Storage.Postgres
		return postgres.NewClient(&postgres.Config{
			Host: p.Host, Port: p.Port, User: p.User,
			Password: p.Password, DBName: p.DBName, SSLMode: p.SSLMode,
		})
	case "mysql":
		m := cfg.Storage.MySQL
		return mysql.NewClient(&mysql.Config{
			Host: m.Host, Port: m.Port, User: m.User,
			Password: m.Password, DBName: m.DBName,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

// Remember stores a new memory: the content is analyzed, scored for
// importance, embedded when possible, and persisted.
//
// Embedding failures degrade the write instead of failing it: the
// record is stored without a vector and picked up by the next index
// rebuild.
func (e *Engine) Remember(ctx context.Context, content string, opts ...RememberOption) (*memory.Record, error) {
	if strings.TrimSpace(content) == "" {
		return nil, NewMemoryError("Remember", fmt.Errorf("%w: content is empty", ErrInvalidInput))
	}

	options := &rememberOptions{recordType: memory.TypeFact}
	for _, opt := range opts {
		opt(options)
	}
	if !options.recordType.Valid() {
		return nil, NewMemoryError("Remember", fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, options.recordType))
	}

	now := e.now()
	source := memory.Source{Type: "user", Reliability: 1.0}
	if options.source != nil {
		source = *options.source
	}

	rec := &memory.Record{
		ID:           e.node.Generate().Int64(),
		Type:         options.recordType,
		Content:      content,
		Tags:         options.tags,
		CreatedAt:    now,
		LastAccessed: now,
		Source:       source,
		Context:      options.context,
		Metadata: memory.Metadata{
			Topics:    analysis.Topics(content, 5),
			Entities:  analysis.Entities(content),
			Keywords:  analysis.Keywords(content),
			Sentiment: analysis.Sentiment(content),
		},
	}
	if rec.Context.Timestamp.IsZero() {
		rec.Context.Timestamp = now
	}

	rec.Confidence = source.Reliability
	if options.confidence != nil {
		rec.Confidence = *options.confidence
	}

	if options.importance != nil {
		rec.Importance = *options.importance
	} else {
		rec.Importance = scoring.Importance(scoring.Inputs{
			CreatedAt:    rec.CreatedAt,
			LastAccessed: rec.LastAccessed,
			AccessCount:  0,
			Uniqueness:   e.uniqueness(ctx, rec),
			Sentiment:    rec.Metadata.Sentiment,
			Reliability:  source.Reliability,
		}, rec.Context, rec.Context, now)
	}
	rec.Normalize()

	if e.index != nil {
		if err := e.index.Upsert(ctx, rec); err != nil {
			e.logger.Warn("memory stored without embedding",
				zap.Int64("id", rec.ID), zap.Error(err))
		}
	}

	if err := e.store.InsertRecord(ctx, rec); err != nil {
		if e.index != nil {
			_ = e.index.Remove(ctx, rec.ID)
		}
		return nil, NewMemoryError("Remember", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	return rec, nil
}

// uniqueness estimates how novel the content is against a sample of
// records in the same scope: 1 minus the best token similarity.
func (e *Engine) uniqueness(ctx context.Context, rec *memory.Record) float64 {
	existing, err := e.store.QueryRecords(ctx, &storage.QueryOptions{
		UserID: rec.Context.UserID,
		Limit:  uniquenessSampleSize,
	})
	if err != nil {
		e.logger.Warn("uniqueness estimate unavailable", zap.Error(err))
		return 0.5
	}

	var maxSim float64
	for _, other := range existing {
		if sim := analysis.TokenJaccard(rec.Content, other.Content); sim > maxSim {
			maxSim = sim
		}
	}
	return 1.0 - maxSim
}

// Recall runs a hybrid search and records an access on every hit.
func (e *Engine) Recall(ctx context.Context, query string, opts ...RecallOption) (*retrieval.Response, error) {
	options := &recallOptions{}
	for _, opt := range opts {
		opt(options)
	}

	resp, err := e.retrieval.Search(ctx, &retrieval.Query{
		Text:          query,
		Context:       options.context,
		Types:         options.types,
		MinImportance: options.minImportance,
		Since:         options.since,
		Until:         options.until,
		MaxResults:    options.maxResults,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			return nil, NewMemoryError("Recall", fmt.Errorf("%w: query is empty", ErrInvalidInput))
		}
		return nil, NewMemoryError("Recall", err)
	}

	now := e.now()
	for _, result := range resp.Results {
		result.Record.Touch(now)
		if err := e.store.UpdateRecord(ctx, result.Record); err != nil {
			e.logger.Warn("access not recorded",
				zap.Int64("id", result.Record.ID), zap.Error(err))
		}
	}
	return resp, nil
}

// Get returns one memory by ID and records the access.
func (e *Engine) Get(ctx context.Context, id int64) (*memory.Record, error) {
	rec, err := e.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewMemoryError("Get", ErrNotFound)
		}
		return nil, NewMemoryError("Get", err)
	}

	rec.Touch(e.now())
	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		e.logger.Warn("access not recorded", zap.Int64("id", id), zap.Error(err))
	}
	return rec, nil
}

// Forget permanently removes one memory.
func (e *Engine) Forget(ctx context.Context, id int64) error {
	if err := e.store.DeleteRecord(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewMemoryError("Forget", ErrNotFound)
		}
		return NewMemoryError("Forget", err)
	}
	if e.index != nil {
		if err := e.index.Remove(ctx, id); err != nil {
			e.logger.Warn("stale index entry", zap.Int64("id", id), zap.Error(err))
		}
	}
	return nil
}

// AddConversationMessage appends a message to a conversation, creating
// the conversation on first use.
func (e *Engine) AddConversationMessage(ctx context.Context, conversationID, role, content string) error {
	err := e.conversations.AddMessage(ctx, conversationID, role, content, e.now())
	return NewMemoryError("AddConversationMessage", err)
}

// GetConversation returns the full conversation memory.
func (e *Engine) GetConversation(ctx context.Context, conversationID string) (*conversation.Conversation, error) {
	conv, err := e.conversations.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, NewMemoryError("GetConversation", ErrNotFound)
		}
		return nil, NewMemoryError("GetConversation", err)
	}
	return conv, nil
}

// GetConversationSummary returns the derived summary view of a
// conversation: summary text, most important messages, open follow-ups,
// and mood.
func (e *Engine) GetConversationSummary(ctx context.Context, conversationID string) (*conversation.SummaryResult, error) {
	summary, err := e.conversations.Summarize(ctx, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, NewMemoryError("GetConversationSummary", ErrNotFound)
		}
		return nil, NewMemoryError("GetConversationSummary", err)
	}
	return summary, nil
}

// AddConcept adds or refreshes a concept in the knowledge graph.
// Optional sources record where the knowledge came from; mentions with
// no source are attributed to "user".
func (e *Engine) AddConcept(ctx context.Context, name, description string, sources ...string) (*graph.Node, error) {
	node, err := e.graph.AddConcept(ctx, name, description, sources...)
	if err != nil {
		return nil, NewMemoryError("AddConcept", err)
	}
	return node, nil
}

// LinkConcepts creates a typed relationship between two concepts,
// creating missing endpoints.
func (e *Engine) LinkConcepts(ctx context.Context, a, b string, relType graph.RelationType, strength float64, bidirectional bool) error {
	return NewMemoryError("LinkConcepts", e.graph.LinkConcepts(ctx, a, b, relType, strength, bidirectional))
}

// FindRelatedConcepts returns concepts reachable from the given one
// within maxDepth hops, most confident first.
func (e *Engine) FindRelatedConcepts(ctx context.Context, concept string, maxDepth int) ([]*graph.Node, error) {
	nodes, err := e.graph.FindRelated(ctx, concept, maxDepth)
	if err != nil {
		return nil, NewMemoryError("FindRelatedConcepts", err)
	}
	return nodes, nil
}

// InferKnowledge derives natural-language statements from the graph
// around the premise.
func (e *Engine) InferKnowledge(ctx context.Context, premise string) ([]string, error) {
	statements, err := e.graph.Infer(ctx, premise)
	if err != nil {
		return nil, NewMemoryError("InferKnowledge", err)
	}
	return statements, nil
}

// VerifyFact checks a statement against the knowledge graph.
func (e *Engine) VerifyFact(ctx context.Context, statement string) (*graph.Verification, error) {
	v, err := e.graph.VerifyFact(ctx, statement)
	if err != nil {
		return nil, NewMemoryError("VerifyFact", err)
	}
	return v, nil
}

// RecordEpisode stores a concrete experience and returns its ID.
func (e *Engine) RecordEpisode(ctx context.Context, ep *episodic.Episode) (int64, error) {
	id, err := e.episodes.Record(ctx, ep)
	if err != nil {
		return 0, NewMemoryError("RecordEpisode", err)
	}
	return id, nil
}

// Timeline returns episodes matching the query, most recent first.
func (e *Engine) Timeline(ctx context.Context, q *episodic.TimelineQuery) ([]*episodic.Episode, error) {
	episodes, err := e.episodes.Timeline(ctx, q)
	if err != nil {
		return nil, NewMemoryError("Timeline", err)
	}
	return episodes, nil
}

// PredictOutcome returns the outcome of the user's most similar past
// episode as a hint, or nil when history offers nothing comparable.
func (e *Engine) PredictOutcome(ctx context.Context, userID, scenario string) (*episodic.Prediction, error) {
	pred, err := e.episodes.PredictOutcome(ctx, userID, scenario)
	if err != nil {
		return nil, NewMemoryError("PredictOutcome", err)
	}
	return pred, nil
}

// SetPreference records a user preference, replacing any earlier value
// for the same category and name.
func (e *Engine) SetPreference(ctx context.Context, userID, category, name string, strength float64) error {
	return NewMemoryError("SetPreference", e.profiles.SetPreference(ctx, userID, category, name, strength))
}

// GetPreferences returns all of the user's preferences.
func (e *Engine) GetPreferences(ctx context.Context, userID string) ([]*profile.Preference, error) {
	prefs, err := e.profiles.Preferences(ctx, userID)
	if err != nil {
		return nil, NewMemoryError("GetPreferences", err)
	}
	return prefs, nil
}

// AdjustTrait nudges a personality trait and returns the new value.
func (e *Engine) AdjustTrait(ctx context.Context, userID, trait string, delta float64) (float64, error) {
	v, err := e.profiles.AdjustTrait(ctx, userID, trait, delta)
	if err != nil {
		return 0, NewMemoryError("AdjustTrait", err)
	}
	return v, nil
}

// GetProfile returns the user's profile, or an empty one.
func (e *Engine) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, NewMemoryError("GetProfile", err)
	}
	return p, nil
}

// OptimizeMemory runs one consolidation pass immediately: duplicate
// pruning, cluster compression, and importance recomputation, followed
// by a vector index rebuild over the surviving records.
func (e *Engine) OptimizeMemory(ctx context.Context) (*consolidation.Report, error) {
	report, err := e.consolidator.Consolidate(ctx)
	if err != nil {
		return report, NewMemoryError("OptimizeMemory", err)
	}
	// Consolidation rewrote the record set; bring the index up to date
	// now rather than waiting for the next sweep.
	if err := e.RebuildIndex(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// ArchiveMemories replaces records matching the criteria with a single
// archive record referencing them.
func (e *Engine) ArchiveMemories(ctx context.Context, criteria consolidation.ArchiveCriteria) (*memory.Record, error) {
	archive, err := e.consolidator.Archive(ctx, criteria)
	if err != nil {
		return archive, NewMemoryError("ArchiveMemories", err)
	}
	return archive, nil
}

// RebuildIndex reloads the vector index from the record store,
// embedding records that were stored without vectors.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if e.index == nil {
		return nil
	}
	records, err := e.store.QueryRecords(ctx, nil)
	if err != nil {
		return NewMemoryError("RebuildIndex", err)
	}
	return NewMemoryError("RebuildIndex", e.index.Rebuild(ctx, records))
}

// StartSweeper launches periodic background maintenance. It runs until
// StopSweeper or Close.
func (e *Engine) StartSweeper(ctx context.Context) {
	e.sweeper.Start(ctx)
}

// StopSweeper halts background maintenance.
func (e *Engine) StopSweeper() {
	e.sweeper.Stop()
}

// Close stops background work and releases all resources.
func (e *Engine) Close() error {
	e.sweeper.Stop()

	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return NewMemoryError("Close", errors.Join(errs...))
	}
	return nil
}
