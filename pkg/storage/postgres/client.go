// Package postgres provides the PostgreSQL storage backend.
//
// It targets shared multi-process deployments. Typed containers are
// stored as JSONB; timestamps as TIMESTAMPTZ.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/engramlabs/engram-go/pkg/conversation"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/profile"
	"github.com/engramlabs/engram-go/pkg/storage"
)

// Client implements storage.Store using PostgreSQL.
type Client struct {
	db *sql.DB
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewClient connects to PostgreSQL and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id BIGINT PRIMARY KEY,
			type VARCHAR(32) NOT NULL,
			content TEXT NOT NULL,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			embedding JSONB,
			tags JSONB,
			relationships JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			source JSONB,
			ctx_user_id VARCHAR(255),
			ctx_conversation_id VARCHAR(255),
			ctx_workspace_id VARCHAR(255),
			ctx_session_id VARCHAR(255),
			ctx_timestamp TIMESTAMPTZ,
			ctx_entities JSONB,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner
			ON memories(ctx_user_id, ctx_conversation_id, ctx_workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`,
		`CREATE TABLE IF NOT EXISTS concepts (
			key VARCHAR(255) PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			relations JSONB,
			sources JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			last_verified TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id VARCHAR(255) NOT NULL,
			category VARCHAR(255) NOT NULL,
			preference VARCHAR(255) NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, category, preference)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id VARCHAR(255) PRIMARY KEY,
			traits JSONB,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255),
			messages JSONB NOT NULL,
			summary TEXT,
			key_topics JSONB,
			mood VARCHAR(16),
			follow_ups JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			event TEXT NOT NULL,
			outcome TEXT,
			participants JSONB,
			location TEXT,
			duration_secs BIGINT NOT NULL DEFAULT 0,
			emotions JSONB,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes(user_id, occurred_at)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init tables: %w", err)
		}
	}
	return nil
}

// InsertRecord stores a new record.
func (c *Client) InsertRecord(ctx context.Context, rec *memory.Record) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("postgres: insert record: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO memories
		(id, type, content, importance, confidence, embedding, tags, relationships,
		 created_at, last_accessed, access_count, source,
		 ctx_user_id, ctx_conversation_id, ctx_workspace_id, ctx_session_id,
		 ctx_timestamp, ctx_entities, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		cols...)
	if err != nil {
		return fmt.Errorf("postgres: insert record: %w", err)
	}
	return nil
}

// GetRecord returns the record with the given ID, or storage.ErrNotFound.
func (c *Client) GetRecord(ctx context.Context, id int64) (*memory.Record, error) {
	row := c.db.QueryRowContext(ctx, recordSelect+" WHERE id = $1", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord fully replaces a record by ID.
func (c *Client) UpdateRecord(ctx context.Context, rec *memory.Record) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("postgres: update record: %w", err)
	}
	args := append(cols[1:], cols[0])
	result, err := c.db.ExecContext(ctx, `
		UPDATE memories SET
			type = $1, content = $2, importance = $3, confidence = $4,
			embedding = $5, tags = $6, relationships = $7, created_at = $8,
			last_accessed = $9, access_count = $10, source = $11,
			ctx_user_id = $12, ctx_conversation_id = $13, ctx_workspace_id = $14,
			ctx_session_id = $15, ctx_timestamp = $16, ctx_entities = $17,
			metadata = $18
		WHERE id = $19`,
		args...)
	if err != nil {
		return fmt.Errorf("postgres: update record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update record: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteRecord removes a record by ID.
func (c *Client) DeleteRecord(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete record: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// QueryRecords returns records matching the filter, newest first.
func (c *Client) QueryRecords(ctx context.Context, opts *storage.QueryOptions) ([]*memory.Record, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}
	where, args := buildRecordWhere(opts)
	query := recordSelect + where + " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: query records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of stored records.
func (c *Client) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count records: %w", err)
	}
	return count, nil
}

// GetNode returns the concept node with the given key.
func (c *Client) GetNode(ctx context.Context, key string) (*graph.Node, error) {
	row := c.db.QueryRowContext(ctx, nodeSelect+" WHERE key = $1", key)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get node: %w", err)
	}
	return node, nil
}

// UpsertNode inserts or replaces a concept node by its normalized key.
func (c *Client) UpsertNode(ctx context.Context, node *graph.Node) error {
	relations, sources, err := encodeNode(node)
	if err != nil {
		return fmt.Errorf("postgres: upsert node: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO concepts (key, name, description, confidence, relations, sources, created_at, last_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			confidence = EXCLUDED.confidence,
			relations = EXCLUDED.relations,
			sources = EXCLUDED.sources,
			last_verified = EXCLUDED.last_verified`,
		node.Key, node.Name, node.Description, node.Confidence,
		relations, sources, node.CreatedAt, node.LastVerified)
	if err != nil {
		return fmt.Errorf("postgres: upsert node: %w", err)
	}
	return nil
}

// AllNodes returns every stored concept node.
func (c *Client) AllNodes(ctx context.Context) ([]*graph.Node, error) {
	rows, err := c.db.QueryContext(ctx, nodeSelect)
	if err != nil {
		return nil, fmt.Errorf("postgres: all nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*graph.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: all nodes: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: all nodes: %w", err)
	}
	return nodes, nil
}

// SaveConversation inserts or replaces a conversation by ID.
func (c *Client) SaveConversation(ctx context.Context, conv *conversation.Conversation) error {
	messages, topics, followUps, err := encodeConversation(conv)
	if err != nil {
		return fmt.Errorf("postgres: save conversation: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, messages, summary, key_topics, mood, follow_ups, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			messages = EXCLUDED.messages,
			summary = EXCLUDED.summary,
			key_topics = EXCLUDED.key_topics,
			mood = EXCLUDED.mood,
			follow_ups = EXCLUDED.follow_ups,
			updated_at = EXCLUDED.updated_at`,
		conv.ID, conv.UserID, messages, conv.Summary, topics, conv.Mood,
		followUps, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with the given ID.
func (c *Client) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := c.db.QueryRowContext(ctx, conversationSelect+" WHERE id = $1", id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get conversation: %w", err)
	}
	return conv, nil
}

// InsertEpisode stores an episode.
func (c *Client) InsertEpisode(ctx context.Context, ep *episodic.Episode) error {
	participants, emotions, err := encodeEpisode(ep)
	if err != nil {
		return fmt.Errorf("postgres: insert episode: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO episodes (id, user_id, event, outcome, participants, location, duration_secs, emotions, success, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ep.ID, ep.UserID, ep.Event, ep.Outcome, participants, ep.Location,
		int64(ep.Duration.Seconds()), emotions, ep.Success, ep.OccurredAt)
	if err != nil {
		return fmt.Errorf("postgres: insert episode: %w", err)
	}
	return nil
}

// QueryEpisodes returns episodes matching the query, most recent first.
func (c *Client) QueryEpisodes(ctx context.Context, q *episodic.TimelineQuery) ([]*episodic.Episode, error) {
	if q == nil {
		q = &episodic.TimelineQuery{}
	}
	query := episodeSelect + " WHERE TRUE"
	var args []interface{}
	if q.UserID != "" {
		args = append(args, q.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	query += " ORDER BY occurred_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []*episodic.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: query episodes: %w", err)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query episodes: %w", err)
	}
	return episodes, nil
}

// GetProfile returns the user's profile, or nil when none exists.
func (c *Client) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT user_id, traits, updated_at FROM profiles WHERE user_id = $1", userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get profile: %w", err)
	}
	return p, nil
}

// SaveProfile inserts or replaces a profile by user ID.
func (c *Client) SaveProfile(ctx context.Context, p *profile.Profile) error {
	traits, err := encodeTraits(p)
	if err != nil {
		return fmt.Errorf("postgres: save profile: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, traits, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			traits = EXCLUDED.traits,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, traits, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save profile: %w", err)
	}
	return nil
}

// UpsertPreference inserts or replaces a preference by its composite key.
func (c *Client) UpsertPreference(ctx context.Context, pref *profile.Preference) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, category, preference, strength, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, category, preference) DO UPDATE SET
			strength = EXCLUDED.strength,
			updated_at = EXCLUDED.updated_at`,
		pref.UserID, pref.Category, pref.Name, pref.Strength, pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert preference: %w", err)
	}
	return nil
}

// GetPreferences returns all preferences for the user.
func (c *Client) GetPreferences(ctx context.Context, userID string) ([]*profile.Preference, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT user_id, category, preference, strength, updated_at
		FROM preferences WHERE user_id = $1 ORDER BY category, preference`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prefs []*profile.Preference
	for rows.Next() {
		pref := &profile.Preference{}
		if err := rows.Scan(&pref.UserID, &pref.Category, &pref.Name, &pref.Strength, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: get preferences: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get preferences: %w", err)
	}
	return prefs, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
