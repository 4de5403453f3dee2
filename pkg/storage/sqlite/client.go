// Package sqlite provides the SQLite storage backend.
//
// SQLite is file-based and suits local development and single-process
// deployments. Typed containers (tags, relationships, metadata, message
// history) are serialized to JSON TEXT columns at this boundary.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/engramlabs/engram-go/pkg/conversation"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/profile"
	"github.com/engramlabs/engram-go/pkg/storage"
)

// Client implements storage.Store using SQLite.
type Client struct {
	db *sql.DB
}

// Config contains configuration for the SQLite backend.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient opens (and if needed creates) the SQLite database and
// initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
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
			id INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0.5,
			confidence REAL NOT NULL DEFAULT 0.5,
			embedding TEXT,
			tags TEXT,
			relationships TEXT,
			created_at DATETIME NOT NULL,
			last_accessed DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			source TEXT,
			ctx_user_id TEXT,
			ctx_conversation_id TEXT,
			ctx_workspace_id TEXT,
			ctx_session_id TEXT,
			ctx_timestamp DATETIME,
			ctx_entities TEXT,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner
			ON memories(ctx_user_id, ctx_conversation_id, ctx_workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`,
		`CREATE TABLE IF NOT EXISTS concepts (
			key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			confidence REAL NOT NULL DEFAULT 0.5,
			relations TEXT,
			sources TEXT,
			created_at DATETIME NOT NULL,
			last_verified DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			preference TEXT NOT NULL,
			strength REAL NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, category, preference)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			traits TEXT,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			messages TEXT NOT NULL,
			summary TEXT,
			key_topics TEXT,
			mood TEXT,
			follow_ups TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			event TEXT NOT NULL,
			outcome TEXT,
			participants TEXT,
			location TEXT,
			duration_secs INTEGER NOT NULL DEFAULT 0,
			emotions TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			occurred_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes(user_id, occurred_at)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init tables: %w", err)
		}
	}
	return nil
}

// InsertRecord stores a new record.
func (c *Client) InsertRecord(ctx context.Context, rec *memory.Record) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("sqlite: insert record: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO memories
		(id, type, content, importance, confidence, embedding, tags, relationships,
		 created_at, last_accessed, access_count, source,
		 ctx_user_id, ctx_conversation_id, ctx_workspace_id, ctx_session_id,
		 ctx_timestamp, ctx_entities, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cols...)
	if err != nil {
		return fmt.Errorf("sqlite: insert record: %w", err)
	}
	return nil
}

// GetRecord returns the record with the given ID, or storage.ErrNotFound.
func (c *Client) GetRecord(ctx context.Context, id int64) (*memory.Record, error) {
	row := c.db.QueryRowContext(ctx, recordSelect+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord fully replaces a record by ID.
func (c *Client) UpdateRecord(ctx context.Context, rec *memory.Record) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("sqlite: update record: %w", err)
	}
	// encodeRecord puts the ID first; move it to the WHERE position.
	args := append(cols[1:], cols[0])
	result, err := c.db.ExecContext(ctx, `
		UPDATE memories SET
			type = ?, content = ?, importance = ?, confidence = ?, embedding = ?,
			tags = ?, relationships = ?, created_at = ?, last_accessed = ?,
			access_count = ?, source = ?, ctx_user_id = ?, ctx_conversation_id = ?,
			ctx_workspace_id = ?, ctx_session_id = ?, ctx_timestamp = ?,
			ctx_entities = ?, metadata = ?
		WHERE id = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("sqlite: update record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update record: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteRecord removes a record by ID.
func (c *Client) DeleteRecord(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete record: %w", err)
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
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: query records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of stored records.
func (c *Client) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count records: %w", err)
	}
	return count, nil
}

// GetNode returns the concept node with the given key.
func (c *Client) GetNode(ctx context.Context, key string) (*graph.Node, error) {
	row := c.db.QueryRowContext(ctx, nodeSelect+" WHERE key = ?", key)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get node: %w", err)
	}
	return node, nil
}

// UpsertNode inserts or replaces a concept node by its normalized key.
func (c *Client) UpsertNode(ctx context.Context, node *graph.Node) error {
	relations, sources, err := encodeNode(node)
	if err != nil {
		return fmt.Errorf("sqlite: upsert node: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO concepts (key, name, description, confidence, relations, sources, created_at, last_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			confidence = excluded.confidence,
			relations = excluded.relations,
			sources = excluded.sources,
			last_verified = excluded.last_verified`,
		node.Key, node.Name, node.Description, node.Confidence,
		relations, sources, node.CreatedAt, node.LastVerified)
	if err != nil {
		return fmt.Errorf("sqlite: upsert node: %w", err)
	}
	return nil
}

// AllNodes returns every stored concept node.
func (c *Client) AllNodes(ctx context.Context) ([]*graph.Node, error) {
	rows, err := c.db.QueryContext(ctx, nodeSelect)
	if err != nil {
		return nil, fmt.Errorf("sqlite: all nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*graph.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: all nodes: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: all nodes: %w", err)
	}
	return nodes, nil
}

// SaveConversation inserts or replaces a conversation by ID.
func (c *Client) SaveConversation(ctx context.Context, conv *conversation.Conversation) error {
	messages, topics, followUps, err := encodeConversation(conv)
	if err != nil {
		return fmt.Errorf("sqlite: save conversation: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, messages, summary, key_topics, mood, follow_ups, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			messages = excluded.messages,
			summary = excluded.summary,
			key_topics = excluded.key_topics,
			mood = excluded.mood,
			follow_ups = excluded.follow_ups,
			updated_at = excluded.updated_at`,
		conv.ID, conv.UserID, messages, conv.Summary, topics, conv.Mood,
		followUps, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with the given ID.
func (c *Client) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := c.db.QueryRowContext(ctx, conversationSelect+" WHERE id = ?", id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get conversation: %w", err)
	}
	return conv, nil
}

// InsertEpisode stores an episode.
func (c *Client) InsertEpisode(ctx context.Context, ep *episodic.Episode) error {
	participants, emotions, err := encodeEpisode(ep)
	if err != nil {
		return fmt.Errorf("sqlite: insert episode: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO episodes (id, user_id, event, outcome, participants, location, duration_secs, emotions, success, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.UserID, ep.Event, ep.Outcome, participants, ep.Location,
		int64(ep.Duration.Seconds()), emotions, boolToInt(ep.Success), ep.OccurredAt)
	if err != nil {
		return fmt.Errorf("sqlite: insert episode: %w", err)
	}
	return nil
}

// QueryEpisodes returns episodes matching the query, most recent first.
func (c *Client) QueryEpisodes(ctx context.Context, q *episodic.TimelineQuery) ([]*episodic.Episode, error) {
	if q == nil {
		q = &episodic.TimelineQuery{}
	}
	query := episodeSelect + " WHERE 1=1"
	var args []interface{}
	if q.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, q.UserID)
	}
	if !q.Since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, q.Until)
	}
	query += " ORDER BY occurred_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []*episodic.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: query episodes: %w", err)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query episodes: %w", err)
	}
	return episodes, nil
}

// GetProfile returns the user's profile, or nil when none exists.
func (c *Client) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT user_id, traits, updated_at FROM profiles WHERE user_id = ?", userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get profile: %w", err)
	}
	return p, nil
}

// SaveProfile inserts or replaces a profile by user ID.
func (c *Client) SaveProfile(ctx context.Context, p *profile.Profile) error {
	traits, err := encodeTraits(p)
	if err != nil {
		return fmt.Errorf("sqlite: save profile: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, traits, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			traits = excluded.traits,
			updated_at = excluded.updated_at`,
		p.UserID, traits, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save profile: %w", err)
	}
	return nil
}

// UpsertPreference inserts or replaces a preference by its composite key.
func (c *Client) UpsertPreference(ctx context.Context, pref *profile.Preference) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, category, preference, strength, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, preference) DO UPDATE SET
			strength = excluded.strength,
			updated_at = excluded.updated_at`,
		pref.UserID, pref.Category, pref.Name, pref.Strength, pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upsert preference: %w", err)
	}
	return nil
}

// GetPreferences returns all preferences for the user.
func (c *Client) GetPreferences(ctx context.Context, userID string) ([]*profile.Preference, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT user_id, category, preference, strength, updated_at
		FROM preferences WHERE user_id = ? ORDER BY category, preference`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prefs []*profile.Preference
	for rows.Next() {
		pref := &profile.Preference{}
		if err := rows.Scan(&pref.UserID, &pref.Category, &pref.Name, &pref.Strength, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: get preferences: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: get preferences: %w", err)
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
