// Package mysql provides the MySQL storage backend.
//
// It also covers MySQL-compatible servers (MariaDB, OceanBase in MySQL
// mode). Typed containers are stored as JSON columns.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/engramlabs/engram-go/pkg/conversation"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/profile"
	"github.com/engramlabs/engram-go/pkg/storage"
)

// Client implements storage.Store using MySQL.
type Client struct {
	db *sql.DB
}

// Config contains MySQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// NewClient connects to MySQL and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("mysql: ping: %w", err)
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
			importance DOUBLE NOT NULL DEFAULT 0.5,
			confidence DOUBLE NOT NULL DEFAULT 0.5,
			embedding JSON,
			tags JSON,
			relationships JSON,
			created_at DATETIME(6) NOT NULL,
			last_accessed DATETIME(6) NOT NULL,
			access_count INT NOT NULL DEFAULT 0,
			source JSON,
			ctx_user_id VARCHAR(255),
			ctx_conversation_id VARCHAR(255),
			ctx_workspace_id VARCHAR(255),
			ctx_session_id VARCHAR(255),
			ctx_timestamp DATETIME(6),
			ctx_entities JSON,
			metadata JSON,
			INDEX idx_memories_owner (ctx_user_id, ctx_conversation_id, ctx_workspace_id),
			INDEX idx_memories_type (type)
		)`,
		`CREATE TABLE IF NOT EXISTS concepts (
			concept_key VARCHAR(255) PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			confidence DOUBLE NOT NULL DEFAULT 0.5,
			relations JSON,
			sources JSON,
			created_at DATETIME(6) NOT NULL,
			last_verified DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id VARCHAR(191) NOT NULL,
			category VARCHAR(191) NOT NULL,
			preference VARCHAR(191) NOT NULL,
			strength DOUBLE NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (user_id, category, preference)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id VARCHAR(255) PRIMARY KEY,
			traits JSON,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255),
			messages JSON NOT NULL,
			summary TEXT,
			key_topics JSON,
			mood VARCHAR(16),
			follow_ups JSON,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			event TEXT NOT NULL,
			outcome TEXT,
			participants JSON,
			location TEXT,
			duration_secs BIGINT NOT NULL DEFAULT 0,
			emotions JSON,
			success TINYINT(1) NOT NULL DEFAULT 0,
			occurred_at DATETIME(6) NOT NULL,
			INDEX idx_episodes_user (user_id, occurred_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: init tables: %w", err)
		}
	}
	return nil
}

// InsertRecord stores a new record.
func (c *Client) InsertRecord(ctx context.Context, rec *memory.Record) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("mysql: insert record: %w", err)
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
		return fmt.Errorf("mysql: insert record: %w", err)
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
		return nil, fmt.Errorf("mysql: get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord fully replaces a record by ID.
func (c *Client) UpdateRecord(ctx context.Context, rec *memory.Record) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("mysql: update record: %w", err)
	}
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
		return fmt.Errorf("mysql: update record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql: update record: %w", err)
	}
	if affected == 0 {
		// MySQL reports zero affected rows for no-op updates too, so
		// distinguish a miss from an identical write.
		var exists int
		checkErr := c.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memories WHERE id = ?", rec.ID).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("mysql: update record: %w", checkErr)
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
	}
	return nil
}

// DeleteRecord removes a record by ID.
func (c *Client) DeleteRecord(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mysql: delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysql: delete record: %w", err)
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
		return nil, fmt.Errorf("mysql: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql: query records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: query records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of stored records.
func (c *Client) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("mysql: count records: %w", err)
	}
	return count, nil
}

// GetNode returns the concept node with the given key.
func (c *Client) GetNode(ctx context.Context, key string) (*graph.Node, error) {
	row := c.db.QueryRowContext(ctx, nodeSelect+" WHERE concept_key = ?", key)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: get node: %w", err)
	}
	return node, nil
}

// UpsertNode inserts or replaces a concept node by its normalized key.
func (c *Client) UpsertNode(ctx context.Context, node *graph.Node) error {
	relations, sources, err := encodeNode(node)
	if err != nil {
		return fmt.Errorf("mysql: upsert node: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO concepts (concept_key, name, description, confidence, relations, sources, created_at, last_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			description = VALUES(description),
			confidence = VALUES(confidence),
			relations = VALUES(relations),
			sources = VALUES(sources),
			last_verified = VALUES(last_verified)`,
		node.Key, node.Name, node.Description, node.Confidence,
		relations, sources, node.CreatedAt, node.LastVerified)
	if err != nil {
		return fmt.Errorf("mysql: upsert node: %w", err)
	}
	return nil
}

// AllNodes returns every stored concept node.
func (c *Client) AllNodes(ctx context.Context) ([]*graph.Node, error) {
	rows, err := c.db.QueryContext(ctx, nodeSelect)
	if err != nil {
		return nil, fmt.Errorf("mysql: all nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*graph.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql: all nodes: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: all nodes: %w", err)
	}
	return nodes, nil
}

// SaveConversation inserts or replaces a conversation by ID.
func (c *Client) SaveConversation(ctx context.Context, conv *conversation.Conversation) error {
	messages, topics, followUps, err := encodeConversation(conv)
	if err != nil {
		return fmt.Errorf("mysql: save conversation: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, messages, summary, key_topics, mood, follow_ups, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			user_id = VALUES(user_id),
			messages = VALUES(messages),
			summary = VALUES(summary),
			key_topics = VALUES(key_topics),
			mood = VALUES(mood),
			follow_ups = VALUES(follow_ups),
			updated_at = VALUES(updated_at)`,
		conv.ID, conv.UserID, messages, conv.Summary, topics, conv.Mood,
		followUps, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("mysql: save conversation: %w", err)
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
		return nil, fmt.Errorf("mysql: get conversation: %w", err)
	}
	return conv, nil
}

// InsertEpisode stores an episode.
func (c *Client) InsertEpisode(ctx context.Context, ep *episodic.Episode) error {
	participants, emotions, err := encodeEpisode(ep)
	if err != nil {
		return fmt.Errorf("mysql: insert episode: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO episodes (id, user_id, event, outcome, participants, location, duration_secs, emotions, success, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.UserID, ep.Event, ep.Outcome, participants, ep.Location,
		int64(ep.Duration.Seconds()), emotions, ep.Success, ep.OccurredAt)
	if err != nil {
		return fmt.Errorf("mysql: insert episode: %w", err)
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
		return nil, fmt.Errorf("mysql: query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []*episodic.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql: query episodes: %w", err)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: query episodes: %w", err)
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
		return nil, fmt.Errorf("mysql: get profile: %w", err)
	}
	return p, nil
}

// SaveProfile inserts or replaces a profile by user ID.
func (c *Client) SaveProfile(ctx context.Context, p *profile.Profile) error {
	traits, err := encodeTraits(p)
	if err != nil {
		return fmt.Errorf("mysql: save profile: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, traits, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			traits = VALUES(traits),
			updated_at = VALUES(updated_at)`,
		p.UserID, traits, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("mysql: save profile: %w", err)
	}
	return nil
}

// UpsertPreference inserts or replaces a preference by its composite key.
func (c *Client) UpsertPreference(ctx context.Context, pref *profile.Preference) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, category, preference, strength, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			strength = VALUES(strength),
			updated_at = VALUES(updated_at)`,
		pref.UserID, pref.Category, pref.Name, pref.Strength, pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("mysql: upsert preference: %w", err)
	}
	return nil
}

// GetPreferences returns all preferences for the user.
func (c *Client) GetPreferences(ctx context.Context, userID string) ([]*profile.Preference, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT user_id, category, preference, strength, updated_at
		FROM preferences WHERE user_id = ? ORDER BY category, preference`, userID)
	if err != nil {
		return nil, fmt.Errorf("mysql: get preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prefs []*profile.Preference
	for rows.Next() {
		pref := &profile.Preference{}
		if err := rows.Scan(&pref.UserID, &pref.Category, &pref.Name, &pref.Strength, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("mysql: get preferences: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: get preferences: %w", err)
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
