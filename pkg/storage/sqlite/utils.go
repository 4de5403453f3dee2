package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engramlabs/engram-go/pkg/conversation"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/profile"
	"github.com/engramlabs/engram-go/pkg/storage"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

const recordSelect = `
	SELECT id, type, content, importance, confidence, embedding, tags,
	       relationships, created_at, last_accessed, access_count, source,
	       ctx_user_id, ctx_conversation_id, ctx_workspace_id, ctx_session_id,
	       ctx_timestamp, ctx_entities, metadata
	FROM memories`

const nodeSelect = `
	SELECT key, name, description, confidence, relations, sources,
	       created_at, last_verified
	FROM concepts`

const conversationSelect = `
	SELECT id, user_id, messages, summary, key_topics, mood, follow_ups,
	       created_at, updated_at
	FROM conversations`

const episodeSelect = `
	SELECT id, user_id, event, outcome, participants, location,
	       duration_secs, emotions, success, occurred_at
	FROM episodes`

// encodeRecord flattens a record into the column value order used by
// both INSERT and UPDATE (ID first).
func encodeRecord(rec *memory.Record) ([]interface{}, error) {
	embedding, err := marshalField(rec.Embedding)
	if err != nil {
		return nil, err
	}
	tags, err := marshalField(rec.Tags)
	if err != nil {
		return nil, err
	}
	relationships, err := marshalField(rec.Relationships)
	if err != nil {
		return nil, err
	}
	source, err := marshalField(rec.Source)
	if err != nil {
		return nil, err
	}
	entities, err := marshalField(rec.Context.RelevantEntities)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalField(rec.Metadata)
	if err != nil {
		return nil, err
	}

	var ctxTimestamp interface{}
	if !rec.Context.Timestamp.IsZero() {
		ctxTimestamp = rec.Context.Timestamp
	}

	return []interface{}{
		rec.ID, string(rec.Type), rec.Content, rec.Importance, rec.Confidence,
		embedding, tags, relationships, rec.CreatedAt, rec.LastAccessed,
		rec.AccessCount, source,
		rec.Context.UserID, rec.Context.ConversationID,
		rec.Context.WorkspaceID, rec.Context.SessionID,
		ctxTimestamp, entities, metadata,
	}, nil
}

func scanRecord(s scanner) (*memory.Record, error) {
	rec := &memory.Record{}
	var (
		recType      string
		embedding    sql.NullString
		tags         sql.NullString
		relations    sql.NullString
		source       sql.NullString
		entities     sql.NullString
		metadata     sql.NullString
		ctxTimestamp sql.NullTime
	)
	err := s.Scan(
		&rec.ID, &recType, &rec.Content, &rec.Importance, &rec.Confidence,
		&embedding, &tags, &relations, &rec.CreatedAt, &rec.LastAccessed,
		&rec.AccessCount, &source,
		&rec.Context.UserID, &rec.Context.ConversationID,
		&rec.Context.WorkspaceID, &rec.Context.SessionID,
		&ctxTimestamp, &entities, &metadata,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = memory.Type(recType)
	if ctxTimestamp.Valid {
		rec.Context.Timestamp = ctxTimestamp.Time
	}
	if err := unmarshalField(embedding, &rec.Embedding); err != nil {
		return nil, err
	}
	if err := unmarshalField(tags, &rec.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalField(relations, &rec.Relationships); err != nil {
		return nil, err
	}
	if err := unmarshalField(source, &rec.Source); err != nil {
		return nil, err
	}
	if err := unmarshalField(entities, &rec.Context.RelevantEntities); err != nil {
		return nil, err
	}
	if err := unmarshalField(metadata, &rec.Metadata); err != nil {
		return nil, err
	}
	return rec, nil
}

// buildRecordWhere turns query options into a WHERE clause and its
// arguments. Zero-valued options add no predicate.
func buildRecordWhere(opts *storage.QueryOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !opts.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, opts.Since)
	}
	if !opts.Until.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, opts.Until)
	}
	if opts.MinImportance > 0 {
		clauses = append(clauses, "importance >= ?")
		args = append(args, opts.MinImportance)
	}
	if opts.UserID != "" {
		clauses = append(clauses, "ctx_user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.ConversationID != "" {
		clauses = append(clauses, "ctx_conversation_id = ?")
		args = append(args, opts.ConversationID)
	}
	if opts.WorkspaceID != "" {
		clauses = append(clauses, "ctx_workspace_id = ?")
		args = append(args, opts.WorkspaceID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func encodeNode(node *graph.Node) (string, string, error) {
	relations, err := marshalField(node.Relations)
	if err != nil {
		return "", "", err
	}
	sources, err := marshalField(node.Sources)
	if err != nil {
		return "", "", err
	}
	return relations, sources, nil
}

func scanNode(s scanner) (*graph.Node, error) {
	node := &graph.Node{}
	var description, relations, sources sql.NullString
	err := s.Scan(&node.Key, &node.Name, &description, &node.Confidence,
		&relations, &sources, &node.CreatedAt, &node.LastVerified)
	if err != nil {
		return nil, err
	}
	node.Description = description.String
	if err := unmarshalField(relations, &node.Relations); err != nil {
		return nil, err
	}
	if err := unmarshalField(sources, &node.Sources); err != nil {
		return nil, err
	}
	return node, nil
}

func encodeConversation(conv *conversation.Conversation) (string, string, string, error) {
	messages, err := marshalField(conv.Messages)
	if err != nil {
		return "", "", "", err
	}
	topics, err := marshalField(conv.KeyTopics)
	if err != nil {
		return "", "", "", err
	}
	followUps, err := marshalField(conv.FollowUps)
	if err != nil {
		return "", "", "", err
	}
	return messages, topics, followUps, nil
}

func scanConversation(s scanner) (*conversation.Conversation, error) {
	conv := &conversation.Conversation{}
	var userID, messages, summary, topics, mood, followUps sql.NullString
	err := s.Scan(&conv.ID, &userID, &messages, &summary, &topics, &mood,
		&followUps, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	conv.UserID = userID.String
	conv.Summary = summary.String
	conv.Mood = mood.String
	if err := unmarshalField(messages, &conv.Messages); err != nil {
		return nil, err
	}
	if err := unmarshalField(topics, &conv.KeyTopics); err != nil {
		return nil, err
	}
	if err := unmarshalField(followUps, &conv.FollowUps); err != nil {
		return nil, err
	}
	return conv, nil
}

func encodeEpisode(ep *episodic.Episode) (string, string, error) {
	participants, err := marshalField(ep.Participants)
	if err != nil {
		return "", "", err
	}
	emotions, err := marshalField(ep.Emotions)
	if err != nil {
		return "", "", err
	}
	return participants, emotions, nil
}

func scanEpisode(s scanner) (*episodic.Episode, error) {
	ep := &episodic.Episode{}
	var outcome, participants, location, emotions sql.NullString
	var durationSecs int64
	var success int
	err := s.Scan(&ep.ID, &ep.UserID, &ep.Event, &outcome, &participants,
		&location, &durationSecs, &emotions, &success, &ep.OccurredAt)
	if err != nil {
		return nil, err
	}
	ep.Outcome = outcome.String
	ep.Location = location.String
	ep.Duration = time.Duration(durationSecs) * time.Second
	ep.Success = success != 0
	if err := unmarshalField(participants, &ep.Participants); err != nil {
		return nil, err
	}
	if err := unmarshalField(emotions, &ep.Emotions); err != nil {
		return nil, err
	}
	return ep, nil
}

func scanProfile(s scanner) (*profile.Profile, error) {
	p := &profile.Profile{}
	var traits sql.NullString
	if err := s.Scan(&p.UserID, &traits, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalField(traits, &p.Traits); err != nil {
		return nil, err
	}
	if p.Traits == nil {
		p.Traits = make(map[string]float64)
	}
	return p, nil
}

func encodeTraits(p *profile.Profile) (string, error) {
	return marshalField(p.Traits)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalField(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal field: %w", err)
	}
	return string(data), nil
}

func unmarshalField(raw sql.NullString, target interface{}) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), target); err != nil {
		return fmt.Errorf("unmarshal field: %w", err)
	}
	return nil
}
