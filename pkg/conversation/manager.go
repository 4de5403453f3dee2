package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramlabs/engram-go/pkg/analysis"
)

// ErrNotFound indicates the conversation does not exist yet.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations. The manager reads through it and writes
// back after every append.
type Store interface {
	// SaveConversation inserts or fully replaces a conversation by ID.
	SaveConversation(ctx context.Context, conv *Conversation) error

	// GetConversation returns the conversation with the given ID, or
	// ErrNotFound (possibly wrapped).
	GetConversation(ctx context.Context, id string) (*Conversation, error)
}

// moodWindow is how many trailing messages feed the mood average;
// moodThreshold buckets the average at +/-0.3.
const (
	moodWindow    = 10
	moodThreshold = 0.3
)

// requestVerbs mark messages that ask the assistant to do something.
var requestVerbs = []string{"please", "can you", "could you", "would you", "help me", "i need", "i want"}

// Manager owns conversation memories.
//
// Appends to the same conversation are serialized so summary and mood
// always derive from the full ordered history. Conversations are created
// lazily on first message and compressed but never hard-deleted.
type Manager struct {
	store Store

	// mu serializes appends. Per-conversation ordering is the actual
	// requirement; a single mutex satisfies it and keeps the read-
	// modify-write against the store race free.
	mu sync.Mutex
}

// NewManager creates a conversation manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// AddMessage appends a message to the conversation, creating it lazily,
// and recomputes all derived fields.
func (m *Manager) AddMessage(ctx context.Context, conversationID, role, content string, timestamp time.Time) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	if role == "" || content == "" {
		return errors.New("role and content are required")
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		conv = &Conversation{
			ID:        conversationID,
			CreatedAt: timestamp,
		}
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
		Sentiment: analysis.Sentiment(content),
		Extracted: extractInfo(role, content),
	}
	msg.Importance = messageImportance(msg)
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = timestamp

	recompute(conv)

	return m.store.SaveConversation(ctx, conv)
}

// Get returns the conversation, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	return m.store.GetConversation(ctx, conversationID)
}

// Summarize returns the derived summary view of a conversation.
func (m *Manager) Summarize(ctx context.Context, conversationID string) (*SummaryResult, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	important := make([]Message, len(conv.Messages))
	copy(important, conv.Messages)
	sort.SliceStable(important, func(i, j int) bool {
		return important[i].Importance > important[j].Importance
	})
	if len(important) > 5 {
		important = important[:5]
	}

	return &SummaryResult{
		Summary:           conv.Summary,
		ImportantMessages: important,
		FollowUpActions:   append([]string(nil), conv.FollowUps...),
		Mood:              conv.Mood,
	}, nil
}

// recompute refreshes all derived fields from the full ordered history.
func recompute(conv *Conversation) {
	conv.Summary = deriveSummary(conv)
	conv.KeyTopics = deriveTopics(conv)
	conv.Mood = deriveMood(conv.Messages)
	conv.FollowUps = deriveFollowUps(conv)
}

func deriveSummary(conv *Conversation) string {
	var userCount, assistantCount int
	var facts, requests, entities []string
	for _, msg := range conv.Messages {
		switch msg.Role {
		case "user":
			userCount++
		case "assistant":
			assistantCount++
		}
		facts = append(facts, msg.Extracted.Facts...)
		requests = append(requests, msg.Extracted.Requests...)
		entities = append(entities, msg.Extracted.Entities...)
	}

	parts := []string{
		fmt.Sprintf("%d user and %d assistant messages", userCount, assistantCount),
	}
	if len(facts) > 0 {
		parts = append(parts, fmt.Sprintf("%d facts noted", len(facts)))
	}
	if len(requests) > 0 {
		parts = append(parts, fmt.Sprintf("%d requests", len(requests)))
	}
	if unique := dedupe(entities); len(unique) > 0 {
		if len(unique) > 5 {
			unique = unique[:5]
		}
		parts = append(parts, "mentions: "+strings.Join(unique, ", "))
	}
	return strings.Join(parts, "; ")
}

func deriveTopics(conv *Conversation) []string {
	var b strings.Builder
	for _, msg := range conv.Messages {
		b.WriteString(msg.Content)
		b.WriteString(" ")
	}
	return analysis.Topics(b.String(), 8)
}

// deriveMood averages sentiment over the trailing window and buckets it.
func deriveMood(messages []Message) string {
	if len(messages) == 0 {
		return MoodNeutral
	}
	start := 0
	if len(messages) > moodWindow {
		start = len(messages) - moodWindow
	}
	var sum float64
	for _, msg := range messages[start:] {
		sum += msg.Sentiment
	}
	avg := sum / float64(len(messages)-start)
	switch {
	case avg > moodThreshold:
		return MoodPositive
	case avg < -moodThreshold:
		return MoodNegative
	default:
		return MoodNeutral
	}
}

// deriveFollowUps flags unanswered questions, incomplete requests, and a
// negative mood.
func deriveFollowUps(conv *Conversation) []string {
	var followUps []string

	for i, msg := range conv.Messages {
		if msg.Role != "user" {
			continue
		}
		answered := false
		for _, later := range conv.Messages[i+1:] {
			if later.Role == "assistant" {
				answered = true
				break
			}
		}
		if answered {
			continue
		}
		if len(msg.Extracted.Requests) > 0 {
			for _, req := range msg.Extracted.Requests {
				followUps = append(followUps, "open request: "+req)
			}
		} else if strings.Contains(msg.Content, "?") {
			followUps = append(followUps, "unanswered question: "+firstSentence(msg.Content))
		}
	}

	if deriveMood(conv.Messages) == MoodNegative {
		followUps = append(followUps, "conversation mood is negative; consider checking in")
	}

	return followUps
}

// extractInfo pulls facts, requests, and entities out of one message.
func extractInfo(role, content string) ExtractedInfo {
	info := ExtractedInfo{
		Entities: analysis.Entities(content),
	}

	for _, sentence := range analysis.Sentences(content) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}
		if strings.HasSuffix(trimmed, "?") {
			info.Requests = append(info.Requests, trimmed)
			continue
		}
		if role == "user" && isRequest(strings.ToLower(trimmed)) {
			info.Requests = append(info.Requests, trimmed)
			continue
		}
		// Declarative sentences with content words count as facts.
		if len(analysis.Keywords(trimmed)) >= 2 {
			info.Facts = append(info.Facts, trimmed)
		}
	}
	return info
}

func isRequest(lower string) bool {
	for _, verb := range requestVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// messageImportance scores a message from its signals: requests and
// entity mentions matter more, strong sentiment matters some.
func messageImportance(msg Message) float64 {
	score := 0.3
	if len(msg.Extracted.Requests) > 0 {
		score += 0.3
	}
	if len(msg.Extracted.Entities) > 0 {
		score += 0.2
	}
	if msg.Sentiment > 0.5 || msg.Sentiment < -0.5 {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func firstSentence(text string) string {
	sentences := analysis.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	return sentences[0]
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
