// Package conversation maintains per-conversation message history with
// derived summaries, mood tracking, and follow-up detection.
//
// Derived fields (summary, key topics, mood, follow-ups) are recomputed
// after every append and are never independently authoritative.
package conversation

import (
	"time"
)

// Mood buckets derived from average sentiment of recent messages.
const (
	MoodPositive = "positive"
	MoodNeutral  = "neutral"
	MoodNegative = "negative"
)

// ExtractedInfo holds the analysis results for a single message.
type ExtractedInfo struct {
	// Facts are declarative keyword phrases found in the message.
	Facts []string `json:"facts,omitempty"`

	// Requests are the messages' questions or asks, verbatim.
	Requests []string `json:"requests,omitempty"`

	// Entities are named entities spotted in the message.
	Entities []string `json:"entities,omitempty"`
}

// Message is one entry in a conversation, ordered by append time.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// Role is the speaker: "user", "assistant", or "system".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp is when the message was said.
	Timestamp time.Time `json:"timestamp"`

	// Importance estimates how much the message matters, in [0,1].
	Importance float64 `json:"importance"`

	// Sentiment is the analyzed polarity of the message, in [-1,1].
	Sentiment float64 `json:"sentiment"`

	// Extracted holds per-message analysis results.
	Extracted ExtractedInfo `json:"extracted"`
}

// Conversation is the full memory of one conversation.
type Conversation struct {
	// ID is the conversation identifier (1:1 with the chat session).
	ID string `json:"id"`

	// UserID is the owning user, when known.
	UserID string `json:"user_id,omitempty"`

	// Messages is the ordered message sequence.
	Messages []Message `json:"messages"`

	// Summary is derived from the full message history.
	Summary string `json:"summary"`

	// KeyTopics are the most frequent content terms across messages.
	KeyTopics []string `json:"key_topics,omitempty"`

	// Mood is the bucketed average sentiment of recent messages.
	Mood string `json:"mood"`

	// FollowUps lists detected open items: unanswered questions,
	// incomplete requests, or a negative-mood flag.
	FollowUps []string `json:"follow_ups,omitempty"`

	// CreatedAt is when the first message arrived.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the conversation last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary view returned to callers.
type SummaryResult struct {
	// Summary is the derived conversation summary.
	Summary string

	// ImportantMessages are the messages with the highest importance.
	ImportantMessages []Message

	// FollowUpActions are the detected open items.
	FollowUpActions []string

	// Mood is the current conversation mood bucket.
	Mood string
}
