package message

import "strings"

// Scene is the conversation kind a message arrived in.
type Scene string

const (
	SceneGroup   Scene = "group"
	ScenePrivate Scene = "private"
	SceneUnknown Scene = "unknown"
)

// Message is an inbound chat message as seen by the decision engine.
type Message struct {
	ID         string `json:"id,omitempty"`
	Scene      Scene  `json:"scene"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	GroupID    string `json:"group_id,omitempty"` // empty for private chats
	Text       string `json:"text,omitempty"`
	Summary    string `json:"summary,omitempty"` // platform-rendered summary (e.g. "[image]"), used when Text is empty
	Time       string `json:"time,omitempty"`
}

// IsGroup reports whether the message came from a group conversation.
func (m Message) IsGroup() bool { return m.Scene == SceneGroup }

// GateText is the text the gate evaluates: Text, falling back to Summary, trimmed.
func (m Message) GateText() string {
	if t := strings.TrimSpace(m.Text); t != "" {
		return t
	}
	return strings.TrimSpace(m.Summary)
}

// SceneOrUnknown normalizes an empty scene.
func (m Message) SceneOrUnknown() Scene {
	if m.Scene == "" {
		return SceneUnknown
	}
	return m.Scene
}

// RecentMessage is one entry of a sender or group history window.
type RecentMessage struct {
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text"`
	Time       string `json:"time,omitempty"`
}

// Signals are the orchestrator-computed facts about a message. Counters are
// owned by the caller; the engine only reads them.
type Signals struct {
	MentionedByAt           bool     `json:"mentioned_by_at,omitempty"`
	MentionedByName         bool     `json:"mentioned_by_name,omitempty"`
	MentionedNames          []string `json:"mentioned_names,omitempty"`
	IsFollowupAfterBotReply bool     `json:"is_followup_after_bot_reply,omitempty"`

	SenderFatigue          float64 `json:"sender_fatigue,omitempty"` // [0,1]
	GroupFatigue           float64 `json:"group_fatigue,omitempty"`  // [0,1]
	SenderReplyCountWindow float64 `json:"sender_reply_count_window,omitempty"`
	GroupReplyCountWindow  float64 `json:"group_reply_count_window,omitempty"`

	SenderLastReplyAgeSec *float64 `json:"sender_last_reply_age_sec,omitempty"`
	GroupLastReplyAgeSec  *float64 `json:"group_last_reply_age_sec,omitempty"`
	ActiveTaskCount       *int     `json:"active_task_count,omitempty"`
}

// History carries the optional recent-message windows for a decision.
type History struct {
	SenderRecent []RecentMessage `json:"sender_recent_messages,omitempty"`
	GroupRecent  []RecentMessage `json:"group_recent_messages,omitempty"`
}
