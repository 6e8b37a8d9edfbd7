package model

// Author tags who produced a chat message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
	AuthorSystem    Author = "system"
)

// SystemMessageType classifies locally synthesized system messages.
type SystemMessageType string

const (
	SystemMessageFeedback SystemMessageType = "feedback"
)

// View is the enumerated state of the assistant modal surface.
type View string

const (
	ViewClosed    View = "closed"
	ViewMinimized View = "minimized"
	ViewNewChat   View = "new_chat"
	ViewChat      View = "chat"
	ViewDiscover  View = "discover"
	ViewRegister  View = "register"
	ViewSearch    View = "search"
)

// IsOpen reports whether the view belongs to the open-class partition.
// Closed and minimized are the closed-class views; everything else shows
// the full modal surface.
func (v View) IsOpen() bool {
	switch v {
	case ViewClosed, ViewMinimized:
		return false
	}
	return true
}

// ConnectionStatus describes the state of the streaming transport link.
type ConnectionStatus string

const (
	ConnectionNotAttempted ConnectionStatus = "not_attempted"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionFailed       ConnectionStatus = "failed"
)

// Thread stores metadata about a conversation session. Threads are kept
// most-recent-first for the lifetime of the session.
type Thread struct {
	ID                 int64  `json:"id"`
	Title              string `json:"title"`
	Rating             *int   `json:"rating,omitempty"` // nil = unrated
	NrOfUnreadMessages int    `json:"nr_of_unread_messages"`
}

// AnswerSource is a reference link attached to an assistant answer.
type AnswerSource struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Rank  int    `json:"rank,omitempty"`
}

// ChatMessage is a single message in a thread. The Author field tags the
// union: assistant messages carry Sources, Rating and
// IsGenerationFinished; system messages carry SystemType. User and
// assistant ids are server-issued; system ids are negative and locally
// generated.
type ChatMessage struct {
	ID       int64  `json:"id"`
	ThreadID int64  `json:"thread_id"`
	Author   Author `json:"author"`
	Text     string `json:"text"`

	Sources              []AnswerSource `json:"sources,omitempty"`
	Rating               *bool          `json:"rating,omitempty"`
	IsGenerationFinished bool           `json:"is_generation_finished,omitempty"`

	SystemType SystemMessageType `json:"system_type,omitempty"`
}

// IsFeedbackPrompt reports whether the message is a locally synthesized
// feedback request.
func (m ChatMessage) IsFeedbackPrompt() bool {
	return m.Author == AuthorSystem && m.SystemType == SystemMessageFeedback
}

// DiscoverQuestion is a suggested question shown on the discover view.
type DiscoverQuestion struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	ClickCount int    `json:"click_count"`
}
