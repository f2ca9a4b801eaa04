package types

import "time"

// AgentEvent is an inbound event reported by the browser-extension agent.
// Each event kind is its own variant carrying only the fields valid for that
// kind; the reconciliation service switches on the concrete type.
type AgentEvent interface {
	// Kind returns a stable name for the event, used for audit records.
	Kind() string
	// OccurredAt returns the agent-side timestamp of the event.
	OccurredAt() time.Time
}

// ChatOpened reports that the agent opened (or re-opened) the chat for a review.
type ChatOpened struct {
	StoreID    string
	NmID       string
	Rating     int
	ReviewDate time.Time
	ChatURL    string
	OpenedAt   time.Time
}

func (e ChatOpened) Kind() string          { return "chat_opened" }
func (e ChatOpened) OccurredAt() time.Time { return e.OpenedAt }

// ReviewKey returns the natural key derived from the event's review context.
func (e ChatOpened) ReviewKey() string {
	return ReviewKey(e.NmID, e.Rating, e.ReviewDate)
}

// AnchorFound reports that the agent parsed the chat's embedded system message
// naming the product, confirming which product the chat concerns.
type AnchorFound struct {
	LinkID             string
	SystemMessageText  string
	ParsedNmID         string
	ParsedProductTitle string
	FoundAt            time.Time
}

func (e AnchorFound) Kind() string          { return "anchor_found" }
func (e AnchorFound) OccurredAt() time.Time { return e.FoundAt }

// AnchorNotFound reports that no usable system message was present in the chat.
type AnchorNotFound struct {
	LinkID   string
	SearchAt time.Time
}

func (e AnchorNotFound) Kind() string          { return "anchor_not_found" }
func (e AnchorNotFound) OccurredAt() time.Time { return e.SearchAt }

// MessageOutcome reports the result of the agent's starter message attempt.
type MessageOutcome struct {
	LinkID      string
	Result      LinkStatus // message_sent, message_skipped or message_failed
	MessageType MessageType
	MessageText string
	SentAt      time.Time
}

func (e MessageOutcome) Kind() string          { return "message_outcome" }
func (e MessageOutcome) OccurredAt() time.Time { return e.SentAt }

// ErrorReported records an agent-side failure at a named pipeline stage.
type ErrorReported struct {
	LinkID       string
	ErrorCode    string
	ErrorMessage string
	Stage        ErrorStage
	ReportedAt   time.Time
}

func (e ErrorReported) Kind() string          { return "error_reported" }
func (e ErrorReported) OccurredAt() time.Time { return e.ReportedAt }
