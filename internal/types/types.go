// Package types provides common type definitions for the review reconciliation system.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LinkStatus represents the state of a review-chat link
type LinkStatus string

const (
	// LinkStatusOpened represents a link for which the agent has opened the chat
	LinkStatusOpened LinkStatus = "opened"
	// LinkStatusAnchorFound represents a link confirmed by a parsed system message
	LinkStatusAnchorFound LinkStatus = "anchor_found"
	// LinkStatusAnchorNotFound represents a link whose chat carried no usable system message
	LinkStatusAnchorNotFound LinkStatus = "anchor_not_found"
	// LinkStatusMessageSent represents a link whose starter message was delivered
	LinkStatusMessageSent LinkStatus = "message_sent"
	// LinkStatusMessageSkipped represents a link for which the agent decided not to message
	LinkStatusMessageSkipped LinkStatus = "message_skipped"
	// LinkStatusMessageFailed represents a link whose starter message could not be delivered
	LinkStatusMessageFailed LinkStatus = "message_failed"
	// LinkStatusError represents a link on which the agent reported a failure
	LinkStatusError LinkStatus = "error"
)

// IsTerminal reports whether no further automated transition is defined
// from the status. Error links can still be reset by an operator.
func (s LinkStatus) IsTerminal() bool {
	switch s {
	case LinkStatusAnchorNotFound, LinkStatusMessageSent, LinkStatusMessageSkipped,
		LinkStatusMessageFailed, LinkStatusError:
		return true
	default:
		return false
	}
}

// JobStatus represents the status of a complaint backfill job
type JobStatus string

const (
	// JobStatusPending represents a job waiting to be claimed
	JobStatusPending JobStatus = "pending"
	// JobStatusInProgress represents a job claimed by a worker
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusCompleted represents a job that drafted all eligible reviews
	JobStatusCompleted JobStatus = "completed"
	// JobStatusCancelled represents a job cancelled by a user
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusFailed represents a job that could not make any progress
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether the job can no longer be claimed or advanced.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// DraftStatus represents the outcome of drafting a complaint for one review
type DraftStatus string

const (
	// DraftStatusGenerated represents a review with a generated complaint text
	DraftStatusGenerated DraftStatus = "generated"
	// DraftStatusSkipped represents a review given up on after generation kept failing
	DraftStatusSkipped DraftStatus = "skipped"
)

// ChatStatus represents the workflow state of a buyer-seller chat thread
type ChatStatus string

const (
	// ChatStatusInbox represents a chat whose last message came from the buyer
	ChatStatusInbox ChatStatus = "inbox"
	// ChatStatusInProgress represents a chat recently answered by the seller
	ChatStatusInProgress ChatStatus = "in_progress"
	// ChatStatusAwaitingReply represents a chat answered by the seller with no buyer reply for a while
	ChatStatusAwaitingReply ChatStatus = "awaiting_reply"
	// ChatStatusResolved represents a chat marked resolved by the seller
	ChatStatusResolved ChatStatus = "resolved"
	// ChatStatusClosed represents a chat explicitly closed; only user action reopens it
	ChatStatusClosed ChatStatus = "closed"
)

// MessageSender identifies which side of a chat wrote the last message
type MessageSender string

const (
	// SenderClient represents the buyer side of a chat
	SenderClient MessageSender = "client"
	// SenderSeller represents the seller side of a chat
	SenderSeller MessageSender = "seller"
)

// MessageType classifies the starter outreach message by review rating
type MessageType string

const (
	// MessageTypeA is the starter message variant for 1-3 star reviews
	MessageTypeA MessageType = "A"
	// MessageTypeB is the starter message variant for 4 star reviews
	MessageTypeB MessageType = "B"
	// MessageTypeNone means the agent sent no starter message
	MessageTypeNone MessageType = "NONE"
)

// ValidMessageType reports whether t is one of the known starter variants.
func ValidMessageType(t MessageType) bool {
	return t == MessageTypeA || t == MessageTypeB || t == MessageTypeNone
}

// ErrorStage names the agent pipeline stage at which a failure occurred
type ErrorStage string

const (
	// StageChatOpen is a failure while opening the chat thread
	StageChatOpen ErrorStage = "chat_open"
	// StageAnchorParsing is a failure while parsing the chat system message
	StageAnchorParsing ErrorStage = "anchor_parsing"
	// StageMessageSend is a failure while delivering the starter message
	StageMessageSend ErrorStage = "message_send"
)

// ValidErrorStage reports whether s is one of the known agent stages.
func ValidErrorStage(s ErrorStage) bool {
	return s == StageChatOpen || s == StageAnchorParsing || s == StageMessageSend
}

// reviewKeyTimeLayout is the minute-precision layout used in review keys.
// Source systems truncate review timestamps to the minute, so the key
// carries no seconds.
const reviewKeyTimeLayout = "2006-01-02T15:04"

// ReviewKey builds the deterministic natural key for a review observed by the
// agent. No stable cross-system review id exists, so identity is derived from
// product id, rating and the minute-truncated review timestamp, e.g.
// "649502497_1_2026-01-07T20:09".
func ReviewKey(nmID string, rating int, reviewDate time.Time) string {
	return fmt.Sprintf("%s_%d_%s", nmID, rating,
		reviewDate.UTC().Truncate(time.Minute).Format(reviewKeyTimeLayout))
}

// ParseReviewKey splits a review key back into its parts. It is the inverse
// of ReviewKey and is used when a later, more precise signal (a parsed
// product id from the chat anchor) allows retrying review resolution.
func ParseReviewKey(key string) (nmID string, rating int, reviewDate time.Time, err error) {
	// The nm id may itself contain underscores, so split from the right.
	last := strings.LastIndexByte(key, '_')
	if last < 0 {
		return "", 0, time.Time{}, fmt.Errorf("malformed review key: %q", key)
	}
	prev := strings.LastIndexByte(key[:last], '_')
	if prev < 0 {
		return "", 0, time.Time{}, fmt.Errorf("malformed review key: %q", key)
	}

	nmID = key[:prev]
	rating, err = strconv.Atoi(key[prev+1 : last])
	if err != nil || nmID == "" {
		return "", 0, time.Time{}, fmt.Errorf("malformed review key: %q", key)
	}

	reviewDate, err = time.Parse(reviewKeyTimeLayout, key[last+1:])
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed review key: %q", key)
	}
	return nmID, rating, reviewDate.UTC(), nil
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
