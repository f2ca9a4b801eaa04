// Package chatstatus derives a chat's workflow status from its last-message
// metadata. The derivation is pure and idempotent, which is what makes both
// the reactive path and the periodic full-table correction pass safe.
package chatstatus

import (
	"time"

	"github.com/review-reconciler/internal/types"
)

// AwaitingReplyAfter is how long a seller message may sit unanswered before
// the chat is considered awaiting a buyer reply.
const AwaitingReplyAfter = 48 * time.Hour

// Derive maps (last message sender, last message age, current status) to the
// next status. Closed is sticky: only an explicit user action reopens a chat.
func Derive(lastSender types.MessageSender, lastMessageAge time.Duration, current types.ChatStatus) types.ChatStatus {
	if current == types.ChatStatusClosed {
		return types.ChatStatusClosed
	}

	if lastSender == types.SenderClient {
		return types.ChatStatusInbox
	}

	if lastMessageAge < AwaitingReplyAfter {
		return types.ChatStatusInProgress
	}
	return types.ChatStatusAwaitingReply
}

// DeriveAt is Derive with the age computed against now.
func DeriveAt(lastSender types.MessageSender, lastMessageDate, now time.Time, current types.ChatStatus) types.ChatStatus {
	return Derive(lastSender, now.Sub(lastMessageDate), current)
}
