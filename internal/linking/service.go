// Package linking implements the review-chat reconciliation state machine.
// External events arrive out of order and are retried freely; every handler
// is idempotent on the link's natural key and only ever moves status forward.
package linking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/review-reconciler/internal/logging"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/storage"
	"github.com/review-reconciler/internal/types"
)

// LinkStore is the persistence surface for review-chat links.
type LinkStore interface {
	UpsertOpened(ctx context.Context, link *models.ReviewChatLink) (*models.ReviewChatLink, bool, error)
	GetByID(ctx context.Context, id string) (*models.ReviewChatLink, error)
	GetByReviewKey(ctx context.Context, storeID, reviewKey string) (*models.ReviewChatLink, error)
	SetReviewID(ctx context.Context, id, reviewID string) error
	MarkAnchorFound(ctx context.Context, id string, foundAt time.Time, systemMessageText, parsedNmID, parsedProductTitle *string) (*models.ReviewChatLink, error)
	MarkAnchorNotFound(ctx context.Context, id string, searchAt time.Time) (*models.ReviewChatLink, error)
	MarkMessageOutcome(ctx context.Context, id string, result types.LinkStatus, messageType, messageText *string, sentAt time.Time) (*models.ReviewChatLink, error)
	MarkError(ctx context.Context, id, errorCode, errorMessage string, stage types.ErrorStage) (*models.ReviewChatLink, error)
	ResetError(ctx context.Context, id string) (*models.ReviewChatLink, error)
}

// ReviewMatcher resolves review ids from observed context. Resolution is
// best-effort; a miss returns an empty id without error.
type ReviewMatcher interface {
	MatchByContext(ctx context.Context, storeID, nmID string, rating int, approxDate time.Time, tolerance time.Duration) (string, error)
}

// ChatTracker records last-message metadata for chats touched by the agent.
type ChatTracker interface {
	GetByID(ctx context.Context, chatID string) (*models.Chat, error)
	RecordMessage(ctx context.Context, chatID, storeID string, sender types.MessageSender, sentAt time.Time, status types.ChatStatus) error
}

// StatusDeriver maps last-message metadata to the chat's next status.
type StatusDeriver func(sender types.MessageSender, lastMessageDate, now time.Time, current types.ChatStatus) types.ChatStatus

// Service drives the reconciliation state machine.
type Service struct {
	links          LinkStore
	reviews        ReviewMatcher
	chats          ChatTracker
	cache          *storage.LinkCache
	deriveStatus   StatusDeriver
	matchTolerance time.Duration
	hooks          []PostCommitHook
	logger         *logging.Logger
	now            func() time.Time
}

// Config holds dependencies for the linking service.
type Config struct {
	Links          LinkStore
	Reviews        ReviewMatcher
	Chats          ChatTracker
	Cache          *storage.LinkCache
	DeriveStatus   StatusDeriver
	MatchTolerance time.Duration
	Logger         *logging.Logger
}

// NewService creates the reconciliation service.
func NewService(cfg *Config) (*Service, error) {
	if cfg.Links == nil {
		return nil, fmt.Errorf("link store cannot be nil")
	}
	if cfg.Reviews == nil {
		return nil, fmt.Errorf("review matcher cannot be nil")
	}
	if cfg.DeriveStatus == nil {
		return nil, fmt.Errorf("status deriver cannot be nil")
	}

	tolerance := cfg.MatchTolerance
	if tolerance <= 0 {
		tolerance = 90 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Service{
		links:          cfg.Links,
		reviews:        cfg.Reviews,
		chats:          cfg.Chats,
		cache:          cfg.Cache,
		deriveStatus:   cfg.DeriveStatus,
		matchTolerance: tolerance,
		logger:         logger,
		now:            time.Now,
	}, nil
}

// AddHook registers a post-commit hook. Hooks run synchronously after every
// successfully handled event, in registration order; a failing hook is logged
// and never fails the event.
func (s *Service) AddHook(hook PostCommitHook) {
	s.hooks = append(s.hooks, hook)
}

// HandleChatOpened creates the link for a review context or returns the
// existing one untouched. The boolean reports whether a row was created,
// which the API maps to 201 vs 200.
func (s *Service) HandleChatOpened(ctx context.Context, ev types.ChatOpened) (*models.ReviewChatLink, bool, error) {
	reviewKey := ev.ReviewKey()

	// Duplicate opens are the common case on agent retry; serve them from the
	// cache without touching Postgres.
	if s.cache != nil {
		if cached := s.cache.Get(ctx, ev.StoreID, reviewKey); cached != nil {
			return cached, false, nil
		}
	}

	link := &models.ReviewChatLink{
		ID:        uuid.New().String(),
		StoreID:   ev.StoreID,
		ReviewKey: reviewKey,
		ChatURL:   ev.ChatURL,
		Status:    types.LinkStatusOpened,
		OpenedAt:  ev.OpenedAt,
	}

	// Both resolutions are best-effort; a miss leaves the field null.
	if reviewID, err := s.reviews.MatchByContext(ctx, ev.StoreID, ev.NmID, ev.Rating, ev.ReviewDate, s.matchTolerance); err != nil {
		s.logger.WithError(err).WithField("reviewKey", reviewKey).Warn("context review match failed")
	} else if reviewID != "" {
		link.ReviewID = &reviewID
	}
	if chatID := ExtractChatID(ev.ChatURL); chatID != "" {
		link.ChatID = &chatID
	}

	stored, created, err := s.links.UpsertOpened(ctx, link)
	if err != nil {
		return nil, false, err
	}

	s.runHooks(ctx, stored, ev)
	return stored, created, nil
}

// HandleAnchorFound confirms the link with parsed system-message evidence and
// retries review resolution with the more precise product id. This is the
// primary recovery path for reviews that could not be matched from context.
func (s *Service) HandleAnchorFound(ctx context.Context, ev types.AnchorFound) (*models.ReviewChatLink, error) {
	link, err := s.links.GetByID(ctx, ev.LinkID)
	if err != nil {
		return nil, err
	}

	switch link.Status {
	case types.LinkStatusOpened:
		// fall through to the transition below
	case types.LinkStatusAnchorFound,
		types.LinkStatusMessageSent, types.LinkStatusMessageSkipped, types.LinkStatusMessageFailed:
		// Redelivery of an event the link already passed; return unchanged.
		s.runHooks(ctx, link, ev)
		return link, nil
	default:
		return nil, storage.ErrInvalidTransition
	}

	if link.ReviewID == nil && ev.ParsedNmID != "" {
		s.rematchFromAnchor(ctx, link, ev.ParsedNmID)
	}

	updated, err := s.links.MarkAnchorFound(ctx, link.ID, ev.FoundAt,
		optional(ev.SystemMessageText), optional(ev.ParsedNmID), optional(ev.ParsedProductTitle))
	if err != nil {
		return nil, err
	}

	s.runHooks(ctx, updated, ev)
	return updated, nil
}

// HandleAnchorNotFound finalizes a link whose chat carried no usable system
// message. The status is terminal; no automated action follows.
func (s *Service) HandleAnchorNotFound(ctx context.Context, ev types.AnchorNotFound) (*models.ReviewChatLink, error) {
	link, err := s.links.GetByID(ctx, ev.LinkID)
	if err != nil {
		return nil, err
	}

	switch link.Status {
	case types.LinkStatusOpened:
	case types.LinkStatusAnchorNotFound:
		s.runHooks(ctx, link, ev)
		return link, nil
	default:
		return nil, storage.ErrInvalidTransition
	}

	updated, err := s.links.MarkAnchorNotFound(ctx, link.ID, ev.SearchAt)
	if err != nil {
		return nil, err
	}

	s.runHooks(ctx, updated, ev)
	return updated, nil
}

// HandleMessageOutcome finalizes the starter message attempt with one of the
// three terminal outcomes and, on delivery, feeds the chat's last-message
// metadata through the status deriver.
func (s *Service) HandleMessageOutcome(ctx context.Context, ev types.MessageOutcome) (*models.ReviewChatLink, error) {
	switch ev.Result {
	case types.LinkStatusMessageSent, types.LinkStatusMessageSkipped, types.LinkStatusMessageFailed:
	default:
		return nil, fmt.Errorf("invalid message outcome %q", ev.Result)
	}

	link, err := s.links.GetByID(ctx, ev.LinkID)
	if err != nil {
		return nil, err
	}

	switch link.Status {
	case types.LinkStatusAnchorFound:
	case ev.Result:
		s.runHooks(ctx, link, ev)
		return link, nil
	default:
		return nil, storage.ErrInvalidTransition
	}

	var messageType *string
	if ev.MessageType != "" {
		mt := string(ev.MessageType)
		messageType = &mt
	}

	updated, err := s.links.MarkMessageOutcome(ctx, link.ID, ev.Result, messageType, optional(ev.MessageText), ev.SentAt)
	if err != nil {
		return nil, err
	}

	if ev.Result == types.LinkStatusMessageSent && updated.ChatID != nil && s.chats != nil {
		s.touchChat(ctx, updated, ev.SentAt)
	}

	s.runHooks(ctx, updated, ev)
	return updated, nil
}

// HandleError records an agent-reported failure verbatim. The link stays in
// error until an operator resets it; nothing retries automatically.
func (s *Service) HandleError(ctx context.Context, ev types.ErrorReported) (*models.ReviewChatLink, error) {
	if !types.ValidErrorStage(ev.Stage) {
		return nil, fmt.Errorf("invalid error stage %q", ev.Stage)
	}

	link, err := s.links.GetByID(ctx, ev.LinkID)
	if err != nil {
		return nil, err
	}

	switch link.Status {
	case types.LinkStatusOpened, types.LinkStatusAnchorFound:
	case types.LinkStatusError:
		s.runHooks(ctx, link, ev)
		return link, nil
	default:
		return nil, storage.ErrInvalidTransition
	}

	updated, err := s.links.MarkError(ctx, link.ID, ev.ErrorCode, ev.ErrorMessage, ev.Stage)
	if err != nil {
		return nil, err
	}

	s.runHooks(ctx, updated, ev)
	return updated, nil
}

// Reset is the administrative transition for errored links: back to opened
// with error fields cleared, then a fresh context match attempt.
func (s *Service) Reset(ctx context.Context, linkID string) (*models.ReviewChatLink, error) {
	updated, err := s.links.ResetError(ctx, linkID)
	if err != nil {
		return nil, err
	}

	if updated.ReviewID == nil {
		if nmID, rating, reviewDate, err := types.ParseReviewKey(updated.ReviewKey); err == nil {
			if reviewID, merr := s.reviews.MatchByContext(ctx, updated.StoreID, nmID, rating, reviewDate, s.matchTolerance); merr == nil && reviewID != "" {
				if err := s.links.SetReviewID(ctx, updated.ID, reviewID); err == nil {
					updated.ReviewID = &reviewID
				}
			}
		}
	}

	s.runHooks(ctx, updated, nil)
	return updated, nil
}

// GetLink retrieves a link by id.
func (s *Service) GetLink(ctx context.Context, linkID string) (*models.ReviewChatLink, error) {
	return s.links.GetByID(ctx, linkID)
}

// rematchFromAnchor retries review resolution using the anchor's parsed
// product id together with the rating and timestamp embedded in the key.
func (s *Service) rematchFromAnchor(ctx context.Context, link *models.ReviewChatLink, parsedNmID string) {
	_, rating, reviewDate, err := types.ParseReviewKey(link.ReviewKey)
	if err != nil {
		s.logger.WithError(err).WithField("linkId", link.ID).Warn("cannot rematch, review key unparsable")
		return
	}

	reviewID, err := s.reviews.MatchByContext(ctx, link.StoreID, parsedNmID, rating, reviewDate, s.matchTolerance)
	if err != nil {
		s.logger.WithError(err).WithField("linkId", link.ID).Warn("anchor review match failed")
		return
	}
	if reviewID == "" {
		return
	}

	if err := s.links.SetReviewID(ctx, link.ID, reviewID); err != nil {
		s.logger.WithError(err).WithField("linkId", link.ID).Warn("failed to store matched review id")
		return
	}
	link.ReviewID = &reviewID
}

// touchChat records the delivered starter message on the chat and re-derives
// its status. Failures are logged; chat tracking never fails the event.
func (s *Service) touchChat(ctx context.Context, link *models.ReviewChatLink, sentAt time.Time) {
	current := types.ChatStatusInbox
	if chat, err := s.chats.GetByID(ctx, *link.ChatID); err == nil {
		current = chat.Status
	}

	status := s.deriveStatus(types.SenderSeller, sentAt, s.now(), current)
	if err := s.chats.RecordMessage(ctx, *link.ChatID, link.StoreID, types.SenderSeller, sentAt, status); err != nil {
		s.logger.WithError(err).WithField("chatId", *link.ChatID).Warn("failed to record chat message")
	}
}

func (s *Service) runHooks(ctx context.Context, link *models.ReviewChatLink, ev types.AgentEvent) {
	for _, hook := range s.hooks {
		if err := hook(ctx, link, ev); err != nil {
			s.logger.WithError(err).WithField("linkId", link.ID).Warn("post-commit hook failed")
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
