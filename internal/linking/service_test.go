package linking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/review-reconciler/internal/chatstatus"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/storage"
	"github.com/review-reconciler/internal/types"
)

type fakeLinkStore struct {
	byID  map[string]*models.ReviewChatLink
	byKey map[string]*models.ReviewChatLink
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{
		byID:  make(map[string]*models.ReviewChatLink),
		byKey: make(map[string]*models.ReviewChatLink),
	}
}

func (f *fakeLinkStore) key(storeID, reviewKey string) string { return storeID + "|" + reviewKey }

func (f *fakeLinkStore) UpsertOpened(ctx context.Context, link *models.ReviewChatLink) (*models.ReviewChatLink, bool, error) {
	k := f.key(link.StoreID, link.ReviewKey)
	if existing, ok := f.byKey[k]; ok {
		return existing, false, nil
	}
	cp := *link
	f.byID[cp.ID] = &cp
	f.byKey[k] = &cp
	return &cp, true, nil
}

func (f *fakeLinkStore) GetByID(ctx context.Context, id string) (*models.ReviewChatLink, error) {
	link, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (f *fakeLinkStore) GetByReviewKey(ctx context.Context, storeID, reviewKey string) (*models.ReviewChatLink, error) {
	link, ok := f.byKey[f.key(storeID, reviewKey)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (f *fakeLinkStore) SetReviewID(ctx context.Context, id, reviewID string) error {
	link, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if link.ReviewID == nil {
		link.ReviewID = &reviewID
	}
	return nil
}

func (f *fakeLinkStore) mutate(id string, from []types.LinkStatus, fn func(*models.ReviewChatLink)) (*models.ReviewChatLink, error) {
	link, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if link.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, storage.ErrInvalidTransition
	}
	fn(link)
	cp := *link
	return &cp, nil
}

func (f *fakeLinkStore) MarkAnchorFound(ctx context.Context, id string, foundAt time.Time, systemMessageText, parsedNmID, parsedProductTitle *string) (*models.ReviewChatLink, error) {
	return f.mutate(id, []types.LinkStatus{types.LinkStatusOpened}, func(l *models.ReviewChatLink) {
		l.Status = types.LinkStatusAnchorFound
		l.AnchorFoundAt = &foundAt
		l.SystemMessageText = systemMessageText
		l.ParsedNmID = parsedNmID
		l.ParsedProductTitle = parsedProductTitle
	})
}

func (f *fakeLinkStore) MarkAnchorNotFound(ctx context.Context, id string, searchAt time.Time) (*models.ReviewChatLink, error) {
	return f.mutate(id, []types.LinkStatus{types.LinkStatusOpened}, func(l *models.ReviewChatLink) {
		l.Status = types.LinkStatusAnchorNotFound
	})
}

func (f *fakeLinkStore) MarkMessageOutcome(ctx context.Context, id string, result types.LinkStatus, messageType, messageText *string, sentAt time.Time) (*models.ReviewChatLink, error) {
	return f.mutate(id, []types.LinkStatus{types.LinkStatusAnchorFound}, func(l *models.ReviewChatLink) {
		l.Status = result
		l.MessageType = messageType
		l.MessageText = messageText
		l.MessageSentAt = &sentAt
	})
}

func (f *fakeLinkStore) MarkError(ctx context.Context, id, errorCode, errorMessage string, stage types.ErrorStage) (*models.ReviewChatLink, error) {
	return f.mutate(id, []types.LinkStatus{types.LinkStatusOpened, types.LinkStatusAnchorFound}, func(l *models.ReviewChatLink) {
		l.Status = types.LinkStatusError
		l.ErrorCode = &errorCode
		l.ErrorMessage = &errorMessage
		s := string(stage)
		l.ErrorStage = &s
	})
}

func (f *fakeLinkStore) ResetError(ctx context.Context, id string) (*models.ReviewChatLink, error) {
	return f.mutate(id, []types.LinkStatus{types.LinkStatusError}, func(l *models.ReviewChatLink) {
		l.Status = types.LinkStatusOpened
		l.ErrorCode = nil
		l.ErrorMessage = nil
		l.ErrorStage = nil
	})
}

type fakeMatcher struct {
	reviewID string
	err      error
	calls    int
	lastNmID string
}

func (m *fakeMatcher) MatchByContext(ctx context.Context, storeID, nmID string, rating int, approxDate time.Time, tolerance time.Duration) (string, error) {
	m.calls++
	m.lastNmID = nmID
	return m.reviewID, m.err
}

type fakeChats struct {
	statuses map[string]types.ChatStatus
	recorded map[string]time.Time
}

func newFakeChats() *fakeChats {
	return &fakeChats{
		statuses: make(map[string]types.ChatStatus),
		recorded: make(map[string]time.Time),
	}
}

func (c *fakeChats) GetByID(ctx context.Context, chatID string) (*models.Chat, error) {
	status, ok := c.statuses[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &models.Chat{ID: chatID, Status: status}, nil
}

func (c *fakeChats) RecordMessage(ctx context.Context, chatID, storeID string, sender types.MessageSender, sentAt time.Time, status types.ChatStatus) error {
	c.statuses[chatID] = status
	c.recorded[chatID] = sentAt
	return nil
}

func newTestService(t *testing.T, links *fakeLinkStore, matcher *fakeMatcher, chats *fakeChats) *Service {
	t.Helper()
	svc, err := NewService(&Config{
		Links:          links,
		Reviews:        matcher,
		Chats:          chats,
		DeriveStatus:   chatstatus.DeriveAt,
		MatchTolerance: 90 * time.Second,
	})
	require.NoError(t, err)
	return svc
}

func openedEvent() types.ChatOpened {
	return types.ChatOpened{
		StoreID:    "store-1",
		NmID:       "649502497",
		Rating:     1,
		ReviewDate: time.Date(2026, 1, 7, 20, 9, 30, 0, time.UTC),
		ChatURL:    "https://seller.example.com/chats/chat-42",
		OpenedAt:   time.Date(2026, 1, 7, 20, 10, 0, 0, time.UTC),
	}
}

func TestHandleChatOpened_CreatesLink(t *testing.T) {
	links := newFakeLinkStore()
	matcher := &fakeMatcher{reviewID: "rev-7"}
	svc := newTestService(t, links, matcher, newFakeChats())

	link, created, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, types.LinkStatusOpened, link.Status)
	assert.Equal(t, "649502497_1_2026-01-07T20:09", link.ReviewKey)
	require.NotNil(t, link.ReviewID)
	assert.Equal(t, "rev-7", *link.ReviewID)
	require.NotNil(t, link.ChatID)
	assert.Equal(t, "chat-42", *link.ChatID)
}

func TestHandleChatOpened_DuplicateReturnsExisting(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{}, newFakeChats())

	first, created, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestHandleChatOpened_MatchMissLeavesReviewNil(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{reviewID: ""}, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Nil(t, link.ReviewID)
}

func TestHandleChatOpened_MatchErrorIsNotFatal(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{err: errors.New("db down")}, newFakeChats())

	link, created, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, link.ReviewID)
}

func TestHandleAnchorFound_TransitionsAndRematches(t *testing.T) {
	links := newFakeLinkStore()
	matcher := &fakeMatcher{reviewID: ""}
	svc := newTestService(t, links, matcher, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	require.Nil(t, link.ReviewID)

	matcher.reviewID = "rev-late"
	updated, err := svc.HandleAnchorFound(context.Background(), types.AnchorFound{
		LinkID:             link.ID,
		SystemMessageText:  "Вы обращаетесь по поводу товара",
		ParsedNmID:         "649502497",
		ParsedProductTitle: "Чайник",
		FoundAt:            time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, types.LinkStatusAnchorFound, updated.Status)
	require.NotNil(t, updated.ReviewID)
	assert.Equal(t, "rev-late", *updated.ReviewID)
	assert.Equal(t, "649502497", matcher.lastNmID)
	require.NotNil(t, updated.ParsedProductTitle)
}

func TestHandleAnchorFound_RedeliveryIsIdempotent(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{}, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)

	ev := types.AnchorFound{LinkID: link.ID, ParsedNmID: "649502497", FoundAt: time.Now().UTC()}
	first, err := svc.HandleAnchorFound(context.Background(), ev)
	require.NoError(t, err)

	second, err := svc.HandleAnchorFound(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
}

func TestHandleAnchorFound_AfterNotFoundIsInvalid(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{}, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)

	_, err = svc.HandleAnchorNotFound(context.Background(), types.AnchorNotFound{LinkID: link.ID, SearchAt: time.Now()})
	require.NoError(t, err)

	_, err = svc.HandleAnchorFound(context.Background(), types.AnchorFound{LinkID: link.ID, FoundAt: time.Now()})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestHandleMessageOutcome_SentUpdatesChat(t *testing.T) {
	links := newFakeLinkStore()
	chats := newFakeChats()
	svc := newTestService(t, links, &fakeMatcher{}, chats)

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	_, err = svc.HandleAnchorFound(context.Background(), types.AnchorFound{LinkID: link.ID, FoundAt: time.Now()})
	require.NoError(t, err)

	sentAt := time.Now().UTC()
	updated, err := svc.HandleMessageOutcome(context.Background(), types.MessageOutcome{
		LinkID:      link.ID,
		Result:      types.LinkStatusMessageSent,
		MessageType: types.MessageTypeA,
		MessageText: "Здравствуйте!",
		SentAt:      sentAt,
	})
	require.NoError(t, err)

	assert.Equal(t, types.LinkStatusMessageSent, updated.Status)
	assert.True(t, updated.Status.IsTerminal())
	assert.Equal(t, types.ChatStatusInProgress, chats.statuses["chat-42"])
	assert.Equal(t, sentAt, chats.recorded["chat-42"])
}

func TestHandleMessageOutcome_SkippedDoesNotTouchChat(t *testing.T) {
	links := newFakeLinkStore()
	chats := newFakeChats()
	svc := newTestService(t, links, &fakeMatcher{}, chats)

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	_, err = svc.HandleAnchorFound(context.Background(), types.AnchorFound{LinkID: link.ID, FoundAt: time.Now()})
	require.NoError(t, err)

	updated, err := svc.HandleMessageOutcome(context.Background(), types.MessageOutcome{
		LinkID: link.ID,
		Result: types.LinkStatusMessageSkipped,
		SentAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, types.LinkStatusMessageSkipped, updated.Status)
	assert.Empty(t, chats.recorded)
}

func TestHandleMessageOutcome_RejectsNonOutcomeStatus(t *testing.T) {
	svc := newTestService(t, newFakeLinkStore(), &fakeMatcher{}, newFakeChats())

	_, err := svc.HandleMessageOutcome(context.Background(), types.MessageOutcome{
		LinkID: "whatever",
		Result: types.LinkStatusOpened,
		SentAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestHandleMessageOutcome_SameResultRedelivery(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{}, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	_, err = svc.HandleAnchorFound(context.Background(), types.AnchorFound{LinkID: link.ID, FoundAt: time.Now()})
	require.NoError(t, err)

	ev := types.MessageOutcome{LinkID: link.ID, Result: types.LinkStatusMessageFailed, SentAt: time.Now()}
	_, err = svc.HandleMessageOutcome(context.Background(), ev)
	require.NoError(t, err)

	again, err := svc.HandleMessageOutcome(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, types.LinkStatusMessageFailed, again.Status)

	// A different terminal outcome is a conflict, not a retry.
	ev.Result = types.LinkStatusMessageSent
	_, err = svc.HandleMessageOutcome(context.Background(), ev)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestHandleError_ThenReset(t *testing.T) {
	links := newFakeLinkStore()
	matcher := &fakeMatcher{reviewID: ""}
	svc := newTestService(t, links, matcher, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)

	errored, err := svc.HandleError(context.Background(), types.ErrorReported{
		LinkID:       link.ID,
		ErrorCode:    "CAPTCHA",
		ErrorMessage: "captcha challenge shown",
		Stage:        types.StageAnchorParsing,
		ReportedAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, types.LinkStatusError, errored.Status)
	require.NotNil(t, errored.ErrorCode)

	matcher.reviewID = "rev-after-reset"
	reset, err := svc.Reset(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LinkStatusOpened, reset.Status)
	assert.Nil(t, reset.ErrorCode)
	require.NotNil(t, reset.ReviewID)
	assert.Equal(t, "rev-after-reset", *reset.ReviewID)
}

func TestHandleError_InvalidStage(t *testing.T) {
	svc := newTestService(t, newFakeLinkStore(), &fakeMatcher{}, newFakeChats())

	_, err := svc.HandleError(context.Background(), types.ErrorReported{
		LinkID: "x",
		Stage:  types.ErrorStage("bogus"),
	})
	assert.Error(t, err)
}

func TestHandleError_TerminalLinkRejected(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{}, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	_, err = svc.HandleAnchorNotFound(context.Background(), types.AnchorNotFound{LinkID: link.ID, SearchAt: time.Now()})
	require.NoError(t, err)

	_, err = svc.HandleError(context.Background(), types.ErrorReported{
		LinkID:     link.ID,
		Stage:      types.StageChatOpen,
		ReportedAt: time.Now(),
	})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestReset_NonErroredLinkRejected(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{}, newFakeChats())

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)

	_, err = svc.Reset(context.Background(), link.ID)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestHooks_RunAfterMutations(t *testing.T) {
	links := newFakeLinkStore()
	svc := newTestService(t, links, &fakeMatcher{}, newFakeChats())

	var kinds []string
	svc.AddHook(func(ctx context.Context, link *models.ReviewChatLink, ev types.AgentEvent) error {
		if ev != nil {
			kinds = append(kinds, ev.Kind())
		}
		return nil
	})
	svc.AddHook(func(ctx context.Context, link *models.ReviewChatLink, ev types.AgentEvent) error {
		return errors.New("hook boom") // must not fail the event
	})

	link, _, err := svc.HandleChatOpened(context.Background(), openedEvent())
	require.NoError(t, err)
	_, err = svc.HandleAnchorFound(context.Background(), types.AnchorFound{LinkID: link.ID, FoundAt: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, []string{"chat_opened", "anchor_found"}, kinds)
}

func TestExtractChatID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"trailing segment", "https://seller.example.com/seller/chats/abc-123", "abc-123"},
		{"query parameter", "https://seller.example.com/chats?chatId=q-9", "q-9"},
		{"bare chats path", "https://seller.example.com/seller/chats/", ""},
		{"empty", "", ""},
		{"garbage", "::::", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractChatID(tt.url))
		})
	}
}
