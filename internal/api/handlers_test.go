package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/review-reconciler/internal/backfill"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/storage"
	"github.com/review-reconciler/internal/types"
)

type fakeLinking struct {
	links       map[string]*models.ReviewChatLink
	createdOnce map[string]bool
}

func newFakeLinking() *fakeLinking {
	return &fakeLinking{
		links:       make(map[string]*models.ReviewChatLink),
		createdOnce: make(map[string]bool),
	}
}

func (f *fakeLinking) HandleChatOpened(ctx context.Context, ev types.ChatOpened) (*models.ReviewChatLink, bool, error) {
	key := ev.StoreID + "|" + ev.ReviewKey()
	if f.createdOnce[key] {
		for _, link := range f.links {
			if link.StoreID == ev.StoreID && link.ReviewKey == ev.ReviewKey() {
				return link, false, nil
			}
		}
	}
	f.createdOnce[key] = true
	link := &models.ReviewChatLink{
		ID:        fmt.Sprintf("link-%d", len(f.links)+1),
		StoreID:   ev.StoreID,
		ReviewKey: ev.ReviewKey(),
		ChatURL:   ev.ChatURL,
		Status:    types.LinkStatusOpened,
		OpenedAt:  ev.OpenedAt,
	}
	f.links[link.ID] = link
	return link, true, nil
}

func (f *fakeLinking) get(linkID string) (*models.ReviewChatLink, error) {
	link, ok := f.links[linkID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return link, nil
}

func (f *fakeLinking) HandleAnchorFound(ctx context.Context, ev types.AnchorFound) (*models.ReviewChatLink, error) {
	link, err := f.get(ev.LinkID)
	if err != nil {
		return nil, err
	}
	if link.Status != types.LinkStatusOpened {
		return nil, storage.ErrInvalidTransition
	}
	link.Status = types.LinkStatusAnchorFound
	return link, nil
}

func (f *fakeLinking) HandleAnchorNotFound(ctx context.Context, ev types.AnchorNotFound) (*models.ReviewChatLink, error) {
	link, err := f.get(ev.LinkID)
	if err != nil {
		return nil, err
	}
	if link.Status != types.LinkStatusOpened {
		return nil, storage.ErrInvalidTransition
	}
	link.Status = types.LinkStatusAnchorNotFound
	return link, nil
}

func (f *fakeLinking) HandleMessageOutcome(ctx context.Context, ev types.MessageOutcome) (*models.ReviewChatLink, error) {
	link, err := f.get(ev.LinkID)
	if err != nil {
		return nil, err
	}
	if link.Status != types.LinkStatusAnchorFound {
		return nil, storage.ErrInvalidTransition
	}
	link.Status = ev.Result
	return link, nil
}

func (f *fakeLinking) HandleError(ctx context.Context, ev types.ErrorReported) (*models.ReviewChatLink, error) {
	link, err := f.get(ev.LinkID)
	if err != nil {
		return nil, err
	}
	link.Status = types.LinkStatusError
	return link, nil
}

func (f *fakeLinking) Reset(ctx context.Context, linkID string) (*models.ReviewChatLink, error) {
	link, err := f.get(linkID)
	if err != nil {
		return nil, err
	}
	if link.Status != types.LinkStatusError {
		return nil, storage.ErrInvalidTransition
	}
	link.Status = types.LinkStatusOpened
	return link, nil
}

func (f *fakeLinking) GetLink(ctx context.Context, linkID string) (*models.ReviewChatLink, error) {
	return f.get(linkID)
}

type fakeBackfillQueue struct {
	jobs map[string]*models.BackfillJob
}

func newFakeBackfillQueue() *fakeBackfillQueue {
	return &fakeBackfillQueue{jobs: make(map[string]*models.BackfillJob)}
}

func (f *fakeBackfillQueue) CreateJob(ctx context.Context, input backfill.CreateJobInput) (*models.BackfillJob, error) {
	for _, job := range f.jobs {
		if job.ProductID == input.ProductID && !job.Status.IsTerminal() {
			return nil, storage.ErrAlreadyInProgress
		}
	}
	job := &models.BackfillJob{
		ID:           fmt.Sprintf("job-%d", len(f.jobs)+1),
		ProductID:    input.ProductID,
		StoreID:      "store-1",
		Priority:     input.Priority,
		Status:       types.JobStatusPending,
		TotalReviews: 5,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeBackfillQueue) GetJob(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return job, nil
}

func (f *fakeBackfillQueue) CancelJob(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil, storage.ErrAlreadyTerminal
	}
	job.Status = types.JobStatusCancelled
	return job, nil
}

func (f *fakeBackfillQueue) ListJobs(ctx context.Context, status types.JobStatus, limit int) ([]*models.BackfillJob, error) {
	var out []*models.BackfillJob
	for _, job := range f.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

type fakeWorkerRunner struct {
	processed int
}

func (f *fakeWorkerRunner) Run(ctx context.Context, maxJobs int) (int, error) {
	return f.processed, nil
}

type fakeLimits struct {
	used   int
	limit  int
	stored map[string]int
}

func (f *fakeLimits) Usage(ctx context.Context, storeID string) (int, int, error) {
	return f.used, f.limit, nil
}

func (f *fakeLimits) SetStoreLimit(ctx context.Context, storeID string, limit int) error {
	if f.stored == nil {
		f.stored = make(map[string]int)
	}
	f.stored[storeID] = limit
	return nil
}

type fakeAudit struct {
	events []*models.AgentEventRecord
}

func (f *fakeAudit) RecentByStore(ctx context.Context, storeID string, limit int) ([]*models.AgentEventRecord, error) {
	var out []*models.AgentEventRecord
	for _, ev := range f.events {
		if ev.StoreID != storeID {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newTestServer(linking *fakeLinking, queue *fakeBackfillQueue) *Server {
	return NewServer(
		&ServerConfig{Host: "127.0.0.1", Port: "0", AgentRPS: 1000, Burst: 1000},
		linking,
		queue,
		&fakeWorkerRunner{processed: 2},
		&fakeLimits{used: 3, limit: 100},
		&fakeAudit{events: []*models.AgentEventRecord{
			{EventID: "ev-1", StoreID: "store-1", Kind: "chat_opened"},
			{EventID: "ev-2", StoreID: "store-1", Kind: "anchor_found"},
			{EventID: "ev-3", StoreID: "store-2", Kind: "chat_opened"},
		}},
	)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func chatOpenedBody() ChatOpenedRequest {
	return ChatOpenedRequest{
		StoreID:    "store-1",
		NmID:       "649502497",
		Rating:     1,
		ReviewDate: time.Date(2026, 1, 7, 20, 9, 0, 0, time.UTC),
		ChatURL:    "https://seller.example.com/chats/chat-1",
	}
}

func TestHandleChatOpened_CreatedThenExisting(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	rec := doJSON(t, srv, "POST", "/api/agent/chats", chatOpenedBody())
	assert.Equal(t, http.StatusCreated, rec.Code)

	var link models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&link))
	assert.Equal(t, types.LinkStatusOpened, link.Status)
	assert.Equal(t, "649502497_1_2026-01-07T20:09", link.ReviewKey)

	// The agent retrying the same review context gets 200, same link.
	rec = doJSON(t, srv, "POST", "/api/agent/chats", chatOpenedBody())
	assert.Equal(t, http.StatusOK, rec.Code)

	var again models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&again))
	assert.Equal(t, link.ID, again.ID)
}

func TestHandleChatOpened_Validation(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	bad := chatOpenedBody()
	bad.Rating = 7
	rec := doJSON(t, srv, "POST", "/api/agent/chats", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = chatOpenedBody()
	bad.StoreID = ""
	rec = doJSON(t, srv, "POST", "/api/agent/chats", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = chatOpenedBody()
	bad.ReviewDate = time.Time{}
	rec = doJSON(t, srv, "POST", "/api/agent/chats", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAnchor_FoundAndNotFound(t *testing.T) {
	linking := newFakeLinking()
	srv := newTestServer(linking, newFakeBackfillQueue())

	rec := doJSON(t, srv, "POST", "/api/agent/chats", chatOpenedBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var link models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&link))

	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/anchor", AnchorRequest{
		Found:      true,
		ParsedNmID: "649502497",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var updated models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, types.LinkStatusAnchorFound, updated.Status)

	// A not-found outcome on the already-confirmed link conflicts.
	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/anchor", AnchorRequest{Found: false})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleMessageOutcome(t *testing.T) {
	linking := newFakeLinking()
	srv := newTestServer(linking, newFakeBackfillQueue())

	rec := doJSON(t, srv, "POST", "/api/agent/chats", chatOpenedBody())
	var link models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&link))
	doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/anchor", AnchorRequest{Found: true})

	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/message", MessageOutcomeRequest{
		Result:      "message_sent",
		MessageType: "A",
		MessageText: "Здравствуйте!",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var updated models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, types.LinkStatusMessageSent, updated.Status)

	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/message", MessageOutcomeRequest{
		Result: "opened",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/message", MessageOutcomeRequest{
		Result:      "message_sent",
		MessageType: "C",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMessageOutcome_DefaultsMessageType(t *testing.T) {
	linking := newFakeLinking()
	srv := newTestServer(linking, newFakeBackfillQueue())

	rec := doJSON(t, srv, "POST", "/api/agent/chats", chatOpenedBody())
	var link models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&link))
	doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/anchor", AnchorRequest{Found: true})

	// An omitted messageType means no starter variant was used.
	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/message", MessageOutcomeRequest{
		Result: "message_skipped",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAgentError_AndReset(t *testing.T) {
	linking := newFakeLinking()
	srv := newTestServer(linking, newFakeBackfillQueue())

	rec := doJSON(t, srv, "POST", "/api/agent/chats", chatOpenedBody())
	var link models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&link))

	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/error", AgentErrorRequest{
		ErrorCode:    "CAPTCHA",
		ErrorMessage: "captcha shown",
		Stage:        "anchor_parsing",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "POST", "/api/agent/chats/"+link.ID+"/error", AgentErrorRequest{
		Stage: "nonsense",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, "POST", "/api/links/"+link.ID+"/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var reset models.ReviewChatLink
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reset))
	assert.Equal(t, types.LinkStatusOpened, reset.Status)
}

func TestHandleGetLink_NotFound(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	rec := doJSON(t, srv, "GET", "/api/links/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, ErrCodeNotFound, errResp.Error.Code)
}

func TestBackfillJobEndpoints(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	rec := doJSON(t, srv, "POST", "/api/backfill/jobs", CreateJobRequest{ProductID: "prod-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var job models.BackfillJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, types.JobStatusPending, job.Status)

	// Duplicate while live conflicts.
	rec = doJSON(t, srv, "POST", "/api/backfill/jobs", CreateJobRequest{ProductID: "prod-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, "GET", "/api/backfill/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "GET", "/api/backfill/jobs?status=pending", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "GET", "/api/backfill/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, "DELETE", "/api/backfill/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Cancelling a terminal job conflicts.
	rec = doJSON(t, srv, "DELETE", "/api/backfill/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A cancelled product may be enqueued again.
	rec = doJSON(t, srv, "POST", "/api/backfill/jobs", CreateJobRequest{ProductID: "prod-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestLimitEndpoints(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	rec := doJSON(t, srv, "GET", "/api/limits/store-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var usage map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&usage))
	assert.Equal(t, float64(3), usage["used"])
	assert.Equal(t, float64(97), usage["remaining"])

	rec = doJSON(t, srv, "PUT", "/api/limits/store-1", SetStoreLimitRequest{DailyLimit: 50})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "PUT", "/api/limits/store-1", SetStoreLimitRequest{DailyLimit: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunWorkerEndpoint(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	rec := doJSON(t, srv, "POST", "/api/admin/worker/run", RunWorkerRequest{MaxJobs: 5})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(2), resp["jobsProcessed"])
}

func TestRecentEventsEndpoint(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	rec := doJSON(t, srv, "GET", "/api/admin/audit/store-1/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		StoreID string                     `json:"storeId"`
		Events  []*models.AgentEventRecord `json:"events"`
		Count   int                        `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "store-1", resp.StoreID)
	assert.Equal(t, 2, resp.Count)

	rec = doJSON(t, srv, "GET", "/api/admin/audit/store-1/events?limit=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)

	rec = doJSON(t, srv, "GET", "/api/admin/audit/store-1/events?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(newFakeLinking(), newFakeBackfillQueue())

	rec := doJSON(t, srv, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
