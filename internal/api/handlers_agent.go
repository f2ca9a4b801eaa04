package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/review-reconciler/internal/types"
)

// ChatOpenedRequest is the agent's report that it opened a chat for a review.
type ChatOpenedRequest struct {
	StoreID    string    `json:"storeId"`
	NmID       string    `json:"nmId"`
	Rating     int       `json:"rating"`
	ReviewDate time.Time `json:"reviewDate"`
	ChatURL    string    `json:"chatUrl"`
	OpenedAt   time.Time `json:"openedAt"`
}

// AnchorRequest is the agent's report of its system-message search outcome.
type AnchorRequest struct {
	Found              bool      `json:"found"`
	SystemMessageText  string    `json:"systemMessageText,omitempty"`
	ParsedNmID         string    `json:"parsedNmId,omitempty"`
	ParsedProductTitle string    `json:"parsedProductTitle,omitempty"`
	At                 time.Time `json:"at"`
}

// MessageOutcomeRequest is the agent's report of its starter message attempt.
type MessageOutcomeRequest struct {
	Result      string    `json:"result"` // message_sent, message_skipped or message_failed
	MessageType string    `json:"messageType,omitempty"`
	MessageText string    `json:"messageText,omitempty"`
	SentAt      time.Time `json:"sentAt"`
}

// AgentErrorRequest is the agent's report of a pipeline failure.
type AgentErrorRequest struct {
	ErrorCode    string    `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
	Stage        string    `json:"stage"`
	ReportedAt   time.Time `json:"reportedAt"`
}

// handleChatOpened creates or returns the link for a review context.
// 201 when a link was created, 200 when the agent retried an existing one.
func (s *Server) handleChatOpened(w http.ResponseWriter, r *http.Request) {
	var req ChatOpenedRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.StoreID == "" || req.NmID == "" || req.ChatURL == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "storeId, nmId and chatUrl are required", nil)
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "rating must be between 1 and 5", nil)
		return
	}
	if req.ReviewDate.IsZero() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "reviewDate is required", nil)
		return
	}
	if req.OpenedAt.IsZero() {
		req.OpenedAt = time.Now().UTC()
	}

	link, created, err := s.linking.HandleChatOpened(r.Context(), types.ChatOpened{
		StoreID:    req.StoreID,
		NmID:       req.NmID,
		Rating:     req.Rating,
		ReviewDate: req.ReviewDate,
		ChatURL:    req.ChatURL,
		OpenedAt:   req.OpenedAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, link)
}

// handleAnchor records the agent's anchor search outcome for a link.
func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	linkID := mux.Vars(r)["id"]

	var req AnchorRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}

	if !req.Found {
		link, err := s.linking.HandleAnchorNotFound(r.Context(), types.AnchorNotFound{
			LinkID:   linkID,
			SearchAt: req.At,
		})
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, link)
		return
	}

	link, err := s.linking.HandleAnchorFound(r.Context(), types.AnchorFound{
		LinkID:             linkID,
		SystemMessageText:  req.SystemMessageText,
		ParsedNmID:         req.ParsedNmID,
		ParsedProductTitle: req.ParsedProductTitle,
		FoundAt:            req.At,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, link)
}

// handleMessageOutcome records the starter message result for a link.
func (s *Server) handleMessageOutcome(w http.ResponseWriter, r *http.Request) {
	linkID := mux.Vars(r)["id"]

	var req MessageOutcomeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	result := types.LinkStatus(req.Result)
	switch result {
	case types.LinkStatusMessageSent, types.LinkStatusMessageSkipped, types.LinkStatusMessageFailed:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "result must be message_sent, message_skipped or message_failed", nil)
		return
	}
	messageType := types.MessageType(req.MessageType)
	if messageType == "" {
		messageType = types.MessageTypeNone
	}
	if !types.ValidMessageType(messageType) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "messageType must be A, B or NONE", nil)
		return
	}
	if req.SentAt.IsZero() {
		req.SentAt = time.Now().UTC()
	}

	link, err := s.linking.HandleMessageOutcome(r.Context(), types.MessageOutcome{
		LinkID:      linkID,
		Result:      result,
		MessageType: messageType,
		MessageText: req.MessageText,
		SentAt:      req.SentAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, link)
}

// handleAgentError records an agent-reported failure on a link.
func (s *Server) handleAgentError(w http.ResponseWriter, r *http.Request) {
	linkID := mux.Vars(r)["id"]

	var req AgentErrorRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	stage := types.ErrorStage(req.Stage)
	if !types.ValidErrorStage(stage) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "stage must be chat_open, anchor_parsing or message_send", nil)
		return
	}
	if req.ReportedAt.IsZero() {
		req.ReportedAt = time.Now().UTC()
	}

	link, err := s.linking.HandleError(r.Context(), types.ErrorReported{
		LinkID:       linkID,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
		Stage:        stage,
		ReportedAt:   req.ReportedAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, link)
}

// handleGetLink retrieves a link by id.
func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.linking.GetLink(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, link)
}

// handleResetLink moves an errored link back to opened for a fresh attempt.
func (s *Server) handleResetLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.linking.Reset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, link)
}
