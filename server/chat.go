package server

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/dialogued/internal/orchestrator"
)

// sanitizeChars matches spec.md §6's stripped character set.
var sanitizeChars = regexp.MustCompile(`[;<>'"\\]`)

const maxInputLength = 1000

// envelope is spec.md §6's standard response wrapper.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id"`
}

type interactRequest struct {
	UserID    int32          `json:"user_id"`
	Input     string         `json:"input"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

type disambiguateRequest struct {
	ConversationID int64  `json:"conversation_id"`
	UserChoice     string `json:"user_choice"`
}

// interactData is the `data` payload for POST /chat/interact, matching
// spec.md §6's field list.
type interactData struct {
	Response         string            `json:"response"`
	SessionID        string            `json:"session_id"`
	ConversationTurn int64             `json:"conversation_turn"`
	Intent           string            `json:"intent,omitempty"`
	Confidence       float32           `json:"confidence"`
	Slots            map[string]string `json:"slots,omitempty"`
	Status           string            `json:"status"`
	ResponseType     string            `json:"response_type"`
	NextAction       string            `json:"next_action"`
	MissingSlots     []string          `json:"missing_slots,omitempty"`
	ValidationErrors map[string]string `json:"validation_errors,omitempty"`
	AmbiguousIntents []candidateView   `json:"ambiguous_intents,omitempty"`
	APIResult        map[string]string `json:"api_result,omitempty"`
}

type candidateView struct {
	Name       string  `json:"name"`
	Display    string  `json:"display"`
	Confidence float32 `json:"confidence"`
}

func writeError(c echo.Context, status int, requestID, message string) error {
	return c.JSON(status, envelope{Success: false, Message: message, RequestID: requestID})
}

// sanitizeInput applies spec.md §6's sanitization: strip `;<>'"\` before the
// length check; empty after strip is the caller's cue to 400.
func sanitizeInput(raw string) string {
	return strings.TrimSpace(sanitizeChars.ReplaceAllString(raw, ""))
}

func (s *Server) handleInteract(c echo.Context) error {
	requestID := newRequestID()

	var req interactRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, requestID, "malformed request body")
	}
	if req.UserID == 0 {
		return writeError(c, http.StatusBadRequest, requestID, "user_id is required")
	}

	cleaned := sanitizeInput(req.Input)
	if cleaned == "" {
		return writeError(c, http.StatusBadRequest, requestID, "input is required and must not be empty after sanitization")
	}
	if len(cleaned) > maxInputLength {
		return writeError(c, http.StatusBadRequest, requestID, "input exceeds 1000 characters")
	}

	result, err := s.orch.HandleTurn(c.Request().Context(), req.UserID, req.SessionID, cleaned, req.Context)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, requestID, "failed to process turn: "+err.Error())
	}

	return c.JSON(http.StatusOK, envelope{
		Success:   true,
		Data:      toInteractData(result),
		RequestID: result.RequestID,
	})
}

func (s *Server) handleDisambiguate(c echo.Context) error {
	requestID := newRequestID()

	var req disambiguateRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, requestID, "malformed request body")
	}
	if req.ConversationID == 0 {
		return writeError(c, http.StatusBadRequest, requestID, "conversation_id is required")
	}
	choice := sanitizeInput(req.UserChoice)
	if choice == "" {
		return writeError(c, http.StatusBadRequest, requestID, "user_choice is required")
	}

	result, err := s.orch.Disambiguate(c.Request().Context(), req.ConversationID, choice)
	if err != nil {
		if err == orchestrator.ErrNoPendingAmbiguity {
			return writeError(c, http.StatusNotFound, requestID, "no pending ambiguity for this conversation")
		}
		return writeError(c, http.StatusInternalServerError, requestID, "failed to resolve ambiguity: "+err.Error())
	}

	return c.JSON(http.StatusOK, envelope{
		Success:   true,
		Data:      toInteractData(result),
		RequestID: result.RequestID,
	})
}

func toInteractData(r *orchestrator.TurnResult) interactData {
	candidates := make([]candidateView, 0, len(r.AmbiguousIntents))
	for _, c := range r.AmbiguousIntents {
		candidates = append(candidates, candidateView{Name: c.Name, Display: c.DisplayName, Confidence: c.Confidence})
	}
	return interactData{
		Response:         r.Response,
		SessionID:        r.SessionID,
		ConversationTurn: r.ConversationTurn,
		Intent:           r.Intent,
		Confidence:       r.Confidence,
		Slots:            r.Slots,
		Status:           string(r.Status),
		ResponseType:     string(r.ResponseType),
		NextAction:       string(r.NextAction),
		MissingSlots:     r.MissingSlots,
		ValidationErrors: r.ValidationErrors,
		AmbiguousIntents: candidates,
		APIResult:        r.APIResult,
	}
}
