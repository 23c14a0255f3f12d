package orchestrator

import "github.com/hrygo/dialogued/store"

// NextAction hints at what the caller should do with the response
// (spec.md §6).
type NextAction string

const (
	NextCollectMissingSlots NextAction = "collect_missing_slots"
	NextUserChoice          NextAction = "user_choice"
	NextUserConfirmation    NextAction = "user_confirmation"
	NextExecuteFunction     NextAction = "execute_function"
	NextRetry               NextAction = "retry"
	NextClarification       NextAction = "clarification"
	NextNone                NextAction = "none"
)

// TurnResult is spec.md §6's `data` envelope for one HandleTurn call.
type TurnResult struct {
	RequestID        string
	SessionID        string
	Response         string
	Intent           string
	Confidence       float32
	Slots            map[string]string
	Status           store.TurnStatus
	ResponseType     store.ResponseType
	NextAction       NextAction
	MissingSlots     []string
	ValidationErrors map[string]string
	AmbiguousIntents []store.CandidateIntent
	APIResult        map[string]string
	ConversationTurn int64
}
