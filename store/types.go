// Package store provides database access to all orchestrator-owned entities:
// users, sessions, conversation turns, intent/slot config, slot values,
// ambiguities, transfers, user context, and confirmation requests.
package store

import "time"

// RowStatus mirrors the teacher's soft-delete convention.
type RowStatus string

const (
	RowStatusNormal  RowStatus = "NORMAL"
	RowStatusArchive RowStatus = "ARCHIVED"
)

// SessionState enumerates spec.md §3 session states.
type SessionState string

const (
	SessionStateActive    SessionState = "active"
	SessionStateCompleted SessionState = "completed"
	SessionStateExpired   SessionState = "expired"
	SessionStateError     SessionState = "error"
)

// UserType enumerates the user's experience tier, used by the confirmation
// manager's risk model (spec.md §4.6).
type UserType string

const (
	UserTypeNovice UserType = "novice"
	UserTypeExpert UserType = "expert"
)

// User is identified by a stable user_id and carries process-wide preferences.
type User struct {
	CreatedTs   int64
	UpdatedTs   int64
	ID          int32
	UserType    UserType
	Preferences map[string]string
}

// Session is spec.md §3's Session entity.
type Session struct {
	ExpiresAt *int64
	Context   map[string]any
	ID        string
	UserID    int32
	State     SessionState
	CreatedTs int64
	UpdatedTs int64
}

// FindSession specifies conditions for locating sessions.
type FindSession struct {
	ID     *string
	UserID *int32
	State  *SessionState
}

// UpdateSession specifies a partial session update.
type UpdateSession struct {
	Context   map[string]any
	State     *SessionState
	ExpiresAt *int64
	ID        string
}

// ResponseType enumerates spec.md §6 response types.
type ResponseType string

const (
	ResponseTypeSlotPrompt         ResponseType = "slot_prompt"
	ResponseTypeDisambiguation     ResponseType = "disambiguation"
	ResponseTypeConfirmationPrompt ResponseType = "confirmation_prompt"
	ResponseTypeAPIResult          ResponseType = "api_result"
	ResponseTypeQAResponse         ResponseType = "qa_response"
	ResponseTypeErrorAlternatives  ResponseType = "error_with_alternatives"
	ResponseTypeCancellation       ResponseType = "cancellation"
	ResponseTypeSystemError        ResponseType = "system_error"
)

// TurnStatus enumerates spec.md §6 status values.
type TurnStatus string

const (
	TurnStatusCompleted           TurnStatus = "completed"
	TurnStatusIncomplete          TurnStatus = "incomplete"
	TurnStatusAmbiguous           TurnStatus = "ambiguous"
	TurnStatusNonIntentInput      TurnStatus = "non_intent_input"
	TurnStatusAwaitingConfirm     TurnStatus = "awaiting_confirmation"
	TurnStatusCancelled           TurnStatus = "cancelled"
	TurnStatusAPIError            TurnStatus = "api_error"
	TurnStatusSystemError         TurnStatus = "system_error"
	TurnStatusValidationError     TurnStatus = "validation_error"
	TurnStatusParsingError        TurnStatus = "parsing_error"
)

// ErrorStatuses are excluded from the cached history view (spec.md P5).
var ErrorStatuses = map[TurnStatus]bool{
	TurnStatusSystemError:     true,
	TurnStatusValidationError: true,
	TurnStatusParsingError:    true,
}

// ConversationTurn is spec.md §3's turn record.
type ConversationTurn struct {
	RecognizedIntent string
	SystemResponse   string
	UserInput        string
	SessionID        string
	ResponseType     ResponseType
	Status           TurnStatus
	CreatedTs        int64
	TurnID           int64
	UserID           int32
	ProcessingTimeMs int64
	Confidence       float32
}

// FindConversationTurn specifies conditions for listing turns.
type FindConversationTurn struct {
	SessionID      string
	ExcludeStatus  []TurnStatus
	Limit          int
	IncludeAllRows bool
}

// SlotType enumerates spec.md §3 slot types.
type SlotType string

const (
	SlotTypeText   SlotType = "text"
	SlotTypeNumber SlotType = "number"
	SlotTypeDate   SlotType = "date"
	SlotTypeEmail  SlotType = "email"
	SlotTypePhone  SlotType = "phone"
	SlotTypeEnum   SlotType = "enum"
)

// HandlerType enumerates spec.md §4.7's handler binding kinds.
type HandlerType string

const (
	HandlerMockService HandlerType = "mock_service"
	HandlerAPICall      HandlerType = "api_call"
	HandlerDatabase     HandlerType = "database"
)

// IntentConfig is spec.md §3's Intent config entity.
type IntentConfig struct {
	IntentName           string `yaml:"intent_name"`
	DisplayName          string `yaml:"display_name"`
	Description          string `yaml:"description"`
	Category             string `yaml:"category"`
	FallbackResponse      string `yaml:"fallback_response"`
	ConfirmationTemplate string `yaml:"confirmation_template"`
	SuccessTemplate       string `yaml:"success_template"`
	FailureTemplate       string `yaml:"failure_template"`
	Examples              []string `yaml:"examples"`
	// HandlerType and HandlerConfig bind this intent to an action (C11).
	// HandlerConfig is an opaque JSON blob whose shape depends on
	// HandlerType; internal/handler decodes it into a typed config.
	HandlerType         HandlerType `yaml:"handler_type"`
	HandlerConfig       map[string]any `yaml:"handler_config"`
	Priority               int `yaml:"priority"`
	ConfidenceThreshold    float32 `yaml:"confidence_threshold"`
	IsActive               bool `yaml:"is_active"`
}

// SlotConfig is spec.md §3's Slot config entity, child of an intent.
type SlotConfig struct {
	IntentName       string `yaml:"intent_name"`
	SlotName         string `yaml:"slot_name"`
	SlotType         SlotType `yaml:"slot_type"`
	PromptTemplate   string `yaml:"prompt_template"`
	DefaultValue     string `yaml:"default_value"`
	ValidationRules  map[string]any `yaml:"validation_rules"`
	IsRequired       bool `yaml:"is_required"`
}

// ExtractionMethod enumerates spec.md §3 slot-value extraction methods.
type ExtractionMethod string

const (
	ExtractionNLU       ExtractionMethod = "nlu"
	ExtractionRegex     ExtractionMethod = "regex"
	ExtractionDefault   ExtractionMethod = "default"
	ExtractionCorrection ExtractionMethod = "correction"
	ExtractionMigration  ExtractionMethod = "migration"
)

// ValidationStatus enumerates spec.md §3 slot-value validation status.
type ValidationStatus string

const (
	ValidationValid     ValidationStatus = "valid"
	ValidationInvalid   ValidationStatus = "invalid"
	ValidationPending    ValidationStatus = "pending"
	ValidationMissing    ValidationStatus = "missing"
	ValidationCorrected  ValidationStatus = "corrected"
)

// SlotValue is spec.md §3's authoritative per-turn slot value row.
type SlotValue struct {
	ConversationTurnID int64
	SessionID          string
	SlotName           string
	IntentName         string
	OriginalText       string
	ExtractedValue     string
	NormalizedValue    string
	ValidationError    string
	ExtractionMethod   ExtractionMethod
	ValidationStatus   ValidationStatus
	CreatedTs          int64
	Confidence         float32
	IsConfirmed        bool
}

// FindSlotValue specifies conditions for locating slot values.
type FindSlotValue struct {
	SessionID string
	SlotName  string
	IntentName string
	Latest    bool
}

// CandidateIntent is one ranked NLU candidate embedded in an ambiguity record.
type CandidateIntent struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Confidence  float32 `json:"confidence"`
}

// ResolutionMethod enumerates spec.md §3 ambiguity resolution methods.
type ResolutionMethod string

const (
	ResolutionUserChoice  ResolutionMethod = "user_choice"
	ResolutionAutoResolve ResolutionMethod = "auto_resolve"
	ResolutionFallback    ResolutionMethod = "fallback"
	ResolutionEscalate    ResolutionMethod = "escalate"
)

// IntentAmbiguity is spec.md §3's ambiguity record.
type IntentAmbiguity struct {
	ResolvedAt         *int64
	ConversationTurnID int64
	UserInput          string
	Question           string
	UserChoice         string
	ResolvedIntent     string
	SessionID          string
	ResolutionMethod   ResolutionMethod
	Candidates         []CandidateIntent
	Options            []string
	ID                 int64
	RetryCount         int
	Resolved           bool
}

// FindIntentAmbiguity specifies conditions for locating ambiguities.
type FindIntentAmbiguity struct {
	SessionID          *string
	ConversationTurnID *int64
	Resolved           *bool
}

// TransferType enumerates spec.md §3 intent transfer types.
type TransferType string

const (
	TransferUserRequest  TransferType = "user_request"
	TransferSystemRedirect TransferType = "system_redirect"
	TransferFallback      TransferType = "fallback"
	TransferEscalation    TransferType = "escalation"
	TransferCompletion    TransferType = "completion"
)

// IntentTransfer is spec.md §3's transfer record; an interruption is a
// TransferUserRequest row with ResumedAt == nil.
type IntentTransfer struct {
	ResumedAt    *int64
	SavedContext map[string]any
	SessionID    string
	FromIntent   string
	ToIntent     string
	Reason       string
	TransferType TransferType
	ID           int64
	CreatedTs    int64
	Confidence   float32
}

// FindIntentTransfer specifies conditions for locating transfers.
type FindIntentTransfer struct {
	SessionID        *string
	TransferType     *TransferType
	OnlyUnresumed    bool
}

// ContextType enumerates spec.md §3 user-context row types.
type ContextType string

const (
	ContextTypePreference ContextType = "preference"
	ContextTypeHistory    ContextType = "history"
	ContextTypeProfile    ContextType = "profile"
	ContextTypeSession    ContextType = "session"
	ContextTypeTemporary  ContextType = "temporary"
)

// ContextScope enumerates spec.md §3 user-context scopes.
type ContextScope string

const (
	ContextScopeGlobal       ContextScope = "global"
	ContextScopeSession      ContextScope = "session"
	ContextScopeConversation ContextScope = "conversation"
)

// UserContext is spec.md §3's scoped key-value row. Unique on
// (UserID, Type, Key).
type UserContext struct {
	ExpiresAt *int64
	UserID    int32
	Type      ContextType
	Key       string
	Value     string
	Scope     ContextScope
	Priority  int
	IsActive  bool
}

// FindUserContext specifies conditions for locating user context rows.
type FindUserContext struct {
	UserID       int32
	Type         *ContextType
	Key          *string
	ActiveOnly   bool
}

// ConfirmationStrategy enumerates spec.md §4.6 confirmation strategies.
type ConfirmationStrategy string

const (
	ConfirmationExplicit  ConfirmationStrategy = "explicit"
	ConfirmationImplicit  ConfirmationStrategy = "implicit"
	ConfirmationRiskBased ConfirmationStrategy = "risk-based"
)

// RiskLevel enumerates spec.md §4.6 risk bands.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ConfirmationRequest is spec.md §3's confirmation request entity.
type ConfirmationRequest struct {
	ResolvedAt    *int64
	ProposedSlots map[string]string
	RequestID     string
	SessionID     string
	Intent        string
	Strategy      ConfirmationStrategy
	Risk          RiskLevel
	Triggers      []string
	CreatedTs     int64
	ExpiresAt     int64
	RetryCount    int
}

// FindConfirmationRequest specifies conditions for locating confirmations.
type FindConfirmationRequest struct {
	RequestID *string
	SessionID *string
	Pending   bool
}

var _ = time.Now // keep time imported for callers embedding timestamps
