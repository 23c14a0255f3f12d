// Package confirmation implements the confirmation manager (C10): deciding
// whether an action needs explicit user sign-off before it executes,
// rendering the prompt, and classifying the user's reply.
package confirmation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/internal/confidence"
	"github.com/hrygo/dialogued/internal/registry"
	"github.com/hrygo/dialogued/store"
)

// ActionClass is the risk-relevant category of what a handler is about to
// do, independent of the intent's name.
type ActionClass string

const (
	ActionRead     ActionClass = "read"
	ActionWrite    ActionClass = "write"
	ActionMonetary ActionClass = "monetary"
)

// ReplyClass is how a user's free-text reply to a confirmation prompt was
// classified.
type ReplyClass string

const (
	ReplyConfirm ReplyClass = "confirm"
	ReplyModify  ReplyClass = "modify"
	ReplyCancel  ReplyClass = "cancel"
	ReplyUnknown ReplyClass = "unknown"
)

var (
	confirmWords = []string{"确认", "是", "对", "正确", "好的", "可以", "yes", "ok", "是的", "确认订票", "确认预订"}
	modifyWords  = []string{"修改", "改", "重新", "不对", "错了", "不是", "no", "修正"}
	cancelWords  = []string{"取消", "不要", "算了", "退出", "cancel"}
)

// ClassifyReply matches spec.md §4.6's case-insensitive contains rules.
// Cancel and modify are checked before confirm since several phrases (e.g.
// "不对", "不是") would otherwise collide with a loose confirm match.
func ClassifyReply(input string) ReplyClass {
	lower := strings.ToLower(strings.TrimSpace(input))

	for _, w := range cancelWords {
		if strings.Contains(lower, w) {
			return ReplyCancel
		}
	}
	for _, w := range modifyWords {
		if strings.Contains(lower, w) {
			return ReplyModify
		}
	}
	for _, w := range confirmWords {
		if strings.Contains(lower, w) {
			return ReplyConfirm
		}
	}
	return ReplyUnknown
}

// PolicyFlags are system-wide toggles that can force a stricter strategy
// regardless of computed risk (e.g. a compliance mode requiring explicit
// confirmation on every write during a promotional period).
type PolicyFlags struct {
	ForceExplicit bool
}

// Manager computes risk, picks a confirmation strategy, and creates/expires
// ConfirmationRequest rows.
type Manager struct {
	db     *store.Store
	reg    *registry.Registry
	conf   *confidence.Manager
	ttl    time.Duration
	policy PolicyFlags
}

// NewManager builds a Manager. ttl bounds how long a pending confirmation
// stays valid before expiry counts as an implicit cancel.
func NewManager(db *store.Store, reg *registry.Registry, conf *confidence.Manager, ttl time.Duration, policy PolicyFlags) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{db: db, reg: reg, conf: conf, ttl: ttl, policy: policy}
}

// Risk computes the risk band for an action given its class, the
// classification confidence, and whether the user is a novice.
func (m *Manager) Risk(class ActionClass, conf float32, userType store.UserType) store.RiskLevel {
	band := m.conf.Band(conf)

	switch class {
	case ActionMonetary:
		return store.RiskHigh
	case ActionWrite:
		if band == confidence.BandLow || band == confidence.BandReject {
			return store.RiskHigh
		}
		if userType == store.UserTypeNovice || band == confidence.BandMedium {
			return store.RiskMedium
		}
		return store.RiskLow
	default: // read
		if band == confidence.BandReject {
			return store.RiskMedium
		}
		return store.RiskLow
	}
}

// Strategy picks explicit or implicit per spec.md §4.6: explicit if risk is
// at least medium, or if confidence is below the HIGH band for a write
// action; implicit otherwise. A policy flag can force explicit regardless.
func (m *Manager) Strategy(class ActionClass, risk store.RiskLevel, conf float32) store.ConfirmationStrategy {
	if m.policy.ForceExplicit {
		return store.ConfirmationExplicit
	}
	if risk == store.RiskMedium || risk == store.RiskHigh {
		return store.ConfirmationExplicit
	}
	if class == ActionWrite && m.conf.Band(conf) != confidence.BandHigh {
		return store.ConfirmationExplicit
	}
	return store.ConfirmationImplicit
}

// Request creates a ConfirmationRequest, rendering its prompt from the
// intent's confirmation template with slot substitution.
func (m *Manager) Request(ctx context.Context, sessionID, intentName string, class ActionClass, conf float32, userType store.UserType, slots map[string]string, triggers []string) (*store.ConfirmationRequest, string, error) {
	risk := m.Risk(class, conf, userType)
	strategy := m.Strategy(class, risk, conf)
	now := time.Now()

	req := &store.ConfirmationRequest{
		RequestID:     uuid.NewString(),
		SessionID:     sessionID,
		Intent:        intentName,
		Strategy:      strategy,
		Risk:          risk,
		Triggers:      triggers,
		ProposedSlots: slots,
		CreatedTs:     now.Unix(),
		ExpiresAt:     now.Add(m.ttl).Unix(),
	}

	if strategy == store.ConfirmationImplicit {
		resolvedAt := now.Unix()
		req.ResolvedAt = &resolvedAt
	}

	created, err := m.db.CreateConfirmation(ctx, req)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create confirmation request")
	}

	template := "Please confirm: {intent} with {slots}"
	if ic, ok := m.reg.GetIntent(intentName); ok && ic.ConfirmationTemplate != "" {
		template = ic.ConfirmationTemplate
	}

	vars := make(map[string]string, len(slots)+1)
	for k, v := range slots {
		vars[k] = v
	}
	vars["intent"] = intentName

	return created, registry.Render(template, vars), nil
}

// Resolve marks a pending confirmation resolved (the user replied, rather
// than it expiring).
func (m *Manager) Resolve(ctx context.Context, requestID string) (*store.ConfirmationRequest, error) {
	resolved, err := m.db.ResolveConfirmation(ctx, requestID, time.Now().Unix())
	return resolved, errors.Wrap(err, "failed to resolve confirmation request")
}

// IsExpired reports whether req's expiry has passed; an expired,
// unresolved request is treated as an implicit cancel.
func IsExpired(req *store.ConfirmationRequest) bool {
	return req.ResolvedAt == nil && req.ExpiresAt <= time.Now().Unix()
}
