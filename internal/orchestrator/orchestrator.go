// Package orchestrator implements the turn orchestrator (C12): the single
// entry point that drives one user utterance through classification, slot
// collection, ambiguity resolution, confirmation, and handler execution,
// persisting exactly one conversation turn per accepted request.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/internal/ambiguity"
	"github.com/hrygo/dialogued/internal/choice"
	"github.com/hrygo/dialogued/internal/confidence"
	"github.com/hrygo/dialogued/internal/confirmation"
	"github.com/hrygo/dialogued/internal/handler"
	"github.com/hrygo/dialogued/internal/nlu"
	"github.com/hrygo/dialogued/internal/registry"
	"github.com/hrygo/dialogued/internal/resolver"
	"github.com/hrygo/dialogued/internal/session"
	"github.com/hrygo/dialogued/internal/slot"
	"github.com/hrygo/dialogued/store"
)

// Orchestrator wires every other component into the S0-S11 turn
// state machine.
type Orchestrator struct {
	db         *store.Store
	reg        *registry.Registry
	sessions   *session.Manager
	slots      *slot.Store
	transform  *slot.Transformer
	nlu        nlu.Adapter
	conf       *confidence.Manager
	ambDet     *ambiguity.Detector
	resolve    *resolver.Resolver
	choiceP    *choice.Parser
	confirm    *confirmation.Manager
	dispatcher *handler.Dispatcher
	kb         handler.KBFallback
	gate       *sessionGate
	turnTTL    time.Duration
	metrics    Recorder
}

// Recorder receives post-hoc turn telemetry (SPEC_FULL.md §3.3); nil is a
// valid Recorder (every method is a no-op), so metrics stay opt-in.
// internal/metrics.Metrics satisfies this interface.
type Recorder interface {
	RecordTurn(status string, elapsed time.Duration)
	RecordAmbiguity()
	RecordConfirmation()
}

type noopRecorder struct{}

func (noopRecorder) RecordTurn(string, time.Duration) {}
func (noopRecorder) RecordAmbiguity()                 {}
func (noopRecorder) RecordConfirmation()               {}

// SetMetrics attaches a Recorder; passing nil reverts to the no-op default.
func (o *Orchestrator) SetMetrics(m Recorder) {
	if m == nil {
		m = noopRecorder{}
	}
	o.metrics = m
}

// New builds an Orchestrator. turnTTL bounds how long one HandleTurn call
// is allowed to run before its context is cancelled.
func New(
	db *store.Store,
	reg *registry.Registry,
	sessions *session.Manager,
	slots *slot.Store,
	transform *slot.Transformer,
	nluAdapter nlu.Adapter,
	conf *confidence.Manager,
	ambDet *ambiguity.Detector,
	resolve *resolver.Resolver,
	choiceP *choice.Parser,
	confirm *confirmation.Manager,
	dispatcher *handler.Dispatcher,
	kb handler.KBFallback,
	turnTTL time.Duration,
) *Orchestrator {
	if turnTTL <= 0 {
		turnTTL = 5 * time.Second
	}
	return &Orchestrator{
		db:         db,
		reg:        reg,
		sessions:   sessions,
		slots:      slots,
		transform:  transform,
		nlu:        nluAdapter,
		conf:       conf,
		ambDet:     ambDet,
		resolve:    resolve,
		choiceP:    choiceP,
		confirm:    confirm,
		dispatcher: dispatcher,
		kb:         kb,
		gate:       newSessionGate(),
		turnTTL:    turnTTL,
		metrics:    noopRecorder{},
	}
}

// outcome is the internal, pre-persistence shape HandleTurn's branches
// build; finalize turns it into a TurnResult once the turn record exists.
type outcome struct {
	intent           string
	confidence       float32
	response         string
	status           store.TurnStatus
	responseType     store.ResponseType
	next             NextAction
	slots            map[string]string
	missing          []string
	validationErrors map[string]string
	ambiguous        []store.CandidateIntent
	apiResult        map[string]string
	tc               turnContext
}

// HandleTurn runs one utterance through the full state machine. sessionID
// may be empty to request a fresh session.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID int32, sessionID, text string, requestContext map[string]any) (*TurnResult, error) {
	release, err := o.gate.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, o.turnTTL)
	defer cancel()

	now := time.Now()

	sess, err := o.sessions.Resolve(ctx, userID, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve session")
	}

	tc := loadTurnContext(sess.Context)
	tc.TurnSeq++

	out, err := o.route(ctx, sess, userID, text, requestContext, tc, now)
	if err != nil {
		out = systemErrorOutcome(tc, err)
	}

	return o.finalize(ctx, sess, userID, text, out, now)
}

const genericSystemErrorMessage = "Something went wrong processing that. Please try again."

// systemErrorOutcome implements spec.md §4.1/§7's failure semantics: any
// subsystem error encountered while routing a turn still terminates in
// exactly one persisted conversation record (P4), never a bare error
// response with nothing written. The triggering error is logged by the
// caller's wrapping, not echoed to the user.
func systemErrorOutcome(tc turnContext, cause error) *outcome {
	slog.Error("turn routing failed, recording system_error", "error", cause)
	return &outcome{
		response:     genericSystemErrorMessage,
		status:       store.TurnStatusSystemError,
		responseType: store.ResponseTypeErrorAlternatives,
		next:         NextNone,
		tc:           tc,
	}
}

// route implements spec.md §4.1's transition rules 1-4: which of the four
// "what just happened last turn" branches applies, falling through to fresh
// classification when none of them do.
func (o *Orchestrator) route(ctx context.Context, sess *store.Session, userID int32, text string, requestContext map[string]any, tc turnContext, now time.Time) (*outcome, error) {
	// Rule 1: a pending ambiguity takes priority over everything else.
	if tc.PendingAmbiguityID != 0 {
		amb, found, err := findPendingAmbiguity(ctx, o.db, sess.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to look up pending ambiguity")
		}
		if found {
			return o.handleAmbiguityReply(ctx, sess, userID, text, requestContext, tc, now, amb)
		}
		// Stale pointer (resolved or expired out from under us): clear and
		// fall through to the remaining rules.
		tc.PendingAmbiguityID = 0
	}

	// Rule 2: mid-slot-collection, within the 5-turn recency window. Checked
	// before rule 3 per spec.md §4.1's stated precedence; proceedWithIntent
	// always clears AwaitingSlotIntent before it sets AwaitingConfirmID, so
	// the two states are mutually exclusive and this ordering is never
	// actually contended today, but keep it spec-order regardless.
	if tc.AwaitingSlotIntent != "" && tc.TurnSeq-tc.AwaitingSlotSinceSeq <= 5 {
		schema := o.reg.GetSlots(tc.AwaitingSlotIntent)
		active, err := o.slots.Active(ctx, sess.ID, tc.AwaitingSlotIntent)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load active slots")
		}
		missing := missingSlots(schema, active)
		if len(missing) > 0 {
			result, err := o.nlu.Recognize(ctx, text, o.reg.ActiveIntentNames(), nlu.RecognitionContext{
				SessionID:     sess.ID,
				CurrentIntent: tc.AwaitingSlotIntent,
				KnownSlots:    slotSnapshot(active),
			})
			if err == nil {
				candidates := extractSlotCandidates(text, result, missing)
				if len(candidates) > 0 {
					return o.fillSlots(ctx, sess, userID, tc.AwaitingSlotIntent, candidates, tc, now)
				}
			}
		}
	}

	// Rule 3: an outstanding confirmation request.
	if tc.AwaitingConfirmID != "" {
		reply := confirmation.ClassifyReply(text)
		if reply != confirmation.ReplyUnknown {
			return o.handleConfirmationReply(ctx, sess, userID, requestContext, tc, now, reply)
		}
	}

	// Rule 4: classify fresh.
	return o.classify(ctx, sess, userID, text, requestContext, tc, now)
}

// classify runs NLU recognition and routes through ambiguity detection and
// resolution (spec.md §4.1 rules 4-6).
func (o *Orchestrator) classify(ctx context.Context, sess *store.Session, userID int32, text string, requestContext map[string]any, tc turnContext, now time.Time) (*outcome, error) {
	history, _ := o.sessions.RecentHistory(ctx, sess.ID)
	recentInputs := make([]string, 0, len(history))
	for _, h := range history {
		recentInputs = append(recentInputs, h.UserInput)
	}

	result, err := o.nlu.Recognize(ctx, text, o.reg.ActiveIntentNames(), nlu.RecognitionContext{
		SessionID:     sess.ID,
		CurrentIntent: tc.CurrentIntent,
		RecentInputs:  recentInputs,
	})
	if err != nil || result.Unknown || result.TopIntent == nil {
		return o.fallback(ctx, text, requestContext, tc), nil
	}

	displayNames := func(name string) (string, bool) {
		ic, ok := o.reg.GetIntent(name)
		if !ok {
			return "", false
		}
		return ic.DisplayName, true
	}

	analysis := o.ambDet.Analyze(result, displayNames)
	ambiguous := analysis.IsAmbiguous
	if ambiguous {
		for _, c := range analysis.Candidates {
			if !o.conf.Accepts(c.Name, c.Confidence) {
				ambiguous = false
				break
			}
		}
	}

	if !ambiguous {
		top := result.TopIntent
		if !o.conf.Accepts(top.Name, top.Confidence) {
			return o.fallback(ctx, text, requestContext, tc), nil
		}
		return o.proceedWithIntent(ctx, sess, userID, text, result, top.Name, top.Confidence, tc, now)
	}

	recentIntents := make([]string, 0, len(history))
	for _, h := range history {
		if h.RecognizedIntent != "" {
			recentIntents = append(recentIntents, h.RecognizedIntent)
		}
	}

	stats := loadIntentStats(ctx, o.db, userID)
	user, err := o.db.FindOrCreateUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load user")
	}

	resolved := o.resolve.Resolve(ctx, resolver.Input{
		Candidates:      analysis.Candidates,
		RecentIntents:   recentIntents,
		UserPreferences: user.Preferences,
		UserIntentStats: stats,
	}, 0)

	if resolved.Resolved {
		conf := candidateConfidence(analysis.Candidates, resolved.Intent)
		return o.proceedWithIntent(ctx, sess, userID, text, result, resolved.Intent, conf, tc, now)
	}

	// Rule 6 else-branch: no strategy resolved it, ask the user directly
	// and persist the ambiguity for the next turn to pick up via rule 1.
	return &outcome{
		intent:       "",
		confidence:   0,
		response:     resolved.Question,
		status:       store.TurnStatusAmbiguous,
		responseType: store.ResponseTypeDisambiguation,
		next:         NextUserChoice,
		ambiguous:    analysis.Candidates,
		tc:           tc,
	}, nil
}

// handleAmbiguityReply implements rule 1: the user is replying to a pending
// disambiguation question.
func (o *Orchestrator) handleAmbiguityReply(ctx context.Context, sess *store.Session, userID int32, text string, requestContext map[string]any, tc turnContext, now time.Time, amb *store.IntentAmbiguity) (*outcome, error) {
	result := o.choiceP.Parse(text, amb.Candidates, choice.Context{})

	switch result.Type {
	case choice.TypeNegative:
		if err := resolveAmbiguity(ctx, o.db, amb, text, "", store.ResolutionFallback, now.Unix()); err != nil {
			return nil, errors.Wrap(err, "failed to resolve ambiguity")
		}
		tc.PendingAmbiguityID = 0
		return o.fallback(ctx, text, requestContext, tc), nil

	case choice.TypeUncertain:
		updated, err := o.db.IncrementAmbiguityRetry(ctx, amb.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to increment ambiguity retry")
		}
		if updated.RetryCount >= choice.MaxClarificationRetries {
			if err := resolveAmbiguity(ctx, o.db, amb, text, "", store.ResolutionEscalate, now.Unix()); err != nil {
				return nil, errors.Wrap(err, "failed to resolve ambiguity")
			}
			tc.PendingAmbiguityID = 0
			return o.fallback(ctx, text, requestContext, tc), nil
		}
		return &outcome{
			response:     amb.Question,
			status:       store.TurnStatusAmbiguous,
			responseType: store.ResponseTypeDisambiguation,
			next:         NextUserChoice,
			ambiguous:    amb.Candidates,
			tc:           tc,
		}, nil

	default:
		if result.SelectedOption == "" {
			return &outcome{
				response:     amb.Question,
				status:       store.TurnStatusAmbiguous,
				responseType: store.ResponseTypeDisambiguation,
				next:         NextUserChoice,
				ambiguous:    amb.Candidates,
				tc:           tc,
			}, nil
		}
		if err := resolveAmbiguity(ctx, o.db, amb, text, result.SelectedOption, store.ResolutionUserChoice, now.Unix()); err != nil {
			return nil, errors.Wrap(err, "failed to resolve ambiguity")
		}
		tc.PendingAmbiguityID = 0
		conf := candidateConfidence(amb.Candidates, result.SelectedOption)
		if conf == 0 {
			conf = result.Confidence
		}

		nluResult, err := o.nlu.Recognize(ctx, text, o.reg.ActiveIntentNames(), nlu.RecognitionContext{SessionID: sess.ID})
		if err != nil {
			nluResult = nlu.Result{}
		}
		return o.proceedWithIntent(ctx, sess, userID, text, nluResult, result.SelectedOption, conf, tc, now)
	}
}

// handleConfirmationReply implements rule 3.
func (o *Orchestrator) handleConfirmationReply(ctx context.Context, sess *store.Session, userID int32, requestContext map[string]any, tc turnContext, now time.Time, reply confirmation.ReplyClass) (*outcome, error) {
	rows, err := o.db.FindConfirmations(ctx, &store.FindConfirmationRequest{RequestID: &tc.AwaitingConfirmID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load confirmation request")
	}
	if len(rows) != 1 {
		tc.AwaitingConfirmID = ""
		return o.fallback(ctx, "", requestContext, tc), nil
	}
	req := rows[0]

	if confirmation.IsExpired(req) {
		tc.AwaitingConfirmID = ""
		return &outcome{
			intent:       req.Intent,
			response:     "That confirmation expired, so I cancelled it.",
			status:       store.TurnStatusCancelled,
			responseType: store.ResponseTypeCancellation,
			next:         NextNone,
			tc:           tc,
		}, nil
	}

	switch reply {
	case confirmation.ReplyConfirm:
		if _, err := o.confirm.Resolve(ctx, req.RequestID); err != nil {
			return nil, err
		}
		tc.AwaitingConfirmID = ""
		return o.execute(ctx, sess, userID, req.Intent, req.ProposedSlots, requestContext, 1, tc)

	case confirmation.ReplyCancel:
		if _, err := o.confirm.Resolve(ctx, req.RequestID); err != nil {
			return nil, err
		}
		tc.AwaitingConfirmID = ""
		tc.CurrentIntent = ""
		return &outcome{
			intent:       req.Intent,
			response:     "Okay, cancelled.",
			status:       store.TurnStatusCancelled,
			responseType: store.ResponseTypeCancellation,
			next:         NextNone,
			slots:        req.ProposedSlots,
			tc:           tc,
		}, nil

	default: // modify
		if _, err := o.confirm.Resolve(ctx, req.RequestID); err != nil {
			return nil, err
		}
		schema := o.reg.GetSlots(req.Intent)
		var target *store.SlotConfig
		if len(schema) > 0 {
			target = schema[0]
		}
		tc.AwaitingConfirmID = ""
		tc.CurrentIntent = req.Intent
		tc.AwaitingSlotIntent = req.Intent
		tc.AwaitingSlotSinceSeq = tc.TurnSeq

		prompt := "Which detail would you like to change?"
		missingNames := []string{}
		if target != nil {
			prompt = registry.Render(target.PromptTemplate, req.ProposedSlots)
			if prompt == "" {
				prompt = "Please provide " + target.SlotName
			}
			missingNames = append(missingNames, target.SlotName)
		}
		return &outcome{
			intent:       req.Intent,
			response:     prompt,
			status:       store.TurnStatusIncomplete,
			responseType: store.ResponseTypeSlotPrompt,
			next:         NextCollectMissingSlots,
			slots:        req.ProposedSlots,
			missing:      missingNames,
			tc:           tc,
		}, nil
	}
}

// fillSlots implements rule 2's continuation: persist newly-extracted slot
// values, re-check completeness, and either ask for the next one or move
// on to confirmation/execution.
func (o *Orchestrator) fillSlots(ctx context.Context, sess *store.Session, userID int32, intentName string, candidates map[string]string, tc turnContext, now time.Time) (*outcome, error) {
	for slotName, raw := range candidates {
		sc, ok := o.reg.GetSlot(intentName, slotName)
		if !ok {
			continue
		}
		normalized, nerr := o.transform.Normalize(sc.SlotType, raw, now)
		status := store.ValidationValid
		validationErr := ""
		if nerr != nil {
			status = store.ValidationPending
			validationErr = nerr.Error()
		} else if ok, verr := o.reg.ValidateSlotValue(intentName, slotName, raw, normalized); verr != nil {
			status = store.ValidationPending
			validationErr = verr.Error()
		} else if !ok {
			status = store.ValidationInvalid
			validationErr = "value failed validation rules"
		}

		_, err := o.slots.Put(ctx, &store.SlotValue{
			SessionID:        sess.ID,
			IntentName:       intentName,
			SlotName:         slotName,
			OriginalText:     raw,
			ExtractedValue:   raw,
			NormalizedValue:  normalized,
			ExtractionMethod: store.ExtractionRegex,
			ValidationStatus: status,
			ValidationError:  validationErr,
			CreatedTs:        now.Unix(),
			Confidence:       0.6,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to persist slot value")
		}
	}

	result, err := o.nlu.Recognize(ctx, "", nil, nlu.RecognitionContext{SessionID: sess.ID})
	if err != nil {
		result = nlu.Result{}
	}
	return o.proceedWithIntent(ctx, sess, userID, "", result, intentName, 1, tc, now)
}

// fallback handles both NLU classification misses and exhausted
// disambiguation/clarification paths: answer from the knowledge-base
// fallback if one is wired, else ask the user to rephrase.
func (o *Orchestrator) fallback(ctx context.Context, text string, requestContext map[string]any, tc turnContext) *outcome {
	tc.CurrentIntent = ""
	tc.AwaitingSlotIntent = ""
	tc.AwaitingConfirmID = ""
	tc.PendingAmbiguityID = 0

	if o.kb == nil {
		return &outcome{
			response:     "I didn't quite catch that. Could you rephrase?",
			status:       store.TurnStatusNonIntentInput,
			responseType: store.ResponseTypeQAResponse,
			next:         NextClarification,
			tc:           tc,
		}
	}

	res, err := o.kb.Query(ctx, text, requestContext)
	if err != nil {
		return &outcome{
			response:     "I'm not sure how to help with that.",
			status:       store.TurnStatusNonIntentInput,
			responseType: store.ResponseTypeQAResponse,
			next:         NextClarification,
			tc:           tc,
		}
	}
	return &outcome{
		response:     res.Answer,
		status:       store.TurnStatusNonIntentInput,
		responseType: store.ResponseTypeQAResponse,
		next:         NextNone,
		tc:           tc,
	}
}

// proceedWithIntent implements rules 7-9: once a concrete intent has been
// settled on (by classification, ambiguity resolution, or slot-filling
// continuation), check slot completeness, handle cross-intent slot
// inheritance, then route to confirmation or direct execution.
func (o *Orchestrator) proceedWithIntent(ctx context.Context, sess *store.Session, userID int32, text string, result nlu.Result, intentName string, conf float32, tc turnContext, now time.Time) (*outcome, error) {
	ic, ok := o.reg.GetIntent(intentName)
	if !ok {
		return nil, errors.Errorf("intent %q is not registered", intentName)
	}

	schema := o.reg.GetSlots(intentName)
	active, err := o.slots.Active(ctx, sess.ID, intentName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load active slots")
	}

	if tc.CurrentIntent != "" && tc.CurrentIntent != intentName {
		o.inheritSlots(ctx, sess.ID, tc.CurrentIntent, intentName, active, now)
		_, _ = o.sessions.PushTransfer(ctx, &store.IntentTransfer{
			SessionID:    sess.ID,
			FromIntent:   tc.CurrentIntent,
			ToIntent:     intentName,
			TransferType: store.TransferSystemRedirect,
			Confidence:   conf,
			CreatedTs:    now.Unix(),
		})
	}

	if len(result.Entities) > 0 {
		for slotName, raw := range extractSlotCandidates(text, result, missingSlots(schema, active)) {
			sc, ok := o.reg.GetSlot(intentName, slotName)
			if !ok {
				continue
			}
			normalized, _ := o.transform.Normalize(sc.SlotType, raw, now)
			stored, err := o.slots.Put(ctx, &store.SlotValue{
				SessionID:        sess.ID,
				IntentName:       intentName,
				SlotName:         slotName,
				OriginalText:     raw,
				ExtractedValue:   raw,
				NormalizedValue:  normalized,
				ExtractionMethod: store.ExtractionNLU,
				ValidationStatus: store.ValidationValid,
				CreatedTs:        now.Unix(),
				Confidence:       conf,
			})
			if err == nil {
				active[slotName] = stored
			}
		}
	}

	missing := missingSlots(schema, active)
	if len(missing) > 0 {
		next := missing[0]
		prompt := registry.Render(next.PromptTemplate, slotSnapshot(active))
		if prompt == "" {
			prompt = "Could you provide " + next.SlotName + "?"
		}
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = m.SlotName
		}

		tc.CurrentIntent = intentName
		tc.AwaitingSlotIntent = intentName
		tc.AwaitingSlotSinceSeq = tc.TurnSeq

		return &outcome{
			intent:       intentName,
			confidence:   conf,
			response:     prompt,
			status:       store.TurnStatusIncomplete,
			responseType: store.ResponseTypeSlotPrompt,
			next:         NextCollectMissingSlots,
			slots:        slotSnapshot(active),
			missing:      names,
			tc:           tc,
		}, nil
	}

	tc.CurrentIntent = intentName
	tc.AwaitingSlotIntent = ""

	user, err := o.db.FindOrCreateUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load user")
	}

	class := actionClassFor(ic)
	risk := o.confirm.Risk(class, conf, user.UserType)
	strategy := o.confirm.Strategy(class, risk, conf)

	if strategy == store.ConfirmationExplicit {
		req, prompt, err := o.confirm.Request(ctx, sess.ID, intentName, class, conf, user.UserType, slotSnapshot(active), []string{string(class), string(risk)})
		if err != nil {
			return nil, err
		}
		o.metrics.RecordConfirmation()
		tc.AwaitingConfirmID = req.RequestID
		return &outcome{
			intent:       intentName,
			confidence:   conf,
			response:     prompt,
			status:       store.TurnStatusAwaitingConfirm,
			responseType: store.ResponseTypeConfirmationPrompt,
			next:         NextUserConfirmation,
			slots:        slotSnapshot(active),
			tc:           tc,
		}, nil
	}

	// Implicit confirmations are still recorded for audit, with ResolvedAt
	// already set by Request.
	if _, _, err := o.confirm.Request(ctx, sess.ID, intentName, class, conf, user.UserType, slotSnapshot(active), nil); err != nil {
		return nil, err
	}

	return o.execute(ctx, sess, userID, intentName, slotSnapshot(active), nil, conf, tc)
}

func (o *Orchestrator) inheritSlots(ctx context.Context, sessionID, fromIntent, toIntent string, active map[string]*store.SlotValue, now time.Time) {
	prior, err := o.slots.Active(ctx, sessionID, fromIntent)
	if err != nil || len(prior) == 0 {
		return
	}

	fromSchema := o.reg.GetSlots(fromIntent)
	toSchema := o.reg.GetSlots(toIntent)
	toNames := make(map[string]bool, len(toSchema))
	for _, sc := range toSchema {
		toNames[sc.SlotName] = true
	}

	var shared []string
	for _, sc := range fromSchema {
		if toNames[sc.SlotName] {
			shared = append(shared, sc.SlotName)
		}
	}
	if len(shared) == 0 {
		return
	}

	inherited := slot.Inherit(prior, toIntent, shared, 0, sessionID, now.Unix())
	for name, v := range inherited {
		if _, exists := active[name]; exists {
			continue
		}
		stored, err := o.slots.Put(ctx, v)
		if err == nil {
			active[name] = stored
		}
	}
}

// execute implements rule 11: dispatch the bound handler (or fall back to
// the intent's own response templates when nothing is bound) and render
// the final response.
func (o *Orchestrator) execute(ctx context.Context, sess *store.Session, userID int32, intentName string, slots map[string]string, requestContext map[string]any, conf float32, tc turnContext) (*outcome, error) {
	result, responseText, err := o.dispatcher.Dispatch(ctx, intentName, slots, requestContext)
	if err != nil {
		ic, _ := o.reg.GetIntent(intentName)
		text := ic.FallbackResponse
		if text == "" {
			text = "Done."
		}
		recordIntentOutcome(ctx, o.db, userID, intentName, true)
		o.conf.RecordOutcome(ctx, intentName, true)
		tc.CurrentIntent = ""
		return &outcome{
			intent:       intentName,
			confidence:   conf,
			response:     text,
			status:       store.TurnStatusCompleted,
			responseType: store.ResponseTypeQAResponse,
			next:         NextNone,
			slots:        slots,
			tc:           tc,
		}, nil
	}

	status := store.TurnStatusCompleted
	next := NextNone
	if !result.Success {
		status = store.TurnStatusAPIError
		next = NextRetry
	}

	o.conf.RecordOutcome(ctx, intentName, result.Success)
	recordIntentOutcome(ctx, o.db, userID, intentName, result.Success)
	tc.CurrentIntent = ""

	return &outcome{
		intent:       intentName,
		confidence:   conf,
		response:     responseText,
		status:       status,
		responseType: store.ResponseTypeAPIResult,
		next:         next,
		slots:        slots,
		apiResult:    result.Data,
		tc:           tc,
	}, nil
}

// finalize persists the turn record (P4: exactly one per accepted
// request), writes back the updated session context, and creates the
// pending ambiguity row when the turn ended in one.
func (o *Orchestrator) finalize(ctx context.Context, sess *store.Session, userID int32, text string, out *outcome, now time.Time) (*TurnResult, error) {
	elapsed := time.Since(now)
	elapsedMs := elapsed.Milliseconds()
	defer o.metrics.RecordTurn(string(out.status), elapsed)

	turn, err := o.sessions.RecordTurn(ctx, &store.ConversationTurn{
		SessionID:        sess.ID,
		UserID:           userID,
		UserInput:        text,
		RecognizedIntent: out.intent,
		Confidence:       out.confidence,
		SystemResponse:   out.response,
		ResponseType:     out.responseType,
		Status:           out.status,
		ProcessingTimeMs: elapsedMs,
		CreatedTs:        now.Unix(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to record conversation turn")
	}

	if out.status == store.TurnStatusAmbiguous && len(out.ambiguous) > 0 && out.tc.PendingAmbiguityID == 0 {
		o.metrics.RecordAmbiguity()
		options := make([]string, len(out.ambiguous))
		for i, c := range out.ambiguous {
			options[i] = c.Name
		}
		created, err := o.db.CreateAmbiguity(ctx, &store.IntentAmbiguity{
			ConversationTurnID: turn.TurnID,
			SessionID:          sess.ID,
			UserInput:          text,
			Question:           out.response,
			Candidates:         out.ambiguous,
			Options:            options,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to persist ambiguity")
		}
		out.tc.PendingAmbiguityID = created.ID
	}

	if _, err := o.sessions.UpdateContext(ctx, sess.ID, out.tc.toMap()); err != nil {
		return nil, errors.Wrap(err, "failed to update session context")
	}

	return &TurnResult{
		RequestID:        uuid.NewString(),
		SessionID:        sess.ID,
		Response:         out.response,
		Intent:           out.intent,
		Confidence:       out.confidence,
		Slots:            out.slots,
		Status:           out.status,
		ResponseType:     out.responseType,
		NextAction:       out.next,
		MissingSlots:     out.missing,
		ValidationErrors: out.validationErrors,
		AmbiguousIntents: out.ambiguous,
		APIResult:        out.apiResult,
		ConversationTurn: turn.TurnID,
	}, nil
}
