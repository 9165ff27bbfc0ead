// Package conversation implements the per-call conversation driver (C8,
// spec.md §4.8): a finite state machine driving one live telephone call
// through the STT→LLM→TTS pipeline, dispatching to handlers registered per
// (state, intent), and streaming synthesized speech at sentence
// boundaries. Grounded on
// original_source/src/phone_agent/core/conversation.py (sentence-boundary
// extraction, ConversationTurn/ConversationState shape) and
// .../gesundheit/conversation/actions.py (action dispatch, intent handling)
// plus .../outbound/noshow_workflow.py for the no-show reason-code intents.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/domain"
	"github.com/handwerkcall/phoneagent/pkg/external"
)

// State is a node in a call type's conversation DAG. All call types share
// the entry/exit states; domain branches are call-type-specific.
type State string

const (
	StateGreeting        State = "greeting"
	StateIntentDetection  State = "intent_detection"
	StateFarewell        State = "farewell"
	StateCompleted       State = "completed"
	StateAbandoned       State = "abandoned" // synthetic terminal on unexpected hangup
)

// SideEffect is a side effect a Response requests the driver dispatch to a
// collaborator after a handler returns (spec.md §4.8 step 6).
type SideEffect struct {
	Kind     string // "book_slot", "send_sms", "transfer", ...
	Metadata map[string]string
}

// Response is what a handler returns for one turn (spec.md §4.8 step 4).
type Response struct {
	TextForTTS     string
	NextState      State
	RequiresInput  bool
	EndCall        bool
	SideEffects    []SideEffect
	Outcome        *domain.CallOutcome
	OutcomeReason  string
}

// Handler processes one detected intent while the driver is in a given
// state.
type Handler func(ctx context.Context, cc *CallContext, intent string, transcript external.Transcript) Response

// CallContext carries per-call state across turns: conversation history,
// the queued call's metadata, and any domain context (appointment id,
// patient name) a workflow seeded it with.
type CallContext struct {
	CallID   string
	CallType string
	Queued   *domain.QueuedCall
	History  []string
	State    State
	Data     map[string]string // free-form per-call scratch (appointment id, new slot id, ...)
}

// IntentSet is a per-call-type, per-state keyword→intent table, carried
// from original_source's conversation/actions.py and noshow_workflow.py
// reason-code handling.
type IntentSet map[string][]string // intent -> keyword list

// DefaultIntents are the built-in per-call-type intent keyword catalogues
// (spec.md §4.8's examples plus the no-show reason codes).
var DefaultIntents = map[string]IntentSet{
	"reminder": {
		"confirm":    {"ja", "bestätige", "passt", "komme", "stimmt"},
		"reschedule": {"verschieben", "anderen termin", "neuen termin", "umbuchen"},
		"cancel":     {"absagen", "kann nicht", "stornieren"},
	},
	"recall": {
		"interested": {"ja", "gerne", "interessiert", "termin machen"},
		"declined":   {"nein", "kein interesse", "nicht nötig"},
	},
	"no_show": {
		"transportation": {"auto", "fahrzeug", "transport", "keine mitfahrgelegenheit"},
		"childcare":      {"kinderbetreuung", "kind", "babysitter"},
		"work":           {"arbeit", "job", "schicht", "arbeitgeber"},
	},
}

// DetectIntent scans transcript text for a keyword from the call type's
// catalogue and returns that keyword's intent. Intents are visited in map
// order, so when keywords of several intents match, which one is returned
// is not defined. Returns "" if nothing matches.
func DetectIntent(callType string, text string) string {
	set, ok := DefaultIntents[callType]
	if !ok {
		return ""
	}
	lower := strings.ToLower(text)
	for intent, keywords := range set {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return intent
			}
		}
	}
	return ""
}

// extractSentence cuts buffer after the first '.', '!' or '?' whose
// trimmed prefix is at least 5 chars long, whether or not a space follows
// (spec.md §4.8 step 5). ok is false when no such terminator exists.
func extractSentence(buffer string) (sentence string, remaining string, ok bool) {
	for i, r := range buffer {
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			candidate := strings.TrimSpace(buffer[:end])
			if len(candidate) >= 5 {
				return candidate, strings.TrimSpace(buffer[end:]), true
			}
		}
	}
	return "", buffer, false
}

// AudioSource yields successive inbound audio chunks for one call's media
// stream. The real-time transport (RTP/WebSocket media) is out of this
// module's scope (spec.md §1); NextChunk returning ok=false signals the
// remote party hung up.
type AudioSource interface {
	NextChunk(ctx context.Context) (chunk []byte, ok bool, err error)
}

// AudioSourceFactory resolves the AudioSource for a given call. The default
// factory used by New yields no audio (every call ends immediately as
// abandoned) — a real deployment's SIP/media layer supplies a per-call
// source; tests inject a scripted one via NewWithAudio.
type AudioSourceFactory func(callID string) AudioSource

// Driver runs one call's conversation and satisfies pkg/dialer's
// ConversationHandler interface.
type Driver struct {
	stt      external.Transcriber
	llm      external.LLMTurn
	tts      external.Synthesizer
	audio    AudioSourceFactory
	handlers map[string]Handler // keyed by callType+"/"+string(state)
	log      *slog.Logger

	maxTurns int
}

// New builds a conversation Driver over the STT/LLM/TTS collaborators with
// no live audio transport (every call ends immediately as abandoned);
// use NewWithAudio to supply one.
func New(stt external.Transcriber, llm external.LLMTurn, tts external.Synthesizer, log *slog.Logger) *Driver {
	return NewWithAudio(stt, llm, tts, nil, log)
}

// NewWithAudio builds a Driver with an explicit AudioSourceFactory.
func NewWithAudio(stt external.Transcriber, llm external.LLMTurn, tts external.Synthesizer, audio AudioSourceFactory, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{stt: stt, llm: llm, tts: tts, audio: audio, handlers: make(map[string]Handler), maxTurns: 20, log: log}
}

// Register binds a handler for (callType, state).
func (d *Driver) Register(callType string, state State, h Handler) {
	d.handlers[callType+"/"+string(state)] = h
}

func (d *Driver) handlerFor(callType string, state State) (Handler, bool) {
	h, ok := d.handlers[callType+"/"+string(state)]
	return h, ok
}

// Handle drives call through greeting -> intent_detection -> domain
// branches -> farewell -> completed, per spec.md §4.8. It returns a
// terminal CallResult either when a handler sets EndCall or when turns are
// exhausted. Without an audio source (no AudioSourceFactory) the call ends
// immediately as abandoned.
func (d *Driver) Handle(ctx context.Context, call external.Call, queued *domain.QueuedCall) domain.CallResult {
	cc := &CallContext{
		CallID:   call.ID,
		CallType: queued.CallType,
		Queued:   queued,
		State:    StateGreeting,
		Data:     make(map[string]string),
	}
	start := time.Now()

	var source AudioSource
	if d.audio != nil {
		source = d.audio(call.ID)
	}

	for turn := 0; turn < d.maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return d.abandon(cc, start)
		default:
		}

		if source == nil {
			return d.abandon(cc, start)
		}
		audio, ok, err := source.NextChunk(ctx)
		if err != nil {
			return domain.CallResult{CallID: call.ID, Outcome: domain.OutcomeAbandoned, Reason: "call ended unexpectedly", StartedAt: start, EndedAt: time.Now(), Err: err}
		}
		if !ok {
			return d.abandon(cc, start)
		}

		transcript, err := d.stt.Transcribe(ctx, audio)
		if err != nil {
			d.log.Error("transcription failed", "call_id", call.ID, "error", err)
			continue
		}

		intent := DetectIntent(cc.CallType, transcript.Text)
		handler, ok := d.handlerFor(cc.CallType, cc.State)
		if !ok {
			handler, ok = d.handlerFor(cc.CallType, StateIntentDetection)
		}
		if !ok {
			return domain.CallResult{CallID: call.ID, Outcome: domain.OutcomeFailed, Reason: "no handler registered for state", StartedAt: start, EndedAt: time.Now()}
		}

		resp := handler(ctx, cc, intent, transcript)
		d.speak(ctx, resp.TextForTTS)
		d.dispatchSideEffects(ctx, resp.SideEffects)

		cc.History = append(cc.History, transcript.Text)
		cc.State = resp.NextState

		if resp.EndCall {
			outcome := domain.OutcomeFailed
			if resp.Outcome != nil {
				outcome = *resp.Outcome
			}
			return domain.CallResult{
				CallID: call.ID, Outcome: outcome, Reason: resp.OutcomeReason,
				StartedAt: start, EndedAt: time.Now(),
			}
		}
		if !resp.RequiresInput {
			continue
		}
	}

	return domain.CallResult{CallID: call.ID, Outcome: domain.OutcomeFailed, Reason: "conversation exceeded max turns", StartedAt: start, EndedAt: time.Now()}
}

// abandon builds the synthetic-terminal CallResult for an unexpected
// hangup: pending TTS is dropped, partially committed side effects are
// logged but never rolled back (spec.md §4.8) — the audit log is the
// record of truth, not a compensating transaction here.
func (d *Driver) abandon(cc *CallContext, start time.Time) domain.CallResult {
	return domain.CallResult{
		CallID: cc.CallID, Outcome: domain.OutcomeAbandoned, Reason: "remote hangup",
		StartedAt: start, EndedAt: time.Now(),
	}
}

// speak splits a complete response text at sentence terminators and sends
// it to TTS one sentence at a time (spec.md §4.8 step 5). It does not take
// LLM output incrementally: synthesis starts only once the whole text exists.
func (d *Driver) speak(ctx context.Context, text string) {
	buffer := text
	for {
		sentence, rest, ok := extractSentence(buffer)
		if !ok {
			if strings.TrimSpace(buffer) != "" {
				d.synthesize(ctx, buffer)
			}
			return
		}
		d.synthesize(ctx, sentence)
		buffer = rest
	}
}

// GenerateReply runs one LLM turn for a handler that wants a generated
// response rather than a canned template (spec.md §4.8 step 2's LLM stage).
func (d *Driver) GenerateReply(ctx context.Context, systemPrompt string, cc *CallContext, userUtterance string) (string, error) {
	if d.llm == nil {
		return "", nil
	}
	return d.llm.Generate(ctx, systemPrompt, cc.History, userUtterance)
}

func (d *Driver) synthesize(ctx context.Context, sentence string) {
	if d.tts == nil {
		return
	}
	if _, err := d.tts.Synthesize(ctx, sentence); err != nil {
		d.log.Error("tts synthesis failed", "error", err)
	}
}

// SideEffectDispatcher is injected by the call's owning workflow to run
// book_slot/send_sms/transfer side effects against the right collaborator.
type SideEffectDispatcher interface {
	Dispatch(ctx context.Context, effect SideEffect) error
}

func (d *Driver) dispatchSideEffects(ctx context.Context, effects []SideEffect) {
	// A Driver instance is shared across calls of the same call type; the
	// dispatcher is looked up per-call via CallContext.Data in a richer
	// deployment. This reference implementation just logs: side-effect
	// wiring to calendar/SMS/transfer collaborators is the owning
	// workflow's responsibility (pkg/campaign registers handlers that
	// close over those collaborators directly instead).
	for _, e := range effects {
		d.log.Info("side effect requested", "kind", e.Kind)
	}
}
