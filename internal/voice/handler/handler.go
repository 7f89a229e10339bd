// Package handler implements the call-automation webhook endpoints and the
// per-call session state machine of the voice gateway.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	v1 "github.com/nexatel/voicedesk/api/types/v1"
	"github.com/nexatel/voicedesk/internal/voice/config"
	"github.com/nexatel/voicedesk/internal/voice/dialogue"
	"github.com/nexatel/voicedesk/internal/voice/event"
	"github.com/nexatel/voicedesk/internal/voice/session"
)

// Operation context tags echoed back on completion events. They are the only
// correlation between a completion event and the request that caused it.
const (
	// ChatContext tags recognize operations gathering caller input.
	ChatContext = "ChatContext"
	// GoodbyeContext tags the closing message playback.
	GoodbyeContext = "Goodbye"
)

// CallControl answers calls, plays prompts, starts recognition and hangs up.
// Implemented by callcontrol.Client.
type CallControl interface {
	Answer(ctx context.Context, incomingCallContext, callbackURL string) (string, error)
	StartRecognizing(ctx context.Context, callConnectionID, targetCaller, prompt, operationContext string) error
	Play(ctx context.Context, callConnectionID, text, operationContext string) error
	HangUp(ctx context.Context, callConnectionID string, forEveryone bool) error
}

// Dialogue turns a caller utterance into reply turns.
// Implemented by dialogue.Client.
type Dialogue interface {
	Ask(ctx context.Context, utterance, conversationID string) ([]v1.Message, error)
}

// Handler serves the two webhook endpoints: /api/call for incoming-call and
// validation events, /api/call/{contextID} for in-call lifecycle events.
type Handler struct {
	sessions      session.Store
	control       CallControl
	dialogue      Dialogue
	prompts       config.Prompts
	publicBaseURL string
	httpClient    *http.Client
}

// New creates a webhook handler. publicBaseURL may be empty, in which case
// callback URLs are derived from the inbound request's host.
func New(sessions session.Store, control CallControl, dlg Dialogue, prompts config.Prompts, publicBaseURL string) *Handler {
	return &Handler{
		sessions:      sessions,
		control:       control,
		dialogue:      dlg,
		prompts:       prompts,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		httpClient:    http.DefaultClient,
	}
}

// Register installs the webhook routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/call", h.HandleInbound)
	mux.HandleFunc("POST /api/call/{contextID}", h.HandleCallback)
}

// HandleInbound processes the initial event batch: the one-time subscription
// validation handshake and incoming-call events. Unknown event types are
// logged and skipped; the batch is acknowledged unless it cannot be parsed.
func (h *Handler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	events, err := event.ParseBatch(body)
	if err != nil {
		slog.Error("[Voice] Malformed inbound batch", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	for _, env := range events {
		switch env.Kind() {
		case event.TypeSubscriptionValidation:
			data, err := env.DecodeValidation()
			if err != nil {
				slog.Error("[Voice] Bad validation event", "error", err)
				continue
			}
			slog.Info("[Voice] Validating webhook subscription")
			h.confirmValidationURL(r.Context(), data.ValidationURL)
			writeJSON(w, http.StatusOK, map[string]string{"validationResponse": data.ValidationCode})
			return

		case event.TypeIncomingCall:
			if err := h.answerIncomingCall(r, &env); err != nil {
				slog.Error("[Voice] Failed to answer incoming call", "error", err)
			}

		default:
			slog.Warn("[Voice] Event type not supported", "type", env.RawType())
		}
	}

	writeEmptyOK(w)
}

// HandleCallback processes in-call lifecycle events for one call context.
// Events are handled sequentially in array order; a failure on one event is
// logged and does not block the rest of the batch.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	events, err := event.ParseBatch(body)
	if err != nil {
		slog.Error("[Voice] Malformed callback batch", "context_id", r.PathValue("contextID"), "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	callerID := NormalizeCallerID(r.URL.Query().Get("callerId"))

	for _, env := range events {
		h.dispatch(r.Context(), &env, callerID)
	}

	writeEmptyOK(w)
}

// dispatch routes one lifecycle event through the session state machine.
func (h *Handler) dispatch(ctx context.Context, env *event.Envelope, callerID string) {
	kind := env.Kind()
	if kind == event.TypeUnknown {
		slog.Warn("[Voice] Ignoring unhandled event type", "type", env.RawType())
		return
	}

	data, err := env.DecodeCall()
	if err != nil {
		slog.Error("[Voice] Bad lifecycle event", "type", kind, "error", err)
		return
	}
	callID := data.CallConnectionID
	slog.Info("[Voice] Event received", "type", kind, "call_id", callID)

	switch kind {
	case event.TypeCallConnected:
		h.onConnected(ctx, callID, callerID)
	case event.TypeRecognizeCompleted:
		h.onRecognizeCompleted(ctx, callID, callerID, data)
	case event.TypeRecognizeFailed:
		h.onRecognizeFailed(ctx, callID, callerID, data)
	case event.TypePlayCompleted:
		h.onPlayCompleted(ctx, callID, data)
	case event.TypeCallDisconnected:
		h.onDisconnected(ctx, callID)
	}
}

// onConnected initializes the retry budget and greets the caller. Creation
// is idempotent: a redelivered connected event never resets a partially
// spent budget.
func (h *Handler) onConnected(ctx context.Context, callID, callerID string) {
	created, err := h.sessions.Create(ctx, session.NewCallSession(callID, callerID))
	if err != nil {
		slog.Error("[Voice] Failed to create session", "call_id", callID, "error", err)
		return
	}
	if !created {
		slog.Warn("[Voice] Duplicate connected event", "call_id", callID)
		return
	}
	h.setState(ctx, callID, session.StateListening)
	h.replyAndWait(ctx, callID, callerID, h.prompts.Greeting)
}

// onRecognizeCompleted forwards the recognized utterance to the agent team
// and speaks the assistant reply. Empty recognized text issues no dialogue
// turn; the gateway silently re-listens so the silence-retry budget, not the
// apology prompt, governs a caller who says nothing usable.
func (h *Handler) onRecognizeCompleted(ctx context.Context, callID, callerID string, data *event.CallData) {
	if data.RecognitionType != event.RecognitionTypeSpeech {
		slog.Warn("[Voice] Unsupported recognition type", "call_id", callID, "recognition_type", data.RecognitionType)
		return
	}
	if _, ok := h.liveSession(ctx, callID); !ok {
		return
	}

	speech := strings.TrimSpace(data.SpeechResult.Speech)
	slog.Info("[Voice] Recognition completed", "call_id", callID, "speech", speech)
	if speech == "" {
		h.replyAndWait(ctx, callID, callerID, "")
		return
	}

	h.setState(ctx, callID, session.StateDispatching)
	messages, err := h.dialogue.Ask(ctx, speech, callerID)
	if err != nil {
		slog.Error("[Voice] Dialogue turn failed", "call_id", callID, "error", err)
		h.setState(ctx, callID, session.StateListening)
		h.replyAndWait(ctx, callID, callerID, h.prompts.AgentsError)
		return
	}

	reply := dialogue.AssistantReply(messages)
	slog.Info("[Voice] Agent response", "call_id", callID, "reply", reply)

	h.setState(ctx, callID, session.StateListening)
	if strings.TrimSpace(reply) == "" {
		h.replyAndWait(ctx, callID, callerID, h.prompts.AgentsError)
		return
	}
	h.replyAndWait(ctx, callID, callerID, reply)
}

// onRecognizeFailed spends one retry on silence and re-prompts; an exhausted
// budget or an unclassified sub-code ends the call gracefully. Unknown
// sub-codes fail toward termination rather than an infinite retry loop.
func (h *Handler) onRecognizeFailed(ctx context.Context, callID, callerID string, data *event.CallData) {
	s, ok := h.liveSession(ctx, callID)
	if !ok {
		return
	}
	if s.State == session.StateClosing {
		// Duplicate failure after the goodbye flow already started.
		slog.Warn("[Voice] Recognition failure for closing call ignored", "call_id", callID)
		return
	}

	subCode := data.ResultInformation.SubCode
	if subCode == event.SubCodeNoSpeechDetected {
		remaining, ok, err := h.sessions.DecrementRetries(ctx, callID)
		if err != nil {
			slog.Error("[Voice] Failed to decrement retries", "call_id", callID, "error", err)
			return
		}
		if !ok {
			slog.Warn("[Voice] Retry entry already gone, ignoring", "call_id", callID)
			return
		}
		if remaining > 0 {
			slog.Info("[Voice] No input, retrying", "call_id", callID, "retries_remaining", remaining)
			h.replyAndWait(ctx, callID, callerID, h.prompts.SilenceRetry)
			return
		}
	} else {
		slog.Warn("[Voice] Unrecoverable recognition failure", "call_id", callID, "sub_code", subCode)
	}

	h.sayGoodbye(ctx, callID)
}

// onPlayCompleted hangs up once the goodbye message has finished playing.
// Playback completions in any other context need no action.
func (h *Handler) onPlayCompleted(ctx context.Context, callID string, data *event.CallData) {
	if !strings.EqualFold(data.OperationContext, GoodbyeContext) {
		slog.Debug("[Voice] Playback completed", "call_id", callID, "context", data.OperationContext)
		return
	}
	if _, ok := h.liveSession(ctx, callID); !ok {
		return
	}

	if err := h.control.HangUp(ctx, callID, true); err != nil {
		slog.Error("[Voice] Failed to hang up", "call_id", callID, "error", err)
	}
	h.setState(ctx, callID, session.StateTerminated)
	if err := h.sessions.Remove(ctx, callID); err != nil {
		slog.Error("[Voice] Failed to remove session", "call_id", callID, "error", err)
	}
	slog.Info("[Voice] Call terminated", "call_id", callID)
}

// onDisconnected discards session state when the remote party hangs up.
func (h *Handler) onDisconnected(ctx context.Context, callID string) {
	if err := h.sessions.Remove(ctx, callID); err != nil {
		slog.Error("[Voice] Failed to remove session", "call_id", callID, "error", err)
		return
	}
	slog.Info("[Voice] Call disconnected", "call_id", callID)
}

// answerIncomingCall extracts the caller identity, builds the per-call
// callback URL and asks the call-control service to answer.
func (h *Handler) answerIncomingCall(r *http.Request, env *event.Envelope) error {
	data, err := env.DecodeIncomingCall()
	if err != nil {
		return err
	}

	callerID := data.CallerID()
	callID := uuid.NewString()
	callbackURL := h.callbackURL(r, callID, callerID)
	slog.Info("[Voice] Incoming call", "caller_id", callerID, "callback_url", callbackURL)

	connectionID, err := h.control.Answer(r.Context(), data.IncomingCallContext, callbackURL)
	if err != nil {
		return err
	}
	slog.Info("[Voice] Answered call", "call_id", connectionID)
	return nil
}

// callbackURL builds the in-call webhook address, encoding the caller id as
// a query parameter. The call-control service requires https callbacks.
func (h *Handler) callbackURL(r *http.Request, callID, callerID string) string {
	base := h.publicBaseURL
	if base == "" {
		base = "https://" + r.Host
	}
	base = strings.Replace(base, "http://", "https://", 1)

	query := url.Values{"callerId": []string{callerID}}
	return base + "/api/call/" + callID + "?" + query.Encode()
}

// confirmValidationURL acknowledges the subscription over the side channel.
// Registration completes via the validation code either way, so failures are
// only logged.
func (h *Handler) confirmValidationURL(ctx context.Context, validationURL string) {
	if validationURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validationURL, nil)
	if err != nil {
		slog.Warn("[Voice] Bad validation URL", "error", err)
		return
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		slog.Warn("[Voice] Validation URL request failed", "error", err)
		return
	}
	resp.Body.Close()
}

// replyAndWait speaks the prompt (when non-empty) and starts listening for
// the caller's next utterance.
func (h *Handler) replyAndWait(ctx context.Context, callID, callerID, prompt string) {
	if err := h.control.StartRecognizing(ctx, callID, callerID, prompt, ChatContext); err != nil {
		slog.Error("[Voice] Failed to start recognizing", "call_id", callID, "error", err)
	}
}

// sayGoodbye starts the closing flow; the matching PlayCompleted event hangs
// the call up.
func (h *Handler) sayGoodbye(ctx context.Context, callID string) {
	h.setState(ctx, callID, session.StateClosing)
	if err := h.control.Play(ctx, callID, h.prompts.Goodbye, GoodbyeContext); err != nil {
		slog.Error("[Voice] Failed to play goodbye", "call_id", callID, "error", err)
	}
}

// liveSession fetches the session, logging and reporting false for calls the
// gateway no longer knows. Late and duplicate deliveries land here.
func (h *Handler) liveSession(ctx context.Context, callID string) (*session.CallSession, bool) {
	s, ok, err := h.sessions.Get(ctx, callID)
	if err != nil {
		slog.Error("[Voice] Session lookup failed", "call_id", callID, "error", err)
		return nil, false
	}
	if !ok {
		slog.Warn("[Voice] Event for unknown call ignored", "call_id", callID)
		return nil, false
	}
	return s, true
}

func (h *Handler) setState(ctx context.Context, callID string, next session.State) {
	if _, err := h.sessions.SetState(ctx, callID, next); err != nil {
		slog.Warn("[Voice] State transition rejected", "call_id", callID, "next", next, "error", err)
	}
}

// NormalizeCallerID coerces a raw caller identifier to its leading-"+" form.
func NormalizeCallerID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return id
	}
	if !strings.Contains(id, "+") {
		id = "+" + id
	}
	return id
}

func writeEmptyOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, "")
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
