package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	v1 "github.com/nexatel/voicedesk/api/types/v1"
	"github.com/nexatel/voicedesk/internal/voice/config"
	"github.com/nexatel/voicedesk/internal/voice/session"
)

type recognizeCall struct {
	CallID  string
	Caller  string
	Prompt  string
	Context string
}

type playCall struct {
	CallID  string
	Text    string
	Context string
}

type fakeControl struct {
	mu         sync.Mutex
	answers    []string
	recognizes []recognizeCall
	plays      []playCall
	hangups    []string
	err        error
}

func (f *fakeControl) Answer(ctx context.Context, incomingCallContext, callbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackURL)
	return "conn-1", f.err
}

func (f *fakeControl) StartRecognizing(ctx context.Context, callID, caller, prompt, operationContext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recognizes = append(f.recognizes, recognizeCall{callID, caller, prompt, operationContext})
	return f.err
}

func (f *fakeControl) Play(ctx context.Context, callID, text, operationContext string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, playCall{callID, text, operationContext})
	return f.err
}

func (f *fakeControl) HangUp(ctx context.Context, callID string, forEveryone bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callID)
	return f.err
}

type fakeDialogue struct {
	mu       sync.Mutex
	asked    []string
	messages []v1.Message
	err      error
}

func (f *fakeDialogue) Ask(ctx context.Context, utterance, conversationID string) ([]v1.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, utterance)
	return f.messages, f.err
}

func newTestHandler(t *testing.T) (*Handler, *session.MemoryStore, *fakeControl, *fakeDialogue, *http.ServeMux) {
	t.Helper()
	sessions := session.NewMemoryStore()
	t.Cleanup(sessions.Close)

	control := &fakeControl{}
	dlg := &fakeDialogue{}
	h := New(sessions, control, dlg, config.DefaultPrompts(), "")

	mux := http.NewServeMux()
	h.Register(mux)
	return h, sessions, control, dlg, mux
}

func postEvents(t *testing.T, mux *http.ServeMux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

const callbackPath = "/api/call/ctx-1?callerId=491701234567"

func connectedEvent(callID string) string {
	return fmt.Sprintf(`[{"type":"Microsoft.Communication.CallConnected","data":{"callConnectionId":"%s"}}]`, callID)
}

func silenceEvent(callID string) string {
	return fmt.Sprintf(`[{"type":"Microsoft.Communication.RecognizeFailed","data":{"callConnectionId":"%s","operationContext":"ChatContext","resultInformation":{"subCode":8510}}}]`, callID)
}

func speechEvent(callID, speech string) string {
	return fmt.Sprintf(`[{"type":"Microsoft.Communication.RecognizeCompleted","data":{"callConnectionId":"%s","recognitionType":"speech","speechResult":{"speech":"%s"}}}]`, callID, speech)
}

func playCompletedEvent(callID, operationContext string) string {
	return fmt.Sprintf(`[{"type":"Microsoft.Communication.PlayCompleted","data":{"callConnectionId":"%s","operationContext":"%s"}}]`, callID, operationContext)
}

func TestConnectedGreetsAndListens(t *testing.T) {
	_, sessions, control, _, mux := newTestHandler(t)

	w := postEvents(t, mux, callbackPath, connectedEvent("call-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	if len(control.recognizes) != 1 {
		t.Fatalf("recognize calls = %d, want 1", len(control.recognizes))
	}
	got := control.recognizes[0]
	if got.Prompt != config.DefaultPrompts().Greeting {
		t.Errorf("prompt = %q, want greeting", got.Prompt)
	}
	if got.Context != ChatContext {
		t.Errorf("context = %q, want %q", got.Context, ChatContext)
	}
	if got.Caller != "+491701234567" {
		t.Errorf("caller = %q, want normalized +491701234567", got.Caller)
	}

	s, ok, _ := sessions.Get(context.Background(), "call-1")
	if !ok {
		t.Fatal("session not created")
	}
	if s.RetriesRemaining != session.DefaultRetryBudget {
		t.Errorf("retries = %d, want %d", s.RetriesRemaining, session.DefaultRetryBudget)
	}
	if s.State != session.StateListening {
		t.Errorf("state = %s, want Listening", s.State)
	}
}

func TestThreeSilencesEndCall(t *testing.T) {
	_, sessions, control, _, mux := newTestHandler(t)
	postEvents(t, mux, callbackPath, connectedEvent("call-1"))

	// First two silences re-prompt and keep listening.
	for i := 0; i < 2; i++ {
		postEvents(t, mux, callbackPath, silenceEvent("call-1"))
	}
	if len(control.plays) != 0 {
		t.Fatalf("goodbye played too early: %v", control.plays)
	}
	if len(control.recognizes) != 3 { // greeting + two retries
		t.Fatalf("recognize calls = %d, want 3", len(control.recognizes))
	}
	for _, rec := range control.recognizes[1:] {
		if rec.Prompt != config.DefaultPrompts().SilenceRetry {
			t.Errorf("retry prompt = %q, want silence prompt", rec.Prompt)
		}
	}

	// Third silence transitions to goodbye with no further listen.
	postEvents(t, mux, callbackPath, silenceEvent("call-1"))
	if len(control.recognizes) != 3 {
		t.Errorf("recognize calls after third silence = %d, want 3", len(control.recognizes))
	}
	if len(control.plays) != 1 {
		t.Fatalf("plays = %d, want 1", len(control.plays))
	}
	if control.plays[0].Context != GoodbyeContext {
		t.Errorf("play context = %q, want %q", control.plays[0].Context, GoodbyeContext)
	}

	s, ok, _ := sessions.Get(context.Background(), "call-1")
	if !ok {
		t.Fatal("session should survive until goodbye playback completes")
	}
	if s.State != session.StateClosing {
		t.Errorf("state = %s, want Closing", s.State)
	}
	if s.RetriesRemaining != 0 {
		t.Errorf("retries = %d, want 0", s.RetriesRemaining)
	}

	// Goodbye playback completion hangs up and discards the session.
	postEvents(t, mux, callbackPath, playCompletedEvent("call-1", "Goodbye"))
	if len(control.hangups) != 1 {
		t.Fatalf("hangups = %d, want 1", len(control.hangups))
	}
	if _, ok, _ := sessions.Get(context.Background(), "call-1"); ok {
		t.Error("session still present after termination")
	}

	// A duplicate silence after teardown is ignored without faulting.
	w := postEvents(t, mux, callbackPath, silenceEvent("call-1"))
	if w.Code != http.StatusOK {
		t.Errorf("late event status = %d, want 200", w.Code)
	}
	if len(control.plays) != 1 || len(control.hangups) != 1 {
		t.Error("late event triggered actions")
	}
}

func TestRetriesNeverNegative(t *testing.T) {
	_, sessions, _, _, mux := newTestHandler(t)
	postEvents(t, mux, callbackPath, connectedEvent("call-1"))

	last := session.DefaultRetryBudget
	for i := 0; i < 6; i++ {
		postEvents(t, mux, callbackPath, silenceEvent("call-1"))
		s, ok, _ := sessions.Get(context.Background(), "call-1")
		if !ok {
			break
		}
		if s.RetriesRemaining < 0 {
			t.Fatalf("retries went negative: %d", s.RetriesRemaining)
		}
		if s.RetriesRemaining > last {
			t.Fatalf("retries increased: %d -> %d", last, s.RetriesRemaining)
		}
		last = s.RetriesRemaining
	}
}

func TestRecognizedSpeechDispatchesToAgents(t *testing.T) {
	_, _, control, dlg, mux := newTestHandler(t)
	dlg.messages = []v1.Message{
		{Name: "Customer", Role: "user", Content: "where is my order"},
		{Name: "support", Role: "assistant", Content: "Let me check."},
		{Name: "support", Role: "assistant", Content: "It ships tomorrow."},
	}

	postEvents(t, mux, callbackPath, connectedEvent("call-1"))
	postEvents(t, mux, callbackPath, speechEvent("call-1", "where is my order"))

	if len(dlg.asked) != 1 || dlg.asked[0] != "where is my order" {
		t.Fatalf("dialogue asked = %v", dlg.asked)
	}
	reply := control.recognizes[len(control.recognizes)-1]
	want := "Let me check.\nIt ships tomorrow."
	if reply.Prompt != want {
		t.Errorf("spoken reply = %q, want %q", reply.Prompt, want)
	}
	if reply.Context != ChatContext {
		t.Errorf("reply context = %q, want %q", reply.Context, ChatContext)
	}
}

func TestEmptySpeechIssuesNoDialogueTurn(t *testing.T) {
	_, sessions, control, dlg, mux := newTestHandler(t)
	postEvents(t, mux, callbackPath, connectedEvent("call-1"))
	postEvents(t, mux, callbackPath, speechEvent("call-1", "   "))

	if len(dlg.asked) != 0 {
		t.Errorf("dialogue asked for empty speech: %v", dlg.asked)
	}
	last := control.recognizes[len(control.recognizes)-1]
	if last.Prompt != "" {
		t.Errorf("re-listen prompt = %q, want empty (no apology)", last.Prompt)
	}
	s, _, _ := sessions.Get(context.Background(), "call-1")
	if s.State != session.StateListening {
		t.Errorf("state = %s, want Listening", s.State)
	}
}

func TestCustomerOnlyReplyTriggersApology(t *testing.T) {
	_, _, control, dlg, mux := newTestHandler(t)
	dlg.messages = []v1.Message{
		{Name: "Customer", Role: "user", Content: "hello"},
	}

	postEvents(t, mux, callbackPath, connectedEvent("call-1"))
	postEvents(t, mux, callbackPath, speechEvent("call-1", "hello"))

	last := control.recognizes[len(control.recognizes)-1]
	if last.Prompt != config.DefaultPrompts().AgentsError {
		t.Errorf("prompt = %q, want apology", last.Prompt)
	}
}

func TestDialogueFailureSpeaksApology(t *testing.T) {
	_, _, control, dlg, mux := newTestHandler(t)
	dlg.err = errors.New("team unavailable")

	postEvents(t, mux, callbackPath, connectedEvent("call-1"))
	w := postEvents(t, mux, callbackPath, speechEvent("call-1", "hello"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite collaborator failure", w.Code)
	}
	last := control.recognizes[len(control.recognizes)-1]
	if last.Prompt != config.DefaultPrompts().AgentsError {
		t.Errorf("prompt = %q, want apology", last.Prompt)
	}
}

func TestUnknownSubCodeEndsCall(t *testing.T) {
	_, _, control, _, mux := newTestHandler(t)
	postEvents(t, mux, callbackPath, connectedEvent("call-1"))

	body := `[{"type":"Microsoft.Communication.RecognizeFailed","data":{"callConnectionId":"call-1","operationContext":"ChatContext","resultInformation":{"subCode":9999}}}]`
	postEvents(t, mux, callbackPath, body)

	if len(control.plays) != 1 || control.plays[0].Context != GoodbyeContext {
		t.Fatalf("unknown sub-code did not trigger goodbye: %v", control.plays)
	}
}

func TestPlayCompletedContextCasing(t *testing.T) {
	tests := []struct {
		context    string
		wantHangup bool
	}{
		{"Goodbye", true},
		{"GOODBYE", true},
		{"goodbye", true},
		{"ChatContext", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.context, func(t *testing.T) {
			_, _, control, _, mux := newTestHandler(t)
			postEvents(t, mux, callbackPath, connectedEvent("call-1"))
			postEvents(t, mux, callbackPath, playCompletedEvent("call-1", tt.context))

			if got := len(control.hangups) == 1; got != tt.wantHangup {
				t.Errorf("hangup = %v, want %v", got, tt.wantHangup)
			}
		})
	}
}

func TestDuplicateConnectedKeepsRetries(t *testing.T) {
	_, sessions, _, _, mux := newTestHandler(t)
	postEvents(t, mux, callbackPath, connectedEvent("call-1"))
	postEvents(t, mux, callbackPath, silenceEvent("call-1"))

	// Redelivered connected event must not reset the spent budget.
	postEvents(t, mux, callbackPath, connectedEvent("call-1"))

	s, ok, _ := sessions.Get(context.Background(), "call-1")
	if !ok {
		t.Fatal("session missing")
	}
	if s.RetriesRemaining != session.DefaultRetryBudget-1 {
		t.Errorf("retries = %d, want %d", s.RetriesRemaining, session.DefaultRetryBudget-1)
	}
}

func TestUnknownCallIgnored(t *testing.T) {
	_, _, control, dlg, mux := newTestHandler(t)

	w := postEvents(t, mux, callbackPath, speechEvent("ghost", "hello"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(dlg.asked) != 0 || len(control.recognizes) != 0 {
		t.Error("actions taken for unknown call")
	}
}

func TestMalformedBatchReturns500(t *testing.T) {
	_, _, _, _, mux := newTestHandler(t)

	w := postEvents(t, mux, callbackPath, `{"not":"an array"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	w = postEvents(t, mux, "/api/call", `{"not":"an array"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("inbound status = %d, want 500", w.Code)
	}
}

func TestBatchContinuesPastFailingEvent(t *testing.T) {
	_, _, control, _, mux := newTestHandler(t)

	// First event references an unknown call, second is a valid connect.
	batch := `[
		{"type":"Microsoft.Communication.RecognizeFailed","data":{"callConnectionId":"ghost","resultInformation":{"subCode":8510}}},
		{"type":"Microsoft.Communication.CallConnected","data":{"callConnectionId":"call-2"}}
	]`
	w := postEvents(t, mux, callbackPath, batch)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(control.recognizes) != 1 {
		t.Errorf("second event not processed, recognizes = %d", len(control.recognizes))
	}
}

func TestValidationHandshake(t *testing.T) {
	_, _, _, _, mux := newTestHandler(t)

	body := `[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{"validationCode":"code-123"}}]`
	w := postEvents(t, mux, "/api/call", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"validationResponse":"code-123"`) {
		t.Errorf("body = %s, want validationResponse echo", w.Body.String())
	}
}

func TestIncomingCallAnswered(t *testing.T) {
	_, _, control, _, mux := newTestHandler(t)

	body := `[{"eventType":"Microsoft.Communication.IncomingCall","data":{"incomingCallContext":"ctx","from":{"kind":"phoneNumber","phoneNumber":{"value":"+31612345678"}}}}]`
	w := postEvents(t, mux, "/api/call", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(control.answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(control.answers))
	}
	callbackURL := control.answers[0]
	if !strings.HasPrefix(callbackURL, "https://") {
		t.Errorf("callback url %q not https", callbackURL)
	}
	if !strings.Contains(callbackURL, "callerId=%2B31612345678") {
		t.Errorf("callback url %q missing caller id", callbackURL)
	}
	if !strings.Contains(callbackURL, "/api/call/") {
		t.Errorf("callback url %q missing per-call path", callbackURL)
	}
}

func TestIncomingCallRawIDFallback(t *testing.T) {
	_, _, control, _, mux := newTestHandler(t)

	body := `[{"eventType":"Microsoft.Communication.IncomingCall","data":{"incomingCallContext":"ctx","from":{"kind":"communicationUser","rawId":"8:acs:user-1"}}}]`
	postEvents(t, mux, "/api/call", body)

	if len(control.answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(control.answers))
	}
	if !strings.Contains(control.answers[0], "callerId=8%3Aacs%3Auser-1") {
		t.Errorf("callback url %q missing raw id", control.answers[0])
	}
}

func TestUnsupportedInboundEventIgnored(t *testing.T) {
	_, _, control, _, mux := newTestHandler(t)

	body := `[{"eventType":"Microsoft.Communication.SomethingElse","data":{}}]`
	w := postEvents(t, mux, "/api/call", body)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(control.answers) != 0 {
		t.Error("unsupported event answered a call")
	}
}

func TestDisconnectedRemovesSession(t *testing.T) {
	_, sessions, _, _, mux := newTestHandler(t)
	postEvents(t, mux, callbackPath, connectedEvent("call-1"))

	body := `[{"type":"Microsoft.Communication.CallDisconnected","data":{"callConnectionId":"call-1"}}]`
	postEvents(t, mux, callbackPath, body)

	if _, ok, _ := sessions.Get(context.Background(), "call-1"); ok {
		t.Error("session still present after disconnect")
	}
}

func TestNormalizeCallerID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"491701234567", "+491701234567"},
		{"+491701234567", "+491701234567"},
		{"  491701234567  ", "+491701234567"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeCallerID(tt.in); got != tt.want {
			t.Errorf("NormalizeCallerID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
