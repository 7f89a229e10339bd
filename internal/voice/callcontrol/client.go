// Package callcontrol talks to the managed call-automation service that
// answers calls, plays TTS prompts, runs speech recognition and hangs up.
package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

const tokenScope = "https://communication.azure.com//.default"

// endSilenceTimeoutSeconds is the final pause of the speaker used to detect
// that an utterance is complete.
const endSilenceTimeoutSeconds = 1

// ServiceError is a non-2xx answer from the call-automation service.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("call automation service returned %d: %s", e.StatusCode, e.Message)
}

// Client is the REST client for the call-automation service.
type Client struct {
	endpoint   string
	cognitive  string
	voiceName  string
	credential azcore.TokenCredential
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a call-automation client. endpoint is the service
// resource URL, cognitiveEndpoint the speech resource used for built-in
// recognition, voiceName the TTS voice for prompts.
func NewClient(endpoint, cognitiveEndpoint, voiceName string, credential azcore.TokenCredential, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		cognitive:  cognitiveEndpoint,
		voiceName:  voiceName,
		credential: credential,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Answer accepts an inbound call. The callback URL receives all subsequent
// lifecycle events for the connection.
func (c *Client) Answer(ctx context.Context, incomingCallContext, callbackURL string) (string, error) {
	body := map[string]any{
		"incomingCallContext": incomingCallContext,
		"callbackUri":         callbackURL,
		"callIntelligenceOptions": map[string]any{
			"cognitiveServicesEndpoint": c.cognitive,
		},
	}

	var result struct {
		CallConnectionID string `json:"callConnectionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/calling/callConnections:answer", body, &result); err != nil {
		return "", fmt.Errorf("answer call: %w", err)
	}
	if result.CallConnectionID == "" {
		return "", fmt.Errorf("answer call: response missing callConnectionId")
	}
	return result.CallConnectionID, nil
}

// StartRecognizing plays the prompt (when non-empty) and starts speech
// recognition for the target caller. operationContext is echoed back on the
// completion event.
func (c *Client) StartRecognizing(ctx context.Context, callConnectionID, targetCaller, prompt, operationContext string) error {
	options := map[string]any{
		"inputType": "speech",
		"targetParticipant": map[string]any{
			"kind":        "phoneNumber",
			"phoneNumber": map[string]any{"value": targetCaller},
		},
		"speechOptions": map[string]any{
			"endSilenceTimeoutInMs": endSilenceTimeoutSeconds * 1000,
		},
	}
	if prompt != "" {
		options["playPrompt"] = map[string]any{
			"kind":     "ssml",
			"ssml":     map[string]any{"ssmlText": c.ssml(prompt)},
			"playedIn": "toAll",
		}
	}
	body := map[string]any{
		"recognizeOptions": options,
		"operationContext": operationContext,
	}

	path := fmt.Sprintf("/calling/callConnections/%s:recognize", callConnectionID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("start recognizing: %w", err)
	}
	return nil
}

// Play plays a TTS message to all participants.
func (c *Client) Play(ctx context.Context, callConnectionID, text, operationContext string) error {
	body := map[string]any{
		"playSources": []map[string]any{
			{
				"kind": "text",
				"text": map[string]any{"text": text, "voiceName": c.voiceName},
			},
		},
		"playToAll":        true,
		"operationContext": operationContext,
	}

	path := fmt.Sprintf("/calling/callConnections/%s:play", callConnectionID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("play media: %w", err)
	}
	return nil
}

// HangUp terminates the call, for every participant when forEveryone is set.
func (c *Client) HangUp(ctx context.Context, callConnectionID string, forEveryone bool) error {
	path := fmt.Sprintf("/calling/callConnections/%s", callConnectionID)
	if forEveryone {
		path += ":terminate"
		if err := c.do(ctx, http.MethodPost, path, map[string]any{}, nil); err != nil {
			return fmt.Errorf("hang up: %w", err)
		}
		return nil
	}
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("hang up: %w", err)
	}
	return nil
}

// ssml wraps prompt text with the configured voice.
func (c *Client) ssml(text string) string {
	return fmt.Sprintf(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US"><voice name="%s">%s</voice></speak>`, c.voiceName, text)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{tokenScope},
	})
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return &ServiceError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
