// Package event models the call-automation webhook events consumed by the
// voice gateway. Vendor event-type strings are parsed once into a closed
// enumeration so the session state machine dispatches on typed variants.
package event

import (
	"encoding/json"
	"fmt"
)

// Type is the closed set of call-lifecycle event variants.
type Type int

const (
	// TypeUnknown is the forward-compatibility fallback for event types the
	// gateway does not handle.
	TypeUnknown Type = iota
	// TypeSubscriptionValidation is the one-time webhook registration handshake.
	TypeSubscriptionValidation
	// TypeIncomingCall announces a new inbound call to be answered.
	TypeIncomingCall
	// TypeCallConnected fires once the answered call is established.
	TypeCallConnected
	// TypeRecognizeCompleted delivers a speech-to-text result.
	TypeRecognizeCompleted
	// TypeRecognizeFailed reports a failed or silent recognition attempt.
	TypeRecognizeFailed
	// TypePlayCompleted fires when a played prompt finishes.
	TypePlayCompleted
	// TypeCallDisconnected fires when the remote party hangs up.
	TypeCallDisconnected
)

// Vendor event-type strings.
const (
	typeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	typeIncomingCall           = "Microsoft.Communication.IncomingCall"
	typeCallConnected          = "Microsoft.Communication.CallConnected"
	typeRecognizeCompleted     = "Microsoft.Communication.RecognizeCompleted"
	typeRecognizeFailed        = "Microsoft.Communication.RecognizeFailed"
	typePlayCompleted          = "Microsoft.Communication.PlayCompleted"
	typeCallDisconnected       = "Microsoft.Communication.CallDisconnected"
)

// ParseType maps a vendor event-type string to a Type.
func ParseType(s string) Type {
	switch s {
	case typeSubscriptionValidation:
		return TypeSubscriptionValidation
	case typeIncomingCall:
		return TypeIncomingCall
	case typeCallConnected:
		return TypeCallConnected
	case typeRecognizeCompleted:
		return TypeRecognizeCompleted
	case typeRecognizeFailed:
		return TypeRecognizeFailed
	case typePlayCompleted:
		return TypePlayCompleted
	case typeCallDisconnected:
		return TypeCallDisconnected
	default:
		return TypeUnknown
	}
}

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeSubscriptionValidation:
		return "SubscriptionValidation"
	case TypeIncomingCall:
		return "IncomingCall"
	case TypeCallConnected:
		return "CallConnected"
	case TypeRecognizeCompleted:
		return "RecognizeCompleted"
	case TypeRecognizeFailed:
		return "RecognizeFailed"
	case TypePlayCompleted:
		return "PlayCompleted"
	case TypeCallDisconnected:
		return "CallDisconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// SubCodeNoSpeechDetected is the recognition-failure sub-code for silence
// (no input before the timeout).
const SubCodeNoSpeechDetected = 8510

// RecognitionTypeSpeech marks a speech-to-text recognition result.
const RecognitionTypeSpeech = "speech"

// Envelope is one element of a webhook batch. Subscription events arrive in
// the Event Grid schema ("eventType"), in-call lifecycle events in the
// CloudEvents schema ("type"); either field may be set.
type Envelope struct {
	EventType string          `json:"eventType,omitempty"`
	CloudType string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Kind returns the typed variant for the envelope.
func (e *Envelope) Kind() Type {
	if e.EventType != "" {
		return ParseType(e.EventType)
	}
	return ParseType(e.CloudType)
}

// RawType returns the vendor type string for logging.
func (e *Envelope) RawType() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.CloudType
}

// ParseBatch decodes a webhook delivery into envelopes.
func ParseBatch(body []byte) ([]Envelope, error) {
	var events []Envelope
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("parse event batch: %w", err)
	}
	return events, nil
}

// ValidationData is the payload of a subscription-validation event.
type ValidationData struct {
	ValidationCode string `json:"validationCode"`
	ValidationURL  string `json:"validationUrl"`
}

// IncomingCallData is the payload of an incoming-call event.
type IncomingCallData struct {
	IncomingCallContext string `json:"incomingCallContext"`
	From                struct {
		Kind        string `json:"kind"`
		RawID       string `json:"rawId"`
		PhoneNumber struct {
			Value string `json:"value"`
		} `json:"phoneNumber"`
	} `json:"from"`
}

// CallerID returns the caller's phone number when present, else the opaque
// raw endpoint identifier.
func (d *IncomingCallData) CallerID() string {
	if d.From.Kind == "phoneNumber" && d.From.PhoneNumber.Value != "" {
		return d.From.PhoneNumber.Value
	}
	return d.From.RawID
}

// CallData is the payload shared by in-call lifecycle events.
type CallData struct {
	CallConnectionID string `json:"callConnectionId"`
	OperationContext string `json:"operationContext"`
	RecognitionType  string `json:"recognitionType"`
	SpeechResult     struct {
		Speech string `json:"speech"`
	} `json:"speechResult"`
	ResultInformation struct {
		Code    int    `json:"code"`
		SubCode int    `json:"subCode"`
		Message string `json:"message"`
	} `json:"resultInformation"`
}

// DecodeValidation decodes the envelope data as a validation payload.
func (e *Envelope) DecodeValidation() (*ValidationData, error) {
	var d ValidationData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("decode validation data: %w", err)
	}
	return &d, nil
}

// DecodeIncomingCall decodes the envelope data as an incoming-call payload.
func (e *Envelope) DecodeIncomingCall() (*IncomingCallData, error) {
	var d IncomingCallData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("decode incoming call data: %w", err)
	}
	return &d, nil
}

// DecodeCall decodes the envelope data as an in-call lifecycle payload.
func (e *Envelope) DecodeCall() (*CallData, error) {
	var d CallData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("decode call data: %w", err)
	}
	if d.CallConnectionID == "" {
		return nil, fmt.Errorf("event missing callConnectionId")
	}
	return &d, nil
}
