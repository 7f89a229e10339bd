// Package types defines the wire types shared between the voice gateway and
// the conversation API.
package types

// Message roles as produced by the agent team.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleSystem    = "system"
)

// CustomerName is the participant name the agent team assigns to turns it
// records on behalf of the caller. Such turns may carry role "user" but are
// never part of a spoken or sent reply.
const CustomerName = "Customer"

// Message is a single conversation turn.
type Message struct {
	Name    string `json:"name,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsCustomerAuthored reports whether the turn originated from the customer
// rather than from an agent.
func (m Message) IsCustomerAuthored() bool {
	return m.Role == RoleUser || m.Name == CustomerName
}

// MessageRequest is the body of POST /conversation/{id}.
type MessageRequest struct {
	Message string `json:"message"`
}

// ErrorResponse is returned with non-2xx statuses.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
