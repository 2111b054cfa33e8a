package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options are the per-call parameters. Nil pointer fields are omitted from
// the provider request; the gateway additionally drops parameters a model
// is known not to support.
type Options struct {
	Temperature  *float64
	MaxTokens    *int
	JSONResponse bool
	Timeout      time.Duration
}

// ChatResult is the assistant reply plus token accounting. JSON parsing of
// the content is the caller's responsibility.
type ChatResult struct {
	Content string
	Usage   domain.TokenUsage
}

// Provider sends one chat completion to a concrete backend. The capability
// flags tell the provider which request parameters to emit.
type Provider interface {
	Name() string
	Chat(ctx context.Context, model string, messages []Message, opts Options, caps config.ModelCapabilities) (*ChatResult, error)
}

// UnsupportedParamError is returned when the backend rejects a request
// parameter (HTTP 400 with code unsupported_value / invalid_request_error
// naming the parameter). The gateway reacts by flipping the corresponding
// capability flag and retrying once.
type UnsupportedParamError struct {
	Param string
}

func (e *UnsupportedParamError) Error() string {
	return fmt.Sprintf("provider rejected parameter %q", e.Param)
}

// TransportError wraps timeouts and connection failures so the orchestrator
// can map them to a 504-equivalent response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
