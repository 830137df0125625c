// Package llm defines the language-model capability used by the pipeline
// stages and an adapter for OpenAI-compatible chat endpoints (OpenAI, Ollama,
// vLLM and similar).
package llm

import (
	"context"
	"errors"
)

// Role identifies the author of a chat message.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation with a model.
type Message struct {
	Role    Role
	Content string
}

// Model turns a conversation into the next assistant reply.
type Model interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

var (
	// ErrAPIKeyNotSet is returned when neither an API key nor a custom
	// endpoint is configured.
	ErrAPIKeyNotSet = errors.New("llm api key not set")
	// ErrRateLimited is returned when the endpoint answers 429.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrNoChoices is returned when the endpoint returns an empty choice list.
	ErrNoChoices = errors.New("llm returned no choices")
)

// System is shorthand for a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User is shorthand for a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant is shorthand for an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
