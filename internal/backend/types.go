// Package backend is the chat-completion client for the Poe OpenAI-compatible
// API, plus the conversation types shared with the context store.
package backend

import "errors"

// Roles for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FlagContextConflict marks a turn persisted while another exchange for the
// same (chat, backend) key was in flight. The later write wins; the flag
// records that the stored history may be missing a concurrent exchange.
const FlagContextConflict = "context-conflict"

// Attachment is the canonical attachment shape used everywhere past the
// Telegram boundary: decoded once from the platform object, carried on the
// user turn for the backend call only, and stripped before persistence.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Base64   string `json:"data_base64"`
}

// Turn is one conversation message. Attachments and Parameters are
// transient backend-call fields; StripTransient drops them before the turn
// is written to the context store.
type Turn struct {
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Flags       []string          `json:"flags,omitempty"`
}

// StripTransient returns a copy of the turn without attachments and
// parameters. These are never replayed from storage.
func (t Turn) StripTransient() Turn {
	t.Attachments = nil
	t.Parameters = nil
	return t
}

// ChatResult is the backend's answer to one chat call.
type ChatResult struct {
	Text        string
	Attachments []ResponseAttachment
	Usage       Usage
	ID          string
}

// ResponseAttachment is an inline artifact (typically a generated image)
// referenced from the response text.
type ResponseAttachment struct {
	InlineRef string
	URL       string
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrBackend is the single failure kind surfaced to the orchestrator for
// any transport or upstream-status error. The cause is preserved for logs.
var ErrBackend = errors.New("backend call failed")
