package llm

import "strings"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxTokens caps a reply when the request leaves MaxTokens unset.
const DefaultMaxTokens = 4096

// Message is one turn of a chat.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks a model for a single reply. System is sent ahead
// of Messages in whatever form the provider expects.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage counts the tokens a completion consumed.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse is a model reply.
type CompletionResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage
}

func (r CompletionRequest) withDefaults(model string) CompletionRequest {
	if r.Model == "" {
		r.Model = model
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	return r
}

// splitSystem merges System and any system-role messages into one prompt
// and returns the remaining turns in order.
func (r CompletionRequest) splitSystem() (string, []Message) {
	var system []string
	if r.System != "" {
		system = append(system, r.System)
	}
	turns := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// withSystemTurn is splitSystem for providers that take the system prompt
// as a leading message.
func (r CompletionRequest) withSystemTurn() []Message {
	system, turns := r.splitSystem()
	if system == "" {
		return turns
	}
	return append([]Message{{Role: RoleSystem, Content: system}}, turns...)
}
