// Package inference talks to chat-completion engines. Generators and remote
// reward scorers share the same contract: one response per request, returned
// in request order.
package inference

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. A nil Content marks the turn the engine
// is expected to fill in.
type Message struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Text returns the message content, or "" for a generation target.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// NewMessage builds a message with non-nil content.
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: &content}
}

// InferRequest is a single conversation submitted to an engine. GroundTruth is
// only consumed by scorers that compare against a reference answer.
type InferRequest struct {
	Messages    []Message `json:"messages"`
	GroundTruth string    `json:"ground_truth,omitempty"`
}

// RequestConfig carries the sampling parameters for one Infer call. Nil
// pointers leave the engine default in place.
type RequestConfig struct {
	MaxTokens   *int     `mapstructure:"max_tokens" json:"max_tokens,omitempty"`
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty"`
	TopK        *int     `mapstructure:"top_k" json:"top_k,omitempty"`
	TopP        *float64 `mapstructure:"top_p" json:"top_p,omitempty"`
}

type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

// ChatResponse mirrors the OpenAI chat completion response body.
type ChatResponse struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// Content returns choices[0].message.content, or "" when the engine returned
// no choice.
func (r ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Text()
}
