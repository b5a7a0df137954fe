// Package dataset reads conversation records and writes preference pairs as
// newline-delimited JSON.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sgl-project/sampling-agent/pkg/inference"
)

// ErrMalformedRecord is returned for records that cannot be sampled from.
var ErrMalformedRecord = errors.New("malformed dataset record")

// Record is one labeled conversation. ground_truth may be a string or a list
// of strings in the source file; only the first entry is used.
type Record struct {
	Messages    []inference.Message `json:"messages"`
	GroundTruth string              `json:"-"`
}

type rawRecord struct {
	Messages    []inference.Message `json:"messages"`
	GroundTruth json.RawMessage     `json:"ground_truth"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	gt, err := decodeGroundTruth(raw.GroundTruth)
	if err != nil {
		return err
	}
	r.Messages = raw.Messages
	r.GroundTruth = gt
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Messages    []inference.Message `json:"messages"`
		GroundTruth string              `json:"ground_truth"`
	}{r.Messages, r.GroundTruth})
}

func decodeGroundTruth(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing ground_truth", ErrMalformedRecord)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("%w: ground_truth must be a string or a list of strings", ErrMalformedRecord)
	}
	if len(list) == 0 {
		return "", fmt.Errorf("%w: empty ground_truth list", ErrMalformedRecord)
	}
	return list[0], nil
}

// Validate checks the record has at least one turn and known roles.
func (r Record) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrMalformedRecord)
	}
	for i, m := range r.Messages {
		switch m.Role {
		case inference.RoleSystem, inference.RoleUser, inference.RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrMalformedRecord, i, m.Role)
		}
	}
	return nil
}

// Prompt returns the conversation without a trailing assistant turn, i.e. the
// prefix a response is generated for.
func (r Record) Prompt() []inference.Message {
	msgs := r.Messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == inference.RoleAssistant {
		msgs = msgs[:n-1]
	}
	return cloneMessages(msgs)
}

// WithResponse returns the prompt followed by an assistant turn holding
// response.
func (r Record) WithResponse(response string) []inference.Message {
	return append(r.Prompt(), inference.NewMessage(inference.RoleAssistant, response))
}

func cloneMessages(msgs []inference.Message) []inference.Message {
	out := make([]inference.Message, len(msgs))
	for i, m := range msgs {
		out[i] = inference.Message{Role: m.Role}
		if m.Content != nil {
			content := *m.Content
			out[i].Content = &content
		}
	}
	return out
}

// PreferencePair is one output line. The final entry of Messages holds the
// chosen response.
type PreferencePair struct {
	Messages         []inference.Message `json:"messages"`
	RejectedResponse string              `json:"rejected_response"`
}

// Chosen returns the chosen response text.
func (p PreferencePair) Chosen() string {
	if len(p.Messages) == 0 {
		return ""
	}
	return p.Messages[len(p.Messages)-1].Text()
}
