// Package lossscale splits ReAct-style agent responses into weighted parts so
// SFT can emphasize tool calls and ignore tool observations.
package lossscale

import "strings"

// Agent keywords, in matching order.
const (
	KeyAction      = "Action:"
	KeyActionInput = "Action Input:"
	KeyThought     = "Thought:"
	KeyFinalAnswer = "Final Answer:"
	KeyObservation = "Observation:"
)

// AgentKeywords are the delimiters CalculateLossScale splits on.
var AgentKeywords = []string{KeyAction, KeyActionInput, KeyThought, KeyFinalAnswer, KeyObservation}

// Part is a delimiter and the text that follows it up to the next delimiter.
// Text before the first delimiter gets an empty Key.
type Part struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

// SplitAgentParts cuts text at every occurrence of any delimiter. At a given
// position delimiters are tried in order and the first match wins.
func SplitAgentParts(text string, delimiters []string) []Part {
	if text == "" {
		return nil
	}

	var parts []Part
	start := 0
	for i := 0; i < len(text); {
		delim := matchAt(text, i, delimiters)
		if delim == "" {
			i++
			continue
		}
		if content := text[start:i]; content != "" {
			if len(parts) == 0 {
				parts = append(parts, Part{})
			}
			parts[len(parts)-1].Content = content
		}
		parts = append(parts, Part{Key: delim})
		i += len(delim)
		start = i
	}

	if len(parts) == 0 {
		return []Part{{Content: text}}
	}
	parts[len(parts)-1].Content = text[start:]
	return parts
}

func matchAt(text string, i int, delimiters []string) string {
	for _, d := range delimiters {
		if d != "" && strings.HasPrefix(text[i:], d) {
			return d
		}
	}
	return ""
}

// weightsFor returns the (keyword, content) weight pair of a part key.
func weightsFor(key string) (float64, float64) {
	switch key {
	case KeyAction, KeyActionInput:
		return 2.0, 2.0
	case KeyObservation:
		return 2.0, 0.0
	default:
		return 1.0, 1.0
	}
}

// IsAgentResponse reports whether response follows the Thought/Action format.
func IsAgentResponse(response string) bool {
	return strings.Contains(response, KeyAction) && strings.Contains(response, KeyThought)
}

// CalculateLossScale returns the response split into alternating keyword and
// content strings with one weight each. Responses that are not agent
// transcripts come back whole with weight 1.
func CalculateLossScale(response string) ([]string, []float64) {
	if !IsAgentResponse(response) {
		return []string{response}, []float64{1.0}
	}

	parts := SplitAgentParts(response, AgentKeywords)
	texts := make([]string, 0, 2*len(parts))
	weights := make([]float64, 0, 2*len(parts))
	for _, p := range parts {
		keyWeight, contentWeight := weightsFor(p.Key)
		texts = append(texts, p.Key, p.Content)
		weights = append(weights, keyWeight, contentWeight)
	}
	return texts, weights
}
