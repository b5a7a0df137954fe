package reward

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sgl-project/sampling-agent/pkg/inference"
)

// matchFunc rates a response against its ground truth.
type matchFunc func(response, groundTruth string) bool

// builtinScorer is an in-process outcome scorer. It honours the Engine
// contract so callers treat it like a remote reward model.
type builtinScorer struct {
	match matchFunc
}

var builtins = map[string]matchFunc{
	"exact_match": exactMatch,
	"math_answer": mathAnswerMatch,
}

// BuiltinNames lists the scorer names resolved without a remote engine.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the in-process scorer registered under name.
func Builtin(name string) (inference.Engine, bool) {
	match, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return &builtinScorer{match: match}, true
}

func (s *builtinScorer) Infer(_ context.Context, requests []inference.InferRequest, _ inference.RequestConfig) ([]inference.ChatResponse, error) {
	responses := make([]inference.ChatResponse, len(requests))
	for i, req := range requests {
		response := ""
		if n := len(req.Messages); n > 0 {
			response = req.Messages[n-1].Text()
		}
		score := "0.0"
		if s.match(response, req.GroundTruth) {
			score = "1.0"
		}
		responses[i] = inference.ChatResponse{
			Choices: []inference.Choice{{Message: inference.NewMessage(inference.RoleAssistant, score)}},
		}
	}
	return responses, nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func exactMatch(response, groundTruth string) bool {
	return normalizeText(response) == normalizeText(groundTruth)
}

var numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?|-?\.\d+`)

// extractAnswer returns the content of the last \boxed{...}, or failing that
// the last number in s.
func extractAnswer(s string) (string, bool) {
	if boxed, ok := lastBoxed(s); ok {
		return strings.TrimSpace(boxed), true
	}
	numbers := numberPattern.FindAllString(s, -1)
	if len(numbers) == 0 {
		return "", false
	}
	return numbers[len(numbers)-1], true
}

func lastBoxed(s string) (string, bool) {
	const marker = `\boxed{`
	start := strings.LastIndex(s, marker)
	if start < 0 {
		return "", false
	}
	depth := 1
	body := s[start+len(marker):]
	for i, r := range body {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return body[:i], true
			}
		}
	}
	return "", false
}

func mathAnswerMatch(response, groundTruth string) bool {
	got, ok := extractAnswer(response)
	if !ok {
		return false
	}
	want, ok := extractAnswer(groundTruth)
	if !ok {
		want = strings.TrimSpace(groundTruth)
	}

	gotNum, errGot := strconv.ParseFloat(strings.ReplaceAll(got, ",", ""), 64)
	wantNum, errWant := strconv.ParseFloat(strings.ReplaceAll(want, ",", ""), 64)
	if errGot == nil && errWant == nil {
		return math.Abs(gotNum-wantNum) <= 1e-6*math.Max(1, math.Abs(wantNum))
	}
	return normalizeText(got) == normalizeText(want)
}
