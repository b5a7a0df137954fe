package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
)

// ChatMessage is the wire form of a chat turn as the mock server sees it.
type ChatMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// ChatCompletionRequest is the body an OpenAI-compatible client posts to
// /chat/completions.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	N           int           `json:"n"`
	MaxTokens   *int          `json:"max_tokens"`
	Temperature *float64      `json:"temperature"`
	TopP        *float64      `json:"top_p"`
	TopK        *int          `json:"top_k"`
	GroundTruth string        `json:"ground_truth"`

	Authorization string `json:"-"`
}

// LastContent returns the content of the final message, or "".
func (r ChatCompletionRequest) LastContent() string {
	if len(r.Messages) == 0 || r.Messages[len(r.Messages)-1].Content == nil {
		return ""
	}
	return *r.Messages[len(r.Messages)-1].Content
}

// ChatReplyFunc produces the assistant content for one request. A status
// other than 0 or 200 makes the server answer with that HTTP status instead.
type ChatReplyFunc func(req ChatCompletionRequest) (content string, status int)

// MockChatServer creates a test server that answers OpenAI chat completion
// requests with whatever reply returns.
func MockChatServer(reply ChatReplyFunc) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}

		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Authorization = r.Header.Get("Authorization")

		content, status := reply(req)
		if status != 0 && status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error":{"message":%q}}`, content)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
			}},
		})
	}))
}
