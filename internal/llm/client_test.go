package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeOpenAI struct {
	embedCalls  int32
	chatCalls   int32
	chatStatus  int
	embedStatus int
	embedDelay  time.Duration
	lastPrompt  string
	lastMax     int
	reply       string
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.embedCalls, 1)
		time.Sleep(f.embedDelay)
		if f.embedStatus != 0 {
			writeAPIError(w, f.embedStatus)
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode embedding request: %v", err)
		}

		data := make([]map[string]interface{}, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(text)), 1},
			}
		}
		writeJSON(w, map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": len(req.Input), "total_tokens": len(req.Input)},
		})
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.chatCalls, 1)
		if f.chatStatus != 0 {
			writeAPIError(w, f.chatStatus)
			return
		}

		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens int `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		if len(req.Messages) == 1 {
			f.lastPrompt = req.Messages[0].Content
		}
		f.lastMax = req.MaxTokens

		writeJSON(w, map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": http.StatusText(status), "type": "test_error"},
	})
}

func newTestClient(t *testing.T, fake *fakeOpenAI, attempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	return NewClient(ClientOptions{
		APIKey:         "test-key",
		BaseURL:        srv.URL + "/v1",
		Model:          "test-chat",
		EmbeddingModel: "test-embed",
		MaxAttempts:    attempts,
	})
}

func TestClientEmbedDocumentsBatches(t *testing.T) {
	fake := &fakeOpenAI{}
	client := newTestClient(t, fake, 1)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = strings.Repeat("x", i%7+1)
	}

	vectors, err := client.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, v := range vectors {
		if int(v[0]) != len(texts[i]) {
			t.Fatalf("vector %d out of order: %v", i, v)
		}
	}
	if got := atomic.LoadInt32(&fake.embedCalls); got != 3 {
		t.Errorf("expected 3 batched requests, got %d", got)
	}
}

func TestClientTimeoutAppliesPerBatch(t *testing.T) {
	fake := &fakeOpenAI{embedDelay: 150 * time.Millisecond}
	client := newTestClient(t, fake, 1)
	client.timeout = 400 * time.Millisecond

	texts := make([]string, 5*embeddingBatchSize)
	for i := range texts {
		texts[i] = "chunk"
	}

	vectors, err := client.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedDocuments over slow batches: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Errorf("expected %d vectors, got %d", len(texts), len(vectors))
	}
}

func TestClientTimeoutFailsSlowBatch(t *testing.T) {
	fake := &fakeOpenAI{embedDelay: 300 * time.Millisecond}
	client := newTestClient(t, fake, 1)
	client.timeout = 50 * time.Millisecond

	if _, err := client.EmbedDocuments(context.Background(), []string{"chunk"}); err == nil {
		t.Fatal("expected a timeout for a batch slower than the client timeout")
	}
}

func TestClientEmbedQuery(t *testing.T) {
	client := newTestClient(t, &fakeOpenAI{}, 1)

	vec, err := client.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 2 || vec[0] != 5 {
		t.Errorf("unexpected vector %v", vec)
	}
	if client.Model() != "test-embed" {
		t.Errorf("unexpected model %q", client.Model())
	}
}

func TestClientGenerateReturnsContentVerbatim(t *testing.T) {
	reply := "  The answer, with spacing.\n"
	fake := &fakeOpenAI{reply: reply}
	client := newTestClient(t, fake, 1)

	got, err := client.Generate(context.Background(), "the prompt", 512)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != reply {
		t.Errorf("expected verbatim reply %q, got %q", reply, got)
	}
	if fake.lastPrompt != "the prompt" {
		t.Errorf("prompt not sent as the only message: %q", fake.lastPrompt)
	}
	if fake.lastMax != 512 {
		t.Errorf("expected max_tokens 512, got %d", fake.lastMax)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeOpenAI{chatStatus: http.StatusBadRequest}
	client := newTestClient(t, fake, 3)

	if _, err := client.Generate(context.Background(), "p", 10); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&fake.chatCalls); got != 1 {
		t.Errorf("expected 1 call for a 400, got %d", got)
	}
}

func TestClientSingleAttemptByDefault(t *testing.T) {
	fake := &fakeOpenAI{embedStatus: http.StatusInternalServerError}
	client := newTestClient(t, fake, 0)

	if _, err := client.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&fake.embedCalls); got != 1 {
		t.Errorf("expected exactly 1 call, got %d", got)
	}
}

func TestClientRetriesServerErrorsWhenConfigured(t *testing.T) {
	fake := &fakeOpenAI{embedStatus: http.StatusServiceUnavailable}
	client := newTestClient(t, fake, 2)

	_, err := client.EmbedQuery(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&fake.embedCalls); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestIsTransient(t *testing.T) {
	if isTransient(context.Canceled) {
		t.Error("cancellation must not be transient")
	}
	if !isTransient(errors.New("connection reset")) {
		t.Error("network errors should be transient")
	}
}
