package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func geminiReply(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			}},
		},
	}
}

func TestGeminiSessionKeepsHistory(t *testing.T) {
	var lastReq geminiGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastReq = geminiGenerateRequest{}
		json.NewDecoder(r.Body).Decode(&lastReq)
		json.NewEncoder(w).Encode(geminiReply("ok"))
	}))
	defer srv.Close()

	c := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, RateLimit: 1000})
	sess, err := c.OpenSession(context.Background(), "only JSON", GenConfig{Temperature: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sess.Send(context.Background(), "first"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if _, err := sess.Send(context.Background(), "second"); err != nil {
		t.Fatalf("second send failed: %v", err)
	}

	// Second request must replay: user(first), model(ok), user(second).
	if len(lastReq.Contents) != 3 {
		t.Fatalf("expected 3 turns in history, got %d", len(lastReq.Contents))
	}
	if lastReq.Contents[0].Parts[0].Text != "first" || lastReq.Contents[1].Role != "model" {
		t.Errorf("history out of order: %+v", lastReq.Contents)
	}
	if lastReq.SystemInstruction == nil || lastReq.SystemInstruction.Parts[0].Text != "only JSON" {
		t.Error("system instruction not sent")
	}
}

func TestGeminiSessionDropsFailedTurn(t *testing.T) {
	fail := false
	var lastReq geminiGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}
		lastReq = geminiGenerateRequest{}
		json.NewDecoder(r.Body).Decode(&lastReq)
		json.NewEncoder(w).Encode(geminiReply("ok"))
	}))
	defer srv.Close()

	c := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, RateLimit: 1000})
	sess, _ := c.OpenSession(context.Background(), "", GenConfig{})

	fail = true
	if _, err := sess.Send(context.Background(), "doomed"); err == nil {
		t.Fatal("expected send error")
	}

	fail = false
	if _, err := sess.Send(context.Background(), "retry"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	// The failed turn must not appear in the replayed transcript.
	if len(lastReq.Contents) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(lastReq.Contents))
	}
	if lastReq.Contents[0].Parts[0].Text != "retry" {
		t.Errorf("unexpected transcript: %+v", lastReq.Contents)
	}
}

func TestGeminiJSONOnlyResponseFormat(t *testing.T) {
	var lastReq geminiGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&lastReq)
		json.NewEncoder(w).Encode(geminiReply(`{"metadata":[1]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: srv.URL, RateLimit: 1000})
	sess, _ := c.OpenSession(context.Background(), "", GenConfig{JSONOnly: true})
	if _, err := sess.Send(context.Background(), "classify"); err != nil {
		t.Fatal(err)
	}

	if lastReq.GenerationConfig == nil || lastReq.GenerationConfig.ResponseMimeType != "application/json" {
		t.Error("expected application/json response mime type")
	}
}

func TestRateLimiterTryConsume(t *testing.T) {
	r := NewRateLimiter(1.0)

	if !r.TryConsume() {
		t.Fatal("first token should be available")
	}
	if r.TryConsume() {
		t.Fatal("bucket should be empty immediately after consuming the burst")
	}
}
