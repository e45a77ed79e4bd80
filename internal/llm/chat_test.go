package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChat_NoKey(t *testing.T) {
	c := NewChatClient("", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Generate(ctx, Request{Prompt: "hi"}); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestChat_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewChatClient("key", "model")
			c.Endpoint = srv.URL
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := c.Generate(ctx, Request{Prompt: "hi"}); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  hello there  "}}]}`))
	}))
	defer srv.Close()
	c := NewChatClient("key", "model")
	c.Endpoint = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := c.Generate(ctx, Request{System: "sys", Prompt: "hi", MaxTokens: 64, Temperature: 0.7})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("expected trimmed reply, got %q", out)
	}
}
