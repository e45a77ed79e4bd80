package config

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("CHAT_MODEL_ID", "")
	t.Setenv("SESSION_SECONDS", "")
	cfg := Load(zap.NewNop())
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.ChatModel == "" {
		t.Fatalf("expected default chat model id")
	}
	if cfg.Interview.SessionDuration != 300*time.Second {
		t.Fatalf("expected default session duration, got %v", cfg.Interview.SessionDuration)
	}
	if cfg.Interview.MinReplyWords <= 0 {
		t.Fatalf("expected positive reply word threshold")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9999")
	t.Setenv("SESSION_SECONDS", "120")
	t.Setenv("QUESTION_SECONDS", "30")
	t.Setenv("LLM_PROVIDER", "gemini")
	cfg := Load(zap.NewNop())
	if cfg.HTTPAddress != ":9999" {
		t.Fatalf("expected override address, got %s", cfg.HTTPAddress)
	}
	if cfg.Interview.SessionDuration != 2*time.Minute {
		t.Fatalf("expected 120s session duration, got %v", cfg.Interview.SessionDuration)
	}
	if cfg.Interview.QuestionDuration != 30*time.Second {
		t.Fatalf("expected 30s question duration, got %v", cfg.Interview.QuestionDuration)
	}
	if cfg.LLMProvider != "gemini" {
		t.Fatalf("expected gemini provider, got %s", cfg.LLMProvider)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("SESSION_SECONDS", "not-a-number")
	t.Setenv("MIN_REPLY_WORDS", "-3")
	cfg := Load(zap.NewNop())
	if cfg.Interview.SessionDuration != 300*time.Second {
		t.Fatalf("expected default on bad value, got %v", cfg.Interview.SessionDuration)
	}
	if cfg.Interview.MinReplyWords != 8 {
		t.Fatalf("expected default reply words on bad value, got %d", cfg.Interview.MinReplyWords)
	}
}
