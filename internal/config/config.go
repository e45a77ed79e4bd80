package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Speech recognition (AssemblyAI-compatible realtime endpoint).
	TranscriptionKey string

	// Text-to-speech.
	DeepgramKey     string
	DeepgramVoice   string
	ElevenLabsKey   string
	ElevenLabsVoice string

	// Response generation. Provider is "chat" (OpenAI-compatible endpoint)
	// or "gemini" (Google GenAI).
	LLMProvider string
	ChatKey     string
	ChatModel   string
	GeminiKey   string
	GeminiModel string

	Interview InterviewConfig
}

// InterviewConfig carries the session controller tunables.
type InterviewConfig struct {
	SessionDuration  time.Duration
	QuestionDuration time.Duration
	ReplyDelay       time.Duration
	MinReplyWords    int
}

// Load reads environment variables and returns Config with sane defaults.
func Load(log *zap.Logger) Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", zap.Error(err))
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	transcriptionKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if transcriptionKey == "" {
		log.Warn("ASSEMBLYAI_API_KEY not set - transcription will not work")
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if deepgramKey == "" && elevenKey == "" {
		log.Warn("no TTS key set (DEEPGRAM_API_KEY / ELEVENLABS_API_KEY) - speech output disabled")
	}

	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "chat"
	}
	chatKey := os.Getenv("CHAT_API_KEY")
	chatModel := os.Getenv("CHAT_MODEL_ID")
	if chatModel == "" {
		chatModel = "llama-4-maverick-17b-128e-instruct"
	}
	geminiKey := os.Getenv("GEMINI_API_KEY")
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-2.5-flash"
	}
	if provider == "chat" && chatKey == "" {
		log.Warn("CHAT_API_KEY not set - replies and feedback will use fallback content")
	}
	if provider == "gemini" && geminiKey == "" {
		log.Warn("GEMINI_API_KEY not set - replies and feedback will use fallback content")
	}

	cfg := Config{
		HTTPAddress:      addr,
		TranscriptionKey: transcriptionKey,
		DeepgramKey:      deepgramKey,
		DeepgramVoice:    envOr("DEEPGRAM_VOICE_MODEL", "aura-2-thalia-en"),
		ElevenLabsKey:    elevenKey,
		ElevenLabsVoice:  os.Getenv("ELEVENLABS_VOICE_ID"),
		LLMProvider:      provider,
		ChatKey:          chatKey,
		ChatModel:        chatModel,
		GeminiKey:        geminiKey,
		GeminiModel:      geminiModel,
		Interview: InterviewConfig{
			SessionDuration:  envDurationSeconds("SESSION_SECONDS", 300),
			QuestionDuration: envDurationSeconds("QUESTION_SECONDS", 60),
			ReplyDelay:       envDurationSeconds("REPLY_DELAY_SECONDS", 2),
			MinReplyWords:    envInt("MIN_REPLY_WORDS", 8),
		},
	}

	log.Info("config loaded",
		zap.String("http_address", cfg.HTTPAddress),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Duration("session_duration", cfg.Interview.SessionDuration),
		zap.Duration("question_duration", cfg.Interview.QuestionDuration),
	)
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(envInt(key, defSeconds)) * time.Second
}
