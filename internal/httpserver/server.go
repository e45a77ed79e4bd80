package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/prepcall/interview-agent/internal/config"
	"github.com/prepcall/interview-agent/internal/interview"
	"github.com/prepcall/interview-agent/internal/llm"
	"github.com/prepcall/interview-agent/internal/media"
	"github.com/prepcall/interview-agent/internal/respond"
	"github.com/prepcall/interview-agent/internal/speech"
	"github.com/prepcall/interview-agent/internal/transcript"
)

// rtcPeer is the slice of the media peer the transport needs.
type rtcPeer interface {
	Answer(offer media.SessionDescription) (media.SessionDescription, error)
	SetMicEnabled(on bool)
	SetCameraEnabled(on bool)
	MicEnabled() bool
	CameraEnabled() bool
	Close() error
}

// runtime bundles one session with its media peer.
type runtime struct {
	id        string
	session   *interview.Session
	peer      rtcPeer
	createdAt time.Time
}

func (r *runtime) close() {
	r.session.Close()
	if r.peer != nil {
		_ = r.peer.Close()
	}
}

// Server exposes the interview API over HTTP. Sessions are held in memory and
// addressed by generated IDs; nothing survives a restart.
type Server struct {
	cfg  config.Config
	log  *zap.Logger
	echo *echo.Echo

	mu       sync.Mutex
	sessions map[string]*runtime

	// build creates a fully wired runtime; tests substitute fakes.
	build func() (*runtime, error)
}

// New constructs the server and registers its routes.
func New(cfg config.Config, log *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		echo:     echo.New(),
		sessions: make(map[string]*runtime),
	}
	s.build = s.buildRuntime

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogMethod: true,
		LogURI:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := s.echo.Group("/api")
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/pause", s.sessionCommand(func(r *runtime) error { return r.session.Pause() }))
	api.POST("/sessions/:id/resume", s.sessionCommand(func(r *runtime) error { return r.session.Resume() }))
	api.POST("/sessions/:id/skip", s.sessionCommand(func(r *runtime) error { return r.session.Skip() }))
	api.POST("/sessions/:id/end", s.sessionCommand(func(r *runtime) error { return r.session.End() }))
	api.GET("/sessions/:id/feedback", s.getFeedback)
	api.POST("/sessions/:id/rtc", s.negotiate)
	api.POST("/sessions/:id/media", s.setMedia)
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("address", s.cfg.HTTPAddress))
	err := s.echo.Start(s.cfg.HTTPAddress)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and tears down every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*runtime, 0, len(s.sessions))
	for _, r := range s.sessions {
		entries = append(entries, r)
	}
	s.sessions = make(map[string]*runtime)
	s.mu.Unlock()
	for _, r := range entries {
		r.close()
	}
	return s.echo.Shutdown(ctx)
}

// buildRuntime wires the production adapter set for one session.
func (s *Server) buildRuntime() (*runtime, error) {
	rec := transcript.NewService(s.cfg.TranscriptionKey, s.log)
	peer := media.NewPeer(rec, s.log)

	var synth speech.Synthesizer
	switch {
	case s.cfg.DeepgramKey != "":
		synth = speech.NewDeepgramSynth(s.cfg.DeepgramKey, s.cfg.DeepgramVoice, s.log)
	case s.cfg.ElevenLabsKey != "":
		synth = speech.NewElevenLabsSynth(s.cfg.ElevenLabsKey, s.cfg.ElevenLabsVoice)
	}
	queue := speech.NewQueue(synth, peer, s.log)

	responder := respond.New(s.generator(), s.log)

	sess := interview.NewSession(interview.Config{
		SessionDuration:  s.cfg.Interview.SessionDuration,
		QuestionDuration: s.cfg.Interview.QuestionDuration,
		ReplyDelay:       s.cfg.Interview.ReplyDelay,
		MinReplyWords:    s.cfg.Interview.MinReplyWords,
	}, interview.Deps{
		Recognizer: rec,
		Speaker:    queue,
		Capture:    peer,
		Responder:  responder,
		Log:        s.log,
	})
	// A dropped browser connection ends the interview with whatever was
	// recorded so far.
	peer.OnDisconnect(func() { _ = sess.End() })

	return &runtime{
		id:        uuid.NewString(),
		session:   sess,
		peer:      peer,
		createdAt: time.Now(),
	}, nil
}

func (s *Server) generator() llm.Generator {
	switch s.cfg.LLMProvider {
	case "gemini":
		if s.cfg.GeminiKey == "" {
			return nil
		}
		gen, err := llm.NewGeminiClient(context.Background(), s.cfg.GeminiKey, s.cfg.GeminiModel)
		if err != nil {
			s.log.Warn("gemini client init failed, using fallback content", zap.Error(err))
			return nil
		}
		return gen
	default:
		if s.cfg.ChatKey == "" {
			return nil
		}
		return llm.NewChatClient(s.cfg.ChatKey, s.cfg.ChatModel)
	}
}

type createSessionRequest struct {
	Company string `json:"company"`
	Role    string `json:"role"`
}

type mediaRequest struct {
	Mic    *bool `json:"mic"`
	Camera *bool `json:"camera"`
}

type sessionView struct {
	ID                    string               `json:"id"`
	Status                interview.Status     `json:"status"`
	Error                 string               `json:"error,omitempty"`
	Company               string               `json:"company"`
	Role                  string               `json:"role"`
	Questions             []interview.Question `json:"questions"`
	CurrentQuestionIndex  int                  `json:"currentQuestionIndex"`
	SessionTimeRemaining  int                  `json:"sessionTimeRemaining"`
	QuestionTimeRemaining int                  `json:"questionTimeRemaining"`
	IsAISpeaking          bool                 `json:"isAISpeaking"`
	AdvancePending        bool                 `json:"advancePending"`
	GeneratingFeedback    bool                 `json:"generatingFeedback"`
	MicEnabled            bool                 `json:"micEnabled"`
	CameraEnabled         bool                 `json:"cameraEnabled"`
	ConversationLog       []interview.Turn     `json:"conversationLog"`
}

func (s *Server) view(r *runtime) sessionView {
	snap := r.session.Snapshot()
	v := sessionView{
		ID:                    r.id,
		Status:                snap.Status,
		Error:                 snap.ErrMsg,
		Company:               snap.Company,
		Role:                  snap.Role,
		Questions:             snap.Questions,
		CurrentQuestionIndex:  snap.CurrentQuestionIndex,
		SessionTimeRemaining:  snap.SessionTimeRemaining,
		QuestionTimeRemaining: snap.QuestionTimeRemaining,
		IsAISpeaking:          snap.Speaking,
		AdvancePending:        snap.AdvancePending,
		GeneratingFeedback:    snap.GeneratingFeedback,
		ConversationLog:       snap.ConversationLog,
	}
	if r.peer != nil {
		v.MicEnabled = r.peer.MicEnabled()
		v.CameraEnabled = r.peer.CameraEnabled()
	}
	return v
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Company == "" || req.Role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "company and role are required")
	}

	rt, err := s.build()
	if err != nil {
		s.log.Error("session wiring failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create session")
	}
	if err := rt.session.Start(req.Company, req.Role); err != nil {
		rt.close()
		return s.mapError(err)
	}

	s.mu.Lock()
	s.sessions[rt.id] = rt
	s.mu.Unlock()
	s.log.Info("session created",
		zap.String("session_id", rt.id),
		zap.String("company", req.Company),
		zap.String("role", req.Role),
	)
	return c.JSON(http.StatusCreated, s.view(rt))
}

func (s *Server) getSession(c echo.Context) error {
	rt, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(rt))
}

func (s *Server) deleteSession(c echo.Context) error {
	s.mu.Lock()
	rt, ok := s.sessions[c.Param("id")]
	delete(s.sessions, c.Param("id"))
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	rt.close()
	s.log.Info("session deleted", zap.String("session_id", rt.id))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) sessionCommand(run func(*runtime) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		rt, err := s.lookup(c)
		if err != nil {
			return err
		}
		if err := run(rt); err != nil {
			return s.mapError(err)
		}
		return c.JSON(http.StatusOK, s.view(rt))
	}
}

func (s *Server) getFeedback(c echo.Context) error {
	rt, err := s.lookup(c)
	if err != nil {
		return err
	}
	snap := rt.session.Snapshot()
	if snap.Status != interview.StatusComplete {
		return echo.NewHTTPError(http.StatusConflict, "interview is not complete")
	}
	if snap.GeneratingFeedback || snap.Feedback == nil {
		return c.JSON(http.StatusAccepted, map[string]string{"status": "generating"})
	}
	return c.JSON(http.StatusOK, snap.Feedback)
}

func (s *Server) negotiate(c echo.Context) error {
	rt, err := s.lookup(c)
	if err != nil {
		return err
	}
	if rt.peer == nil {
		return echo.NewHTTPError(http.StatusConflict, "session has no media path")
	}
	var offer media.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed session description")
	}
	answer, err := rt.peer.Answer(offer)
	if err != nil {
		if !errors.Is(err, media.ErrNegotiated) && !errors.Is(err, media.ErrPeerClosed) {
			// Anything the peer itself can't classify means the media
			// device path is down.
			err = fmt.Errorf("%w: %v", interview.ErrDeviceUnavailable, err)
		}
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) setMedia(c echo.Context) error {
	rt, err := s.lookup(c)
	if err != nil {
		return err
	}
	if rt.peer == nil {
		return echo.NewHTTPError(http.StatusConflict, "session has no media path")
	}
	var req mediaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Mic != nil {
		rt.peer.SetMicEnabled(*req.Mic)
	}
	if req.Camera != nil {
		rt.peer.SetCameraEnabled(*req.Camera)
	}
	return c.JSON(http.StatusOK, s.view(rt))
}

func (s *Server) lookup(c echo.Context) (*runtime, error) {
	s.mu.Lock()
	rt, ok := s.sessions[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return rt, nil
}

func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, interview.ErrInvalidState), errors.Is(err, media.ErrNegotiated):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, interview.ErrTranscription), errors.Is(err, interview.ErrDeviceUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, media.ErrPeerClosed):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
