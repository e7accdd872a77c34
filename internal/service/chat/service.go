package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
	"github.com/nyu-mlab/gemini-proxy/internal/model/user"
	"github.com/nyu-mlab/gemini-proxy/internal/service/audit"
	"github.com/nyu-mlab/gemini-proxy/internal/service/ratelimit"
)

// Gateway exchanges one turn with the remote model.
type Gateway interface {
	Send(ctx context.Context, conv chat.Conversation, message, modelName string, cfg chat.GenerationConfig) (string, chat.Conversation, error)
	Stream(ctx context.Context, conv chat.Conversation, message, modelName string, cfg chat.GenerationConfig, onDelta func(string)) (string, chat.Conversation, error)
}

// Auditor receives one call per successful turn.
type Auditor interface {
	Record(identity, message string, responseLength int, ts time.Time)
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Registry     user.Registry
	Store        *Store
	Limiter      *ratelimit.Limiter
	Gateway      Gateway
	Auditor      Auditor
	DefaultModel string
	Logger       *logging.Logger
}

// StartChatRequest carries the fields of a start_chat call.
type StartChatRequest struct {
	UserID           string
	ModelName        string
	GenerationConfig *chat.GenerationConfigInput
}

// Service orchestrates the session lifecycle: identity checks, per-identity
// rate limiting, model exchanges and audit records.
type Service struct {
	registry     user.Registry
	store        *Store
	limiter      *ratelimit.Limiter
	gateway      Gateway
	auditor      Auditor
	defaultModel string
	log          *logging.Logger
	now          func() time.Time
}

// NewService wires a Service. Store and Limiter get defaults when nil.
func NewService(deps Deps) (*Service, error) {
	if deps.Registry == nil {
		return nil, errors.New("user registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if deps.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	store := deps.Store
	if store == nil {
		store = NewStore()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	auditor := deps.Auditor
	if auditor == nil {
		auditor = nopAuditor{}
	}
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Service{
		registry:     deps.Registry,
		store:        store,
		limiter:      limiter,
		gateway:      deps.Gateway,
		auditor:      auditor,
		defaultModel: deps.DefaultModel,
		log:          log.Sub("chat"),
		now:          time.Now,
	}, nil
}

// StartChat opens a session for a registered identity.
func (s *Service) StartChat(_ context.Context, req StartChatRequest) (chat.Session, error) {
	if !s.registry.IsValid(req.UserID) {
		s.log.Info().Str("user", req.UserID).Msg("rejected start_chat for unknown identity")
		return chat.Session{}, ErrUnauthorized
	}

	cfg := req.GenerationConfig.Resolve()
	if err := cfg.Validate(); err != nil {
		return chat.Session{}, &ValidationError{Message: "invalid generation_config: " + err.Error()}
	}

	modelName := strings.TrimSpace(req.ModelName)
	if modelName == "" {
		modelName = s.defaultModel
	}

	session, err := s.store.Create(strings.TrimSpace(req.UserID), modelName, cfg, nil)
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("chat_id", session.ID).
		Str("user", session.Owner).
		Str("model", modelName).
		Msg("chat started")
	return session, nil
}

// SendMessage exchanges one turn on an existing session and returns the reply.
func (s *Service) SendMessage(ctx context.Context, chatID, message string) (string, error) {
	return s.exchange(ctx, chatID, message, func(ctx context.Context, session chat.Session) (string, chat.Conversation, error) {
		return s.gateway.Send(ctx, session.Conversation, message, session.Model, session.Config)
	})
}

// SendMessageStream behaves like SendMessage and additionally hands every
// partial chunk of the reply to onDelta as it arrives.
func (s *Service) SendMessageStream(ctx context.Context, chatID, message string, onDelta func(string)) (string, error) {
	return s.exchange(ctx, chatID, message, func(ctx context.Context, session chat.Session) (string, chat.Conversation, error) {
		return s.gateway.Stream(ctx, session.Conversation, message, session.Model, session.Config, onDelta)
	})
}

type exchangeFunc func(ctx context.Context, session chat.Session) (string, chat.Conversation, error)

func (s *Service) exchange(ctx context.Context, chatID, message string, call exchangeFunc) (string, error) {
	if chatID == "" || message == "" {
		return "", &ValidationError{Message: "chat_id and message are required"}
	}

	session, err := s.store.Get(chatID)
	if err != nil {
		return "", err
	}

	if !s.limiter.Allow(session.Owner, s.now()) {
		s.log.Info().Str("chat_id", chatID).Str("user", session.Owner).Msg("send_message rate limited")
		return "", &RateLimitError{Message: s.limiter.Message()}
	}

	var reply string
	err = s.store.Update(chatID, func(current chat.Session) (chat.Conversation, error) {
		text, next, err := call(ctx, current)
		if err != nil {
			return nil, &UpstreamError{Err: err}
		}
		reply = text
		return next, nil
	})
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			s.log.Error().Err(upstream.Err).Str("chat_id", chatID).Str("user", session.Owner).Msg("model exchange failed")
		}
		return "", err
	}

	s.auditor.Record(session.Owner, message, audit.OutputLength(reply), s.now())
	return reply, nil
}

// EndChat removes a session. Later calls with the same id report ErrSessionNotFound.
func (s *Service) EndChat(_ context.Context, chatID string) error {
	if chatID == "" {
		return &ValidationError{Message: "chat_id is required"}
	}
	if !s.store.Delete(chatID) {
		return ErrSessionNotFound
	}
	s.log.Info().Str("chat_id", chatID).Msg("chat ended")
	return nil
}

// GetSession returns a snapshot of a live session.
func (s *Service) GetSession(_ context.Context, chatID string) (chat.Session, error) {
	return s.store.Get(chatID)
}

// SessionCount reports the number of live sessions.
func (s *Service) SessionCount() int {
	return s.store.Len()
}

// TrackedIdentities reports how many identities hold a rate-limit window.
func (s *Service) TrackedIdentities() int {
	return s.limiter.Tracked()
}

// RunJanitor expires sessions idle longer than idle and prunes stale rate
// history every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(s.now(), idle)
		}
	}
}

func (s *Service) sweep(now time.Time, idle time.Duration) {
	sessions := s.store.Sweep(now, idle)
	identities := s.limiter.Sweep(now)
	if sessions > 0 || identities > 0 {
		s.log.Debug().
			Int("sessions", sessions).
			Int("identities", identities).
			Msg("janitor sweep")
	}
}

type nopAuditor struct{}

func (nopAuditor) Record(string, string, int, time.Time) {}
