package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"video-rag/internal/apperr"
	"video-rag/internal/db"
	"video-rag/internal/logging"
	"video-rag/internal/metrics"
	"video-rag/internal/models"
	"video-rag/internal/rag"
)

type Store interface {
	CreateConversation(ctx context.Context, c *db.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*db.Conversation, error)
	AppendMessage(ctx context.Context, m *db.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]db.Message, error)
}

// VideoReader resolves a video the caller is allowed to see.
type VideoReader interface {
	Get(ctx context.Context, caller *int64, id uuid.UUID) (*db.Video, error)
}

type Retriever interface {
	Search(ctx context.Context, videoID uuid.UUID, query string, limit int) ([]db.ChunkHit, error)
}

type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent) (string, error)
}

type Options struct {
	// MaxHistory caps how many of the latest messages are replayed.
	// Zero replays the whole conversation.
	MaxHistory   int
	SystemPrompt string
	SearchLimit  int
}

// Service runs conversations. Each turn replays the stored history to the
// language model.
type Service struct {
	store     Store
	videos    VideoReader
	retriever Retriever
	llm       Generator
	opts      Options
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewService(store Store, videos VideoReader, retriever Retriever, llm Generator, opts Options, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		store:     store,
		videos:    videos,
		retriever: retriever,
		llm:       llm,
		opts:      opts,
		metrics:   m,
		logger:    logging.NewLogger("chat"),
	}
}

// CreateConversation starts a conversation, optionally bound to a video the
// user can see.
func (s *Service) CreateConversation(ctx context.Context, userID int64, videoID *uuid.UUID) (*db.Conversation, error) {
	if videoID != nil {
		if _, err := s.videos.Get(ctx, &userID, *videoID); err != nil {
			return nil, err
		}
	}
	c := &db.Conversation{ID: uuid.New(), UserID: userID, VideoID: videoID}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, apperr.Internal(fmt.Errorf("create conversation: %w", err))
	}
	return c, nil
}

// Conversation returns the conversation if userID owns it.
func (s *Service) Conversation(ctx context.Context, userID int64, id uuid.UUID) (*db.Conversation, error) {
	c, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if c.UserID != userID {
		return nil, apperr.NotFound("conversation not found")
	}
	return c, nil
}

func (s *Service) Messages(ctx context.Context, userID int64, id uuid.UUID) ([]db.Message, error) {
	if _, err := s.Conversation(ctx, userID, id); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return msgs, nil
}

// SendMessage appends content as a user message, asks the model with the
// conversation so far and appends its reply. The user message is kept even
// when the model call fails.
func (s *Service) SendMessage(ctx context.Context, userID int64, id uuid.UUID, content string) (*db.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("empty_message", "message content must not be empty")
	}
	conv, err := s.Conversation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Str("conversation_id", id.String()).Logger()

	if err := s.store.AppendMessage(ctx, &db.Message{ConversationID: id, Role: models.RoleUser, Content: content}); err != nil {
		return nil, apperr.Internal(fmt.Errorf("append message: %w", err))
	}
	history, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load history: %w", err))
	}

	prompt := s.buildPrompt(ctx, logger, conv, history, content)
	reply, err := s.llm.GenerateContent(ctx, prompt)
	if err != nil {
		s.metrics.ChatReplies.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("Chat completion failed")
		return nil, apperr.Service("chat_failed", "language model call failed", err)
	}

	answer := &db.Message{ConversationID: id, Role: models.RoleAssistant, Content: reply}
	if err := s.store.AppendMessage(ctx, answer); err != nil {
		return nil, apperr.Internal(fmt.Errorf("append reply: %w", err))
	}
	s.metrics.ChatReplies.WithLabelValues("completed").Inc()
	logger.Debug().Int("history", len(history)).Msg("Chat reply stored")
	return answer, nil
}

// buildPrompt replays history, capped to the latest MaxHistory messages.
// Video-bound conversations get a leading system message with the chunks
// closest to the newest message.
func (s *Service) buildPrompt(ctx context.Context, logger zerolog.Logger, conv *db.Conversation, history []db.Message, latest string) []llms.MessageContent {
	if n := s.opts.MaxHistory; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	msgs := make([]llms.MessageContent, 0, len(history)+1)
	if conv.VideoID != nil {
		system := s.opts.SystemPrompt
		hits, err := s.retriever.Search(ctx, *conv.VideoID, latest, s.opts.SearchLimit)
		if err != nil {
			logger.Warn().Err(err).Msg("Retrieval failed, answering without transcript context")
		} else if len(hits) > 0 {
			system += "\n\nTranscript excerpts:\n" + rag.Context(hits)
		}
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range history {
		msgs = append(msgs, llms.TextParts(messageType(m.Role), m.Content))
	}
	return msgs
}

func messageType(r models.Role) llms.ChatMessageType {
	if r == models.RoleAssistant {
		return llms.ChatMessageTypeAI
	}
	return llms.ChatMessageTypeHuman
}
