package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"video-rag/internal/config"
	"video-rag/internal/db"
	"video-rag/internal/metrics"
	"video-rag/internal/models"
	"video-rag/internal/video"
)

const shutdownTimeout = 15 * time.Second

type VideoService interface {
	Intake(ctx context.Context, req video.IntakeRequest) (*db.Video, error)
	Get(ctx context.Context, caller *int64, id uuid.UUID) (*db.Video, error)
	Chunks(ctx context.Context, caller *int64, id uuid.UUID, withVectors bool) ([]db.VideoChunk, error)
	Delete(ctx context.Context, caller *int64, id uuid.UUID) error
	Search(ctx context.Context, caller *int64, id uuid.UUID, query string, limit int) ([]db.ChunkHit, error)
	Ask(ctx context.Context, caller *int64, id uuid.UUID, query string) (*models.PromptResponse, error)
}

type ChatService interface {
	CreateConversation(ctx context.Context, userID int64, videoID *uuid.UUID) (*db.Conversation, error)
	Messages(ctx context.Context, userID int64, id uuid.UUID) ([]db.Message, error)
	SendMessage(ctx context.Context, userID int64, id uuid.UUID, content string) (*db.Message, error)
}

type EmbeddingService interface {
	Create(ctx context.Context, content string) (*db.Embedding, error)
}

type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*db.User, error)
}

// Deps are the services the HTTP API exposes.
type Deps struct {
	Videos     VideoService
	Chat       ChatService
	Embeddings EmbeddingService
	Users      UserLookup
	Metrics    *metrics.Metrics
	// Ping reports database health. Optional.
	Ping func(ctx context.Context) error
}

type Server struct {
	cfg       config.ServerConfig
	maxUpload int64
	deps      Deps
	engine    *gin.Engine
}

func New(cfg config.ServerConfig, maxUpload int64, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	s := &Server{cfg: cfg, maxUpload: maxUpload, deps: deps}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), s.deps.Metrics.Middleware())
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.MaxMultipartMemory = 32 << 20

	r.GET("/health", s.health)
	r.GET("/metrics", s.deps.Metrics.GinHandler())

	auth := NewAuthenticator(s.cfg.JWTSecret, s.deps.Users)
	api := r.Group("/api/v1")

	// Videos and embeddings accept anonymous callers. Videos created with a
	// token are visible to their owner only.
	public := api.Group("")
	public.Use(auth.Optional())
	{
		public.POST("/videos", s.createVideo)
		public.GET("/videos/:id", s.getVideo)
		public.DELETE("/videos/:id", s.deleteVideo)
		public.GET("/videos/:id/search", s.searchVideo)
		public.POST("/videos/:id/ask", s.askVideo)
		public.POST("/embeddings", s.createEmbedding)
	}

	protected := api.Group("")
	protected.Use(auth.Required())
	{
		protected.POST("/conversations", s.createConversation)
		protected.GET("/conversations/:id/messages", s.listMessages)
		protected.POST("/conversations/:id/messages", s.sendMessage)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}
