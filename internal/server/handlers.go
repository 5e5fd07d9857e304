package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"video-rag/internal/apperr"
	"video-rag/internal/video"
)

type createVideoRequest struct {
	URL string `json:"url"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type createConversationRequest struct {
	VideoID *uuid.UUID `json:"video_id"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type embeddingRequest struct {
	Content string `json:"content"`
}

// createVideo accepts a multipart form with a file or url field, or a JSON
// body with a url.
func (s *Server) createVideo(c *gin.Context) {
	req := video.IntakeRequest{UserID: callerID(c)}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		// room for the form fields around the file
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+(1<<20))
		req.URL = c.PostForm("url")

		fh, err := c.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondError(c, apperr.Validation("file_too_large", "upload exceeds the size limit"))
				return
			}
			respondError(c, apperr.Validation("invalid_form", err.Error()))
			return
		default:
			f, err := fh.Open()
			if err != nil {
				respondError(c, apperr.Internal(err))
				return
			}
			defer f.Close()
			req.File = &video.Upload{Filename: fh.Filename, Size: fh.Size, Body: f}
		}
	} else {
		var body createVideoRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Validation("invalid_body", err.Error()))
			return
		}
		req.URL = body.URL
	}

	v, err := s.deps.Videos.Intake(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newVideoResponse(v))
}

func (s *Server) getVideo(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	caller := callerID(c)

	v, err := s.deps.Videos.Get(ctx, caller, id)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := newVideoResponse(v)

	include := strings.Split(c.Query("include"), ",")
	withChunks, withVectors := false, false
	for _, inc := range include {
		switch strings.TrimSpace(inc) {
		case "chunks":
			withChunks = true
		case "vectors":
			withChunks, withVectors = true, true
		}
	}
	if withChunks {
		chunks, err := s.deps.Videos.Chunks(ctx, caller, id, withVectors)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Chunks = newChunkResponses(chunks, withVectors)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) deleteVideo(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.deps.Videos.Delete(c.Request.Context(), callerID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) searchVideo(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(c, apperr.Validation("invalid_limit", "limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	hits, err := s.deps.Videos.Search(c.Request.Context(), callerID(c), id, c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]hitResponse, len(hits))
	for i, h := range hits {
		out[i] = hitResponse{Index: h.ChunkIndex, Content: h.Content, Distance: h.Distance}
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (s *Server) askVideo(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body queryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Validation("invalid_body", err.Error()))
		return
	}
	resp, err := s.deps.Videos.Ask(c.Request.Context(), callerID(c), id, body.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": resp.Query, "answer": resp.Content})
}

func (s *Server) createEmbedding(c *gin.Context) {
	var body embeddingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Validation("invalid_body", err.Error()))
		return
	}
	e, err := s.deps.Embeddings.Create(c.Request.Context(), body.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, embeddingResponse{
		ID:        e.ID,
		Content:   e.Content,
		Dimension: len(e.Embedding.Slice()),
	})
}

func (s *Server) createConversation(c *gin.Context) {
	var body createConversationRequest
	// the body is optional
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apperr.Validation("invalid_body", err.Error()))
		return
	}
	conv, err := s.deps.Chat.CreateConversation(c.Request.Context(), *callerID(c), body.VideoID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conversationResponse{ID: conv.ID, VideoID: conv.VideoID, CreatedAt: conv.CreatedAt})
}

func (s *Server) listMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msgs, err := s.deps.Chat.Messages(c.Request.Context(), *callerID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]messageResponse, len(msgs))
	for i := range msgs {
		out[i] = newMessageResponse(&msgs[i])
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (s *Server) sendMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body messageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Validation("invalid_body", err.Error()))
		return
	}
	reply, err := s.deps.Chat.SendMessage(c.Request.Context(), *callerID(c), id, body.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageResponse(reply))
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("invalid_id", "id must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}
