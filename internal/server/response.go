package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"video-rag/internal/apperr"
	"video-rag/internal/db"
	"video-rag/internal/models"
	"video-rag/internal/render"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) errorResponse {
	return errorResponse{Error: errorDetail{Code: code, Message: message}}
}

// respondError writes err using its apperr kind. Internal details are
// logged, not returned.
func respondError(c *gin.Context, err error) {
	e := apperr.As(err)
	status := apperr.HTTPStatus(e)
	c.Error(err)

	msg := e.Message
	if e.Kind == apperr.KindInternal {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	} else if e.Kind == apperr.KindService && e.Err != nil {
		msg = e.Message + ": " + e.Err.Error()
	}
	c.AbortWithStatusJSON(status, errorBody(e.Code, msg))
}

type videoResponse struct {
	ID                 uuid.UUID          `json:"id"`
	Status             models.VideoStatus `json:"status"`
	ErrorMessage       *string            `json:"error_message,omitempty"`
	Title              *string            `json:"title"`
	Duration           *float64           `json:"duration"`
	Resolution         *string            `json:"resolution"`
	OriginalURL        *string            `json:"original_url,omitempty"`
	Transcript         *string            `json:"transcript,omitempty"`
	Summary            *string            `json:"summary,omitempty"`
	KeyInformation     *string            `json:"key_information,omitempty"`
	SummaryHTML        *string            `json:"summary_html,omitempty"`
	KeyInformationHTML *string            `json:"key_information_html,omitempty"`
	Chunks             []chunkResponse    `json:"chunks,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

type chunkResponse struct {
	Index     int       `json:"index"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// newVideoResponse exposes content fields only once the video completed.
func newVideoResponse(v *db.Video) videoResponse {
	resp := videoResponse{
		ID:           v.ID,
		Status:       v.Status,
		ErrorMessage: v.ErrorMessage,
		Title:        v.Title,
		Duration:     v.Duration,
		Resolution:   v.Resolution,
		OriginalURL:  v.OriginalURL,
		CreatedAt:    v.CreatedAt,
	}
	if v.Status != models.StatusCompleted {
		return resp
	}

	resp.Transcript = &v.Transcript
	resp.Summary = &v.Summary
	resp.KeyInformation = &v.KeyInformation
	if html, err := render.HTML(v.Summary); err == nil {
		resp.SummaryHTML = &html
	}
	if html, err := render.HTML(v.KeyInformation); err == nil {
		resp.KeyInformationHTML = &html
	}
	return resp
}

func newChunkResponses(chunks []db.VideoChunk, withVectors bool) []chunkResponse {
	out := make([]chunkResponse, len(chunks))
	for i, ch := range chunks {
		out[i] = chunkResponse{Index: ch.ChunkIndex, Content: ch.Content}
		if withVectors {
			out[i].Embedding = ch.Embedding.Slice()
		}
	}
	return out
}

type hitResponse struct {
	Index    int     `json:"index"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

type conversationResponse struct {
	ID        uuid.UUID  `json:"id"`
	VideoID   *uuid.UUID `json:"video_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type messageResponse struct {
	ID        int64       `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

func newMessageResponse(m *db.Message) messageResponse {
	return messageResponse{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
}

type embeddingResponse struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Dimension int       `json:"dimension"`
}
