package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-rag/internal/apperr"
	"video-rag/internal/config"
	"video-rag/internal/db"
	"video-rag/internal/embedding"
	"video-rag/internal/models"
	"video-rag/internal/video"
)

const testSecret = "test-secret"

type fakeVideos struct {
	intake    video.IntakeRequest
	intakeErr error
	videos    map[uuid.UUID]*db.Video
	chunks    []db.VideoChunk
	hits      []db.ChunkHit
	deleted   []uuid.UUID
	caller    *int64
	uploaded  string
}

func (f *fakeVideos) Intake(ctx context.Context, req video.IntakeRequest) (*db.Video, error) {
	f.intake = req
	if f.intakeErr != nil {
		return nil, f.intakeErr
	}
	if req.File != nil {
		data, _ := io.ReadAll(req.File.Body)
		f.uploaded = string(data)
	}
	return &db.Video{ID: uuid.New(), Status: models.StatusProcessing}, nil
}

func (f *fakeVideos) Get(ctx context.Context, caller *int64, id uuid.UUID) (*db.Video, error) {
	f.caller = caller
	v, ok := f.videos[id]
	if !ok {
		return nil, apperr.NotFound("video not found")
	}
	return v, nil
}

func (f *fakeVideos) Chunks(ctx context.Context, caller *int64, id uuid.UUID, withVectors bool) ([]db.VideoChunk, error) {
	return f.chunks, nil
}

func (f *fakeVideos) Delete(ctx context.Context, caller *int64, id uuid.UUID) error {
	if _, ok := f.videos[id]; !ok {
		return apperr.NotFound("video not found")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeVideos) Search(ctx context.Context, caller *int64, id uuid.UUID, query string, limit int) ([]db.ChunkHit, error) {
	return f.hits, nil
}

func (f *fakeVideos) Ask(ctx context.Context, caller *int64, id uuid.UUID, query string) (*models.PromptResponse, error) {
	return &models.PromptResponse{Query: query, Content: "an answer"}, nil
}

type fakeChat struct {
	userID  int64
	content string
}

func (f *fakeChat) CreateConversation(ctx context.Context, userID int64, videoID *uuid.UUID) (*db.Conversation, error) {
	f.userID = userID
	return &db.Conversation{ID: uuid.New(), UserID: userID, VideoID: videoID}, nil
}

func (f *fakeChat) Messages(ctx context.Context, userID int64, id uuid.UUID) ([]db.Message, error) {
	return []db.Message{{ID: 1, Role: models.RoleUser, Content: "hi"}}, nil
}

func (f *fakeChat) SendMessage(ctx context.Context, userID int64, id uuid.UUID, content string) (*db.Message, error) {
	f.content = content
	return &db.Message{ID: 2, Role: models.RoleAssistant, Content: "hello"}, nil
}

type fakeEmbeddings struct {
	err error
}

func (f *fakeEmbeddings) Create(ctx context.Context, content string) (*db.Embedding, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &db.Embedding{ID: uuid.New(), Content: content, Embedding: pgvector.NewVector(make([]float32, 3))}, nil
}

type fakeUsers struct{}

func (fakeUsers) GetUser(ctx context.Context, id int64) (*db.User, error) {
	if id == 404 {
		return nil, db.ErrNotFound
	}
	return &db.User{ID: id}, nil
}

type testServer struct {
	*Server
	videos     *fakeVideos
	chat       *fakeChat
	embeddings *fakeEmbeddings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		videos:     &fakeVideos{videos: map[uuid.UUID]*db.Video{}},
		chat:       &fakeChat{},
		embeddings: &fakeEmbeddings{},
	}
	cfg := config.Default().Server
	cfg.JWTSecret = testSecret
	ts.Server = New(cfg, 1<<20, Deps{
		Videos:     ts.videos,
		Chat:       ts.chat,
		Embeddings: ts.embeddings,
		Users:      fakeUsers{},
	})
	return ts
}

func token(t *testing.T, userID int64, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (ts *testServer) do(req *http.Request, bearer string) *httptest.ResponseRecorder {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body any) *http.Request {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateVideo_JSONURL(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/api/v1/videos", map[string]string{"url": "https://example.com/a.mp4"}), token(t, 5, time.Hour))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "processing", decode(t, w)["status"])
	assert.Equal(t, "https://example.com/a.mp4", ts.videos.intake.URL)
	require.NotNil(t, ts.videos.intake.UserID)
	assert.Equal(t, int64(5), *ts.videos.intake.UserID)
}

func TestCreateVideo_Multipart(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "talk.mp4")
	require.NoError(t, err)
	part.Write([]byte("video bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := ts.do(req, "")

	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, ts.videos.intake.File)
	assert.Equal(t, "talk.mp4", ts.videos.intake.File.Filename)
	assert.Equal(t, "video bytes", ts.videos.uploaded)
	assert.Nil(t, ts.videos.intake.UserID)
}

func TestCreateVideo_ValidationError(t *testing.T) {
	ts := newTestServer(t)
	ts.videos.intakeErr = apperr.Validation("ambiguous_source", "provide either a file or a url, not both")

	w := ts.do(jsonRequest(http.MethodPost, "/api/v1/videos", map[string]string{"url": "x"}), "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ambiguous_source", body["error"].(map[string]any)["code"])
}

func TestGetVideo(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.New()
	ts.videos.videos[id] = &db.Video{
		ID:             id,
		Status:         models.StatusCompleted,
		Transcript:     "hello world",
		Summary:        "**short**",
		KeyInformation: "- fact",
	}
	ts.videos.chunks = []db.VideoChunk{{ChunkIndex: 0, Content: "hello world", Embedding: pgvector.NewVector([]float32{1, 2})}}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+id.String()+"?include=vectors", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "hello world", body["transcript"])
	assert.Contains(t, body["summary_html"], "<strong>short</strong>")

	chunks := body["chunks"].([]any)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].(map[string]any)["embedding"], 2)
}

func TestGetVideo_ProcessingHidesContent(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.New()
	ts.videos.videos[id] = &db.Video{ID: id, Status: models.StatusProcessing}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+id.String(), nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotContains(t, body, "transcript")
	assert.NotContains(t, body, "chunks")
}

func TestGetVideo_BadAndMissingIDs(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/not-a-uuid", nil), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+uuid.NewString(), nil), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteVideo(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.New()
	ts.videos.videos[id] = &db.Video{ID: id}

	w := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/videos/"+id.String(), nil), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []uuid.UUID{id}, ts.videos.deleted)
}

func TestSearchVideo(t *testing.T) {
	ts := newTestServer(t)
	ts.videos.hits = []db.ChunkHit{{ChunkIndex: 3, Content: "match", Distance: 0.1}}
	path := "/api/v1/videos/" + uuid.NewString() + "/search?q=topic"

	w := ts.do(httptest.NewRequest(http.MethodGet, path+"&limit=2", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	results := decode(t, w)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "match", results[0].(map[string]any)["content"])

	w = ts.do(httptest.NewRequest(http.MethodGet, path+"&limit=abc", nil), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v1/conversations"

	w := ts.do(jsonRequest(http.MethodPost, path, nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(jsonRequest(http.MethodPost, path, nil), "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(jsonRequest(http.MethodPost, path, nil), token(t, 7, -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")

	w = ts.do(jsonRequest(http.MethodPost, path, nil), token(t, 404, time.Hour))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// invalid tokens are rejected on optional routes too
	w = ts.do(jsonRequest(http.MethodPost, "/api/v1/embeddings", map[string]string{"content": "x"}), "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidate_RejectsOtherAlgorithms(t *testing.T) {
	a := NewAuthenticator(testSecret, nil)
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.Validate(s)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewAuthenticator("", nil).Validate(s)
	assert.Error(t, err)
}

func TestConversationFlow(t *testing.T) {
	ts := newTestServer(t)
	tok := token(t, 9, time.Hour)

	w := ts.do(jsonRequest(http.MethodPost, "/api/v1/conversations", nil), tok)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(9), ts.chat.userID)
	convID := decode(t, w)["id"].(string)

	w = ts.do(jsonRequest(http.MethodPost, "/api/v1/conversations/"+convID+"/messages", map[string]string{"content": "hi"}), tok)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "hi", ts.chat.content)
	body := decode(t, w)
	assert.Equal(t, "assistant", body["role"])
	assert.Equal(t, "hello", body["content"])

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+convID+"/messages", nil), tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["messages"], 1)
}

func TestCreateEmbedding(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(http.MethodPost, "/api/v1/embeddings", map[string]string{"content": "note"}), "")
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "note", body["content"])
	assert.Equal(t, float64(3), body["dimension"])
	assert.NotEmpty(t, body["id"])

	ts.embeddings.err = embedding.ServiceError(&embedding.DimensionError{Got: 2, Want: 3})
	w = ts.do(jsonRequest(http.MethodPost, "/api/v1/embeddings", map[string]string{"content": "note"}), "")
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "embedding_dimension_mismatch", decode(t, w)["error"].(map[string]any)["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(httptest.NewRequest(http.MethodGet, "/health", nil), "")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `videorag_http_requests_total{method="GET",path="/health",status="200"} 1`)
}
