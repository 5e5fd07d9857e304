package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"video-rag/internal/apperr"
	"video-rag/internal/db"
	"video-rag/internal/models"
)

type memStore struct {
	convs    map[uuid.UUID]*db.Conversation
	messages map[uuid.UUID][]db.Message
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{convs: map[uuid.UUID]*db.Conversation{}, messages: map[uuid.UUID][]db.Message{}}
}

func (m *memStore) CreateConversation(ctx context.Context, c *db.Conversation) error {
	m.convs[c.ID] = c
	return nil
}

func (m *memStore) GetConversation(ctx context.Context, id uuid.UUID) (*db.Conversation, error) {
	c, ok := m.convs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return c, nil
}

func (m *memStore) AppendMessage(ctx context.Context, msg *db.Message) error {
	m.nextID++
	msg.ID = m.nextID
	msg.CreatedAt = time.Now()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, id uuid.UUID) ([]db.Message, error) {
	return append([]db.Message(nil), m.messages[id]...), nil
}

type fakeVideos struct {
	owner int64
}

func (f *fakeVideos) Get(ctx context.Context, caller *int64, id uuid.UUID) (*db.Video, error) {
	if caller == nil || *caller != f.owner {
		return nil, apperr.NotFound("video not found")
	}
	return &db.Video{ID: id}, nil
}

type fakeRetriever struct {
	hits  []db.ChunkHit
	err   error
	query string
}

func (f *fakeRetriever) Search(ctx context.Context, id uuid.UUID, q string, limit int) ([]db.ChunkHit, error) {
	f.query = q
	return f.hits, f.err
}

// recordingLLM answers "reply N" and keeps every prompt it was sent.
type recordingLLM struct {
	calls [][]llms.MessageContent
	err   error
}

func (r *recordingLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent) (string, error) {
	r.calls = append(r.calls, messages)
	if r.err != nil {
		return "", r.err
	}
	return "reply " + string(rune('0'+len(r.calls))), nil
}

type turn struct {
	role llms.ChatMessageType
	text string
}

func turns(msgs []llms.MessageContent) []turn {
	out := make([]turn, len(msgs))
	for i, m := range msgs {
		out[i] = turn{role: m.Role, text: m.Parts[0].(llms.TextContent).Text}
	}
	return out
}

func newService(store *memStore, llm *recordingLLM, retriever *fakeRetriever, opts Options) *Service {
	return NewService(store, &fakeVideos{owner: 1}, retriever, llm, opts, nil)
}

func TestSendMessage_ReplaysExactHistory(t *testing.T) {
	store := newMemStore()
	llm := &recordingLLM{}
	svc := newService(store, llm, &fakeRetriever{}, Options{})
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, 1, nil)
	require.NoError(t, err)

	first, err := svc.SendMessage(ctx, 1, conv.ID, "What is Go?")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, first.Role)
	assert.Equal(t, "reply 1", first.Content)

	_, err = svc.SendMessage(ctx, 1, conv.ID, "And goroutines?")
	require.NoError(t, err)

	require.Len(t, llm.calls, 2)
	assert.Equal(t, []turn{
		{llms.ChatMessageTypeHuman, "What is Go?"},
	}, turns(llm.calls[0]))
	assert.Equal(t, []turn{
		{llms.ChatMessageTypeHuman, "What is Go?"},
		{llms.ChatMessageTypeAI, "reply 1"},
		{llms.ChatMessageTypeHuman, "And goroutines?"},
	}, turns(llm.calls[1]))

	msgs, err := svc.Messages(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestSendMessage_HistoryCap(t *testing.T) {
	store := newMemStore()
	llm := &recordingLLM{}
	svc := newService(store, llm, &fakeRetriever{}, Options{MaxHistory: 2})
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, 1, nil)
	require.NoError(t, err)
	for _, text := range []string{"one", "two"} {
		_, err := svc.SendMessage(ctx, 1, conv.ID, text)
		require.NoError(t, err)
	}

	assert.Equal(t, []turn{
		{llms.ChatMessageTypeAI, "reply 1"},
		{llms.ChatMessageTypeHuman, "two"},
	}, turns(llm.calls[1]))
}

func TestSendMessage_VideoBoundAddsContext(t *testing.T) {
	store := newMemStore()
	llm := &recordingLLM{}
	retriever := &fakeRetriever{hits: []db.ChunkHit{{ChunkIndex: 2, Content: "the demo starts at noon"}}}
	svc := newService(store, llm, retriever, Options{SystemPrompt: "Answer about the video."})
	ctx := context.Background()

	videoID := uuid.New()
	conv, err := svc.CreateConversation(ctx, 1, &videoID)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, 1, conv.ID, "When is the demo?")
	require.NoError(t, err)

	got := turns(llm.calls[0])
	require.Len(t, got, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, got[0].role)
	assert.True(t, strings.HasPrefix(got[0].text, "Answer about the video."))
	assert.Contains(t, got[0].text, "the demo starts at noon")
	assert.Equal(t, turn{llms.ChatMessageTypeHuman, "When is the demo?"}, got[1])
	assert.Equal(t, "When is the demo?", retriever.query)
}

func TestSendMessage_RetrievalFailureStillAnswers(t *testing.T) {
	store := newMemStore()
	llm := &recordingLLM{}
	svc := newService(store, llm, &fakeRetriever{err: errors.New("embedding down")}, Options{SystemPrompt: "sys"})
	ctx := context.Background()

	videoID := uuid.New()
	conv, err := svc.CreateConversation(ctx, 1, &videoID)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, 1, conv.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, turn{llms.ChatMessageTypeSystem, "sys"}, turns(llm.calls[0])[0])
}

func TestSendMessage_Errors(t *testing.T) {
	store := newMemStore()
	llm := &recordingLLM{}
	svc := newService(store, llm, &fakeRetriever{}, Options{})
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, 1, nil)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, 1, conv.ID, "  ")
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))

	_, err = svc.SendMessage(ctx, 2, conv.ID, "hi")
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))

	_, err = svc.SendMessage(ctx, 1, uuid.New(), "hi")
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))

	llm.err = errors.New("model overloaded")
	_, err = svc.SendMessage(ctx, 1, conv.ID, "hi")
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))

	// user message kept, no assistant reply
	msgs, err := svc.Messages(ctx, 1, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestCreateConversation_ForeignVideo(t *testing.T) {
	svc := newService(newMemStore(), &recordingLLM{}, &fakeRetriever{}, Options{})
	videoID := uuid.New()

	_, err := svc.CreateConversation(context.Background(), 2, &videoID)
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))
}
