package summarize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
	last  []llms.MessageContent
}

func (g *fakeGenerator) GenerateContent(_ context.Context, messages []llms.MessageContent) (string, error) {
	g.calls++
	g.last = messages
	return g.reply, g.err
}

func TestSummarize_EmptyTranscriptSkipsCall(t *testing.T) {
	g := &fakeGenerator{reply: "should not be used"}
	s := New(g)

	res, err := s.Summarize(context.Background(), "   \n")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, g.calls)
}

func TestSummarize_SplitsSections(t *testing.T) {
	g := &fakeGenerator{reply: "SUMMARY:\nA talk about Go.\n\nKEY INFORMATION:\n- goroutines\n- channels"}
	s := New(g)

	res, err := s.Summarize(context.Background(), "today we talk about go")
	require.NoError(t, err)
	assert.Equal(t, "A talk about Go.", res.Summary)
	assert.Equal(t, "- goroutines\n- channels", res.KeyInformation)

	require.Len(t, g.last, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, g.last[0].Role)
}

func TestSummarize_ServiceError(t *testing.T) {
	s := New(&fakeGenerator{err: errors.New("503 upstream")})

	_, err := s.Summarize(context.Background(), "transcript")
	assert.EqualError(t, err, "503 upstream")
}

func TestParse_NoKeyInformation(t *testing.T) {
	res := Parse("Just a summary.")
	assert.Equal(t, "Just a summary.", res.Summary)
	assert.Empty(t, res.KeyInformation)
}
