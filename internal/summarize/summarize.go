package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"video-rag/internal/models"
)

// Generator is the chat-completion call the summarizer depends on.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent) (string, error)
}

type Result struct {
	Summary        string
	KeyInformation string
}

// Summarizer derives a summary and key information from a transcript with a
// single language-model call.
type Summarizer struct {
	llm Generator
}

func New(llm Generator) *Summarizer {
	return &Summarizer{llm: llm}
}

// Summarize returns empty results without calling the model when the
// transcript is blank.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return Result{}, nil
	}

	prompt := fmt.Sprintf(models.SummaryPromptTemplate, transcript)
	reply, err := s.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return Result{}, err
	}
	return Parse(reply), nil
}

// Parse splits a model reply into its SUMMARY and KEY INFORMATION sections.
// A reply without the key information marker is all summary.
func Parse(reply string) Result {
	summary, keyInfo, found := strings.Cut(reply, models.KeyInfoMarker)
	if !found {
		keyInfo = ""
	}
	summary = strings.TrimSpace(summary)
	summary = strings.TrimSpace(strings.TrimPrefix(summary, models.SummaryMarker))
	return Result{
		Summary:        summary,
		KeyInformation: strings.TrimSpace(keyInfo),
	}
}
