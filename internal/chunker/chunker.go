package chunker

import (
	"fmt"
	"strings"

	"video-rag/internal/models"
)

// Chunker splits transcripts into fixed-width rune windows. Consecutive
// windows share exactly overlap runes; every window but the last is full.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into ordered chunks indexed from 0. Boundaries depend only
// on the rune length of text, so re-splitting the same text is stable.
func (c *Chunker) Split(text string) []models.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]models.Chunk, 0, (n+step-1)/step)
	for start := 0; start < n; start += step {
		end := min(start+c.size, n)
		chunks = append(chunks, models.Chunk{
			Index:   len(chunks),
			Content: string(runes[start:end]),
			Start:   start,
			End:     end,
		})
		if end == n {
			break
		}
	}
	return chunks
}

// Join rebuilds the covered text from chunks split with the given overlap,
// dropping the shared prefix of every chunk after the first.
func Join(chunks []models.Chunk, overlap int) string {
	var b strings.Builder
	for i, chunk := range chunks {
		content := chunk.Content
		if i > 0 && overlap > 0 {
			runes := []rune(content)
			content = string(runes[min(overlap, len(runes)):])
		}
		b.WriteString(content)
	}
	return b.String()
}
