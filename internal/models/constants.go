package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n---\n"
	SummaryMarker    = "SUMMARY:"
	KeyInfoMarker    = "KEY INFORMATION:"
)

var (
	SummaryPromptTemplate = `<transcript>
%s
</transcript>
Above is the transcript of a video. Write two sections and nothing else.
The first section starts with the line "SUMMARY:" and is a short summary of the video in a few sentences.
The second section starts with the line "KEY INFORMATION:" and lists the key facts, names, numbers and takeaways as a markdown bullet list.
`

	AskPromptTemplate = `Context:
%s
Query: %s`
)
