package service

import "strings"

// Chunking defaults sized for the embedding models' context budget.
const (
	DefaultChunkWords   = 500
	DefaultOverlapWords = 50

	// chunks at or under this many characters carry too little signal to
	// embed on their own
	minChunkChars = 100
)

// TextChunker splits recognized text into overlapping word windows.
type TextChunker struct {
	windowWords  int
	overlapWords int
}

func NewTextChunker(windowWords, overlapWords int) *TextChunker {
	if windowWords <= 0 {
		windowWords = DefaultChunkWords
	}
	if overlapWords < 0 {
		overlapWords = DefaultOverlapWords
	}
	return &TextChunker{windowWords: windowWords, overlapWords: overlapWords}
}

// Chunk slides a window of windowWords over the whitespace-tokenized text
// with stride windowWords-overlapWords (clamped to at least 1). Chunks that
// trim to minChunkChars characters or fewer are dropped; if the filter
// leaves nothing, the whole text is returned as a single chunk so non-empty
// input never yields an empty result.
func (c *TextChunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	stride := c.windowWords - c.overlapWords
	if stride < 1 {
		stride = 1
	}

	var chunks []string
	for i := 0; i < len(words); i += stride {
		end := i + c.windowWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if len(strings.TrimSpace(chunk)) > minChunkChars {
			chunks = append(chunks, chunk)
		}
		if end == len(words) {
			break
		}
	}

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}
