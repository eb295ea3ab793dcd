package extract

import (
	"strings"

	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

// DefaultChunkSize bounds a chunk so a (chunk, statement) pair fits one
// model context call with room for the instruction.
const DefaultChunkSize = 2000

// Chunker cuts article pages into bounded, sentence-aligned chunks.
type Chunker struct {
	maxChars int
}

// NewChunker creates a chunker. maxChars defaults to DefaultChunkSize.
func NewChunker(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultChunkSize
	}
	return &Chunker{maxChars: maxChars}
}

// Chunk converts an article's pages into chunks. Sentences are never
// split across chunks except when a single sentence exceeds the bound,
// in which case it is cut hard.
func (c *Chunker) Chunk(articleName string, pages []string) []model.Chunk {
	var chunks []model.Chunk
	for pageNum, page := range pages {
		var current strings.Builder
		flush := func() {
			text := strings.TrimSpace(current.String())
			if text != "" {
				chunks = append(chunks, model.Chunk{
					ArticleName: articleName,
					Text:        text,
					Page:        pageNum + 1,
				})
			}
			current.Reset()
		}

		for _, sentence := range splitSentences(page) {
			for len(sentence) > c.maxChars {
				flush()
				chunks = append(chunks, model.Chunk{
					ArticleName: articleName,
					Text:        strings.TrimSpace(sentence[:c.maxChars]),
					Page:        pageNum + 1,
				})
				sentence = sentence[c.maxChars:]
			}
			if current.Len()+len(sentence)+1 > c.maxChars {
				flush()
			}
			if current.Len() > 0 {
				current.WriteByte(' ')
			}
			current.WriteString(sentence)
		}
		flush()
	}
	return chunks
}

// splitSentences is a rough sentence splitter: terminal punctuation
// followed by whitespace. Good enough for chunk alignment; exact sentence
// boundaries are not load-bearing.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') &&
			(i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t') {
			s := strings.TrimSpace(b.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
