package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/confluence-qa/config"
)

// Tokenizer encodes text into the token space of the embedding model so
// chunk sizes line up with what the model actually sees.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer returns the cl100k_base BPE tokenizer used by the
// text-embedding-3 model family.
func NewTokenizer() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &bpeTokenizer{enc: enc}, nil
}

func (t *bpeTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *bpeTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// TextChunk is one embeddable piece of a page.
type TextChunk struct {
	Text string
	// HeadingPath is the outline position, e.g. "Setup > Install".
	// Empty when the chunk precedes any heading.
	HeadingPath string
	ChunkIndex  int
	TokenCount  int
}

// Chunker splits normalized page text into token-bounded chunks. Text is
// first sectioned along the heading markers the normalizer emits, then
// each section is windowed with overlap.
type Chunker struct {
	targetTokens  int
	minTokens     int
	maxTokens     int
	overlapTokens int
	tokenizer     Tokenizer
}

func NewChunker(cfg *config.ChunkingConfig, tokenizer Tokenizer) *Chunker {
	return &Chunker{
		targetTokens:  cfg.TargetTokens,
		minTokens:     cfg.MinTokens,
		maxTokens:     cfg.MaxTokens,
		overlapTokens: cfg.OverlapTokens,
		tokenizer:     tokenizer,
	}
}

var headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Chunk splits text into chunks with sequential indices starting at 0.
func (c *Chunker) Chunk(text string) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []TextChunk
	for _, section := range c.splitByHeadings(text) {
		chunks = append(chunks, c.chunkSection(section.text, section.headingPath, len(chunks))...)
	}
	return chunks
}

// CountTokens reports the token length of text.
func (c *Chunker) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.tokenizer.Encode(text))
}

type section struct {
	headingPath string
	text        string
}

// splitByHeadings walks the markdown heading markers and keeps a stack of
// open headings so each section knows its full outline path.
func (c *Chunker) splitByHeadings(text string) []section {
	type heading struct {
		level int
		text  string
	}

	var sections []section
	var stack []heading
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		sectionText := strings.TrimSpace(strings.Join(current, "\n"))
		if sectionText != "" {
			parts := make([]string, len(stack))
			for i, h := range stack {
				parts[i] = h.text
			}
			sections = append(sections, section{
				headingPath: strings.Join(parts, " > "),
				text:        sectionText,
			})
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		m := headingLine.FindStringSubmatch(line)
		if m == nil {
			current = append(current, line)
			continue
		}

		flush()

		level := len(m[1])
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, heading{level: level, text: strings.TrimSpace(m[2])})
		current = append(current, line)
	}
	flush()

	if len(sections) == 0 {
		sections = []section{{text: strings.TrimSpace(text)}}
	}
	return sections
}

func (c *Chunker) chunkSection(text, headingPath string, startIndex int) []TextChunk {
	tokens := c.tokenizer.Encode(text)
	total := len(tokens)

	if total <= c.maxTokens {
		return []TextChunk{{
			Text:        text,
			HeadingPath: headingPath,
			ChunkIndex:  startIndex,
			TokenCount:  total,
		}}
	}

	var chunks []TextChunk
	index := startIndex
	pos := 0

	for pos < total {
		end := pos + c.targetTokens
		if end > total {
			end = total
		}

		chunkText := c.tokenizer.Decode(tokens[pos:end])
		chunkText = adjustToBoundary(chunkText)
		actual := len(c.tokenizer.Encode(chunkText))

		if actual >= c.minTokens || pos+c.targetTokens >= total {
			chunks = append(chunks, TextChunk{
				Text:        strings.TrimSpace(chunkText),
				HeadingPath: headingPath,
				ChunkIndex:  index,
				TokenCount:  actual,
			})
			index++
		}

		next := end - c.overlapTokens
		if next <= pos || next >= total-c.minTokens {
			next = end
		}
		pos = next
	}

	return chunks
}

var sentenceEndings = []string{". ", ".\n", "? ", "?\n", "! ", "!\n"}

// adjustToBoundary trims a window back to the last sentence end, or
// failing that the last word break, so chunks do not cut mid-sentence.
// The cut never drops more than half the window.
func adjustToBoundary(chunkText string) string {
	for _, ending := range sentenceEndings {
		idx := strings.LastIndex(chunkText, ending)
		if idx > 0 && idx > len(chunkText)/2 {
			return chunkText[:idx+1]
		}
	}

	if last := strings.LastIndex(chunkText[:len(chunkText)-1], " "); last > len(chunkText)*4/5 {
		return chunkText[:last]
	}
	return chunkText
}
