package ai

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	DefaultMaxChunkTokens = 1000
	DefaultOverlapTokens  = 200
)

var sentenceSplitter = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?]+)`)

// Chunker splits raw document text into overlapping token windows. Markdown
// block structure (paragraphs, headings, code fences) provides the preferred
// split points; sentences are never broken mid-token.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

func NewChunker(maxTokens, overlapTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxChunkTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 4
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens}
}

type piece struct {
	text     string
	tokens   int
	newBlock bool
}

// Chunk returns the ordered chunk texts for a document. Empty input yields an
// empty sequence; input under maxTokens yields exactly one chunk. Re-chunking
// identical input with identical parameters is deterministic.
func (c *Chunker) Chunk(input string) []string {
	pieces := c.split(input)
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	var current []piece
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, joinPieces(current))

		// Carry trailing sentences into the next window as overlap.
		overlapTokens := 0
		var overlap []piece
		for i := len(current) - 1; i >= 0; i-- {
			if overlapTokens+current[i].tokens > c.overlapTokens {
				break
			}
			overlapTokens += current[i].tokens
			overlap = append([]piece{current[i]}, overlap...)
		}
		current = overlap
		currentTokens = overlapTokens
	}

	for _, p := range pieces {
		if currentTokens > 0 && currentTokens+p.tokens > c.maxTokens {
			flush()
		}
		current = append(current, p)
		currentTokens += p.tokens
	}
	if len(current) > 0 {
		// Suppress a window that is pure overlap of the previous one.
		tail := joinPieces(current)
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], tail) {
			chunks = append(chunks, tail)
		}
	}
	return chunks
}

// split breaks the input into sentence-sized pieces, block by block.
func (c *Chunker) split(input string) []piece {
	var pieces []piece
	for _, block := range blockSegments(input) {
		first := true
		for _, sentence := range splitSentences(block) {
			for _, part := range c.hardSplit(sentence) {
				pieces = append(pieces, piece{
					text:     part,
					tokens:   EstimateTokens(part),
					newBlock: first,
				})
				first = false
			}
		}
	}
	return pieces
}

// hardSplit breaks a single oversized sentence at whitespace token boundaries.
func (c *Chunker) hardSplit(sentence string) []string {
	if EstimateTokens(sentence) <= c.maxTokens {
		return []string{sentence}
	}
	words := strings.Fields(sentence)
	var parts []string
	var current []string
	tokens := 0
	for _, word := range words {
		t := EstimateTokens(word)
		if tokens > 0 && tokens+t > c.maxTokens {
			parts = append(parts, strings.Join(current, " "))
			current = nil
			tokens = 0
		}
		current = append(current, word)
		tokens += t
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}

func joinPieces(pieces []piece) string {
	var sb strings.Builder
	for i, p := range pieces {
		if i > 0 {
			if p.newBlock {
				sb.WriteString("\n\n")
			} else {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(p.text)
	}
	return sb.String()
}

// blockSegments walks the markdown block structure and returns one text
// segment per top-level block. Plain text degrades to blank-line paragraphs.
func blockSegments(input string) []string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}
	source := []byte(input)
	md := goldmark.New()
	reader := text.NewReader(source)
	doc := md.Parser().Parse(reader)

	var segments []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		var seg string
		switch n := node.(type) {
		case *ast.FencedCodeBlock:
			var sb strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				sb.Write(line.Value(source))
			}
			seg = strings.TrimSpace(sb.String())
		default:
			seg = extractText(node, source)
		}
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
			if node.(*ast.Text).SoftLineBreak() || node.(*ast.Text).HardLineBreak() {
				sb.WriteString(" ")
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func splitSentences(block string) []string {
	sentences := sentenceSplitter.FindAllString(block, -1)
	if len(sentences) == 0 {
		return []string{strings.TrimSpace(block)}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	// Keep any trailing fragment without terminal punctuation.
	if rest := strings.TrimSpace(block[matchedOffset(block, sentences):]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// matchedOffset finds where the matched sentences end inside block.
func matchedOffset(block string, sentences []string) int {
	offset := 0
	for _, s := range sentences {
		idx := strings.Index(block[offset:], s)
		if idx < 0 {
			return len(block)
		}
		offset += idx + len(s)
	}
	return offset
}

// EstimateTokens counts words for latin scripts and characters for CJK.
func EstimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
