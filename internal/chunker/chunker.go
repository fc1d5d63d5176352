// Package chunker splits long text into bounded, overlapping segments.
//
// Splitting is deterministic and purely in-memory: the chunker walks an
// ordered cascade of separators from coarsest (paragraph break) to finest
// (single space) and greedily packs the resulting pieces into chunks that fit
// a size budget. Text with no usable separator is force-sliced. The chunker
// performs no I/O and is safe for concurrent use.
package chunker

import (
	"strings"
)

// DefaultMaxSize is the default maximum chunk size in bytes.
const DefaultMaxSize = 4000

// DefaultOverlap is the default number of bytes repeated from the previous
// chunk at the start of the next one.
const DefaultOverlap = 200

// separators is the boundary cascade, coarsest first. The first separator
// that occurs in the remaining text is used; pieces a separator cannot make
// small enough are re-split with the finer separators that follow it.
var separators = []string{
	"\n\n", // paragraph break
	"\n",   // line break
	". ",   // sentence end
	"! ",
	"? ",
	"; ",
	", ",
	" ",
}

// Chunk is one segment of a split text.
//
// Text includes the overlap prefix (for every chunk after the first).
// StartOffset and EndOffset always describe the raw, pre-overlap span within
// the trimmed source text, so concatenating the raw spans of all chunks in
// order reproduces the source. A chunk's offset range can end in whitespace
// that is not part of its Text: whitespace-only pieces are dropped from the
// emitted text but stay covered by the preceding chunk's range. Offsets are
// byte offsets and are intended for inspection, not reconstruction: overlap
// regions are not marked.
type Chunk struct {
	Text            string `json:"text"`
	Index           int    `json:"chunkIndex"`
	TotalChunks     int    `json:"totalChunks"`
	StartOffset     int    `json:"startOffset"`
	EndOffset       int    `json:"endOffset"`
	EstimatedTokens int    `json:"estimatedTokens"`
}

// Chunker splits text into overlapping chunks.
type Chunker struct {
	maxSize int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxSize sets the maximum chunk size in bytes.
func WithMaxSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in bytes.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with the given options.
//
// A configuration where overlap >= maxSize is a caller error: the packing
// budget (maxSize - overlap) collapses and splitting degenerates to
// byte-level slicing. The chunker does not reject such configs, it clamps the
// budget to one byte so the degenerate behavior is at least bounded.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxSize: DefaultMaxSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxSize returns the configured maximum chunk size.
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// span is a raw (pre-overlap) slice of the trimmed source text. end may
// extend past the text when trailing whitespace was absorbed into the span's
// offset range without becoming part of its text.
type span struct {
	text  string
	start int
	end   int
}

// Single wraps text into one chunk regardless of length. Callers use it to
// bypass splitting for content that must stay whole. Empty input yields nil.
func Single(text string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	return []Chunk{{
		Text:            trimmed,
		Index:           0,
		TotalChunks:     1,
		StartOffset:     0,
		EndOffset:       len(trimmed),
		EstimatedTokens: estimateTokens(trimmed),
	}}
}

// Chunk splits text into ordered chunks.
//
// Whitespace around the input is trimmed first; offsets are relative to the
// trimmed text. Empty input yields nil. Input that fits maxSize yields a
// single chunk spanning the whole text. Otherwise pieces are packed against a
// budget of maxSize-overlap and, from the second chunk onward, prefixed with
// the last overlap bytes of the preceding chunk's raw text, so the final
// chunk length never exceeds maxSize.
func (c *Chunker) Chunk(text string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if len(trimmed) <= c.maxSize {
		return []Chunk{{
			Text:            trimmed,
			Index:           0,
			TotalChunks:     1,
			StartOffset:     0,
			EndOffset:       len(trimmed),
			EstimatedTokens: estimateTokens(trimmed),
		}}
	}

	budget := c.maxSize - c.overlap
	if budget < 1 {
		budget = 1
	}

	spans := split(trimmed, 0, separators, budget)

	// Degenerate spans (whitespace only) are dropped rather than emitted as
	// chunks of their own. Their bytes stay accounted for in the
	// predecessor's offset range so coverage has no gaps, but they do not
	// join its text, which would push a packed chunk past maxSize. The input
	// is trimmed, so the first span always carries content and a predecessor
	// exists.
	merged := spans[:0]
	for _, sp := range spans {
		if len(merged) > 0 && strings.TrimSpace(sp.text) == "" {
			merged[len(merged)-1].end = sp.end
			continue
		}
		merged = append(merged, sp)
	}
	spans = merged

	chunks := make([]Chunk, 0, len(spans))
	prevRaw := ""
	for _, sp := range spans {
		text := sp.text
		if len(chunks) > 0 && c.overlap > 0 {
			tail := prevRaw
			if len(tail) > c.overlap {
				tail = tail[len(tail)-c.overlap:]
			}
			text = tail + sp.text
		}
		chunks = append(chunks, Chunk{
			Text:            text,
			StartOffset:     sp.start,
			EndOffset:       sp.end,
			EstimatedTokens: estimateTokens(text),
		})
		prevRaw = sp.text
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// split recursively splits text into spans no longer than budget, trying each
// separator in seps in order. The separator is retained at the end of each
// piece so no bytes are lost. Pieces are greedily packed; a piece that alone
// exceeds the budget is re-split with the remaining, finer separators. With
// no separators left the text is force-sliced every budget bytes.
func split(text string, start int, seps []string, budget int) []span {
	if len(text) <= budget {
		return []span{{text: text, start: start, end: start + len(text)}}
	}

	sepIdx := -1
	for i, s := range seps {
		if strings.Contains(text, s) {
			sepIdx = i
			break
		}
	}
	if sepIdx < 0 {
		out := make([]span, 0, len(text)/budget+1)
		for off := 0; off < len(text); off += budget {
			end := off + budget
			if end > len(text) {
				end = len(text)
			}
			out = append(out, span{text: text[off:end], start: start + off, end: start + end})
		}
		return out
	}

	pieces := strings.SplitAfter(text, seps[sepIdx])

	var out []span
	offset := start // absolute position of the next unread piece
	bufStart := start
	bufLen := 0
	flush := func() {
		if bufLen > 0 {
			rel := bufStart - start
			out = append(out, span{text: text[rel : rel+bufLen], start: bufStart, end: bufStart + bufLen})
			bufLen = 0
		}
	}

	for _, piece := range pieces {
		pieceStart := offset
		offset += len(piece)
		if len(piece) == 0 {
			continue
		}
		if len(piece) > budget {
			flush()
			out = append(out, split(piece, pieceStart, seps[sepIdx+1:], budget)...)
			continue
		}
		if bufLen == 0 {
			bufStart = pieceStart
		} else if bufLen+len(piece) > budget {
			flush()
			bufStart = pieceStart
		}
		bufLen += len(piece)
	}
	flush()

	return out
}

// estimateTokens approximates the token count of text (~4 bytes per token).
func estimateTokens(text string) int {
	return len(text) / 4
}
