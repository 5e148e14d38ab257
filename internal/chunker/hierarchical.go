package chunker

import (
	"regexp"
	"strings"

	"ragstore/internal/types"
)

// wordTokenRatio approximates words per token for typical English text.
// Applied uniformly wherever tokens and words are converted.
const wordTokenRatio = 0.77

// overlapFallbackWordsPerSentence sizes the hard word-count cut used when
// no sentence boundary lands in the last quarter of a closed chunk.
const overlapFallbackWordsPerSentence = 15

var (
	paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)
	sentenceEndRe    = regexp.MustCompile(`([.!?])\s+`)
)

// Hierarchical is a layout-aware chunker. It detects sections, keeps small
// section bodies whole, splits large bodies at paragraph then sentence
// granularity under a word budget, seeds each split with sentence overlap
// from the previous chunk, and prefixes every chunk with its section title.
type Hierarchical struct {
	chunkWords       int
	overlapSentences int
}

// NewHierarchical builds a chunker with the given token budget. The word
// budget is chunkTokens * wordTokenRatio.
func NewHierarchical(chunkTokens, overlapSentences int) *Hierarchical {
	if chunkTokens <= 0 {
		chunkTokens = 500
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	return &Hierarchical{
		chunkWords:       int(float64(chunkTokens) * wordTokenRatio),
		overlapSentences: overlapSentences,
	}
}

// ChunkWords returns the word budget per chunk.
func (h *Hierarchical) ChunkWords() int { return h.chunkWords }

// Chunk splits text into retrieval-sized units. Empty or whitespace-only
// input yields nil.
func (h *Hierarchical) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sections := DetectSections(text)
	if len(sections) == 0 {
		return h.chunkSection(strings.TrimSpace(text), "")
	}

	lines := strings.Split(text, "\n")
	var chunks []string

	// Content before the first header belongs to an implicit untitled section.
	if sections[0].StartLine > 0 {
		preamble := strings.TrimSpace(strings.Join(lines[:sections[0].StartLine], "\n"))
		if preamble != "" {
			chunks = append(chunks, h.chunkSection(preamble, "")...)
		}
	}

	for i, sec := range sections {
		bodyStart := sec.StartLine + 1
		if sec.Type == types.SectionUnderlined {
			bodyStart++ // skip the underline
		}
		bodyEnd := len(lines)
		if i+1 < len(sections) {
			bodyEnd = sections[i+1].StartLine
		}
		if bodyStart > bodyEnd {
			bodyStart = bodyEnd
		}
		body := strings.TrimSpace(strings.Join(lines[bodyStart:bodyEnd], "\n"))
		if body == "" {
			continue
		}
		chunks = append(chunks, h.chunkSection(body, sec.Title)...)
	}

	return chunks
}

// chunkSection emits one or more chunks for a single section body.
func (h *Hierarchical) chunkSection(body, title string) []string {
	if WordCount(body) <= h.chunkWords {
		return []string{withTitle(title, body)}
	}

	paragraphs := paragraphSplitRe.Split(body, -1)
	var out []string
	var cur []string
	curWords := 0
	seeded := false // cur holds only an overlap seed, no fresh content yet

	flush := func() {
		if len(cur) == 0 || (seeded && len(cur) == 1) {
			return
		}
		closed := strings.Join(cur, "\n\n")
		out = append(out, withTitle(title, closed))
		overlap := h.overlapTail(closed)
		cur = cur[:0]
		curWords = 0
		seeded = false
		if overlap != "" {
			cur = append(cur, overlap)
			curWords = WordCount(overlap)
			seeded = true
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pw := WordCount(para)

		if pw > h.chunkWords {
			// An indivisible paragraph at this granularity; recurse to
			// sentence level with the same budget-and-overlap discipline.
			flush()
			cur = cur[:0]
			curWords = 0
			seeded = false
			for _, sc := range h.splitSentences(para) {
				out = append(out, withTitle(title, sc))
			}
			if len(out) > 0 {
				overlap := h.overlapTail(stripTitle(title, out[len(out)-1]))
				if overlap != "" {
					cur = append(cur, overlap)
					curWords = WordCount(overlap)
					seeded = true
				}
			}
			continue
		}

		if curWords+pw > h.chunkWords && curWords > 0 {
			flush()
		}
		cur = append(cur, para)
		curWords += pw
		seeded = false
	}

	if len(cur) > 0 && !seeded {
		out = append(out, withTitle(title, strings.Join(cur, "\n\n")))
	}

	return out
}

// splitSentences chunks an oversized paragraph at sentence boundaries,
// carrying overlapSentences sentences across each split.
func (h *Hierarchical) splitSentences(para string) []string {
	sentences := SplitSentences(para)
	if len(sentences) == 0 {
		return []string{para}
	}

	var out []string
	start := 0
	for start < len(sentences) {
		words := 0
		end := start
		for end < len(sentences) {
			sw := WordCount(sentences[end])
			if end > start && words+sw > h.chunkWords {
				break
			}
			words += sw
			end++
		}
		out = append(out, strings.Join(sentences[start:end], " "))
		if end >= len(sentences) {
			break
		}
		next := end - h.overlapSentences
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// overlapTail returns the last overlapSentences sentences of a closed chunk.
// The sentence cut must land in the last quarter of the text; otherwise a
// hard word-count cut is used instead.
func (h *Hierarchical) overlapTail(text string) string {
	if h.overlapSentences <= 0 {
		return ""
	}

	// With m internal terminators the text holds m+1 sentences; the last n
	// of them start right after terminator m-n.
	locs := sentenceEndRe.FindAllStringIndex(text, -1)
	if n := len(locs); n >= h.overlapSentences {
		cut := locs[n-h.overlapSentences][1]
		if cut >= len(text)*3/4 {
			return strings.TrimSpace(text[cut:])
		}
	}

	words := strings.Fields(text)
	limit := h.overlapSentences * overlapFallbackWordsPerSentence
	if len(words) <= limit {
		return ""
	}
	return strings.Join(words[len(words)-limit:], " ")
}

// SplitSentences splits text on sentence-ending punctuation followed by
// whitespace, keeping the punctuation with the sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	locs := sentenceEndRe.FindAllStringIndex(text, -1)
	var out []string
	prev := 0
	for _, loc := range locs {
		s := strings.TrimSpace(text[prev:loc[1]])
		if s != "" {
			out = append(out, s)
		}
		prev = loc[1]
	}
	if rest := strings.TrimSpace(text[prev:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// WordCount counts whitespace-delimited words.
func WordCount(s string) int { return len(strings.Fields(s)) }

// EstimateTokens converts a word count to an approximate token count using
// the same ratio as the chunk budget.
func EstimateTokens(s string) int {
	w := WordCount(s)
	if w == 0 {
		return 0
	}
	return int(float64(w)/wordTokenRatio + 0.5)
}

func withTitle(title, chunk string) string {
	if title == "" {
		return chunk
	}
	return "[" + title + "]\n\n" + chunk
}

func stripTitle(title, chunk string) string {
	if title == "" {
		return chunk
	}
	return strings.TrimPrefix(chunk, "["+title+"]\n\n")
}
