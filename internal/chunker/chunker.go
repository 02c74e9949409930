// Package chunker turns Document text into an ordered set of Chunks:
// section detection, sentence splitting, and greedy token-window
// packing with overlap.
package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/vallancelee/biomcp/internal/model"
)

// Chunker packs a Document's text into Chunks.
type Chunker struct {
	opts Options
}

// New builds a Chunker with the given options, defaulting unset fields.
func New(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// Chunk produces the ordered chunk sequence for doc. It never returns an
// error for empty text: empty text
// after trimming yields zero chunks plus a warning recorded by the
// caller (the pipeline), not a raised error.
func (c *Chunker) Chunk(ctx context.Context, doc *model.Document) ([]*model.Chunk, error) {
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return nil, nil
	}

	sections := detectSections(text)
	sentenceCount := 0

	var chunks []*model.Chunk
	idx := 0

	unstructured := len(sections) == 1 && sections[0].label == model.SectionUnstructured

	for _, sec := range sections {
		sentences := splitSentences(sec.content)
		windows := packSentences(sentences, c.opts)

		for _, window := range windows {
			sentenceCount += len(window)
			if sentenceCount >= yieldEverySentences {
				sentenceCount = 0
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}

			body := strings.Join(window, " ")
			body = collapseWhitespace(body)
			body = model.StripLeadingTitle(body, doc.Title)
			if strings.TrimSpace(body) == "" {
				continue
			}

			var chunkID string
			if unstructured {
				chunkID = fmt.Sprintf("w%d", idx)
			} else {
				chunkID = fmt.Sprintf("s%d", idx)
			}

			chunk, err := model.NewChunk(doc.UID, doc.Source, chunkID, idx, body, sec.label)
			if err != nil {
				return nil, fmt.Errorf("chunker: %s chunk %d: %w", doc.UID, idx, err)
			}
			chunk.Title = doc.Title
			chunk.PublishedAt = doc.PublishedAt
			chunk.Tokens = clampTokens(estimateTokens(body), c.opts.HardMaxTokens)
			chunk.NSentences = len(window)
			chunk.Meta["chunker_version"] = c.opts.Version

			chunks = append(chunks, chunk)
			idx++
		}
	}

	return chunks, nil
}

// clampTokens enforces the reported-token bound [10, 450]
// on the Chunk.Tokens field. A single sentence longer than hardMax can't be
// split further by packSentences, so without this the reported count would
// drift above the hard max the rest of the pipeline (retrieval ranking,
// context-window budgeting) assumes it never does.
func clampTokens(n, hardMax int) int {
	if n < minTokens {
		return minTokens
	}
	if n > hardMax {
		return hardMax
	}
	return n
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// packSentences greedily packs sentences into token windows targeting
// opts.TargetTokens, never exceeding opts.HardMaxTokens except that a
// single sentence longer than the hard max forms a window on its own, carrying back
// roughly opts.OverlapTokens worth of trailing sentences into the start
// of the next window.
func packSentences(sentences []string, opts Options) [][]string {
	if len(sentences) == 0 {
		return nil
	}

	var windows [][]string
	i := 0

	for i < len(sentences) {
		var window []string
		tokens := 0
		j := i

		for j < len(sentences) {
			t := estimateTokens(sentences[j])
			if len(window) > 0 && tokens+t > opts.HardMaxTokens {
				break
			}
			window = append(window, sentences[j])
			tokens += t
			j++
			if tokens >= opts.TargetTokens {
				break
			}
		}

		windows = append(windows, window)

		if j >= len(sentences) {
			break
		}

		// Carry back trailing sentences worth ~OverlapTokens into the
		// next window's start.
		carried := 0
		overlapTokens := 0
		for carried < len(window) && overlapTokens < opts.OverlapTokens {
			carried++
			overlapTokens += estimateTokens(window[len(window)-carried])
		}

		next := j - carried
		if next <= i {
			next = i + 1 // always make forward progress
		}
		i = next
	}

	return windows
}
