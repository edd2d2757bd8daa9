// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// pageFullTextLimit bounds how much page text is inlined into page-level
// document metadata; larger pages keep a hash instead.
const pageFullTextLimit = 50_000

// Segment is one vector-store document derived from a page.
type Segment struct {
	DocumentID string
	Text       string
	Metadata   map[string]any
}

// ChunkOptions configures paragraph merging and window chunking.
type ChunkOptions struct {
	// MaxLength is the window size in runes.
	MaxLength int

	// ContextLength is the overlap between consecutive windows.
	ContextLength int

	// MinParagraphLines glues shorter paragraphs together before chunking.
	MinParagraphLines int

	// TitleWeight is the importance assigned to title segments; body
	// segments get 1.0.
	TitleWeight float64

	// PageLevel additionally emits one whole-page document per page.
	PageLevel bool

	Titles TitleHeuristic
}

type window struct {
	start, end int
	text       string
}

// chunkParagraph slices text into overlapping rune windows. Consecutive
// windows advance by max−context so each carries context from its
// predecessor; a short text yields a single full window.
func chunkParagraph(text string, maxLength, contextLength int) []window {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return []window{{start: 0, end: len(runes), text: text}}
	}

	step := maxLength - contextLength
	if step < 1 {
		step = 1
	}

	var windows []window
	for start := 0; ; start += step {
		end := start + maxLength
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, window{start: start, end: end, text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return windows
}

func newDocumentID(bookID, pageID int64, paragraphIndex, segmentIndex int) string {
	u := uuid.New()
	return fmt.Sprintf("%d-%d-%d-%d-%s", bookID, pageID, paragraphIndex, segmentIndex, hex.EncodeToString(u[:])[:8])
}

func sourcesCSV(indices []int) string {
	parts := make([]string, len(indices))
	for i, n := range indices {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// BuildSegments converts one page into its stored documents: paragraph
// segments plus, when enabled, a page-level document. A page whose text
// yields no paragraphs falls back to a single segment over the full text.
func BuildSegments(page *BookPage, opts ChunkOptions) []Segment {
	text := HTMLToText(page.PageTextHTML)
	if text == "" {
		return nil
	}

	paragraphs := MergeShortParagraphs(SplitParagraphs(text, opts.Titles), opts.MinParagraphLines)

	base := func() map[string]any {
		return map[string]any{
			"book_id":       page.BookID,
			"book_title":    page.BookTitle,
			"section_id":    page.SectionID,
			"section_title": page.SectionTitle,
			"page_id":       page.PageID,
			"source_link":   page.Link,
			"record_id":     page.RecordID,
			"has_error":     page.Error != "",
			"error":         page.Error,
		}
	}

	var segments []Segment
	for paraIndex, paragraph := range paragraphs {
		importance := 1.0
		if paragraph.IsTitle && opts.TitleWeight > 0 {
			importance = opts.TitleWeight
		}

		windows := chunkParagraph(paragraph.Text, opts.MaxLength, opts.ContextLength)
		for segIndex, w := range windows {
			md := base()
			md["paragraph_index"] = paraIndex
			md["segment_index"] = segIndex
			md["segment_start"] = w.start
			md["segment_end"] = w.end
			md["segment_length"] = w.end - w.start
			md["paragraph_line_count"] = paragraph.LineCount
			md["paragraph_is_title"] = paragraph.IsTitle
			md["paragraph_sources"] = sourcesCSV(paragraph.SourceIndices)
			md["importance"] = importance
			if len(windows) > 1 {
				// Chunked paragraphs keep their full text so results can
				// show the whole paragraph, not just the window.
				md["paragraph_full_text"] = paragraph.Text
			}
			segments = append(segments, Segment{
				DocumentID: newDocumentID(page.BookID, page.PageID, paraIndex, segIndex),
				Text:       w.text,
				Metadata:   md,
			})
		}
	}

	if len(segments) == 0 {
		runes := []rune(text)
		md := base()
		md["paragraph_index"] = 0
		md["segment_index"] = 0
		md["segment_start"] = 0
		md["segment_end"] = len(runes)
		md["segment_length"] = len(runes)
		md["paragraph_line_count"] = 1
		md["paragraph_is_title"] = false
		md["paragraph_sources"] = "0"
		md["importance"] = 1.0
		segments = append(segments, Segment{
			DocumentID: newDocumentID(page.BookID, page.PageID, 0, 0),
			Text:       text,
			Metadata:   md,
		})
	}

	if opts.PageLevel {
		md := base()
		md["paragraph_index"] = -1
		md["segment_index"] = -1
		md["page_level"] = true

		doc := text
		if len(text) < pageFullTextLimit {
			md["page_full_text"] = text
		} else {
			sum := sha256.Sum256([]byte(text))
			digest := hex.EncodeToString(sum[:])
			md["page_full_text_hash"] = digest
			doc = digest
		}
		segments = append(segments, Segment{
			DocumentID: newDocumentID(page.BookID, page.PageID, -1, -1),
			Text:       doc,
			Metadata:   md,
		})
	}

	return segments
}
