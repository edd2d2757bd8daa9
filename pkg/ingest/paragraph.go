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
	"regexp"
	"strings"
	"unicode/utf8"
)

// Paragraph is a cleaned block of page text.
type Paragraph struct {
	// Text with all whitespace runs collapsed to single spaces.
	Text string

	// LineCount is the number of non-empty source lines before collapsing.
	LineCount int

	// SourceIndices are the ordinals of the raw paragraphs this one came
	// from; more than one after short paragraphs are merged.
	SourceIndices []int

	IsTitle bool
}

// TitleHeuristic decides whether a paragraph is a heading. Headings are
// never merged with body text and carry a higher importance weight.
type TitleHeuristic struct {
	// MaxLength marks any paragraph at most this many runes as a title.
	MaxLength int

	// Markers are substrings (matched case-insensitively) that indicate
	// a heading, such as leftover header tags or chapter words.
	Markers []string

	// Suffixes mark a paragraph ending with one of them as a title.
	Suffixes []string
}

// DefaultTitleHeuristic matches the headings observed in the book corpus:
// very short lines, header-tag remnants, and Persian chapter markers. The
// length bound is tight so ordinary short sentences still qualify for
// merging; corpus analysis tooling may want a looser bound.
func DefaultTitleHeuristic() TitleHeuristic {
	return TitleHeuristic{
		MaxLength: 30,
		Markers:   []string{"<h1", "<h2", "<h3", "<h4", "<h5", "<h6", "عنوان", "title", "درس "},
		Suffixes:  []string{":", "؛"},
	}
}

// IsTitle reports whether the paragraph text looks like a heading.
func (h TitleHeuristic) IsTitle(text string) bool {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return false
	}
	if h.MaxLength > 0 && utf8.RuneCountInString(stripped) <= h.MaxLength {
		return true
	}
	lowered := strings.ToLower(stripped)
	for _, marker := range h.Markers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	for _, suffix := range h.Suffixes {
		if strings.HasSuffix(stripped, suffix) {
			return true
		}
	}
	return false
}

var (
	paragraphSplitRe = regexp.MustCompile(`\n\s*\n+`)
	whitespaceRunRe  = regexp.MustCompile(`\s+`)
)

// SplitParagraphs breaks text on blank lines. Line counts are taken from
// the raw block before whitespace collapsing so short-paragraph merging
// sees the original layout.
func SplitParagraphs(text string, titles TitleHeuristic) []Paragraph {
	if text == "" {
		return nil
	}

	var out []Paragraph
	for index, raw := range paragraphSplitRe.Split(text, -1) {
		cleaned := strings.TrimSpace(whitespaceRunRe.ReplaceAllString(raw, " "))
		if cleaned == "" {
			continue
		}

		lineCount := 0
		for _, line := range strings.Split(raw, "\n") {
			if strings.TrimSpace(line) != "" {
				lineCount++
			}
		}
		if lineCount == 0 {
			lineCount = 1
		}

		out = append(out, Paragraph{
			Text:          cleaned,
			LineCount:     lineCount,
			SourceIndices: []int{index},
			IsTitle:       titles.IsTitle(cleaned),
		})
	}
	return out
}

// MergeShortParagraphs glues consecutive non-title paragraphs together
// until the bundle reaches minLines. Titles flush the buffer and pass
// through unchanged. Merged paragraphs join text with newlines, sum line
// counts, and union source indices.
func MergeShortParagraphs(paragraphs []Paragraph, minLines int) []Paragraph {
	if minLines <= 1 {
		return paragraphs
	}

	var out []Paragraph
	var buffer []Paragraph
	budget := 0

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if len(buffer) == 1 {
			out = append(out, buffer[0])
		} else {
			merged := Paragraph{LineCount: 0}
			texts := make([]string, 0, len(buffer))
			for _, p := range buffer {
				texts = append(texts, p.Text)
				merged.LineCount += p.LineCount
				merged.SourceIndices = append(merged.SourceIndices, p.SourceIndices...)
			}
			merged.Text = strings.Join(texts, "\n")
			out = append(out, merged)
		}
		buffer = nil
		budget = 0
	}

	for _, p := range paragraphs {
		if p.IsTitle {
			flush()
			out = append(out, p)
			continue
		}
		buffer = append(buffer, p)
		budget += p.LineCount
		if budget >= minLines {
			flush()
		}
	}
	flush()
	return out
}
