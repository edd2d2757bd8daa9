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

// Package srt reads and writes SubRip subtitle files. The dataset
// preparation tooling uses it to strip lecture subtitles down to plain
// text before they are folded into the corpus.
package srt

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Cue is one subtitle block: an index, a time range, and its text lines.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Lines []string
}

// ParseTimestamp parses "HH:MM:SS,mmm". A dot is accepted in place of
// the comma, which some encoders emit.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ".", ","))
	var h, m, sec, ms int
	if _, err := fmt.Sscanf(s, "%d:%d:%d,%d", &h, &m, &sec, &ms); err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	if m > 59 || sec > 59 || ms > 999 || h < 0 || m < 0 || sec < 0 || ms < 0 {
		return 0, fmt.Errorf("invalid timestamp %q: component out of range", s)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// FormatTimestamp renders a duration as "HH:MM:SS,mmm".
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Parse reads SubRip cues: index line, "start --> end", text lines, and
// a blank-line separator. A UTF-8 BOM and CRLF line endings are
// tolerated. Blocks with a malformed index or time line fail the parse.
func Parse(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		cues  []Cue
		lines []string
		first = true
	)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if strings.TrimSpace(line) == "" {
			if len(lines) > 0 {
				cue, err := parseBlock(lines)
				if err != nil {
					return nil, err
				}
				cues = append(cues, cue)
				lines = lines[:0]
			}
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		cue, err := parseBlock(lines)
		if err != nil {
			return nil, err
		}
		cues = append(cues, cue)
	}
	return cues, nil
}

func parseBlock(lines []string) (Cue, error) {
	if len(lines) < 2 {
		return Cue{}, fmt.Errorf("incomplete cue block %q", strings.Join(lines, " / "))
	}
	index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Cue{}, fmt.Errorf("invalid cue index %q: %w", lines[0], err)
	}

	start, end, found := strings.Cut(lines[1], "-->")
	if !found {
		return Cue{}, fmt.Errorf("cue %d: missing time separator in %q", index, lines[1])
	}
	startTS, err := ParseTimestamp(start)
	if err != nil {
		return Cue{}, fmt.Errorf("cue %d: %w", index, err)
	}
	endTS, err := ParseTimestamp(end)
	if err != nil {
		return Cue{}, fmt.Errorf("cue %d: %w", index, err)
	}

	text := make([]string, len(lines[2:]))
	copy(text, lines[2:])
	return Cue{Index: index, Start: startTS, End: endTS, Lines: text}, nil
}

// Write renders cues back to SubRip format, renumbering from 1.
func Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	for i, cue := range cues {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		fmt.Fprintf(bw, "%d\n%s --> %s\n", i+1, FormatTimestamp(cue.Start), FormatTimestamp(cue.End))
		for _, line := range cue.Lines {
			fmt.Fprintln(bw, line)
		}
	}
	return bw.Flush()
}

// Text flattens cues to plain text, dropping indices and timestamps and
// collapsing runs of whitespace to single spaces.
func Text(cues []Cue) string {
	var b strings.Builder
	for _, cue := range cues {
		for _, line := range cue.Lines {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strings.Join(strings.Fields(line), " "))
		}
	}
	return strings.TrimSpace(b.String())
}

// DefaultRemoveWords are the filler tokens Clean strips when no word
// list is given. Auto-generated lecture subtitles pepper the text with
// them.
var DefaultRemoveWords = []string{"نعم"}

// musicMarker matches the transcriber's music annotation and any
// comma-separated repetitions of it.
var musicMarker = regexp.MustCompile(`\s*موسيقى\s*(?:,?\s*موسيقى\s*)*`)

// CleanOptions controls Clean.
type CleanOptions struct {
	// RemoveWords are stripped from the cue text. Nil means
	// DefaultRemoveWords; pass an empty slice to remove nothing.
	RemoveWords []string

	// KeepTimestamps keeps each cue's "start --> end" range in the
	// output.
	KeepTimestamps bool
}

// Clean flattens cues to a single line of plain text suitable for the
// corpus: music markers and the configured words are removed and
// whitespace runs collapse to single spaces.
func Clean(cues []Cue, opts CleanOptions) string {
	words := opts.RemoveWords
	if words == nil {
		words = DefaultRemoveWords
	}

	var parts []string
	for _, cue := range cues {
		if opts.KeepTimestamps {
			parts = append(parts, FormatTimestamp(cue.Start)+" --> "+FormatTimestamp(cue.End))
		}
		text := musicMarker.ReplaceAllString(strings.Join(cue.Lines, " "), " ")
		for _, w := range words {
			if w != "" {
				text = strings.ReplaceAll(text, w, "")
			}
		}
		if text = strings.Join(strings.Fields(text), " "); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
