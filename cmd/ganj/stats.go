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

package main

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/kadirpekel/ganj/pkg/ingest"
)

// StatsCmd reports paragraph statistics for a SQL dump without touching
// any store. Useful for tuning chunking parameters before an export.
type StatsCmd struct {
	SQLPath           string `arg:"" type:"path" help:"Path to the SQL dump."`
	MinParagraphLines int    `name:"min-paragraph-lines" default:"0" help:"Merge shorter paragraphs before counting."`
}

func (c *StatsCmd) Run(cli *CLI) error {
	titles := ingest.DefaultTitleHeuristic()

	var (
		records    int64
		paragraphs int64
		titleCount int64
		totalRunes int64
		books      = map[int64]struct{}{}
		lineDist   = map[int]int64{}
	)

	err := ingest.ReadPages(c.SQLPath, func(page *ingest.BookPage) error {
		records++
		books[page.BookID] = struct{}{}

		text := ingest.HTMLToText(page.PageTextHTML)
		paras := ingest.SplitParagraphs(text, titles)
		if c.MinParagraphLines > 0 {
			paras = ingest.MergeShortParagraphs(paras, c.MinParagraphLines)
		}
		for _, p := range paras {
			paragraphs++
			totalRunes += int64(utf8.RuneCountInString(p.Text))
			lineDist[p.LineCount]++
			if p.IsTitle {
				titleCount++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Records:    %d\n", records)
	fmt.Printf("Books:      %d\n", len(books))
	fmt.Printf("Paragraphs: %d\n", paragraphs)
	fmt.Printf("Titles:     %d\n", titleCount)
	if paragraphs > 0 {
		fmt.Printf("Average paragraph length: %.1f characters\n", float64(totalRunes)/float64(paragraphs))
	}

	lines := make([]int, 0, len(lineDist))
	for n := range lineDist {
		lines = append(lines, n)
	}
	sort.Ints(lines)
	fmt.Println("Line count distribution:")
	for _, n := range lines {
		fmt.Printf("  %3d lines: %d\n", n, lineDist[n])
	}
	return nil
}
