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
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/ganj/pkg/srt"
)

// SrtCmd strips a SubRip subtitle file down to plain text so lecture
// transcripts can be folded into the corpus.
type SrtCmd struct {
	Input          string   `arg:"" type:"path" help:"Path to the input SRT file."`
	Output         string   `short:"o" type:"path" help:"Output path (default: input with a .txt extension)."`
	Words          []string `short:"w" help:"Words to remove from the text (default: نعم)."`
	KeepTimestamps bool     `name:"keep-timestamps" help:"Keep cue timestamps in the output."`
}

func (c *SrtCmd) Run(cli *CLI) error {
	f, err := os.Open(c.Input)
	if err != nil {
		return err
	}
	defer f.Close()

	cues, err := srt.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.Input, err)
	}

	words := srt.DefaultRemoveWords
	if len(c.Words) > 0 {
		words = c.Words
	}
	text := srt.Clean(cues, srt.CleanOptions{
		RemoveWords:    words,
		KeepTimestamps: c.KeepTimestamps,
	})

	output := c.Output
	if output == "" {
		output = strings.TrimSuffix(c.Input, filepath.Ext(c.Input)) + ".txt"
	}
	if err := os.WriteFile(output, []byte(text+"\n"), 0o644); err != nil {
		return err
	}

	fmt.Printf("Cleaned %d cues into %s\n", len(cues), output)
	return nil
}
