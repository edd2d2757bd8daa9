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

package srt

import (
	"strings"
	"testing"
	"time"
)

const sample = "1\n00:00:01,000 --> 00:00:03,500\nبسم الله الرحمن الرحیم\n\n" +
	"2\n00:00:04,000 --> 00:00:07,250\nدرس اول\nآموزش عقاید\n"

func TestParse(t *testing.T) {
	cues, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("got %d cues, want 2", len(cues))
	}
	if cues[0].Start != time.Second || cues[0].End != 3500*time.Millisecond {
		t.Errorf("cue 1 range = %v..%v", cues[0].Start, cues[0].End)
	}
	if len(cues[1].Lines) != 2 || cues[1].Lines[1] != "آموزش عقاید" {
		t.Errorf("cue 2 lines = %v", cues[1].Lines)
	}
}

func TestParseTolerance(t *testing.T) {
	// BOM, CRLF endings, dot millisecond separator.
	in := "\ufeff1\r\n00:00:01.000 --> 00:00:02.000\r\nمتن\r\n"
	cues, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 1 || cues[0].Lines[0] != "متن" {
		t.Fatalf("cues = %+v", cues)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"x\n00:00:01,000 --> 00:00:02,000\nt\n",
		"1\n00:00:01,000 00:00:02,000\nt\n",
		"1\n00:00:61,000 --> 00:00:02,000\nt\n",
	}
	for _, in := range cases {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cues, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var out strings.Builder
	if err := Write(&out, cues); err != nil {
		t.Fatalf("Write: %v", err)
	}
	again, err := Parse(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again) != len(cues) {
		t.Fatalf("round trip lost cues: %d != %d", len(again), len(cues))
	}
	for i := range cues {
		if again[i].Start != cues[i].Start || again[i].End != cues[i].End {
			t.Errorf("cue %d range changed", i)
		}
	}
}

func TestTimestampFormat(t *testing.T) {
	d := time.Hour + 2*time.Minute + 3*time.Second + 45*time.Millisecond
	if got := FormatTimestamp(d); got != "01:02:03,045" {
		t.Errorf("FormatTimestamp = %q", got)
	}
	back, err := ParseTimestamp("01:02:03,045")
	if err != nil || back != d {
		t.Errorf("ParseTimestamp = %v, %v", back, err)
	}
}

func TestText(t *testing.T) {
	cues, _ := Parse(strings.NewReader(sample))
	got := Text(cues)
	want := "بسم الله الرحمن الرحیم درس اول آموزش عقاید"
	if got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}

func TestClean(t *testing.T) {
	in := "1\n00:00:01,000 --> 00:00:02,000\nموسيقى, موسيقى موسيقى\n\n" +
		"2\n00:00:03,000 --> 00:00:04,000\nنعم نعم بسم الله\n\n" +
		"3\n00:00:05,000 --> 00:00:06,000\nدرس   اول\n"
	cues, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got := Clean(cues, CleanOptions{})
	want := "بسم الله درس اول"
	if got != want {
		t.Errorf("Clean = %q, want %q", got, want)
	}
}

func TestCleanCustomWords(t *testing.T) {
	cues, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got := Clean(cues, CleanOptions{RemoveWords: []string{"درس"}})
	want := "بسم الله الرحمن الرحیم اول آموزش عقاید"
	if got != want {
		t.Errorf("Clean = %q, want %q", got, want)
	}

	// An explicit empty list disables removal entirely.
	if got := Clean(cues, CleanOptions{RemoveWords: []string{}}); got != Text(cues) {
		t.Errorf("Clean with empty word list = %q, want %q", got, Text(cues))
	}
}

func TestCleanKeepTimestamps(t *testing.T) {
	cues, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got := Clean(cues, CleanOptions{KeepTimestamps: true})
	if !strings.Contains(got, "00:00:01,000 --> 00:00:03,500") {
		t.Errorf("Clean lost the first cue range: %q", got)
	}
	if !strings.Contains(got, "درس اول آموزش عقاید") {
		t.Errorf("Clean lost cue text: %q", got)
	}
}
