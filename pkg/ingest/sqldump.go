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

// Package ingest turns a book_pages SQL dump into embedded vector-store
// documents: dump parsing, HTML stripping, paragraph extraction, chunking,
// and batched export with job tracking.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const insertPrefix = "INSERT INTO `book_pages` VALUES "

const expectedColumns = 9

// BookPage is one row of the dumped book_pages table.
type BookPage struct {
	RecordID     int64
	BookID       int64
	BookTitle    string
	SectionID    int64
	SectionTitle string
	PageID       int64
	PageTextHTML string
	Link         string
	Error        string
}

// ParseInsertLine parses one INSERT line into a BookPage. Lines without
// the book_pages prefix return (nil, nil).
func ParseInsertLine(line string) (*BookPage, error) {
	if !strings.HasPrefix(line, insertPrefix) {
		return nil, nil
	}

	payload := strings.TrimSpace(line[len(insertPrefix):])
	payload = strings.TrimSuffix(payload, ";")
	if strings.HasPrefix(payload, "(") && strings.HasSuffix(payload, ")") {
		payload = payload[1 : len(payload)-1]
	}

	fields, err := splitSQLValues(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse INSERT line %q: %w", truncateForLog(line), err)
	}
	if len(fields) < expectedColumns {
		return nil, fmt.Errorf("not enough columns (%d < %d) in line %q", len(fields), expectedColumns, truncateForLog(line))
	}
	if len(fields) > expectedColumns {
		slog.Warn("INSERT line has extra columns, truncating",
			"columns", len(fields),
			"expected", expectedColumns)
		fields = fields[:expectedColumns]
	}

	recordID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", fields[0], err)
	}
	bookID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid book id %q: %w", fields[1], err)
	}
	sectionID, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid section id %q: %w", fields[3], err)
	}
	pageID, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid page id %q: %w", fields[5], err)
	}

	return &BookPage{
		RecordID:     recordID,
		BookID:       bookID,
		BookTitle:    strings.TrimSpace(DecodeSQLString(fields[2])),
		SectionID:    sectionID,
		SectionTitle: strings.TrimSpace(DecodeSQLString(fields[4])),
		PageID:       pageID,
		PageTextHTML: DecodeSQLString(fields[6]),
		Link:         strings.TrimSpace(DecodeSQLString(fields[7])),
		Error:        strings.TrimSpace(DecodeSQLString(fields[8])),
	}, nil
}

// splitSQLValues splits a VALUES payload on top-level commas. Values are
// quoted with single quotes and use backslash escaping; escape sequences
// are kept verbatim for DecodeSQLString, except the quotes themselves,
// which only delimit.
func splitSQLValues(payload string) ([]string, error) {
	var fields []string
	var field strings.Builder
	inQuotes := false

	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch {
		case c == '\\' && inQuotes:
			if i+1 >= len(payload) {
				return nil, fmt.Errorf("dangling escape at end of payload")
			}
			field.WriteByte(c)
			field.WriteByte(payload[i+1])
			i++
		case c == '\'':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted value")
	}
	fields = append(fields, field.String())
	return fields, nil
}

// ReadPages streams book pages from a SQL dump, calling fn per record.
// Lines that are not book_pages INSERTs are skipped.
func ReadPages(path string, fn func(*BookPage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open SQL dump: %w", err)
	}
	defer f.Close()

	// Page HTML makes for very long lines; a Scanner's default limit
	// would split them.
	r := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "INSERT INTO") {
				page, perr := ParseInsertLine(trimmed)
				if perr != nil {
					return perr
				}
				if page != nil {
					if ferr := fn(page); ferr != nil {
						return ferr
					}
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read SQL dump: %w", err)
		}
	}
}

// CountRecordsAndBooks makes a counting pass over the dump so progress
// can be reported against known totals.
func CountRecordsAndBooks(path string) (records int64, books int, err error) {
	seen := make(map[int64]struct{})
	err = ReadPages(path, func(p *BookPage) error {
		records++
		seen[p.BookID] = struct{}{}
		return nil
	})
	return records, len(seen), err
}

func truncateForLog(line string) string {
	if len(line) > 120 {
		return line[:120] + "..."
	}
	return line
}
