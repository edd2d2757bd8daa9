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
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	unicodeEscapeRe = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
	hexEscapeRe     = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)
)

// DecodeSQLString decodes the escape sequences a SQL dump embeds in string
// values while preserving multi-byte text. Persian pages arrive as UTF-8
// mixed with literal \n, \", \uXXXX and \xXX sequences; the dump sometimes
// also carries double-encoded UTF-8, which gets one mojibake-reversal pass.
func DecodeSQLString(value string) string {
	if value == "" || value == "NULL" {
		return ""
	}

	if !hasEscapeSequences(value) {
		if utf8.ValidString(value) {
			return value
		}
		return reverseMojibake(value)
	}

	// A NUL marker keeps doubled backslashes from being re-interpreted by
	// the later passes. The dump never contains NUL bytes.
	const marker = "\x00BACKSLASH\x00"
	decoded := value
	decoded = strings.ReplaceAll(decoded, `\\`, marker)
	decoded = strings.ReplaceAll(decoded, `\n`, "\n")
	decoded = strings.ReplaceAll(decoded, `\r`, "\r")
	decoded = strings.ReplaceAll(decoded, `\t`, "\t")
	decoded = strings.ReplaceAll(decoded, `\"`, `"`)
	decoded = strings.ReplaceAll(decoded, `\'`, `'`)
	decoded = strings.ReplaceAll(decoded, marker, `\`)

	decoded = unicodeEscapeRe.ReplaceAllStringFunc(decoded, func(m string) string {
		code, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	decoded = hexEscapeRe.ReplaceAllStringFunc(decoded, func(m string) string {
		code, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})

	if utf8.ValidString(decoded) {
		return decoded
	}
	return reverseMojibake(decoded)
}

func hasEscapeSequences(value string) bool {
	for _, seq := range []string{`\n`, `\r`, `\t`, `\"`, `\\`, `\u`, `\x`, `\'`} {
		if strings.Contains(value, seq) {
			return true
		}
	}
	return false
}

// reverseMojibake undoes one round of latin-1-as-utf-8 double encoding:
// each byte is treated as a latin-1 codepoint and the result re-read as
// UTF-8. Bytes that still do not form valid UTF-8 become U+FFFD.
func reverseMojibake(value string) string {
	raw := make([]byte, 0, len(value))
	for i := 0; i < len(value); {
		r, size := utf8.DecodeRuneInString(value[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			// Invalid byte; keep it raw so a UTF-8 sequence split across
			// codepoints can reassemble.
			raw = append(raw, value[i])
		case r <= 0xFF:
			raw = append(raw, byte(r))
		default:
			// Not latin-1 representable; reversal cannot apply.
			return strings.ToValidUTF8(value, "�")
		}
		i += size
	}
	return strings.ToValidUTF8(string(raw), "�")
}
