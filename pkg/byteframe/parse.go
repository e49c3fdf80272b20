// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package byteframe

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseError describes hex input that could not be turned into bytes
type ParseError struct {
	Input string
	Token string
	Index int
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid hex input %q: no bytes", e.Input)
	}
	return fmt.Sprintf("invalid hex token %q at position %d", e.Token, e.Index)
}

// ParseHex converts user supplied hex such as "76 16 01 00" or
// "0xAA,0x01,0x55" into bytes. Tokens are separated by whitespace or
// commas and must be one or two hex digits with an optional 0x prefix.
func ParseHex(input string) ([]byte, error) {
	tokens := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(tokens) == 0 {
		return nil, &ParseError{Input: input}
	}

	out := make([]byte, 0, len(tokens))
	for i, tok := range tokens {
		digits := tok
		if len(digits) > 2 && (digits[:2] == "0x" || digits[:2] == "0X") {
			digits = digits[2:]
		}
		if len(digits) == 0 || len(digits) > 2 {
			return nil, &ParseError{Input: input, Token: tok, Index: i}
		}
		v, err := strconv.ParseUint(digits, 16, 8)
		if err != nil {
			return nil, &ParseError{Input: input, Token: tok, Index: i}
		}
		out = append(out, byte(v))
	}
	return out, nil
}
