package util

import (
	"os"
	"unicode/utf8"

	"golang.org/x/term"
)

const textSampleSize = 1024

// IsProbablyText reports whether data looks like printable text.
// Only a prefix is sampled; an empty body counts as text.
func IsProbablyText(data []byte) bool {
	if len(data) > textSampleSize {
		data = data[:textSampleSize]
		// do not reject a rune cut in half by the sample boundary
		for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
			if utf8.RuneStart(data[len(data)-i]) {
				if !utf8.FullRune(data[len(data)-i:]) {
					data = data[:len(data)-i]
				}
				break
			}
		}
	}
	if !utf8.Valid(data) {
		return false
	}
	for _, c := range data {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' && c != '\f' && c != '\b' {
			return false
		}
		if c == 0x7f {
			return false
		}
	}
	return true
}

func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
