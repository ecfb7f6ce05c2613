// Package size implements a flag.Value for byte sizes such as "16mb".
package size

import (
	"fmt"
	"regexp"
	"strconv"
)

// Size represents size that implements flag.Var
type Size int64

const (
	_ = 1 << (iota * 10)
	KB
	MB
	GB
	TB
)

// the following regexes follow Go semantics https://golang.org/ref/spec#Letters_and_digits
var (
	rB  = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+$`)
	rKB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+kb$`)
	rMB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+mb$`)
	rGB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+gb$`)
	rTB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+tb$`)
)

// Set parses size to integer from different bases and data units
func (siz *Size) Set(value string) error {
	if value == "" {
		return nil
	}

	var (
		unit   int64 = 1
		digits       = value
	)
	switch {
	case rB.MatchString(value):
	case rKB.MatchString(value):
		unit, digits = KB, value[:len(value)-2]
	case rMB.MatchString(value):
		unit, digits = MB, value[:len(value)-2]
	case rGB.MatchString(value):
		unit, digits = GB, value[:len(value)-2]
	case rTB.MatchString(value):
		unit, digits = TB, value[:len(value)-2]
	default:
		return fmt.Errorf("invalid size %q", value)
	}

	n, err := strconv.ParseInt(digits, 0, 64)
	if err != nil {
		return err
	}
	*siz = Size(n * unit)
	return nil
}

func (siz *Size) String() string {
	return fmt.Sprintf("%d", *siz)
}
