package trace

import (
	"bytes"
	"strings"
)

const marker = "%!"

var markerBytes = []byte(marker)

// wellFormed reports whether format can be rendered against nargs arguments
// without fmt inventing MISSING or EXTRA markers. Formats that use explicit
// argument indexes are accepted as-is.
func wellFormed(format string, nargs int) bool {
	count, indexed, ok := countVerbs(format)
	if !ok {
		return false
	}
	return indexed || count == nargs
}

// countVerbs counts the arguments format consumes, including '*' widths and
// precisions. ok is false for a dangling '%' or a verb fmt does not know.
func countVerbs(format string) (count int, indexed, ok bool) {
	end := len(format)
	for i := 0; i < end; i++ {
		if format[i] != '%' {
			continue
		}
		i++
		for i < end && isFlag(format[i]) {
			i++
		}
		if i < end && format[i] == '[' {
			return 0, true, true
		}
		// width
		if i < end && format[i] == '*' {
			count++
			i++
		} else {
			for i < end && isDigit(format[i]) {
				i++
			}
		}
		// precision
		if i < end && format[i] == '.' {
			i++
			if i < end && format[i] == '*' {
				count++
				i++
			} else {
				for i < end && isDigit(format[i]) {
					i++
				}
			}
		}
		if i < end && format[i] == '[' {
			return 0, true, true
		}
		if i >= end {
			return 0, false, false
		}
		if format[i] == '%' {
			continue
		}
		if !isVerb(format[i]) {
			return 0, false, false
		}
		count++
	}
	return count, false, true
}

// isVerb reports whether c is a verb Fprintf understands. %w is only
// meaningful to Errorf.
func isVerb(c byte) bool {
	switch c {
	case 'v', 'T', 't', 'b', 'c', 'd', 'o', 'O', 'q', 'x', 'X', 'U',
		'e', 'E', 'f', 'F', 'g', 'G', 's', 'p':
		return true
	}
	return false
}

// suppliedMarkers counts the "%!" sequences the caller wrote on purpose:
// escaped percents in format followed by '!', and those inside string and
// byte slice arguments. Any other "%!" in the output is a fmt error marker.
func suppliedMarkers(format string, args []any) int {
	n := strings.Count(format, "%%!")
	for _, a := range args {
		switch v := a.(type) {
		case string:
			n += strings.Count(v, marker)
		case []byte:
			n += bytes.Count(v, markerBytes)
		}
	}
	return n
}

func isFlag(c byte) bool {
	switch c {
	case '+', '-', '#', ' ', '0':
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
