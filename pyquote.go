package ogórek

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// pyquote, similarly to strconv.Quote, quotes s with " but does not use "\u" and "\U" inside.
//
// We need to avoid \u and friends, since for regular strings Python translates
// \u to \\u, not an UTF-8 character.
//
// We must use Python - not Go - quoting, when emitting text strings with
// STRING opcode.
//
// Dumping strings in a way that is possible to copy/paste into Python and use
// pickletools.dis and pickle.loads there to verify a pickle is also handy.
func pyquote(s string) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(s))

	for {
		r, width := utf8.DecodeRuneInString(s)
		if width == 0 {
			break
		}

		emitRaw := false

		switch {
		// invalid & everything else goes in numeric byte escapes
		case r == utf8.RuneError:
			fallthrough
		default:
			emitRaw = true

		case r == '\\' || r == '"':
			out = append(out, '\\', byte(r))

		case strconv.IsPrint(r):
			out = append(out, s[:width]...)

		case r < ' ':
			rq := strconv.QuoteRune(r) // e.g. "'\n'"
			rq = rq[1 : len(rq)-1]     // ->   `\n`
			out = append(out, rq...)
		}

		if emitRaw {
			for i := 0; i < width; i++ {
				out = append(out, '\\', 'x', hexdigits[s[i]>>4], hexdigits[s[i]&0xf])
			}
		}

		s = s[width:]
	}

	return "\"" + string(out) + "\""
}

// pydecodeStringEscape decodes input according to "string-escape" Python codec.
//
// The codec is essentially defined here:
// https://github.com/python/cpython/blob/v2.7.15-198-g69d0bc1430d/Objects/stringobject.c#L600
func pydecodeStringEscape(s string) (string, error) {
	out := make([]byte, 0, len(s))

loop:
	for {
		r, width := utf8.DecodeRuneInString(s)
		if width == 0 {
			break
		}

		// regular UTF-8 character
		if r != '\\' {
			out = append(out, s[:width]...)
			s = s[width:]
			continue
		}

		if len(s) < 2 {
			return "", strconv.ErrSyntax
		}

		switch c := s[1]; c {
		// \ LF -> just skip
		case '\n':
			s = s[2:]
			continue loop

		// \\ -> \
		case '\\':
			out = append(out, '\\')
			s = s[2:]
			continue loop

		// \' \"  (yes, both quotes are allowed to be escaped).
		//
		// also: both quotes are allowed to be _unescaped_ - e.g. Python
		// unpickles "S'hel'lo'\n." as "hel'lo".
		case '\'', '"':
			out = append(out, c)
			s = s[2:]
			continue loop

		// \c (any character without special meaning) -> \ and proceed with C
		default:
			out = append(out, '\\')
			s = s[1:] // not skipping c
			continue loop

		// escapes we handle (NOTE no \u \U for strings)
		case 'b', 'f', 't', 'n', 'r', 'v', 'a': // control characters
		case '0', '1', '2', '3', '4', '5', '6', '7': // octals
		case 'x': // hex
		}

		// s starts with a good/known string escape prefix -> reuse unquoteChar.
		r, _, tail, err := strconv.UnquoteChar(s, 0)
		if err != nil {
			return "", err
		}

		// all above escapes must produce single byte. This way we can
		// append it directly, not play rune -> string UTF-8 encoding
		// games (which break on e.g. "\x80" -> "\u0080" (= "\xc2x80").
		c := byte(r)
		if r != rune(c) {
			panic(fmt.Sprintf("pydecode: string-escape: non-byte escaped rune %q (% x  ; from %q)",
				r, r, s))
		}

		out = append(out, c)
		s = tail
	}

	return string(out), nil
}

// pydecodeRawUnicodeEscape decodes input according to "raw-unicode-escape" Python codec.
//
// Input bytes are latin1 characters. Only \uXXXX and \UXXXXXXXX escapes are
// recognized, and only if the number of backslashes in front of u is odd.
func pydecodeRawUnicodeEscape(s string) (string, error) {
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' {
			out.WriteRune(rune(c))
			i++
			continue
		}

		// run of backslashes
		j := i
		for j < len(s) && s[j] == '\\' {
			j++
		}
		nbs := j - i
		if nbs%2 == 0 || j >= len(s) || (s[j] != 'u' && s[j] != 'U') {
			out.WriteString(s[i:j])
			i = j
			continue
		}
		out.WriteString(s[i : j-1])

		ndigit := 4
		if s[j] == 'U' {
			ndigit = 8
		}
		j++
		if len(s)-j < ndigit {
			return "", fmt.Errorf("raw-unicode-escape: truncated \\%c escape", s[j-1])
		}
		r, err := strconv.ParseUint(s[j:j+ndigit], 16, 32)
		if err != nil || r > utf8.MaxRune {
			return "", fmt.Errorf("raw-unicode-escape: invalid escape %q", s[j-2:j+ndigit])
		}
		out.WriteRune(rune(r))
		i = j + ndigit
	}

	return out.String(), nil
}

// pyencodeRawUnicodeEscape encodes s for UNICODE opcode.
//
// It is "raw-unicode-escape" codec with additional escaping of characters that
// would break the line-oriented UNICODE argument: \, \0, \n, \r and \x1a.
func pyencodeRawUnicodeEscape(s string) []byte {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == '\\' || r == 0 || r == '\n' || r == '\r' || r == 0x1a:
			out = append(out, '\\', 'u', '0', '0', hexdigits[r>>4], hexdigits[r&0xf])
		case r < 0x100:
			out = append(out, byte(r))
		case r < 0x10000:
			out = append(out, '\\', 'u')
			for shift := 12; shift >= 0; shift -= 4 {
				out = append(out, hexdigits[(r>>shift)&0xf])
			}
		default:
			out = append(out, '\\', 'U')
			for shift := 28; shift >= 0; shift -= 4 {
				out = append(out, hexdigits[(r>>shift)&0xf])
			}
		}
	}
	return out
}

// pyfloatRepr formats f the way Python's repr(float) does.
func pyfloatRepr(f float64) string {
	switch {
	case math.IsInf(f, +1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}

	// Python switches to exponent notation when decimal exponent is < -4 or >= 16
	s := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(s[strings.IndexByte(s, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return s
	}

	s = strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
