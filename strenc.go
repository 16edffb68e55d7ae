package ogórek

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// Decoding of Python 2 str objects (STRING, BINSTRING and SHORT_BINSTRING)
// according to DecoderConfig.Encoding and DecoderConfig.Errors.

// strCodec decodes legacy str data to text.
type strCodec struct {
	name   string
	enc    encoding.Encoding // nil for ASCII and UTF-8, which are handled natively
	utf8   bool
	errors string
}

// Python codec names that are not IANA names or aliases.
var strCodecAliases = map[string]encoding.Encoding{
	"latin1":  charmap.ISO8859_1,
	"latin-1": charmap.ISO8859_1,
	"l1":      charmap.ISO8859_1,
	"cp1250":  charmap.Windows1250,
	"cp1251":  charmap.Windows1251,
	"cp1252":  charmap.Windows1252,
	"cp437":   charmap.CodePage437,
	"cp866":   charmap.CodePage866,
	"koi8_r":  charmap.KOI8R,
}

func newStrCodec(name, errors string) (*strCodec, error) {
	switch errors {
	case "":
		errors = "strict"
	case "strict", "replace", "ignore":
	default:
		return nil, fmt.Errorf("unknown error handler %q", errors)
	}
	c := &strCodec{name: name, errors: errors}

	norm := strings.ToLower(strings.TrimSpace(name))
	switch strings.NewReplacer("-", "", "_", "").Replace(norm) {
	case "ascii", "usascii", "646":
		return c, nil
	case "utf8", "u8":
		c.utf8 = true
		return c, nil
	}

	if enc, ok := strCodecAliases[norm]; ok {
		c.enc = enc
		return c, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	c.enc = enc
	return c, nil
}

func (c *strCodec) decode(data []byte) (string, error) {
	switch {
	case c.enc != nil:
		s, err := c.enc.NewDecoder().String(string(data))
		if err != nil {
			return "", fmt.Errorf("%s: %w", c.name, err)
		}
		// x/text decoders substitute undecodable bytes with U+FFFD
		if strings.ContainsRune(s, utf8.RuneError) {
			switch c.errors {
			case "strict":
				return "", fmt.Errorf("'%s' codec can't decode %q", c.name, data)
			case "ignore":
				s = strings.ReplaceAll(s, string(utf8.RuneError), "")
			}
		}
		return s, nil

	case c.utf8:
		s := string(data)
		if utf8.ValidString(s) {
			return s, nil
		}
		switch c.errors {
		case "strict":
			return "", fmt.Errorf("'utf-8' codec can't decode %q", data)
		case "ignore":
			return strings.ToValidUTF8(s, ""), nil
		}
		return strings.ToValidUTF8(s, string(utf8.RuneError)), nil
	}

	// ascii
	var b strings.Builder
	b.Grow(len(data))
	for i, ch := range data {
		if ch < 0x80 {
			b.WriteByte(ch)
			continue
		}
		switch c.errors {
		case "strict":
			return "", fmt.Errorf("'ascii' codec can't decode byte 0x%02x in position %d: ordinal not in range(128)", ch, i)
		case "replace":
			b.WriteRune(utf8.RuneError)
		}
	}
	return b.String(), nil
}
