//go:build gofuzz

package ogórek

import (
	"bytes"
)

// Fuzz decodes data and checks that whatever was decoded can be pickled
// back and decoded again.
func Fuzz(data []byte) int {
	obj, err := NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return 0
	}

	for proto := 0; proto <= HighestProtocol; proto++ {
		out, err := Dumps(obj, &EncoderConfig{Protocol: proto})
		if err != nil {
			// e.g. non-ASCII persistent id at protocol 0
			continue
		}
		if _, err := Loads(out, nil); err != nil {
			panic(err)
		}
	}
	return 1
}
