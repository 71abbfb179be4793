package tabular

// encoding.go decodes raw file bytes into a Go string.
//
// Detection order:
//  1. Byte-order mark: UTF-8, UTF-16LE, UTF-16BE
//  2. Valid UTF-8
//  3. Windows-1252, if it maps every byte to a defined character
//  4. ISO-8859-1, which maps every byte and cannot fail
//
// Spreadsheet exports from older Excel versions are usually Windows-1252, so
// it is tried before the lossless-but-ugly ISO-8859-1 fallback.

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts data to a string and reports the detected encoding.
func Decode(data []byte) (string, Encoding, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		body := data[len(bomUTF8):]
		if utf8.Valid(body) {
			return string(body), EncodingUTF8, nil
		}
		// A BOM followed by invalid bytes: fall through to the 8-bit decoders.
		data = body
	case bytes.HasPrefix(data, bomUTF16LE):
		if s, err := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data); err == nil {
			return s, EncodingUTF16LE, nil
		}
	case bytes.HasPrefix(data, bomUTF16BE):
		if s, err := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data); err == nil {
			return s, EncodingUTF16BE, nil
		}
	}

	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}

	if s, err := decodeWith(charmap.Windows1252, data); err == nil && !strings.ContainsRune(s, utf8.RuneError) {
		return s, EncodingWindows1252, nil
	}

	s, err := decodeWith(charmap.ISO8859_1, data)
	if err != nil {
		return "", "", ErrEncodingDetection
	}
	return s, EncodingISO88591, nil
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
