// Package subsample decodes bounded subtitle text samples. Chinese subtitle
// files in the wild arrive as UTF-8, UTF-16, Big5 or GB18030, frequently
// without matching metadata, so decoding tries a fixed candidate list and
// reports the first clean result.
package subsample

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// MaxSampleBytes caps how much of a subtitle stream is fetched for content
// analysis. The opening minutes of dialogue are plenty to tell the script.
const MaxSampleBytes = 50 * 1024

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts raw subtitle bytes to text, trying UTF-8, UTF-16 with
// byte-order-mark detection, Big5 and GB18030 in that order. Returns
// ok=false when no candidate produces a clean decode; callers treat that
// as "no content signal", never as a fatal error.
func Decode(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	if len(data) > MaxSampleBytes {
		data = data[:MaxSampleBytes]
	}

	// UTF-16 BOMs first: their byte patterns are rarely valid UTF-8 but
	// checking up front keeps the order deterministic.
	if bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil && cleanUTF8(out) {
			return string(out), true
		}
		return "", false
	}

	if text := bytes.TrimPrefix(data, bomUTF8); utf8.Valid(text) {
		return string(text), true
	}

	// Legacy multibyte encodings. Big5 before GB18030: GB18030 assigns a
	// meaning to nearly every byte sequence, so it would swallow Big5 text
	// as mojibake if tried first.
	if out, err := traditionalchinese.Big5.NewDecoder().Bytes(data); err == nil && cleanUTF8(out) {
		return string(out), true
	}
	if out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil && cleanUTF8(out) {
		return string(out), true
	}

	return "", false
}

// cleanUTF8 rejects decoder output containing replacement runes, which the
// x/text decoders substitute for byte sequences the encoding cannot map.
func cleanUTF8(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	return !bytes.ContainsRune(b, utf8.RuneError)
}
