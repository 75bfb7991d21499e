package extract

import (
	"bytes"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// extractPlain reads content as UTF-8 text. A leading byte order mark is dropped and
// invalid sequences become U+FFFD.
func extractPlain(content []byte) (string, error) {
	return strings.ToValidUTF8(string(bytes.TrimPrefix(content, utf8BOM)), "�"), nil
}
