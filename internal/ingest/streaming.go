package ingest

// streaming.go wraps object streams before they reach the CSV reader.
//
// Files exported from spreadsheet tools commonly start with a UTF-8 BOM and
// occasionally carry bytes that are not valid UTF-8. Both are fixed on the
// fly by a golang.org/x/text transform so memory stays O(buffer size):
//
//   - a leading BOM is stripped (otherwise it would become part of the
//     first header name)
//   - invalid UTF-8 sequences are replaced with U+FFFD
//
// A counting reader sits underneath so bytes consumed from the store can be
// reported when an object finishes.

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// countingReader tracks bytes read from the wrapped reader.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// sanitize returns r with BOM stripping and UTF-8 repair applied, and the
// counter observing the raw bytes.
func sanitize(r io.Reader) (io.Reader, *countingReader) {
	counter := &countingReader{r: r}
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return transform.NewReader(counter, decoder), counter
}
