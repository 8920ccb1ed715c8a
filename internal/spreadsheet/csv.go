package spreadsheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// delimiters are tried in order; ties keep the earlier entry.
var delimiters = []rune{',', ';', '\t', '|'}

type csvSource struct {
	r *csv.Reader
}

// openCSV reads delimited text. A leading BOM is dropped and input that is
// not valid UTF-8 is decoded as Windows-1252, the usual spreadsheet export
// encoding.
func openCSV(data []byte) *csvSource {
	data = bytes.TrimPrefix(data, utf8BOM)

	var r io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		r = transform.NewReader(r, charmap.Windows1252.NewDecoder())
	}

	reader := csv.NewReader(bufio.NewReader(r))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true
	reader.ReuseRecord = false
	return &csvSource{r: reader}
}

func (c *csvSource) next() ([]string, error) {
	return c.r.Read()
}

func (c *csvSource) close() error { return nil }

// sniffDelimiter picks the candidate that occurs most often in the first line
// outside of quotes.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	counts := make(map[rune]int, len(delimiters))
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best := delimiters[0]
	for _, d := range delimiters[1:] {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}
