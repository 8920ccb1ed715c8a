// Package spreadsheet reads uploaded donor files (CSV and XLSX) into headers
// and lazily produced row records.
package spreadsheet

import (
	"bytes"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Format identifies the encoding of an uploaded file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const (
	// DefaultMaxBytes is the upload size limit used when none is configured.
	DefaultMaxBytes int64 = 50 * 1024 * 1024

	minSample     = 3
	maxSample     = 5
	sniffWindow   = 8 * 1024
	defaultSample = maxSample
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// Options configures Read.
type Options struct {
	MaxBytes   int64
	SampleSize int
}

// Row is one data row keyed by header. Index is 1-based and counts only
// non-blank rows.
type Row struct {
	Index  int               `json:"rowIndex"`
	Values map[string]string `json:"values"`
}

// Sheet is a parsed upload. Rows are not retained; each call to Rows opens a
// new single-pass iterator over the file.
type Sheet struct {
	FileName  string
	Size      int64
	Format    Format
	Headers   []string
	Sample    []Row
	TotalRows int

	data []byte
}

// source yields raw records until io.EOF.
type source interface {
	next() ([]string, error)
	close() error
}

// Read parses data as a CSV or XLSX file. It fails with *SizeLimitError,
// *FormatError or *EmptyFileError.
func Read(data []byte, fileName string, opts Options) (*Sheet, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSample
	}
	opts.SampleSize = max(minSample, min(maxSample, opts.SampleSize))

	if int64(len(data)) > opts.MaxBytes {
		return nil, &SizeLimitError{Size: int64(len(data)), Limit: opts.MaxBytes}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &EmptyFileError{FileName: fileName}
	}

	format, err := detectFormat(fileName, data)
	if err != nil {
		return nil, err
	}

	s := &Sheet{
		FileName: fileName,
		Size:     int64(len(data)),
		Format:   format,
		data:     data,
	}

	// Counting pass: headers, sample and total without retaining rows.
	it, err := s.Rows()
	if err != nil {
		return nil, err
	}
	defer it.Close() //nolint:errcheck

	s.Headers = it.headers
	for it.Next() {
		if len(s.Sample) < opts.SampleSize {
			s.Sample = append(s.Sample, it.Row())
		}
		s.TotalRows++
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if s.TotalRows == 0 {
		return nil, &EmptyFileError{FileName: fileName}
	}
	return s, nil
}

// Rows opens a new iterator positioned at the first data row.
func (s *Sheet) Rows() (*RowIterator, error) {
	src, err := s.open()
	if err != nil {
		return nil, err
	}

	var header []string
	for {
		rec, err := src.next()
		if err == io.EOF {
			_ = src.close()
			return nil, &EmptyFileError{FileName: s.FileName}
		}
		if err != nil {
			_ = src.close()
			return nil, s.formatErr("read header", err)
		}
		if !blank(rec) {
			header = rec
			break
		}
	}

	return &RowIterator{
		src:     src,
		headers: sanitizeHeaders(header),
		sheet:   s,
	}, nil
}

// Preview returns up to n raw rows from the start of the file.
func (s *Sheet) Preview(n int) ([]Row, error) {
	it, err := s.Rows()
	if err != nil {
		return nil, err
	}
	defer it.Close() //nolint:errcheck

	var rows []Row
	for len(rows) < n && it.Next() {
		rows = append(rows, it.Row())
	}
	return rows, it.Err()
}

func (s *Sheet) open() (source, error) {
	switch s.Format {
	case FormatXLSX:
		src, err := openXLSX(s.data)
		if err != nil {
			return nil, s.formatErr("open workbook", err)
		}
		return src, nil
	default:
		return openCSV(s.data), nil
	}
}

func (s *Sheet) formatErr(reason string, err error) error {
	return &FormatError{FileName: s.FileName, Reason: reason, Err: err}
}

// RowIterator is a lazy, single-pass sequence of rows. It is not safe for
// concurrent use.
type RowIterator struct {
	src     source
	headers []string
	sheet   *Sheet
	cur     Row
	index   int
	err     error
	done    bool
}

// Headers returns the sanitized header row.
func (it *RowIterator) Headers() []string { return it.headers }

// Next advances to the next non-blank row.
func (it *RowIterator) Next() bool {
	if it.done {
		return false
	}
	for {
		rec, err := it.src.next()
		if err == io.EOF {
			it.done = true
			return false
		}
		if err != nil {
			it.err = it.sheet.formatErr("read row", err)
			it.done = true
			return false
		}
		if blank(rec) {
			continue
		}
		it.index++
		it.cur = Row{Index: it.index, Values: normalizeRow(it.headers, rec)}
		return true
	}
}

// Row returns the current row.
func (it *RowIterator) Row() Row { return it.cur }

// Err returns the first read error, if any.
func (it *RowIterator) Err() error { return it.err }

// Close releases the underlying reader.
func (it *RowIterator) Close() error {
	it.done = true
	return eris.Wrap(it.src.close(), "spreadsheet: close")
}

func detectFormat(fileName string, data []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX, nil
	case bytes.HasPrefix(data, oleMagic) || ext == ".xls":
		return "", &FormatError{FileName: fileName, Reason: "legacy .xls workbooks are not supported, save as .xlsx or .csv"}
	case ext == ".xlsx":
		return "", &FormatError{FileName: fileName, Reason: "not a valid xlsx workbook"}
	}

	window := data
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	if bytes.IndexByte(window, 0) >= 0 {
		return "", &FormatError{FileName: fileName, Reason: "binary content is not delimited text"}
	}
	return FormatCSV, nil
}

// sanitizeHeaders trims names, fills blanks and disambiguates duplicates
// with an index suffix.
func sanitizeHeaders(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		key := strings.ToLower(name)
		if n, ok := seen[key]; ok {
			var candidate string
			for {
				n++
				candidate = name + "_" + strconv.Itoa(n)
				if _, taken := seen[strings.ToLower(candidate)]; !taken {
					break
				}
			}
			seen[key] = n
			name = candidate
			key = strings.ToLower(candidate)
		}
		seen[key] = max(seen[key], 1)
		out[i] = name
	}
	return out
}

func normalizeRow(headers, rec []string) map[string]string {
	values := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(rec) {
			values[h] = rec[i]
		} else {
			values[h] = ""
		}
	}
	return values
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
