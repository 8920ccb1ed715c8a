package spreadsheet

import (
	"bytes"
	"io"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// xlsxSource streams rows from the first worksheet without loading the whole
// sheet into memory.
type xlsxSource struct {
	f    *excelize.File
	rows *excelize.Rows
}

func openXLSX(data []byte) (*xlsxSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, eris.New("xlsx: workbook has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "xlsx: open sheet %q", sheets[0])
	}
	return &xlsxSource{f: f, rows: rows}, nil
}

func (x *xlsxSource) next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, eris.Wrap(err, "xlsx: read row")
		}
		return nil, io.EOF
	}
	cols, err := x.rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: read columns")
	}
	return cols, nil
}

func (x *xlsxSource) close() error {
	rowsErr := x.rows.Close()
	if err := x.f.Close(); err != nil {
		return eris.Wrap(err, "xlsx: close workbook")
	}
	return eris.Wrap(rowsErr, "xlsx: close rows")
}
