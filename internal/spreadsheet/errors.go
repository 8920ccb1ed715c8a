package spreadsheet

import "fmt"

// FormatError reports a file that is neither delimited text nor a supported
// spreadsheet binary.
type FormatError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("spreadsheet: cannot parse %q: %s", e.FileName, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// SizeLimitError reports a file larger than the configured maximum.
type SizeLimitError struct {
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("spreadsheet: file is %d bytes, limit is %d", e.Size, e.Limit)
}

// EmptyFileError reports a file without any data rows.
type EmptyFileError struct {
	FileName string
}

func (e *EmptyFileError) Error() string {
	return fmt.Sprintf("spreadsheet: %q has no data rows", e.FileName)
}
