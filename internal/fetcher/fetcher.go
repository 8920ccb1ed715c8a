// Package fetcher reads import files from local paths, HTTP(S) URLs and FTP
// URLs.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/config"
	"github.com/sells-group/donor-import/internal/spreadsheet"
)

// Fetcher downloads one remote location.
type Fetcher interface {
	// Download fetches the location and returns its body.
	Download(ctx context.Context, location string) (io.ReadCloser, error)
}

// File is a fetched import file.
type File struct {
	Name string
	Data []byte
}

// Opener dispatches sources to the fetcher for their scheme.
type Opener struct {
	http Fetcher
	ftp  Fetcher
}

// NewOpener creates an Opener with the given fetchers.
func NewOpener(httpF, ftpF Fetcher) *Opener {
	return &Opener{http: httpF, ftp: ftpF}
}

// FromConfig creates an Opener with HTTP and FTP fetchers configured from cfg.
func FromConfig(cfg config.FetchConfig) *Opener {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	return NewOpener(
		NewHTTPFetcher(HTTPOptions{Timeout: timeout, MaxRetries: cfg.MaxRetries}),
		NewFTPFetcher(FTPOptions{Timeout: timeout}),
	)
}

// Open reads source fully. Bodies larger than maxBytes fail with
// *spreadsheet.SizeLimitError; maxBytes <= 0 uses spreadsheet.DefaultMaxBytes.
func (o *Opener) Open(ctx context.Context, source string, maxBytes int64) (*File, error) {
	if maxBytes <= 0 {
		maxBytes = spreadsheet.DefaultMaxBytes
	}

	u, err := url.Parse(source)
	scheme := ""
	if err == nil {
		scheme = strings.ToLower(u.Scheme)
	}

	var f Fetcher
	switch scheme {
	case "http", "https":
		f = o.http
	case "ftp":
		f = o.ftp
	case "", "file":
		return openLocal(source, maxBytes)
	default:
		// Windows drive letters parse as a one-letter scheme.
		if len(scheme) == 1 {
			return openLocal(source, maxBytes)
		}
		return nil, eris.Errorf("fetcher: unsupported source scheme %q", scheme)
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: no fetcher configured for %s", scheme)
	}

	zap.L().Info("fetcher: downloading import file", zap.String("source", source))
	rc, err := f.Download(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := readLimited(rc, maxBytes)
	if err != nil {
		return nil, err
	}
	return &File{Name: remoteName(u), Data: data}, nil
}

func openLocal(source string, maxBytes int64) (*File, error) {
	p := strings.TrimPrefix(source, "file://")
	fh, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", p)
	}
	defer fh.Close() //nolint:errcheck

	if st, err := fh.Stat(); err == nil && st.Size() > maxBytes {
		return nil, &spreadsheet.SizeLimitError{Size: st.Size(), Limit: maxBytes}
	}
	data, err := readLimited(fh, maxBytes)
	if err != nil {
		return nil, err
	}
	return &File{Name: filepath.Base(p), Data: data}, nil
}

// readLimited reads at most maxBytes, failing when r holds more.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}
	if int64(len(data)) > maxBytes {
		return nil, &spreadsheet.SizeLimitError{Size: int64(len(data)), Limit: maxBytes}
	}
	return data, nil
}

func remoteName(u *url.URL) string {
	if u == nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}
