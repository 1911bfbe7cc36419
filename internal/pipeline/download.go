package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dgallion1/refgest/internal/parser"
)

// ErrTooLarge is returned when a download exceeds the configured limit.
var ErrTooLarge = errors.New("document exceeds download size limit")

// contentTypeExt maps response media types to parser extensions for URLs
// whose path carries no usable extension.
var contentTypeExt = map[string]string{
	"application/pdf":       ".pdf",
	"application/xhtml+xml": ".html",
	"text/html":             ".html",
	"text/markdown":         ".md",
	"text/x-markdown":       ".md",
	"text/plain":            ".txt",
	"text/csv":              ".csv",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// download fetches rawURL, retrying transient failures, and returns the
// body with a filename whose extension selects the parser.
func download(ctx context.Context, client *http.Client, rawURL, filename string, maxBytes int64, log *slog.Logger) ([]byte, string, error) {
	var (
		data     []byte
		resolved string
	)
	err := retry.Do(
		func() error {
			var err error
			data, resolved, err = fetch(ctx, client, rawURL, filename, maxBytes)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(MaxDownloadAttempts),
		retry.Delay(downloadRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retryable download error", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", err
	}
	return data, resolved, nil
}

func fetch(ctx context.Context, client *http.Client, rawURL, filename string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &HTTPStatusError{URL: rawURL, Status: resp.StatusCode}
	}
	if resp.ContentLength > maxBytes {
		return nil, "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, resp.ContentLength, maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, resolveFilename(rawURL, filename, resp.Header.Get("Content-Type")), nil
}

// resolveFilename prefers an explicit filename, then the URL path, then a
// name derived from the response content type.
func resolveFilename(rawURL, filename, contentType string) string {
	if filename != "" && parser.IsSupportedExtension(filename) {
		return filename
	}
	base := "document"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "." && b != "/" && b != "" {
			if parser.IsSupportedExtension(b) {
				return b
			}
			base = strings.TrimSuffix(b, path.Ext(b))
		}
	}
	if filename != "" {
		base = strings.TrimSuffix(filename, path.Ext(filename))
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := contentTypeExt[mt]; ok {
			return base + ext
		}
	}
	return base
}

// validatePDF rejects payloads that are not readable PDFs or have no pages.
func validatePDF(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	if pages == 0 {
		return 0, errors.New("invalid pdf: no pages")
	}
	return pages, nil
}
