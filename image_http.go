package partitioninfo

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// httpReaderAt reads an image served over HTTP with Range requests. Each
// read is an independent request, so concurrent reads need no locking.
type httpReaderAt struct {
	client *http.Client
	url    string
}

func openHTTP(ctx context.Context, client *http.Client, url string) (*httpReaderAt, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, 0, ioFailure(err, "build request for %s", url)
	}

	res, err := client.Do(req)
	if err != nil {
		if ctxErr := checkContext(ctx); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, ioFailure(err, "HEAD %s", url)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: HEAD %s: non success status code: %s", ErrIOFailure, url, res.Status)
	}
	if res.ContentLength < 0 {
		return nil, 0, fmt.Errorf("%w: HEAD %s: missing Content-Length", ErrIOFailure, url)
	}

	return &httpReaderAt{client: client, url: url}, res.ContentLength, nil
}

func (h *httpReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return h.ReadAtContext(context.Background(), p, off)
}

func (h *httpReaderAt) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))

	res, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// the server ignored the range, skip to the offset
		if _, err := io.CopyN(io.Discard, res.Body, off); err != nil {
			return 0, err
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	default:
		return 0, fmt.Errorf("GET %s: non success status code: %s", h.url, res.Status)
	}

	return io.ReadFull(res.Body, p)
}
