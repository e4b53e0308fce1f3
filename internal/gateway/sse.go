package gateway

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"workboard/api/internal/live"
)

// watchEvents opens a Server-Sent Events stream and decodes every event's
// data into T. The first event is the current state. The returned channel
// closes when ctx is cancelled or the stream ends.
func watchEvents[T any](ctx context.Context, h *HTTP, target string, decode func([]byte) (T, error)) (<-chan T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readStatusError(resp)
	}

	out := make(chan T, 1)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		err := readEvents(resp.Body, func(data []byte) {
			value, err := decode(data)
			if err != nil {
				h.log.Warnw("drop undecodable event", "path", req.URL.Path, "error", err)
				return
			}
			live.OfferLatest(out, value)
		})
		if err != nil && ctx.Err() == nil {
			h.log.Warnw("event stream ended", "path", req.URL.Path, "error", err)
		}
	}()
	return out, nil
}

// readEvents calls emit with the data of each event in r. Comment lines and
// fields other than data are ignored.
func readEvents(r io.Reader, emit func(data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if data.Len() > 0 {
				emit(bytes.Clone(data.Bytes()))
				data.Reset()
			}
		case line[0] == ':':
		default:
			field, value, _ := bytes.Cut(line, []byte(":"))
			if string(field) != "data" {
				continue
			}
			value = bytes.TrimPrefix(value, []byte(" "))
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(value)
		}
	}
	return scanner.Err()
}
