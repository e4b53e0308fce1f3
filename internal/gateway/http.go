package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"workboard/api/internal/board"
	"workboard/api/internal/logging"
)

const maxErrorBody = 64 << 10

// HTTP talks to a remote board API.
type HTTP struct {
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client. Watches hold a request open, so
// the client must not carry an overall timeout.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		if client != nil {
			h.client = client
		}
	}
}

func WithLogger(logger *logging.Logger) HTTPOption {
	return func(h *HTTP) {
		if logger != nil {
			h.log = logger
		}
	}
}

func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithComponent("gateway")
	return h
}

func (h *HTTP) EnsureWorkspace(ctx context.Context, workspaceID string) error {
	return h.do(ctx, http.MethodPut, h.path(workspaceID), nil, nil)
}

func (h *HTTP) FetchBoard(ctx context.Context, workspaceID, periodID string) (board.Board, error) {
	var snapshot board.Board
	if err := h.do(ctx, http.MethodGet, h.path(workspaceID, periodID), nil, &snapshot); err != nil {
		return board.Board{}, err
	}
	return snapshot, nil
}

func (h *HTTP) EnsurePeriod(ctx context.Context, workspaceID, periodID string, meta board.PeriodMeta) error {
	_, err := h.Apply(ctx, workspaceID, periodID, board.EnsurePeriod{PeriodMeta: meta})
	return err
}

func (h *HTTP) Apply(ctx context.Context, workspaceID, periodID string, cmd board.Command) (Result, error) {
	body, err := board.EncodeCommand(cmd)
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := h.do(ctx, http.MethodPost, h.path(workspaceID, periodID), body, &result); err != nil {
		return Result{}, fmt.Errorf("%s: %w", cmd.Action(), err)
	}
	return result, nil
}

func (h *HTTP) WatchPeriods(ctx context.Context, workspaceID string) (<-chan []board.Period, error) {
	return watchEvents(ctx, h, h.path(workspaceID, "periods", "events"), func(data []byte) ([]board.Period, error) {
		var payload []board.Period
		err := json.Unmarshal(data, &payload)
		return payload, err
	})
}

func (h *HTTP) WatchBoard(ctx context.Context, workspaceID, periodID string) (<-chan board.Board, error) {
	return watchEvents(ctx, h, h.path(workspaceID, periodID, "events"), func(data []byte) (board.Board, error) {
		var payload board.Board
		err := json.Unmarshal(data, &payload)
		return payload, err
	})
}

func (h *HTTP) path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = url.PathEscape(segment)
	}
	return h.baseURL + "/board/" + strings.Join(escaped, "/")
}

func (h *HTTP) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{Status: resp.StatusCode, Body: body}
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		statusErr.Code = payload.Code
		statusErr.Message = payload.Error
	}
	return statusErr
}
