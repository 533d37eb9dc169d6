package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

var ErrStreamConsumed = errors.New("stream body already consumed")

// Body is either BufferedBody or *StreamBody.
type Body interface {
	isBody()
}

// BufferedBody holds a backend body read to completion.
type BufferedBody []byte

func (BufferedBody) isBody() {}

// StreamBody is a live backend body. It can be relayed exactly once.
type StreamBody struct {
	rc       io.ReadCloser
	consumed atomic.Bool
}

func (*StreamBody) isBody() {}

func NewStreamBody(rc io.ReadCloser) *StreamBody {
	return &StreamBody{rc: rc}
}

func (s *StreamBody) take() (io.ReadCloser, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return nil, ErrStreamConsumed
	}
	return s.rc, nil
}

func (s *StreamBody) Close() error {
	return s.rc.Close()
}

type BackendResponse struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       Body
}

// isStreamingContentType matches text/event-stream, application/octet-stream
// and anything else that names itself a stream.
func isStreamingContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "stream")
}

// newBackendResponse takes ownership of resp.Body. Streamed bodies stay open
// for the relay; everything else is read and closed here.
func newBackendResponse(resp *http.Response) (*BackendResponse, error) {
	out := &BackendResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header.Clone(),
	}
	if isStreamingContentType(resp.Header.Get("Content-Type")) {
		out.Body = NewStreamBody(resp.Body)
		return out, nil
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend body: %w", err)
	}
	out.Body = BufferedBody(b)
	return out, nil
}

func (r *BackendResponse) Streaming() bool {
	_, ok := r.Body.(*StreamBody)
	return ok
}

// Close releases a stream that was never relayed.
func (r *BackendResponse) Close() error {
	if s, ok := r.Body.(*StreamBody); ok {
		return s.Close()
	}
	return nil
}

// copyResponseHeaders writes backend headers onto dst, replacing any value
// dst already holds for the same name.
func copyResponseHeaders(dst, src http.Header) {
	for k, vals := range src {
		dst[k] = append([]string(nil), vals...)
	}
}

// writeTo relays the response. It returns the number of body bytes written.
func (r *BackendResponse) writeTo(w http.ResponseWriter) (int64, error) {
	w.WriteHeader(r.Status)
	switch body := r.Body.(type) {
	case BufferedBody:
		n, err := w.Write(body)
		return int64(n), err
	case *StreamBody:
		return relayStream(w, body)
	default:
		return 0, fmt.Errorf("unknown body type %T", r.Body)
	}
}

// relayStream copies chunk by chunk, flushing after every write so each
// backend event reaches the client as soon as it arrives. Reads happen only
// after the previous write returned, which keeps backpressure intact.
func relayStream(w http.ResponseWriter, body *StreamBody) (int64, error) {
	rc, err := body.take()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, fmt.Errorf("write to client: %w", writeErr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read backend stream: %w", readErr)
		}
	}
}
