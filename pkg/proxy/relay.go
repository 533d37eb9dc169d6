package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lkarlslund/msgrelay/pkg/metrics"
)

const (
	msgMissingAPIKey       = "Missing API Key"
	msgNotFound            = "Not Found"
	msgMethodNotAllowed    = "Method Not Allowed"
	msgInternalServerError = "Internal Server Error"
)

// handleMessages runs one request through the relay pipeline. Every exit
// path writes exactly one response.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
	inbound := NewInboundHeaders(r.Header)
	settings := s.settings.Load()

	credential, err := settings.credentials.Resolve(inbound)
	if err != nil {
		s.metrics.RecordRequest(metrics.OutcomeUnauthorized)
		logger.Warn("rejecting request", "err", err)
		writePlain(w, http.StatusUnauthorized, msgMissingAPIKey)
		return
	}

	defer r.Body.Close()
	original, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.RecordRequest(metrics.OutcomeFailed)
		logger.Error("failed to read request body", "err", err)
		writePlain(w, http.StatusInternalServerError, msgInternalServerError)
		return
	}

	view, err := InspectPayload(original)
	if err != nil {
		s.metrics.RecordMalformedBody()
		logger.Warn("forwarding unparsed request body", "err", err, "bytes", len(original))
	}
	body, injected, err := settings.synthesizer.Augment(original, view)
	if err != nil {
		logger.Warn("metadata injection skipped", "err", err)
	}
	if injected {
		s.metrics.RecordMetadataInjected()
	}

	outbound := TransformHeaders(inbound, credential, view.Model, view.HasModel, view.Stream)
	logger.Debug("dispatching",
		"model", view.Model,
		"class", ClassifyModel(view.Model, view.HasModel),
		"stream", view.Stream,
		"metadata_injected", injected,
	)

	start := time.Now()
	resp, err := s.dispatch(r.Context(), outbound, body)
	if err != nil {
		s.metrics.RecordRequest(metrics.OutcomeFailed)
		if isClientGone(err) {
			logger.Info("client went away before the backend answered")
		} else {
			logger.Error("backend request failed", "target", s.targetURL, "err", err)
		}
		writePlain(w, http.StatusInternalServerError, msgInternalServerError)
		return
	}
	defer resp.Close()

	mode := metrics.ModeBuffered
	if resp.Streaming() {
		mode = metrics.ModeStream
	}
	copyResponseHeaders(w.Header(), resp.Header)
	applyCORS(w.Header())
	n, err := resp.writeTo(w)
	s.metrics.RecordUpstream(resp.Status, mode, time.Since(start))
	s.metrics.RecordRequest(metrics.OutcomeRelayed)
	if mode == metrics.ModeStream {
		s.metrics.AddStreamBytes(n)
	}
	if err != nil {
		// Headers are already on the wire; all that is left is to log.
		logger.Warn("relay interrupted", "mode", mode, "bytes", n, "err", err)
		return
	}
	logger.Debug("relayed", "status", resp.Status, "mode", mode, "bytes", n)
}

// dispatch sends the single outbound POST. Only transport failures are
// errors; any backend status is returned as a response.
func (s *Server) dispatch(ctx context.Context, headers OutboundHeaders, body []byte) (*BackendResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	headers.Apply(req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send backend request: %w", err)
	}
	out, err := newBackendResponse(resp)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writePlain(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func isClientGone(err error) bool {
	return errors.Is(err, context.Canceled)
}
