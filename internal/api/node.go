package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lightningd-harness/internal/lightningd"
)

// Log tail limits for GET /node/logs/{stream}.
const (
	defaultTailBytes = 64 << 10
	maxTailBytes     = 4 << 20
)

func (s *Server) handleGetNode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Snapshot())
}

// handleNodeLogs returns the last max_bytes (default 64KiB) of a log stream.
func (s *Server) handleNodeLogs(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")

	maxBytes := defaultTailBytes
	if v := r.URL.Query().Get("max_bytes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxTailBytes {
			writeBadRequest(w, r, "max_bytes must be between 1 and "+strconv.Itoa(maxTailBytes))
			return
		}
		maxBytes = n
	}

	text, err := s.node.Tail(stream, maxBytes)
	if err != nil {
		if errors.Is(err, lightningd.ErrUnknownStream) {
			writeNotFound(w, r, "unknown log stream "+strconv.Quote(stream))
			return
		}
		s.logger.Error("reading node log failed", "stream", stream, "error", err)
		writeInternalError(w, r, "failed to read log")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write([]byte(text))
}

// handleStopNode stops the node. Stopping an already stopped node succeeds.
func (s *Server) handleStopNode(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("node stop requested over API", "request_id", requestIDFrom(r.Context()))

	if err := s.node.Stop(); err != nil {
		s.logger.Error("node stop failed", "error", err)
		writeInternalError(w, r, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.node.Snapshot())
}
