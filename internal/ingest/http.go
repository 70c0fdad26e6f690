package ingest

import (
	"io"
	"net/http"
	"time"

	"waterops/internal/clock"
)

// HTTPHandler decodes JSON readings and forwards them to the sink.
// Params: sink receives validated readings, max body limits payload size.
// Returns: HTTP handler for the ingest endpoint.
type HTTPHandler struct {
	sink          ReadingSink
	clk           clock.Clock
	skewTolerance time.Duration
	maxBodySize   int64
}

// NewHTTPHandler creates an ingest HTTP handler.
// Params: sink, clk time source, skewTolerance for future timestamps, and body limit.
// Returns: configured handler.
func NewHTTPHandler(sink ReadingSink, clk clock.Clock, skewTolerance time.Duration, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{
		sink:          sink,
		clk:           clk,
		skewTolerance: skewTolerance,
		maxBodySize:   maxBodySize,
	}
}

// ServeHTTP handles one incoming reading request.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/process result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	readings, err := decodePayload(body, h.clk, h.skewTolerance)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if len(readings) == 1 {
		err = h.sink.Process(request.Context(), readings[0])
	} else {
		err = h.sink.ProcessBatch(request.Context(), readings)
	}
	if err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
