package http

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"time"

	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/metrics"
	"audiomon-server/pkg/pipeline"
	"audiomon-server/pkg/store"
)

// FrameProcessor is the slice of the pipeline the ingest endpoint needs.
type FrameProcessor interface {
	Process(frame pipeline.Frame) ([]int16, error)
}

// SegmentFlusher finalizes open capture streams for a call at teardown.
type SegmentFlusher interface {
	FlushCall(callID string)
}

// frameRequest is one PCM frame posted by the upstream pipeline. Samples
// are little-endian signed 16-bit, base64 encoded.
type frameRequest struct {
	CallID      string  `json:"call_id"`
	StationID   string  `json:"station_id"`
	PCMBase64   string  `json:"pcm_base64"`
	TimestampMS int64   `json:"timestamp_ms,omitempty"`
	LatencyMS   float64 `json:"latency_ms,omitempty"`
	DropRatio   float64 `json:"drop_ratio,omitempty"`
	QueueDepth  int     `json:"queue_depth,omitempty"`
	ReturnAudio bool    `json:"return_audio,omitempty"`
}

type callRequest struct {
	CallID string `json:"call_id"`
	SrcExt string `json:"src_extension,omitempty"`
	DstExt string `json:"dst_extension,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// RegisterIngest wires the frame and call lifecycle endpoints. flusher may
// be nil when capture is disabled.
func (s *Server) RegisterIngest(processor FrameProcessor, flusher SegmentFlusher) {
	s.mux.HandleFunc("/frames", func(w http.ResponseWriter, r *http.Request) {
		s.framesHandler(w, r, processor)
	})
	s.mux.HandleFunc("/calls/start", s.callStartHandler)
	s.mux.HandleFunc("/calls/end", func(w http.ResponseWriter, r *http.Request) {
		s.callEndHandler(w, r, flusher)
	})
}

func (s *Server) framesHandler(w http.ResponseWriter, r *http.Request, processor FrameProcessor) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	samples, err := decodePCM(req.PCMBase64)
	if err != nil {
		metrics.RecordFrameRejected("bad_encoding")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	frame := pipeline.Frame{
		CallID:              req.CallID,
		StationID:           req.StationID,
		Samples:             samples,
		ProcessingLatencyMs: req.LatencyMS,
		FrameDropRatio:      req.DropRatio,
		QueueDepth:          req.QueueDepth,
	}
	if req.TimestampMS > 0 {
		frame.Timestamp = time.UnixMilli(req.TimestampMS)
	}

	processed, err := processor.Process(frame)
	if err != nil {
		status := http.StatusBadRequest
		if errors.IsErrorType(err, errors.ErrUnknownStation) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
			"code":  errors.GetErrorCode(err),
		})
		return
	}

	resp := map[string]interface{}{
		"status":  "processed",
		"samples": len(processed),
	}
	if req.ReturnAudio {
		resp["pcm_base64"] = encodePCM(processed)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) callStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	record := store.CallRecord{
		CallID:    req.CallID,
		StartedAt: time.Now(),
		SrcExt:    req.SrcExt,
		DstExt:    req.DstExt,
		Notes:     req.Notes,
	}
	if err := s.auditor.UpsertCall(record); err != nil {
		metrics.RecordStoreFailure("upsert_call")
		s.logger.WithError(err).WithField("call_id", req.CallID).Warn("Failed to persist call start")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "call_id": req.CallID})
}

// callEndHandler tears down per-call state: capture streams are finalized
// and call-scoped knob overrides dropped.
func (s *Server) callEndHandler(w http.ResponseWriter, r *http.Request, flusher SegmentFlusher) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	if flusher != nil {
		flusher.FlushCall(req.CallID)
	}
	s.resolver.ClearCall(req.CallID)

	endedAt := time.Now()
	record := store.CallRecord{
		CallID:    req.CallID,
		StartedAt: endedAt, // merged away by the upsert when the start row exists
		EndedAt:   &endedAt,
	}
	if err := s.auditor.UpsertCall(record); err != nil {
		metrics.RecordStoreFailure("upsert_call")
		s.logger.WithError(err).WithField("call_id", req.CallID).Warn("Failed to persist call end")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended", "call_id": req.CallID})
}

func decodePCM(encoded string) ([]int16, error) {
	if encoded == "" {
		return nil, errors.NewMalformedFrame("pcm_base64 is required")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.NewMalformedFrame("pcm_base64 is not valid base64")
	}
	if len(raw)%2 != 0 {
		return nil, errors.NewMalformedFrame("PCM byte length must be even")
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}

func encodePCM(samples []int16) string {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
