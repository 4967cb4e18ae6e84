package pipeline

import (
	"sort"
	"sync"

	"audiomon-server/pkg/analysis"
	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/metrics"
)

// Station is one instrumentation point in the pipeline. Its metric lists
// name which catalog entries run at each tap.
type Station struct {
	ID          string
	Group       string
	Direction   string
	Description string
	PreMetrics  []string
	PostMetrics []string
}

// Registry holds registered stations. Registration validates metric keys
// against the analysis catalog up front so a typo fails at startup, not
// silently per frame.
type Registry struct {
	mu       sync.RWMutex
	stations map[string]Station
}

// NewRegistry creates an empty station registry.
func NewRegistry() *Registry {
	return &Registry{stations: make(map[string]Station)}
}

// Register adds a station after validating every metric key it names.
func (r *Registry) Register(station Station) error {
	if station.ID == "" {
		return errors.NewMissingContext("station_id")
	}
	for _, key := range append(append([]string{}, station.PreMetrics...), station.PostMetrics...) {
		if _, ok := analysis.Lookup(key); !ok {
			return errors.NewUnknownMetric(key).WithField("station_id", station.ID)
		}
	}

	r.mu.Lock()
	r.stations[station.ID] = station
	count := len(r.stations)
	r.mu.Unlock()

	metrics.SetStationsActive(count)
	return nil
}

// Get returns the station with the given ID.
func (r *Registry) Get(id string) (Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stations[id]
	return s, ok
}

// List returns all stations sorted by ID.
func (r *Registry) List() []Station {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Station, 0, len(r.stations))
	for _, s := range r.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered stations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stations)
}

// corePreMetrics measures the raw signal before any knob is applied.
var corePreMetrics = []string{
	"pcm.rms_dbfs",
	"pcm.peak_dbfs",
	"pcm.clipping_ratio",
	"pcm.zero_crossing_rate",
	"pcm.peak_amplitude",
	"pcm.peak_to_peak",
	"pcm.average_absolute",
	"pcm.crest_factor",
	"pcm.silence_detected",
	"pcm.clipped_samples",
	"pcm.consecutive_clipped",
	"pcm.noise_floor",
	"pcm.snr_estimate",
	"pcm.muted_signal",
	"pcm.frozen_signal",
	"stream.sample_rate",
	"stream.bit_depth",
	"stream.channel_count",
}

// corePostMetrics measures the processed signal plus pipeline health.
var corePostMetrics = []string{
	"pcm.rms_dbfs",
	"pcm.peak_dbfs",
	"pcm.clipping_ratio",
	"pcm.zero_crossing_rate",
	"pcm.peak_amplitude",
	"pcm.peak_to_peak",
	"pcm.average_absolute",
	"pcm.crest_factor",
	"pcm.silence_detected",
	"pcm.clipped_samples",
	"pcm.consecutive_clipped",
	"pipe.processing_latency_ms",
	"pipe.frame_drop_ratio",
	"pipe.queue_depth",
	"health.audio_score",
}

// DefaultStations returns the stock station pair: one on the receive leg,
// one on the transmit leg. Both delegate all processing to the generic
// frame path; they only differ in what they measure.
func DefaultStations() []Station {
	return []Station{
		{
			ID:          "pcm_ingress",
			Group:       "PCM_INGRESS",
			Direction:   "RX",
			Description: "Incoming audio from the gateway",
			PreMetrics:  corePreMetrics,
			PostMetrics: corePostMetrics,
		},
		{
			ID:          "pcm_egress",
			Group:       "PCM_EGRESS",
			Direction:   "TX",
			Description: "Outgoing audio toward the gateway",
			PreMetrics:  corePreMetrics,
			PostMetrics: corePostMetrics,
		},
	}
}
