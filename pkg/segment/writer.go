package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/backpressure"
	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/metrics"
	"audiomon-server/pkg/store"
)

// drainInterval paces the background writer so disk I/O stays off the
// frame path without letting the queue sit full for long.
const drainInterval = 50 * time.Millisecond

// Indexer records a written segment file in the durable store. Index
// failures never delete the file; the store can be re-pointed at it later.
type Indexer interface {
	IndexAudioSegment(record store.SegmentIndex) error
}

// WriterStats counts writer activity since start.
type WriterStats struct {
	Enqueued    uint64
	Written     uint64
	Dropped     uint64
	WriteErrors uint64
	IndexErrors uint64
}

// Writer drains finalized segments onto disk as WAV files. Enqueue is O(1)
// and never blocks; when the queue is full the configured backpressure
// strategy decides what to shed.
type Writer struct {
	queue   *backpressure.Queue[*Segment]
	baseDir string
	indexer Indexer
	logger  *logrus.Logger

	mu    sync.Mutex
	stats WriterStats

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewWriter creates a segment writer rooted at baseDir. A nil indexer
// disables store indexing; files are still written.
func NewWriter(baseDir string, capacity int, policy *backpressure.Policy, indexer Indexer, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Writer{
		queue:   backpressure.NewQueue[*Segment](capacity, policy),
		baseDir: baseDir,
		indexer: indexer,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue hands a finalized segment to the writer. Returns false when the
// segment (or a displaced one) was shed under backpressure.
func (w *Writer) Enqueue(seg *Segment) bool {
	if seg == nil {
		return false
	}
	accepted, dropped := w.queue.Offer(seg)

	w.mu.Lock()
	w.stats.Enqueued++
	w.stats.Dropped += uint64(dropped)
	w.mu.Unlock()

	if dropped > 0 {
		w.logger.WithFields(logrus.Fields{
			"call_id":    seg.CallID,
			"station_id": seg.StationID,
			"tap":        seg.Tap,
			"dropped":    dropped,
		}).Warn("Segment queue full, shedding under backpressure")
	}
	return accepted && dropped == 0
}

// Start launches the background drain loop.
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		go w.drainLoop()
	})
}

// Stop halts the drain loop and writes out everything still queued.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		for {
			seg, ok := w.queue.Pop()
			if !ok {
				break
			}
			w.write(seg)
		}
	})
}

// QueueDepth returns the number of segments waiting to be written.
func (w *Writer) QueueDepth() int { return w.queue.Len() }

// QueueUtilization returns the queue fill ratio in [0, 1].
func (w *Writer) QueueUtilization() float64 { return w.queue.Utilization() }

// Stats returns a snapshot of writer counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) drainLoop() {
	defer close(w.done)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// One segment per tick keeps each pass short and spreads
			// disk writes evenly across the interval.
			seg, ok := w.queue.Pop()
			if !ok {
				continue
			}
			w.write(seg)
		}
	}
}

// SegmentPath builds the on-disk location for one segment:
// {base}/{YYYY-MM-DD}/{call}/{station}/{tap}/segment_{bucketTS}.wav with the
// date taken from the bucket timestamp in UTC.
func SegmentPath(baseDir string, seg *Segment) string {
	date := time.UnixMilli(seg.BucketTS).UTC().Format("2006-01-02")
	name := fmt.Sprintf("segment_%d.wav", seg.BucketTS)
	return filepath.Join(baseDir, date, seg.CallID, seg.StationID, seg.Tap, name)
}

func (w *Writer) write(seg *Segment) {
	path := SegmentPath(w.baseDir, seg)
	fields := logrus.Fields{
		"call_id":    seg.CallID,
		"station_id": seg.StationID,
		"tap":        seg.Tap,
		"bucket_ts":  seg.BucketTS,
		"path":       path,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.recordWriteError()
		w.logger.WithError(errors.Wrap(err, "failed to create segment directory")).WithFields(fields).Error("Dropping audio segment")
		return
	}

	data := EncodeWAV(seg.PCM, seg.SampleRate, seg.Channels)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.recordWriteError()
		w.logger.WithError(errors.Wrap(err, "failed to write segment file")).WithFields(fields).Error("Dropping audio segment")
		return
	}

	w.mu.Lock()
	w.stats.Written++
	w.mu.Unlock()
	metrics.RecordSegmentWritten()
	w.logger.WithFields(fields).Debug("Wrote audio segment")

	if w.indexer == nil {
		return
	}
	record := store.SegmentIndex{
		CallID:     seg.CallID,
		StationID:  seg.StationID,
		Tap:        seg.Tap,
		BucketTS:   seg.BucketTS,
		BucketMS:   seg.BucketMS,
		SampleRate: seg.SampleRate,
		Channels:   seg.Channels,
		Format:     seg.Format,
		FilePath:   path,
		FileBytes:  int64(len(data)),
	}
	if err := w.indexer.IndexAudioSegment(record); err != nil {
		w.mu.Lock()
		w.stats.IndexErrors++
		w.mu.Unlock()
		w.logger.WithError(err).WithFields(fields).Warn("Failed to index audio segment, file kept on disk")
	}
}

func (w *Writer) recordWriteError() {
	w.mu.Lock()
	w.stats.WriteErrors++
	w.mu.Unlock()
	metrics.RecordSegmentWriteError()
}
