package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	uploadsAcceptedTotal atomic.Uint64
	uploadsRejectedTotal atomic.Uint64
	analysesStartedTotal atomic.Uint64
	analysesStoredTotal  atomic.Uint64
	analysesFailedTotal  atomic.Uint64
	resultsLostTotal     atomic.Uint64

	parseStatus   = newLabeledCounter()
	failureKinds  = newLabeledCounter()
	aiCallLatency = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncUploadAccepted counts an image that passed intake validation.
func IncUploadAccepted() { uploadsAcceptedTotal.Add(1) }

// IncUploadRejected counts an image rejected by intake validation.
func IncUploadRejected() { uploadsRejectedTotal.Add(1) }

// UploadsRejected returns the rejected upload count.
func UploadsRejected() uint64 { return uploadsRejectedTotal.Load() }

// IncAnalysisStarted counts an AI analysis attempt.
func IncAnalysisStarted() { analysesStartedTotal.Add(1) }

// IncAnalysisStored counts a persisted analysis record, labelled by parse status.
func IncAnalysisStored(status string) {
	analysesStoredTotal.Add(1)
	parseStatus.Inc(status)
}

// IncAnalysisFailed counts an AI failure, labelled by failure kind.
func IncAnalysisFailed(kind string) {
	analysesFailedTotal.Add(1)
	failureKinds.Inc(kind)
}

// IncResultLost counts a successful AI response that could not be persisted.
func IncResultLost() { resultsLostTotal.Add(1) }

// ObserveAICallMs records the duration of an AI call in milliseconds.
func ObserveAICallMs(value float64) {
	if value < 0 {
		value = 0
	}
	aiCallLatency.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "label_uploads_accepted_total", "Images accepted by intake", uploadsAcceptedTotal.Load())
	writeCounter(&buf, "label_uploads_rejected_total", "Images rejected by intake", uploadsRejectedTotal.Load())
	writeCounter(&buf, "label_analyses_started_total", "AI analyses started", analysesStartedTotal.Load())
	writeCounter(&buf, "label_analyses_stored_total", "Analysis records persisted", analysesStoredTotal.Load())
	writeCounter(&buf, "label_analyses_failed_total", "AI analyses failed", analysesFailedTotal.Load())
	writeCounter(&buf, "label_results_lost_total", "AI results lost on write", resultsLostTotal.Load())
	writeLabeled(&buf, "label_analysis_parse_status_total", "Persisted analyses by parse status", "status", parseStatus.Snapshot())
	writeLabeled(&buf, "label_analysis_failure_kind_total", "AI failures by kind", "kind", failureKinds.Snapshot())
	writeHistogram(&buf, "label_ai_call_duration_ms", "AI call duration in milliseconds", aiCallLatency.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: map[string]uint64{}}
}

func (l *labeledCounter) Inc(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[label]++
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe records value in the first bucket whose bound covers it; Render
// accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeled(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
