package analysis

import (
	"fmt"
	"sync"
	"time"

	"gosnoop/internal/models"
)

// AnomalyType represents the type of anomaly detected.
type AnomalyType string

const (
	AnomalyDroppedPackets AnomalyType = "DROPPED_PACKETS"
	AnomalyClockSkew      AnomalyType = "CLOCK_SKEW"
	AnomalyTruncated      AnomalyType = "TRUNCATED"
	AnomalyParseError     AnomalyType = "PARSE_ERROR"
)

// Config holds configuration for the anomaly detector.
type Config struct {
	MaxAlerts        int           // Alerts kept in history
	SkewTolerance    time.Duration // Backwards jumps smaller than this are ignored
	TruncationReport int           // Truncated frames per capture before one alert is raised
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAlerts:        20,
		SkewTolerance:    0,
		TruncationReport: 1,
	}
}

// Alert represents a detected capture anomaly.
type Alert struct {
	Type      AnomalyType `json:"type"`
	Source    string      `json:"source"` // Capture name
	Frame     int         `json:"frame"`
	Message   string      `json:"message"` // Human-readable description
	Timestamp time.Time   `json:"timestamp"`
}

type captureTrack struct {
	lastTimestamp time.Time
	lastDrops     uint32
	truncated     int
	seen          bool
}

// AnomalyDetector watches decoded frames for signs of a damaged capture.
type AnomalyDetector struct {
	mu sync.Mutex

	config   Config
	captures map[string]*captureTrack

	// Alert History (circular buffer)
	alerts []Alert
	total  int
}

// NewAnomalyDetector creates a new anomaly detection engine.
func NewAnomalyDetector(cfg Config) *AnomalyDetector {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = 20
	}
	if cfg.TruncationReport <= 0 {
		cfg.TruncationReport = 1
	}
	return &AnomalyDetector{
		config:   cfg,
		captures: make(map[string]*captureTrack),
		alerts:   make([]Alert, 0),
	}
}

// ProcessFrame analyzes a frame from the named capture.
func (ad *AnomalyDetector) ProcessFrame(capture string, f models.Frame) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	tr, ok := ad.captures[capture]
	if !ok {
		tr = &captureTrack{}
		ad.captures[capture] = tr
	}

	ad.detectDrops(capture, tr, f)
	ad.detectClockSkew(capture, tr, f)
	ad.detectTruncation(capture, tr, f)

	tr.seen = true
	tr.lastDrops = f.Drops
	if f.Timestamp.After(tr.lastTimestamp) {
		tr.lastTimestamp = f.Timestamp
	}
}

// Forget drops per-capture tracking once a capture is done.
func (ad *AnomalyDetector) Forget(capture string) {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	delete(ad.captures, capture)
}

// detectDrops checks whether the stack's cumulative drop counter grew.
func (ad *AnomalyDetector) detectDrops(capture string, tr *captureTrack, f models.Frame) {
	prev := tr.lastDrops
	if !tr.seen {
		prev = 0
	}
	if f.Drops > prev {
		ad.addAlert(Alert{
			Type:      AnomalyDroppedPackets,
			Source:    capture,
			Frame:     f.Number,
			Message:   fmt.Sprintf("%d packet(s) dropped before frame %d", f.Drops-prev, f.Number),
			Timestamp: f.Timestamp,
		})
	}
}

// detectClockSkew checks for timestamps running backwards.
func (ad *AnomalyDetector) detectClockSkew(capture string, tr *captureTrack, f models.Frame) {
	if !tr.seen {
		return
	}
	back := tr.lastTimestamp.Sub(f.Timestamp)
	if back > ad.config.SkewTolerance {
		ad.addAlert(Alert{
			Type:      AnomalyClockSkew,
			Source:    capture,
			Frame:     f.Number,
			Message:   fmt.Sprintf("timestamp went back %s at frame %d", back, f.Number),
			Timestamp: f.Timestamp,
		})
	}
}

// detectTruncation raises a single alert once enough frames were cut short.
func (ad *AnomalyDetector) detectTruncation(capture string, tr *captureTrack, f models.Frame) {
	if !f.Truncated() {
		return
	}
	tr.truncated++
	if tr.truncated == ad.config.TruncationReport {
		ad.addAlert(Alert{
			Type:      AnomalyTruncated,
			Source:    capture,
			Frame:     f.Number,
			Message:   fmt.Sprintf("frame %d captured %d of %d bytes", f.Number, f.IncludedLength, f.OriginalLength),
			Timestamp: f.Timestamp,
		})
	}
}

// ReportParseError records a failure of the message parser stage.
func (ad *AnomalyDetector) ReportParseError(capture string, frame int, err error) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.addAlert(Alert{
		Type:      AnomalyParseError,
		Source:    capture,
		Frame:     frame,
		Message:   fmt.Sprintf("message parser stopped at frame %d: %v", frame, err),
		Timestamp: time.Now(),
	})
}

// Reset clears all tracking and alert history.
func (ad *AnomalyDetector) Reset() {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	ad.captures = make(map[string]*captureTrack)
	ad.alerts = make([]Alert, 0)
	ad.total = 0
}

// addAlert adds an alert to the history (circular buffer).
func (ad *AnomalyDetector) addAlert(alert Alert) {
	ad.alerts = append(ad.alerts, alert)
	ad.total++

	if len(ad.alerts) > ad.config.MaxAlerts {
		ad.alerts = ad.alerts[len(ad.alerts)-ad.config.MaxAlerts:]
	}
}

// GetRecentAlerts returns the most recent alerts (thread-safe).
func (ad *AnomalyDetector) GetRecentAlerts(limit int) []Alert {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	if len(ad.alerts) == 0 {
		return []Alert{}
	}

	start := 0
	if limit > 0 && len(ad.alerts) > limit {
		start = len(ad.alerts) - limit
	}

	result := make([]Alert, len(ad.alerts)-start)
	copy(result, ad.alerts[start:])

	return result
}

// TotalAlerts counts every alert raised, including ones rotated out.
func (ad *AnomalyDetector) TotalAlerts() int {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	return ad.total
}
