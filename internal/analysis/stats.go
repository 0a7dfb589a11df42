package analysis

import (
	"sort"
	"sync"
	"time"

	"gosnoop/internal/models"
)

// JobState is the lifecycle of one archive conversion.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobSkipped JobState = "skipped"
	JobFailed  JobState = "failed"
)

// JobStatus is a snapshot of one conversion.
type JobStatus struct {
	Name     string
	State    JobState
	Frames   int
	Records  int
	Error    string
	Started  time.Time
	Finished time.Time
}

// Duration is the time spent converting, or zero if not finished.
func (j JobStatus) Duration() time.Duration {
	if j.Started.IsZero() || j.Finished.IsZero() {
		return 0
	}
	return j.Finished.Sub(j.Started)
}

// ConnStat holds stats for a single ACL connection handle.
type ConnStat struct {
	Handle uint16 `json:"handle"`
	Bytes  int    `json:"bytes"`
}

// KindStat holds stats for a single HCI packet kind.
type KindStat struct {
	Kind  models.Kind `json:"kind"`
	Count int64       `json:"count"`
}

// ServiceStat counts L2CAP traffic per service.
type ServiceStat struct {
	Service string `json:"service"`
	Count   int64  `json:"count"`
}

// RunStats tracks the progress and content of one pipeline run.
type RunStats struct {
	mu           sync.Mutex
	runID        string
	started      time.Time
	totalBytes   int64
	totalFrames  int64
	windowBytes  int64
	windowFrames int64
	lastTick     time.Time

	jobs     map[string]*JobStatus
	jobOrder []string

	handleBytes   map[uint16]int
	kindCounts    map[models.Kind]int64
	serviceCounts map[string]int64

	anomalyDetector *AnomalyDetector
}

// NewRunStats creates a new RunStats instance.
func NewRunStats(runID string) *RunStats {
	now := time.Now()
	return &RunStats{
		runID:           runID,
		started:         now,
		lastTick:        now,
		jobs:            make(map[string]*JobStatus),
		handleBytes:     make(map[uint16]int),
		kindCounts:      make(map[models.Kind]int64),
		serviceCounts:   make(map[string]int64),
		anomalyDetector: NewAnomalyDetector(DefaultConfig()),
	}
}

// Reset starts a new pass: counters, jobs and alerts from earlier passes
// are dropped. The run id is kept.
func (s *RunStats) Reset() {
	s.mu.Lock()
	now := time.Now()
	s.started = now
	s.lastTick = now
	s.totalBytes, s.totalFrames = 0, 0
	s.windowBytes, s.windowFrames = 0, 0
	s.jobs = make(map[string]*JobStatus)
	s.jobOrder = nil
	s.handleBytes = make(map[uint16]int)
	s.kindCounts = make(map[models.Kind]int64)
	s.serviceCounts = make(map[string]int64)
	s.mu.Unlock()

	s.anomalyDetector.Reset()
}

// RunID identifies the run in logs and reports.
func (s *RunStats) RunID() string { return s.runID }

// Started is when the stats were created.
func (s *RunStats) Started() time.Time { return s.started }

// AddJob registers a conversion in pending state. Re-adding a known job
// resets it, which is what a watch-triggered rebuild wants.
func (s *RunStats) AddJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		s.jobOrder = append(s.jobOrder, name)
	}
	s.jobs[name] = &JobStatus{Name: name, State: JobPending}
}

// SetJobState moves a job to a new state.
func (s *RunStats) SetJobState(name string, state JobState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		j = &JobStatus{Name: name}
		s.jobs[name] = j
		s.jobOrder = append(s.jobOrder, name)
	}
	j.State = state
	now := time.Now()
	switch state {
	case JobRunning:
		j.Started = now
		j.Finished = time.Time{}
		j.Error = ""
	case JobDone, JobFailed, JobSkipped:
		j.Finished = now
	}
	if err != nil {
		j.Error = err.Error()
	}

	if state != JobRunning && state != JobPending {
		s.anomalyDetector.Forget(name)
	}
}

// AddRecords counts output records written for a job.
func (s *RunStats) AddRecords(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[name]; ok {
		j.Records += n
	}
}

// ProcessFrame updates stats with a decoded frame of the named job.
// rec may be nil when only the raw frame is known.
func (s *RunStats) ProcessFrame(job string, f models.Frame, rec *models.Record) {
	s.mu.Lock()

	n := int64(len(f.Data))
	s.totalBytes += n
	s.totalFrames++
	s.windowBytes += n
	s.windowFrames++

	kind := f.Kind
	if kind == "" {
		kind = models.KindUnknown
	}
	s.kindCounts[kind]++

	if j, ok := s.jobs[job]; ok {
		j.Frames++
	}

	if rec != nil {
		if rec.ACL != nil {
			s.handleBytes[rec.ACL.Handle] += len(f.Data)
		}
		if rec.L2CAP != nil && rec.L2CAP.Service != "" {
			s.serviceCounts[rec.L2CAP.Service]++
		}
	}

	// Anomaly detector has its own mutex
	s.mu.Unlock()
	s.anomalyDetector.ProcessFrame(job, f)
}

// ReportParseError forwards a message parser failure to the detector.
func (s *RunStats) ReportParseError(job string, frame int, err error) {
	s.anomalyDetector.ReportParseError(job, frame, err)
}

// GetRates returns the throughput (bytes/s) and frame rate since the last call.
func (s *RunStats) GetRates() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration := now.Sub(s.lastTick).Seconds()
	if duration == 0 {
		return 0, 0
	}

	bps := float64(s.windowBytes) / duration
	fps := float64(s.windowFrames) / duration

	// Reset window
	s.windowBytes = 0
	s.windowFrames = 0
	s.lastTick = now

	return bps, fps
}

// GetTotalBytes returns the HCI bytes decoded so far.
func (s *RunStats) GetTotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// GetTotalFrames returns the frames decoded so far.
func (s *RunStats) GetTotalFrames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalFrames
}

// GetTopConnections returns the top N ACL handles by volume.
func (s *RunStats) GetTopConnections(limit int) []ConnStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]ConnStat, 0, len(s.handleBytes))
	for h, bytes := range s.handleBytes {
		stats = append(stats, ConnStat{Handle: h, Bytes: bytes})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Bytes == stats[j].Bytes {
			return stats[i].Handle < stats[j].Handle
		}
		return stats[i].Bytes > stats[j].Bytes
	})

	if limit > 0 && len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

// GetKindStats returns the packet kind distribution.
func (s *RunStats) GetKindStats() []KindStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]KindStat, 0, len(s.kindCounts))
	for kind, count := range s.kindCounts {
		stats = append(stats, KindStat{Kind: kind, Count: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Kind < stats[j].Kind
		}
		return stats[i].Count > stats[j].Count
	})

	return stats
}

// GetServiceStats returns L2CAP PDUs per service, busiest first.
func (s *RunStats) GetServiceStats() []ServiceStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]ServiceStat, 0, len(s.serviceCounts))
	for svc, count := range s.serviceCounts {
		stats = append(stats, ServiceStat{Service: svc, Count: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Service < stats[j].Service
		}
		return stats[i].Count > stats[j].Count
	})

	return stats
}

// GetJobs returns job snapshots in the order they were added.
func (s *RunStats) GetJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]JobStatus, 0, len(s.jobOrder))
	for _, name := range s.jobOrder {
		result = append(result, *s.jobs[name])
	}
	return result
}

// Counts returns how many jobs are in each terminal state, and the total.
func (s *RunStats) Counts() (done, skipped, failed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		switch j.State {
		case JobDone:
			done++
		case JobSkipped:
			skipped++
		case JobFailed:
			failed++
		}
	}
	return done, skipped, failed, len(s.jobs)
}

// GetAlerts returns the most recent alerts for the dashboard.
func (s *RunStats) GetAlerts() []Alert {
	// Anomaly detector has its own mutex, no need to lock here
	return s.anomalyDetector.GetRecentAlerts(5)
}

// GetAllAlerts returns every alert still held in history.
func (s *RunStats) GetAllAlerts() []Alert {
	return s.anomalyDetector.GetRecentAlerts(0)
}
