package worker

import (
	"sort"
	"sync"
	"time"
)

// JobStats tracks run statistics for one job type.
type JobStats struct {
	Runs         int64
	Failures     int64
	Items        int64
	LastRunAt    time.Time
	LastDuration time.Duration
	TotalTime    time.Duration
}

// RunMetrics tracks statistics for every job type.
type RunMetrics struct {
	mu   sync.RWMutex
	jobs map[string]*JobStats
}

func newRunMetrics() *RunMetrics {
	return &RunMetrics{jobs: make(map[string]*JobStats)}
}

func (m *RunMetrics) record(job string, d time.Duration, items, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.jobs[job]
	if !ok {
		s = &JobStats{}
		m.jobs[job] = s
	}
	s.Runs++
	s.Failures += int64(failures)
	s.Items += int64(items)
	s.LastRunAt = time.Now().UTC()
	s.LastDuration = d
	s.TotalTime += d
}

// GetMetrics returns a copy of the statistics for job.
func (j *Jobs) GetMetrics(job string) (JobStats, bool) {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	s, ok := j.metrics.jobs[job]
	if !ok {
		return JobStats{}, false
	}
	return *s, true
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *Jobs) MetricsSnapshot() map[string]interface{} {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	names := make([]string, 0, len(j.metrics.jobs))
	for name := range j.metrics.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		s := j.metrics.jobs[name]
		out[name] = map[string]interface{}{
			"runs":          s.Runs,
			"failures":      s.Failures,
			"items":         s.Items,
			"last_run_at":   s.LastRunAt,
			"last_duration": s.LastDuration.String(),
			"total_time":    s.TotalTime.String(),
		}
	}
	return out
}
