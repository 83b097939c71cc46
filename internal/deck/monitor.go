// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package deck

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Default monitor tuning. Both are overridable per instance for tests and
// constrained deployments.
const (
	DefaultSlowOpThreshold = 500 * time.Millisecond
	DefaultQuotaBytes      = 50 << 20 // 50 MiB
)

// Per-record size estimates in bytes. Deliberately rough and deliberately
// high: the monitor exists to warn before the quota is hit, not to account
// precisely.
const (
	estimateCardBytes     = 2048
	estimateTagBytes      = 256
	estimateDomainBytes   = 256
	estimateResponseBytes = 128
	estimateSnapshotBytes = 65536
)

// UsageStatus buckets estimated usage against the quota.
type UsageStatus string

const (
	StatusSafe     UsageStatus = "safe"     // under 70%
	StatusWarning  UsageStatus = "warning"  // 70-90%
	StatusCritical UsageStatus = "critical" // 90-100%
	StatusExceeded UsageStatus = "exceeded" // at or over quota
)

// UsageEstimate is one point-in-time quota report.
type UsageEstimate struct {
	EstimatedBytes int64       `json:"estimatedBytes"`
	QuotaBytes     int64       `json:"quotaBytes"`
	UsedPercent    float64     `json:"usedPercent"`
	Status         UsageStatus `json:"status"`
	Recommendation string      `json:"recommendation,omitempty"`
	CardCount      int         `json:"cardCount"`
	TagCount       int         `json:"tagCount"`
	DomainCount    int         `json:"domainCount"`
	ResponseCount  int         `json:"responseCount"`
	SnapshotCount  int         `json:"snapshotCount"`
}

// Monitor observes the storage layer: operation latency, concurrent
// transaction pressure and estimated quota usage. All methods are safe for
// concurrent use.
type Monitor struct {
	log   zerolog.Logger
	slow  time.Duration
	quota int64
	nowFn func() time.Time

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	opCount     int64
	slowCount   int64
}

// NewMonitor builds a monitor with the given slow-operation threshold and
// quota; zero values select the defaults.
func NewMonitor(logger zerolog.Logger, slowThreshold time.Duration, quotaBytes int64) *Monitor {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowOpThreshold
	}
	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}
	return &Monitor{
		log:   logger,
		slow:  slowThreshold,
		quota: quotaBytes,
		nowFn: time.Now,
	}
}

// Track runs fn, timing it and logging a warning when it crosses the slow
// threshold. The operation's error passes through untouched.
func (m *Monitor) Track(op string, fn func() error) error {
	start := m.nowFn()
	err := fn()
	elapsed := m.nowFn().Sub(start)

	m.mu.Lock()
	m.opCount++
	slow := elapsed >= m.slow
	if slow {
		m.slowCount++
	}
	m.mu.Unlock()

	if slow {
		m.log.Warn().
			Str("op", op).
			Dur("elapsed", elapsed).
			Dur("threshold", m.slow).
			Msg("slow storage operation")
	}
	return err
}

// txStarted / txFinished maintain the concurrent-transaction gauge. The
// access layer calls these around every transaction.
func (m *Monitor) txStarted() {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()
}

func (m *Monitor) txFinished() {
	m.mu.Lock()
	if m.inFlight > 0 {
		m.inFlight--
	}
	m.mu.Unlock()
}

// ConcurrentTransactions returns the current gauge and its high-water mark.
func (m *Monitor) ConcurrentTransactions() (current, peak int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight, m.maxInFlight
}

// OperationCounts returns total and slow operation counts seen by Track.
func (m *Monitor) OperationCounts() (total, slow int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opCount, m.slowCount
}

// EstimateUsage counts records per store and turns the counts into a quota
// report with a human-readable recommendation.
func (m *Monitor) EstimateUsage(ctx context.Context, db *DB) (*UsageEstimate, error) {
	counts := map[string]int{}
	for _, store := range []string{storeCards, storeTags, storeDomains, storeResponses, storeSnapshots} {
		n, err := db.CountStore(ctx, store)
		if err != nil {
			return nil, err
		}
		counts[store] = n
	}

	estimated := int64(counts[storeCards])*estimateCardBytes +
		int64(counts[storeTags])*estimateTagBytes +
		int64(counts[storeDomains])*estimateDomainBytes +
		int64(counts[storeResponses])*estimateResponseBytes +
		int64(counts[storeSnapshots])*estimateSnapshotBytes

	percent := float64(estimated) / float64(m.quota) * 100

	est := &UsageEstimate{
		EstimatedBytes: estimated,
		QuotaBytes:     m.quota,
		UsedPercent:    percent,
		Status:         statusForPercent(percent),
		CardCount:      counts[storeCards],
		TagCount:       counts[storeTags],
		DomainCount:    counts[storeDomains],
		ResponseCount:  counts[storeResponses],
		SnapshotCount:  counts[storeSnapshots],
	}
	est.Recommendation = m.recommendation(est)
	return est, nil
}

func statusForPercent(percent float64) UsageStatus {
	switch {
	case percent >= 100:
		return StatusExceeded
	case percent >= 90:
		return StatusCritical
	case percent >= 70:
		return StatusWarning
	default:
		return StatusSafe
	}
}

func (m *Monitor) recommendation(est *UsageEstimate) string {
	used := humanize.IBytes(uint64(est.EstimatedBytes))
	quota := humanize.IBytes(uint64(est.QuotaBytes))
	switch est.Status {
	case StatusExceeded:
		return "storage quota exceeded (" + used + " of " + quota + "): delete old snapshots and export unused cards now"
	case StatusCritical:
		return "storage nearly full (" + used + " of " + quota + "): prune snapshots or archive cards soon"
	case StatusWarning:
		return "storage at " + used + " of " + quota + ": consider pruning old snapshots"
	default:
		return ""
	}
}
