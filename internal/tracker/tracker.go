package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cvforge/backend/internal/metrics"
	"github.com/cvforge/backend/pkg/logger"
)

// Error classes recorded on failed calls.
const (
	ErrorClassNone         = ""
	ErrorClassRetryable    = "retryable"
	ErrorClassNonRetryable = "non_retryable"
	ErrorClassCircuitOpen  = "circuit_open"
)

// CallRecord is an immutable log entry for one attempted remote call.
// Breaker-short-circuited calls are recorded with Skipped=true and never
// count toward success-rate aggregates.
type CallRecord struct {
	ID               string
	TaskType         string
	Provider         string
	Model            string
	UserID           string
	Capability       string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Latency          time.Duration
	Success          bool
	Skipped          bool
	ErrorClass       string
	CreatedAt        time.Time
}

const rollingWindowSize = 50

type ring struct {
	outcomes  []bool
	latencies []time.Duration
	next      int
}

func (r *ring) add(success bool, latency time.Duration) {
	if len(r.outcomes) < rollingWindowSize {
		r.outcomes = append(r.outcomes, success)
		r.latencies = append(r.latencies, latency)
		return
	}
	r.outcomes[r.next] = success
	r.latencies[r.next] = latency
	r.next = (r.next + 1) % rollingWindowSize
}

type spendEntry struct {
	userID string
	cost   float64
	at     time.Time
}

// Tracker records every attempted call without blocking the hot path: writes
// go through a buffered channel consumed by a single goroutine, so a lost
// metric can never abort a user-facing request.
type Tracker struct {
	store  *Store
	window time.Duration

	mu           sync.Mutex
	rings        map[string]*ring
	spendLog     []spendEntry
	recordCounts map[string]int
	totalRecords int

	queue   chan CallRecord
	flushCh chan chan struct{}
	done    chan struct{}
}

// New starts the tracker's consumer goroutine. store may be nil for purely
// in-memory operation; when present, the spend ledger is warmed from
// persisted records so budget accounting survives restarts.
func New(store *Store, window time.Duration) *Tracker {
	if window == 0 {
		window = 24 * time.Hour
	}

	t := &Tracker{
		store:        store,
		window:       window,
		rings:        make(map[string]*ring),
		recordCounts: make(map[string]int),
		queue:        make(chan CallRecord, 1024),
		flushCh:      make(chan chan struct{}),
		done:         make(chan struct{}),
	}

	if store != nil {
		records, err := store.RecordsSince(time.Now().Add(-window))
		if err != nil {
			logger.Warn("Failed to warm spend ledger from store", zap.Error(err))
		} else {
			for _, rec := range records {
				t.spendLog = append(t.spendLog, spendEntry{userID: rec.UserID, cost: rec.CostUSD, at: rec.CreatedAt})
			}
		}
	}

	go t.run()

	return t
}

// Record enqueues a call record. It never blocks: when the queue is full the
// record is dropped and counted.
func (t *Tracker) Record(rec CallRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	select {
	case t.queue <- rec:
	default:
		metrics.CallRecordsDropped.Inc()
		logger.Warn("Call record dropped, tracker queue full",
			zap.String("provider", rec.Provider),
			zap.String("model", rec.Model),
		)
	}
}

// Flush blocks until every record enqueued before the call has been applied.
func (t *Tracker) Flush() {
	reply := make(chan struct{})
	select {
	case t.flushCh <- reply:
		<-reply
	case <-t.done:
	}
}

func (t *Tracker) Close() {
	t.Flush()
	close(t.done)
}

func (t *Tracker) run() {
	for {
		select {
		case rec := <-t.queue:
			t.apply(rec)
		case reply := <-t.flushCh:
			t.drain()
			close(reply)
		case <-t.done:
			t.drain()
			return
		}
	}
}

func (t *Tracker) drain() {
	for {
		select {
		case rec := <-t.queue:
			t.apply(rec)
		default:
			return
		}
	}
}

func (t *Tracker) apply(rec CallRecord) {
	t.mu.Lock()
	if !rec.Skipped {
		key := rec.Provider + "/" + rec.Model
		r, ok := t.rings[key]
		if !ok {
			r = &ring{}
			t.rings[key] = r
		}
		r.add(rec.Success, rec.Latency)
	}
	if rec.CostUSD > 0 {
		t.spendLog = append(t.spendLog, spendEntry{userID: rec.UserID, cost: rec.CostUSD, at: rec.CreatedAt})
		t.pruneSpendLog(time.Now())
	}
	t.recordCounts[rec.UserID]++
	t.totalRecords++
	t.mu.Unlock()

	t.observe(rec)

	if t.store != nil {
		if err := t.store.Insert(rec); err != nil {
			logger.Warn("Failed to persist call record", zap.Error(err), zap.String("id", rec.ID))
		}
	}
}

func (t *Tracker) observe(rec CallRecord) {
	status := "success"
	switch {
	case rec.Skipped:
		status = "skipped"
	case !rec.Success:
		status = "failure"
	}

	metrics.LLMCallsTotal.WithLabelValues(rec.Provider, rec.Model, status).Inc()
	if !rec.Skipped {
		metrics.LLMCallDuration.WithLabelValues(rec.Provider, rec.Model).Observe(rec.Latency.Seconds())
		metrics.LLMTokensUsed.WithLabelValues(rec.Model, "prompt").Add(float64(rec.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(rec.Model, "completion").Add(float64(rec.CompletionTokens))
		metrics.LLMCost.WithLabelValues(rec.Model).Add(rec.CostUSD)
	}
}

// pruneSpendLog must be called with t.mu held.
func (t *Tracker) pruneSpendLog(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for ; i < len(t.spendLog); i++ {
		if t.spendLog[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		t.spendLog = append(t.spendLog[:0:0], t.spendLog[i:]...)
	}
}

// SuccessRate returns the fraction of successful calls over the rolling
// window for (provider, model). ok is false when no calls were observed yet.
func (t *Tracker) SuccessRate(providerName, model string) (rate float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, found := t.rings[providerName+"/"+model]
	if !found || len(r.outcomes) == 0 {
		return 0, false
	}

	successes := 0
	for _, success := range r.outcomes {
		if success {
			successes++
		}
	}
	return float64(successes) / float64(len(r.outcomes)), true
}

// LatencyPercentiles returns p50 and p95 latency over the rolling window.
func (t *Tracker) LatencyPercentiles(providerName, model string) (p50, p95 time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, found := t.rings[providerName+"/"+model]
	if !found || len(r.latencies) == 0 {
		return 0, 0, false
	}

	sorted := make([]time.Duration, len(r.latencies))
	copy(sorted, r.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return percentile(sorted, 0.50), percentile(sorted, 0.95), true
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

// Spend returns cumulative cost over the window: per-user when userID is
// non-empty, global otherwise.
func (t *Tracker) Spend(userID string, window time.Duration) float64 {
	if window == 0 || window > t.window {
		window = t.window
	}
	cutoff := time.Now().Add(-window)

	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, entry := range t.spendLog {
		if entry.at.Before(cutoff) {
			continue
		}
		if userID != "" && entry.userID != userID {
			continue
		}
		total += entry.cost
	}
	return total
}

// Count reports how many records have been applied for a user (all records
// when userID is empty). Used for budget verification; not part of the hot
// path.
func (t *Tracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if userID == "" {
		return t.totalRecords
	}
	return t.recordCounts[userID]
}
