package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/charlesng35/campusgate/internal/models"
)

// AnomalyDetector inspects entries before they are persisted and may flag them.
type AnomalyDetector interface {
	Observe(ctx context.Context, entry *models.AuditLog) *Signal
}

// BurstOptions configure a BurstDetector.
type BurstOptions struct {
	// Window is the sliding interval failures are counted in.
	Window time.Duration
	// Threshold is the failure count within Window that raises a signal.
	Threshold int
	// Capacity bounds the number of tracked addresses and actors.
	Capacity int
	Clock    func() time.Time
}

// BurstDetector flags bursts of failing entries from one address or one actor.
type BurstDetector struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	now       func() time.Time
	counters  *expirable.LRU[string, []time.Time]
}

// NewBurstDetector constructs a detector, applying defaults of 10 failures per minute.
func NewBurstDetector(opts BurstOptions) *BurstDetector {
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 10
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 4096
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &BurstDetector{
		window:    opts.Window,
		threshold: opts.Threshold,
		now:       opts.Clock,
		counters:  expirable.NewLRU[string, []time.Time](opts.Capacity, nil, opts.Window),
	}
}

// Observe counts failing entries per source address and per actor. It returns a signal
// once either count within the window reaches the threshold.
func (d *BurstDetector) Observe(_ context.Context, entry *models.AuditLog) *Signal {
	if d == nil || entry == nil || entry.Status == models.AuditStatusSuccess {
		return nil
	}

	keys := make([]string, 0, 2)
	if entry.IPAddress != "" {
		keys = append(keys, "ip:"+entry.IPAddress)
	}
	if entry.ActorID != nil && *entry.ActorID != "" {
		keys = append(keys, "actor:"+*entry.ActorID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.window)
	var worst int
	var worstKey string
	for _, key := range keys {
		hits, _ := d.counters.Get(key)
		kept := hits[:0:0]
		for _, at := range hits {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		kept = append(kept, now)
		d.counters.Add(key, kept)
		if len(kept) > worst {
			worst = len(kept)
			worstKey = key
		}
	}

	if worst < d.threshold {
		return nil
	}
	score := 0.5 * float64(worst) / float64(d.threshold)
	if score > 1 {
		score = 1
	}
	return &Signal{
		Score:  score,
		Reason: fmt.Sprintf("%d failures from %s within %s", worst, worstKey, d.window),
	}
}
