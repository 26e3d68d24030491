package schedule

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	shortDelayMin = 10 * time.Minute
	shortDelayMax = time.Hour
)

// Planner computes revalidation delays and knows the daily downtime window.
// Delays are jittered so a burst of contracts discovered together does not
// come back as a thundering herd.
type Planner struct {
	downtimeHour    int
	downtimeMinutes int

	// guards rand; discovery and revalidation may draw concurrently
	mu   sync.Mutex
	rand *rand.Rand
}

// NewPlanner builds a planner with its own jitter source.
func NewPlanner(downtimeHour, downtimeMinutes int) *Planner {
	return &Planner{
		downtimeHour:    downtimeHour,
		downtimeMinutes: downtimeMinutes,
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// InDowntime reports whether t falls inside the daily maintenance window.
func (p *Planner) InDowntime(t time.Time) bool {
	return t.Hour() == p.downtimeHour && t.Minute() < p.downtimeMinutes
}

// Short draws a within-hour delay, uniform over [10min, 60min]. Used for the
// first check after discovery and for every deferred reschedule (downtime,
// batch overflow, throttling).
func (p *Planner) Short() time.Duration {
	return p.uniform(shortDelayMin, shortDelayMax)
}

// Next draws the age-dependent delay until the next check. Contracts younger
// than a day (or with an unknown issue date) are checked within the hour;
// older ones wait sqrt(25*H)/2 .. sqrt(25*H) hours where H is the age in
// whole hours. The spread grows sub-linearly: roughly 12h at day one, two
// days at day nine, three days at day 24.
func (p *Planner) Next(issuedAt, now time.Time) time.Duration {
	if issuedAt.IsZero() {
		return p.Short()
	}

	age := now.Sub(issuedAt)
	if age < 24*time.Hour {
		return p.Short()
	}

	hours := int64(age / time.Hour)
	maxSeconds := int64(math.Sqrt(float64(25*hours)) * 3600)
	minSeconds := maxSeconds / 2

	return p.uniform(
		time.Duration(minSeconds)*time.Second,
		time.Duration(maxSeconds)*time.Second,
	)
}

func (p *Planner) uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rand.Int63n(int64(max-min)+1))
}
