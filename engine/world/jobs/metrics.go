package jobs

import "sync/atomic"

// Metrics counts pool activity. All counters are safe for concurrent use.
type Metrics struct {
	Submitted atomic.Uint64
	Completed atomic.Uint64
	Cancelled atomic.Uint64
	Retried   atomic.Uint64
}

// Stats is a point-in-time copy of the pool counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Cancelled uint64 `json:"cancelled"`
	Retried   uint64 `json:"retried"`
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Submitted: m.Submitted.Load(),
		Completed: m.Completed.Load(),
		Cancelled: m.Cancelled.Load(),
		Retried:   m.Retried.Load(),
	}
}
