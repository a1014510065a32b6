package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rawblock/riemann-engine/internal/db"
)

// WitnessAlert is the payload pushed to websocket clients when the best
// witness value improves.
type WitnessAlert struct {
	N            string  `json:"n"`
	DivisorSum   string  `json:"divisorSum"`
	WitnessValue float64 `json:"witnessValue"`
	Timestamp    string  `json:"timestamp"`
}

// Monitor polls the store summary and publishes an alert whenever a new
// best witness value appears. Processors run in separate OS processes, so
// polling the shared store is the only cross-process signal available.
type Monitor struct {
	store       db.Store
	hub         *StreamHub
	pollPeriod  time.Duration
	bestWitness float64
}

func NewMonitor(store db.Store, hub *StreamHub, pollPeriod time.Duration) *Monitor {
	return &Monitor{store: store, hub: hub, pollPeriod: pollPeriod}
}

func (m *Monitor) Run(ctx context.Context) {
	log.Printf("[Monitor] Starting summary poller (period=%s)", m.pollPeriod)

	ticker := time.NewTicker(m.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Monitor] Stopping")
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	stats, err := m.store.Summarize(ctx)
	if err != nil {
		log.Printf("[Monitor] Failed to summarize store: %v", err)
		return
	}
	best := stats.LargestWitnessValue
	if best == nil || best.WitnessValue <= m.bestWitness {
		return
	}
	m.bestWitness = best.WitnessValue

	payload, err := json.Marshal(map[string]interface{}{
		"type": "witness_alert",
		"alert": WitnessAlert{
			N:            best.N.String(),
			DivisorSum:   best.DivisorSum.String(),
			WitnessValue: best.WitnessValue,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		log.Printf("[Monitor] Failed to marshal witness alert: %v", err)
		return
	}
	m.hub.Publish(payload)
	log.Printf("[Monitor] New best witness value %.6f at n=%s", best.WitnessValue, best.N)
}
