package capture

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Flows holds one Flow per client, all sharing the same camera.
type Flows struct {
	devices  *DeviceManager
	analyzer Analyzer

	mu    sync.Mutex
	flows map[string]*Flow
}

func NewFlows(devices *DeviceManager, analyzer Analyzer) *Flows {
	return &Flows{devices: devices, analyzer: analyzer, flows: make(map[string]*Flow)}
}

// For returns the client's flow, creating it on first use.
func (fs *Flows) For(clientID string) *Flow {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.flows[clientID]
	if !ok {
		f = NewFlow(fs.devices, fs.analyzer)
		fs.flows[clientID] = f
	}
	return f
}

// Devices returns the shared camera manager.
func (fs *Flows) Devices() *DeviceManager {
	return fs.devices
}

// ReleaseIdle releases and forgets flows with no activity for longer than
// maxIdle. Flows with an analysis in flight are kept.
func (fs *Flows) ReleaseIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	fs.mu.Lock()
	var idle []*Flow
	for id, f := range fs.flows {
		if f.LastActive().Before(cutoff) && f.State() != Analyzing {
			idle = append(idle, f)
			delete(fs.flows, id)
		}
	}
	fs.mu.Unlock()

	for _, f := range idle {
		f.Release()
	}
	if len(idle) > 0 {
		log.Info().Int("count", len(idle)).Msg("released idle capture flows")
	}
	return len(idle)
}

func (fs *Flows) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.flows)
}

// Release releases the client's flow, if any, and forgets it. Called when the
// client navigates away from the analyze view.
func (fs *Flows) Release(clientID string) {
	fs.mu.Lock()
	f, ok := fs.flows[clientID]
	if ok && f.State() != Analyzing {
		delete(fs.flows, clientID)
	}
	fs.mu.Unlock()

	if ok {
		f.Release()
	}
}
