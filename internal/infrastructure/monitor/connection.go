package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const probeTimeout = 3 * time.Second

// CheckFunc returns nil when the dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Probe names one dependency the monitor pings.
type Probe struct {
	Name  string
	Check CheckFunc
}

// Pinger is implemented by ledger stores and clients that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a Pinger.
func PingProbe(name string, p Pinger) Probe {
	return Probe{Name: name, Check: p.Ping}
}

type Monitor struct {
	probes []Probe

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(probes []Probe, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Probe, 0, len(probes))
	for _, p := range probes {
		if p.Check != nil {
			kept = append(kept, p)
		}
	}
	return &Monitor{
		probes:   kept,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) IsOnline() bool {
	return m.GetStatus().Healthy()
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh()
	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

// Refresh runs every probe once and stores the result.
func (m *Monitor) Refresh() {
	status := Status{
		Components: make(map[string]bool, len(m.probes)),
		LastCheck:  time.Now().UTC(),
	}
	for _, p := range m.probes {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		status.Components[p.Name] = err == nil
		if err != nil {
			if status.Errors == nil {
				status.Errors = make(map[string]string)
			}
			status.Errors[p.Name] = err.Error()
			m.logger.Warn("dependency check failed", zap.String("component", p.Name), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}
