package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"lumina-exam-agent/internal/observable"
)

const (
	DefaultProbeInterval = 10 * time.Second
	probeTimeout         = 3 * time.Second
)

// Observer exposes the current connectivity state and its transitions.
type Observer interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Monitor decides connectivity by probing a health URL on a fixed interval.
// Hosts can also push OS-level hints through SetOnline.
type Monitor struct {
	httpClient *http.Client
	probeURL   string
	interval   time.Duration
	log        *zap.Logger

	mu     sync.Mutex
	online *observable.Value[bool]

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewMonitor(httpClient *http.Client, probeURL string, interval time.Duration, initial bool, log *zap.Logger) *Monitor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout}
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		httpClient: httpClient,
		probeURL:   probeURL,
		interval:   interval,
		log:        log.Named("network"),
		online:     observable.NewValue(initial),
		stopChan:   make(chan struct{}),
	}
}

func (m *Monitor) Online() bool { return m.online.Get() }

// Subscribe returns a stream primed with the current state; later values are transitions.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	return m.online.Subscribe()
}

// SetOnline records a connectivity observation. Only changes are published.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online.Get() == online {
		return
	}
	m.online.Set(online)
	if online {
		m.log.Info("network back online")
	} else {
		m.log.Warn("network offline")
	}
}

func (m *Monitor) Start() {
	if m.probeURL == "" {
		m.log.Info("no probe URL configured, relying on connectivity hints")
		return
	}
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.online.Close()
	})
}

func (m *Monitor) loop() {
	m.Probe(context.Background())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Probe(context.Background())
		}
	}
}

// Probe checks the health URL once and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	online := m.check(ctx, http.MethodHead)
	if !online {
		online = m.check(ctx, http.MethodGet)
	}
	m.SetOnline(online)
	return online
}

func (m *Monitor) check(ctx context.Context, method string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, m.probeURL, nil)
	if err != nil {
		m.log.Error("invalid probe URL", zap.String("url", m.probeURL), zap.Error(err))
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Debug("probe failed", zap.String("method", method), zap.Error(err))
		return false
	}
	resp.Body.Close()
	// any answer from the server means the network path works
	return resp.StatusCode < http.StatusInternalServerError
}
