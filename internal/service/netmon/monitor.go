// Package netmon observes connectivity, classifies link quality, and
// gates sync work. It only emits events; consumers subscribe and act.
package netmon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/domain/event"
)

// LinkState is the raw connectivity callback payload from the platform
// shim: link type plus whatever signal detail the OS exposes.
type LinkState struct {
	Connected      bool
	Type           domain.LinkType
	Generation     string // cellular generation: "5g", "4g", "3g", "2g"
	SignalStrength int    // 0-100, -1 when unknown
}

// Config contains network monitor configuration
type Config struct {
	// ProbeURL is the health endpoint checked for internet
	// reachability.
	ProbeURL string

	// ProbeInterval is how often reachability is re-verified while
	// connected.
	ProbeInterval time.Duration

	// ProbeTimeout bounds each reachability check.
	ProbeTimeout time.Duration

	// MaxProbeRetries caps the reconnect re-check backoff sequence.
	MaxProbeRetries int

	// ProbeBackoffBase is the base delay doubled per failed re-check.
	ProbeBackoffBase time.Duration

	// WifiOnly restricts syncing to Wi-Fi and Ethernet links.
	WifiOnly bool

	// MinQuality is the minimum link quality required to sync.
	MinQuality domain.Quality
}

// DefaultConfig returns default network monitor configuration
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		MaxProbeRetries:  5,
		ProbeBackoffBase: 2 * time.Second,
		MinQuality:       domain.QualityFair,
	}
}

// Monitor is the network monitor.
type Monitor struct {
	cfg        *Config
	client     *http.Client
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	mu         sync.Mutex
	link       LinkState
	status     domain.NetworkStatus
	wifiOnly   bool
	minQuality domain.Quality
	wasSyncOK  bool
	running    bool
	cancel     context.CancelFunc

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a new Monitor
func New(cfg *Config, dispatcher event.EventDispatcher, logger *zap.Logger) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.MaxProbeRetries == 0 {
		cfg.MaxProbeRetries = 5
	}
	if cfg.ProbeBackoffBase == 0 {
		cfg.ProbeBackoffBase = 2 * time.Second
	}

	return &Monitor{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.ProbeTimeout},
		dispatcher: dispatcher,
		logger:     logger,
		wifiOnly:   cfg.WifiOnly,
		minQuality: cfg.MinQuality,
		status: domain.NetworkStatus{
			Link:    domain.LinkUnknown,
			Quality: domain.QualityOffline,
		},
		now: time.Now,
	}
}

// Start runs the periodic reachability probe until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("network monitor already running")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("network monitor started",
		zap.String("probe_url", m.cfg.ProbeURL),
		zap.Duration("probe_interval", m.cfg.ProbeInterval))

	m.wg.Add(1)
	go m.probeLoop(ctx)

	<-ctx.Done()
	m.wg.Wait()
	m.logger.Info("network monitor stopped")
	return nil
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
}

// SetLinkState is the entry point for OS connectivity callbacks. It
// recomputes the status snapshot and emits transition events.
func (m *Monitor) SetLinkState(link LinkState) {
	m.mu.Lock()
	m.link = link

	next := m.status
	next.Connected = link.Connected
	next.Link = link.Type
	if !link.Connected {
		next.Link = domain.LinkNone
		next.InternetReachable = false
	}
	next.Quality = classifyQuality(link)
	next.CheckedAt = m.now()

	prev := m.status
	m.status = next
	m.mu.Unlock()

	m.emitTransitions(prev, next)

	// A fresh connection claims reachability only after a probe
	// confirms it.
	if !prev.Connected && next.Connected {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.recheckReachability(context.Background())
		}()
	}
}

// GetStatus returns the current status snapshot, never blocking.
func (m *Monitor) GetStatus() domain.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// CanSync reports whether sync work should be attempted right now:
// connected, internet reachable, permitted link type, and quality at or
// above the configured minimum.
func (m *Monitor) CanSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canSyncLocked()
}

func (m *Monitor) canSyncLocked() bool {
	s := m.status
	if !s.Connected || !s.InternetReachable {
		return false
	}
	if m.wifiOnly && s.Link != domain.LinkWiFi && s.Link != domain.LinkEthernet {
		return false
	}
	return s.Quality >= m.minQuality
}

// SetWifiOnly updates the Wi-Fi-only restriction at runtime.
func (m *Monitor) SetWifiOnly(wifiOnly bool) {
	m.mu.Lock()
	m.wifiOnly = wifiOnly
	prev := m.status
	m.mu.Unlock()
	m.emitTransitions(prev, prev)
}

// SetMinQuality updates the minimum sync quality at runtime.
func (m *Monitor) SetMinQuality(q domain.Quality) {
	m.mu.Lock()
	m.minQuality = q
	prev := m.status
	m.mu.Unlock()
	m.emitTransitions(prev, prev)
}

// probeLoop re-verifies reachability on a cadence while connected.
func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			connected := m.link.Connected
			m.mu.Unlock()
			if !connected {
				continue
			}
			m.updateReachability(ctx, m.probe(ctx))
		}
	}
}

// recheckReachability probes with exponential backoff after a
// reconnect, giving flaky links a chance to settle.
func (m *Monitor) recheckReachability(ctx context.Context) {
	for attempt := 0; attempt < m.cfg.MaxProbeRetries; attempt++ {
		if m.probe(ctx) {
			m.updateReachability(ctx, true)
			return
		}
		delay := m.cfg.ProbeBackoffBase * (1 << attempt)
		m.logger.Debug("reachability check failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	m.updateReachability(ctx, false)
}

// probe issues a HEAD request to the health endpoint.
func (m *Monitor) probe(ctx context.Context) bool {
	if m.cfg.ProbeURL == "" {
		// No endpoint configured: trust the link state.
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (m *Monitor) updateReachability(ctx context.Context, reachable bool) {
	m.mu.Lock()
	prev := m.status
	m.status.InternetReachable = reachable && m.status.Connected
	m.status.CheckedAt = m.now()
	next := m.status
	m.mu.Unlock()

	m.emitTransitions(prev, next)
}

// emitTransitions compares snapshots and dispatches the corresponding
// events, including the sync-ready edge.
func (m *Monitor) emitTransitions(prev, next domain.NetworkStatus) {
	if !prev.Connected && next.Connected {
		m.logger.Info("network connected", zap.String("link", string(next.Link)))
		m.dispatcher.Dispatch(event.NewConnected(next))
	}
	if prev.Connected && !next.Connected {
		m.logger.Info("network disconnected")
		m.dispatcher.Dispatch(event.NewDisconnected())
	}
	if prev.Connected && next.Connected && prev.Quality != next.Quality {
		m.dispatcher.Dispatch(event.NewQualityChanged(prev.Quality, next.Quality))
	}
	if prev != next {
		m.dispatcher.Dispatch(event.NewNetworkStatusChanged(next))
	}

	m.mu.Lock()
	syncOK := m.canSyncLocked()
	wasOK := m.wasSyncOK
	m.wasSyncOK = syncOK
	m.mu.Unlock()

	if syncOK && !wasOK {
		m.logger.Info("sync gate opened", zap.String("quality", next.Quality.Name()))
		m.dispatcher.Dispatch(event.NewSyncReady(next))
	}
}

// classifyQuality derives usable quality from link type and signal.
func classifyQuality(link LinkState) domain.Quality {
	if !link.Connected {
		return domain.QualityOffline
	}

	weak := link.SignalStrength >= 0 && link.SignalStrength < 25

	switch link.Type {
	case domain.LinkEthernet:
		return domain.QualityExcellent
	case domain.LinkWiFi:
		if weak {
			return domain.QualityPoor
		}
		return domain.QualityGood
	case domain.LinkCellular:
		if weak {
			return domain.QualityPoor
		}
		switch link.Generation {
		case "5g":
			return domain.QualityExcellent
		case "4g":
			return domain.QualityGood
		case "3g":
			return domain.QualityFair
		case "2g":
			return domain.QualityPoor
		default:
			return domain.QualityFair
		}
	default:
		return domain.QualityFair
	}
}
