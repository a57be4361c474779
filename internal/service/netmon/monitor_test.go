package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/domain/event"
)

// recordingDispatcher captures dispatched event names for assertions
type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDispatcher) Dispatch(e event.DomainEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e.EventName())
}

func (d *recordingDispatcher) Subscribe(event.EventHandler)   {}
func (d *recordingDispatcher) Unsubscribe(event.EventHandler) {}

func (d *recordingDispatcher) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e == name {
			n++
		}
	}
	return n
}

func TestClassifyQuality(t *testing.T) {
	tests := []struct {
		name string
		link LinkState
		want domain.Quality
	}{
		{"disconnected", LinkState{}, domain.QualityOffline},
		{"ethernet", LinkState{Connected: true, Type: domain.LinkEthernet, SignalStrength: -1}, domain.QualityExcellent},
		{"wifi strong", LinkState{Connected: true, Type: domain.LinkWiFi, SignalStrength: 80}, domain.QualityGood},
		{"wifi weak", LinkState{Connected: true, Type: domain.LinkWiFi, SignalStrength: 10}, domain.QualityPoor},
		{"wifi unknown signal", LinkState{Connected: true, Type: domain.LinkWiFi, SignalStrength: -1}, domain.QualityGood},
		{"5g", LinkState{Connected: true, Type: domain.LinkCellular, Generation: "5g", SignalStrength: 90}, domain.QualityExcellent},
		{"4g", LinkState{Connected: true, Type: domain.LinkCellular, Generation: "4g", SignalStrength: 70}, domain.QualityGood},
		{"3g", LinkState{Connected: true, Type: domain.LinkCellular, Generation: "3g", SignalStrength: 70}, domain.QualityFair},
		{"2g", LinkState{Connected: true, Type: domain.LinkCellular, Generation: "2g", SignalStrength: 70}, domain.QualityPoor},
		{"weak cellular overrides generation", LinkState{Connected: true, Type: domain.LinkCellular, Generation: "5g", SignalStrength: 5}, domain.QualityPoor},
		{"unknown cellular generation", LinkState{Connected: true, Type: domain.LinkCellular, SignalStrength: 70}, domain.QualityFair},
		{"unknown link", LinkState{Connected: true, Type: domain.LinkUnknown, SignalStrength: -1}, domain.QualityFair},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyQuality(tt.link); got != tt.want {
				t.Errorf("classifyQuality() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_CanSync(t *testing.T) {
	tests := []struct {
		name       string
		wifiOnly   bool
		minQuality domain.Quality
		link       LinkState
		reachable  bool
		want       bool
	}{
		{
			name:       "wifi connected and reachable",
			minQuality: domain.QualityFair,
			link:       LinkState{Connected: true, Type: domain.LinkWiFi, SignalStrength: 80},
			reachable:  true,
			want:       true,
		},
		{
			name:       "disconnected",
			minQuality: domain.QualityFair,
			link:       LinkState{},
			want:       false,
		},
		{
			name:       "connected but unreachable",
			minQuality: domain.QualityFair,
			link:       LinkState{Connected: true, Type: domain.LinkWiFi, SignalStrength: 80},
			reachable:  false,
			want:       false,
		},
		{
			name:       "wifi only blocks cellular",
			wifiOnly:   true,
			minQuality: domain.QualityFair,
			link:       LinkState{Connected: true, Type: domain.LinkCellular, Generation: "5g", SignalStrength: 90},
			reachable:  true,
			want:       false,
		},
		{
			name:       "wifi only permits ethernet",
			wifiOnly:   true,
			minQuality: domain.QualityFair,
			link:       LinkState{Connected: true, Type: domain.LinkEthernet, SignalStrength: -1},
			reachable:  true,
			want:       true,
		},
		{
			name:       "quality below minimum",
			minQuality: domain.QualityGood,
			link:       LinkState{Connected: true, Type: domain.LinkCellular, Generation: "3g", SignalStrength: 70},
			reachable:  true,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(&Config{WifiOnly: tt.wifiOnly, MinQuality: tt.minQuality}, event.NewNullDispatcher(), zap.NewNop())
			m.SetLinkState(tt.link)
			m.wg.Wait()

			// Force reachability directly; the async probe is covered
			// elsewhere.
			m.mu.Lock()
			m.status.InternetReachable = tt.reachable && m.status.Connected
			m.mu.Unlock()

			if got := m.CanSync(); got != tt.want {
				t.Errorf("CanSync() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_TransitionEvents(t *testing.T) {
	d := &recordingDispatcher{}
	m := New(&Config{MinQuality: domain.QualityFair, ProbeBackoffBase: 1, MaxProbeRetries: 1}, d, zap.NewNop())

	m.SetLinkState(LinkState{Connected: true, Type: domain.LinkWiFi, SignalStrength: 80})
	m.wg.Wait()

	if d.count("network.connected") != 1 {
		t.Errorf("connected events = %d, want 1", d.count("network.connected"))
	}
	// No probe URL configured: reachability confirmed immediately, which
	// opens the sync gate exactly once.
	if d.count("network.sync_ready") != 1 {
		t.Errorf("sync_ready events = %d, want 1", d.count("network.sync_ready"))
	}

	// Quality change while staying connected.
	m.SetLinkState(LinkState{Connected: true, Type: domain.LinkWiFi, SignalStrength: 10})
	if d.count("network.quality_changed") != 1 {
		t.Errorf("quality_changed events = %d, want 1", d.count("network.quality_changed"))
	}

	// Going offline.
	m.SetLinkState(LinkState{})
	m.wg.Wait()
	if d.count("network.disconnected") != 1 {
		t.Errorf("disconnected events = %d, want 1", d.count("network.disconnected"))
	}

	status := m.GetStatus()
	if status.Connected || status.InternetReachable {
		t.Errorf("offline status = %+v, want disconnected and unreachable", status)
	}
	if status.Link != domain.LinkNone {
		t.Errorf("offline link = %v, want none", status.Link)
	}
}

func TestMonitor_ProbeAgainstServer(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"healthy endpoint", http.StatusNoContent, true},
		{"client error still proves reachability", http.StatusNotFound, true},
		{"server error", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("probe method = %s, want HEAD", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			m := New(&Config{ProbeURL: srv.URL}, event.NewNullDispatcher(), zap.NewNop())
			if got := m.probe(context.Background()); got != tt.want {
				t.Errorf("probe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_ProbeUnreachableHost(t *testing.T) {
	m := New(&Config{ProbeURL: "http://127.0.0.1:1"}, event.NewNullDispatcher(), zap.NewNop())
	if m.probe(context.Background()) {
		t.Error("probe of unreachable host should fail")
	}
}

func TestMonitor_SetWifiOnlyClosesGate(t *testing.T) {
	d := &recordingDispatcher{}
	m := New(&Config{MinQuality: domain.QualityFair}, d, zap.NewNop())

	m.SetLinkState(LinkState{Connected: true, Type: domain.LinkCellular, Generation: "4g", SignalStrength: 80})
	m.wg.Wait()
	if !m.CanSync() {
		t.Fatal("cellular sync should be allowed before restriction")
	}

	m.SetWifiOnly(true)
	if m.CanSync() {
		t.Error("wifi-only restriction should close the gate on cellular")
	}

	// Lifting the restriction re-opens the gate and re-fires the edge.
	before := d.count("network.sync_ready")
	m.SetWifiOnly(false)
	if !m.CanSync() {
		t.Error("gate should re-open once the restriction is lifted")
	}
	if d.count("network.sync_ready") != before+1 {
		t.Error("re-opened gate should emit a sync_ready edge")
	}
}
