package plogwatch

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// fullStats is a reply carrying every field of the default schema.
const fullStats = `{
	"uptime": 10,
	"exceptions": 2,
	"unhandled_objects": 0,
	"udp_simple_messages": 120,
	"udp_invalid_version": 1,
	"unknown_command": 3,
	"holes_from_dead_port": 0,
	"holes_from_new_message": 2,
	"v0_invalid_checksum": [0, 1],
	"v0_fragments": [1, 2, 3],
	"dropped_fragments": [[1, 1], [2]],
	"v0_invalid_fragments": [[0], [1, 0]],
	"cache": {"evictions": 1, "hits": 5, "misses": 2},
	"kafka": {
		"messageRate": {"rate": [9.0, 8.0]},
		"droppedMessageRate": {"rate": [0.5]},
		"byteRate": {"rate": [1024]},
		"resendRate": {"rate": [0]},
		"failedSendRate": {"rate": [0]},
		"serializationErrorRate": {"rate": [0]}
	},
	"handlers": [
		{"name": "h1", "processed": 4},
		{"name": "h2", "queue": {"depth": 3, "latency": [1, 2]}, "state": "up"}
	]
}`

//
// Reporters
//

type recordingReporter struct {
	mu      sync.Mutex
	samples []MetricSample
}

func (r *recordingReporter) Gauge(name string, value float64, tags []string) {
	r.record(name, value, Gauge, tags)
}

func (r *recordingReporter) Rate(name string, value float64, tags []string) {
	r.record(name, value, Rate, tags)
}

func (r *recordingReporter) record(name string, value float64, kind MetricKind, tags []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, MetricSample{Name: name, Value: value, Kind: kind, Tags: tags})
}

func (r *recordingReporter) Samples() []MetricSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MetricSample(nil), r.samples...)
}

func (r *recordingReporter) find(name string) (MetricSample, bool) {
	for _, s := range r.Samples() {
		if s.Name == name {
			return s, true
		}
	}
	return MetricSample{}, false
}

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

//
// UDP doubles
//

// statsServer answers every stats request with reply. A nil reply makes it silent. When stray is
// set, a second socket sends it to the client before the real reply goes out.
type statsServer struct {
	conn     *net.UDPConn
	reply    []byte
	stray    []byte
	delay    time.Duration
	requests atomic.Int64

	mu       sync.Mutex
	payloads [][]byte
}

func newStatsServer(t *testing.T, reply []byte) *statsServer {
	t.Helper()
	return startStatsServer(t, &statsServer{reply: reply})
}

func startStatsServer(t *testing.T, s *statsServer) *statsServer {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err, "listen")
	s.conn = conn
	t.Cleanup(func() { _ = conn.Close() })

	go s.serve()
	return s
}

func (s *statsServer) serve() {
	buf := make([]byte, 2048)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		s.requests.Inc()
		s.mu.Lock()
		s.payloads = append(s.payloads, append([]byte(nil), buf[:n]...))
		s.mu.Unlock()

		if s.stray != nil {
			sendFrom(from, s.stray)
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		if s.reply != nil {
			_, _ = s.conn.WriteToUDPAddrPort(s.reply, from)
		}
	}
}

func (s *statsServer) port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *statsServer) lastPayload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) == 0 {
		return nil
	}
	return s.payloads[len(s.payloads)-1]
}

// sendFrom sends payload to dst from a fresh socket.
func sendFrom(dst netip.AddrPort, payload []byte) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.WriteToUDPAddrPort(payload, dst)
}

// testInstance targets a local test server with the settings of the end-to-end scenario.
func testInstance(port int) Instance {
	inst := NewInstance()
	inst.Port = port
	inst.Timeout = 1
	inst.Prefix = ptr("p.")
	inst.Tags = []string{"env:test"}
	return inst
}

//
// Sink
//

type stubMetricsSink struct {
	pollCh  chan PollMetrics
	eventCh chan string
}

func newStubMetricsSink() *stubMetricsSink {
	return &stubMetricsSink{
		pollCh:  make(chan PollMetrics, 16),
		eventCh: make(chan string, 16),
	}
}

func (s *stubMetricsSink) ObservePoll(m PollMetrics) {
	select {
	case s.pollCh <- m:
	default:
	}
}

func (s *stubMetricsSink) ObserveEvent(name string, _ map[string]any) {
	select {
	case s.eventCh <- name:
	default:
	}
}
