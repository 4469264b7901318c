package core

import "sync"

// fakeTransport is an in-memory core.Transport double wiring a small set of
// named nodes together, for round-engine and dispatcher tests that would
// otherwise need real sockets.
type fakeTransport struct {
	mu    sync.Mutex
	own   MAC
	level uint8
	peers []PeerInfo
	cb    func(src MAC, data []byte)

	mesh map[MAC]*fakeTransport

	sent []sentMsg
}

type sentMsg struct {
	dest MAC
	data []byte
}

func newFakeMesh(nodes ...MAC) map[MAC]*fakeTransport {
	mesh := make(map[MAC]*fakeTransport, len(nodes))
	for _, n := range nodes {
		mesh[n] = &fakeTransport{own: n, mesh: mesh}
	}
	for _, t := range mesh {
		for _, n := range nodes {
			if n != t.own {
				t.peers = append(t.peers, PeerInfo{MAC: n})
			}
		}
	}
	return mesh
}

func (t *fakeTransport) Send(dest MAC, data []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, sentMsg{dest: dest, data: data})
	t.mu.Unlock()

	if dest == BroadcastMAC {
		for mac, peer := range t.mesh {
			if mac != t.own {
				peer.deliver(t.own, data)
			}
		}
		return nil
	}
	if peer, ok := t.mesh[dest]; ok {
		peer.deliver(t.own, data)
	}
	return nil
}

func (t *fakeTransport) deliver(src MAC, data []byte) {
	t.mu.Lock()
	cb := t.cb
	t.mu.Unlock()
	if cb != nil {
		cb(src, data)
	}
}

func (t *fakeTransport) OnRecv(cb func(src MAC, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
}

func (t *fakeTransport) Peers() []PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerInfo, len(t.peers))
	copy(out, t.peers)
	return out
}

func (t *fakeTransport) OwnMAC() MAC    { return t.own }
func (t *fakeTransport) OwnLevel() uint8 { return t.level }

// fakeSensor returns fixed readings, or an error when failTemp/failHum is
// set, to exercise the round engine's degraded-read logging path.
type fakeSensor struct {
	temp, hum         float32
	failTemp, failHum bool
}

func (s *fakeSensor) ReadTemperature() (float32, error) {
	if s.failTemp {
		return 0, errSensorUnavailable
	}
	return s.temp, nil
}

func (s *fakeSensor) ReadHumidity() (float32, error) {
	if s.failHum {
		return 0, errSensorUnavailable
	}
	return s.hum, nil
}

var errSensorUnavailable = sensorErr("sensor unavailable")

type sensorErr string

func (e sensorErr) Error() string { return string(e) }
