// Package udp is a reference core.Transport over UDP broadcast, used only
// by cmd/meshnode and integration tests. core never imports this package
// (spec.md §1, §6): it only ever sees the core.Transport interface.
package udp

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"meshchain/core"
)

// Transport implements core.Transport over a single UDP socket, treating
// core.BroadcastMAC as the configured broadcast address and every other
// peer as a known MAC-to-address mapping registered via AddPeer. New starts
// with an empty peer table.
type Transport struct {
	logger *logrus.Logger

	conn      *net.UDPConn
	broadcast *net.UDPAddr

	ownMAC   core.MAC
	ownLevel uint8

	mu    sync.RWMutex
	peers map[core.MAC]*peerEntry

	cbMu sync.RWMutex
	cb   func(src core.MAC, data []byte)
}

type peerEntry struct {
	addr  *net.UDPAddr
	level uint8
}

// New binds a UDP socket at listenAddr and prepares to broadcast to
// broadcastAddr. ownMAC identifies this node on the wire; ownLevel is its
// static hop distance from the mesh root for this reference implementation.
func New(listenAddr, broadcastAddr string, ownMAC core.MAC, ownLevel uint8, logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	laddr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return nil, err
	}
	baddr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		logger:    logger,
		conn:      conn,
		broadcast: baddr,
		ownMAC:    ownMAC,
		ownLevel:  ownLevel,
		peers:     make(map[core.MAC]*peerEntry),
	}
	go t.readLoop()
	return t, nil
}

// AddPeer registers addr as the UDP endpoint for mac, so unicast Sends can
// reach it.
func (t *Transport) AddPeer(mac core.MAC, addr string, level uint8) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[mac] = &peerEntry{addr: udpAddr, level: level}
	return nil
}

// Send implements core.Transport.
func (t *Transport) Send(dest core.MAC, data []byte) error {
	if dest == core.BroadcastMAC {
		_, err := t.conn.WriteToUDP(data, t.broadcast)
		return err
	}
	t.mu.RLock()
	entry, ok := t.peers[dest]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	_, err := t.conn.WriteToUDP(data, entry.addr)
	return err
}

// OnRecv implements core.Transport.
func (t *Transport) OnRecv(cb func(src core.MAC, data []byte)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.cb = cb
}

// Peers implements core.Transport.
func (t *Transport) Peers() []core.PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.PeerInfo, 0, len(t.peers))
	for mac, entry := range t.peers {
		out = append(out, core.PeerInfo{MAC: mac, Level: entry.level})
	}
	return out
}

// OwnMAC implements core.Transport.
func (t *Transport) OwnMAC() core.MAC { return t.ownMAC }

// OwnLevel implements core.Transport.
func (t *Transport) OwnLevel() uint8 { return t.ownLevel }

// Close releases the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		t.cbMu.RLock()
		cb := t.cb
		t.cbMu.RUnlock()
		if cb == nil || n == 0 {
			continue
		}
		src, ok := t.macForAddr(addr)
		if !ok {
			t.logger.WithField("addr", addr).Debug("udp: datagram from unregistered peer, dropped")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		cb(src, data)
	}
}

// macForAddr resolves a UDP source address back to the MAC it was
// registered under via AddPeer. A UDP socket carries no link-layer
// identity of its own, so this reference transport relies entirely on the
// peer table built up by AddPeer.
func (t *Transport) macForAddr(addr *net.UDPAddr) (core.MAC, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for mac, entry := range t.peers {
		if entry.addr.IP.Equal(addr.IP) && entry.addr.Port == addr.Port {
			return mac, true
		}
	}
	return core.MAC{}, false
}
