// Package discovery implements the optional UDP multicast
// advertiser/browser that lets a Controller find Capture hosts on the
// LAN without the operator typing in an address (§1 "Out of scope...a
// service-discovery advertiser/browser" — carried here as ambient
// infrastructure since SPEC_FULL.md wires it to a concrete component).
// Grounded on the reference agent's discovery package (worker-pool-over-
// a-shared-socket shape, structured logging via slog) but swapped from
// ICMP sweeps to periodic multicast announcements, since this is a
// zero-configuration advertise/browse problem rather than a host-liveness
// sweep.
package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// Group is the multicast group and port this engine advertises/browses
// on. Chosen from the administratively-scoped (site-local) range.
const (
	Group           = "239.192.57.1"
	Port            = 57551
	defaultInterval = 2 * time.Second
	defaultTTL      = 8
)

// Announcement is the payload an Advertiser broadcasts for a single
// Capture host.
type Announcement struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

// Advertiser periodically broadcasts an Announcement over UDP multicast,
// run by the Capture host so Controllers can find it.
type Advertiser struct {
	conn         *net.UDPConn
	pconn        *ipv4.PacketConn
	log          *slog.Logger
	announcement Announcement

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewAdvertiser opens the multicast socket and prepares to broadcast ann
// every interval (0 = defaultInterval).
func NewAdvertiser(ann Announcement, interval time.Duration, log *slog.Logger) (*Advertiser, error) {
	if interval <= 0 {
		interval = defaultInterval
	}
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", Group, Port))
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve multicast addr: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: dial multicast: %w", err)
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(defaultTTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: set multicast ttl: %w", err)
	}

	a := &Advertiser{conn: conn, pconn: pconn, log: log, announcement: ann, stop: make(chan struct{})}

	a.wg.Add(1)
	go a.loop(interval)
	return a, nil
}

func (a *Advertiser) loop(interval time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.send()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.send()
		}
	}
}

func (a *Advertiser) send() {
	payload, err := json.Marshal(a.announcement)
	if err != nil {
		a.log.Warn("discovery: marshal announcement failed", "error", err)
		return
	}
	if _, err := a.conn.Write(payload); err != nil {
		a.log.Warn("discovery: send announcement failed", "error", err)
	}
}

// Stop halts the advertiser and closes its socket. Idempotent.
func (a *Advertiser) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		a.wg.Wait()
		_ = a.conn.Close()
	})
}

// Browser listens for Advertiser announcements on the LAN.
type Browser struct {
	conn *net.UDPConn
	log  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewBrowser opens the multicast listening socket. onFound is called from
// an internal goroutine for every announcement received from peer, which
// carries the advertiser's source IP (the address to dial).
func NewBrowser(log *slog.Logger, onFound func(peer net.IP, ann Announcement)) (*Browser, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve listen addr: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen multicast: %w", err)
	}
	conn.SetReadBuffer(1 << 16)

	b := &Browser{conn: conn, log: log, stop: make(chan struct{})}
	b.wg.Add(1)
	go b.loop(onFound)
	return b, nil
}

func (b *Browser) loop(onFound func(net.IP, Announcement)) {
	defer b.wg.Done()
	buf := make([]byte, 2048)
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, peer, err := b.conn.ReadFromUDP(buf)
		select {
		case <-b.stop:
			return
		default:
		}
		if err != nil {
			continue
		}
		var ann Announcement
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			b.log.Debug("discovery: malformed announcement", "error", err, "peer", peer.IP)
			continue
		}
		onFound(peer.IP, ann)
	}
}

// Stop halts the browser and closes its socket. Idempotent.
func (b *Browser) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		_ = b.conn.Close()
		b.wg.Wait()
	})
}
