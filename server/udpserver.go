package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	goreuseport "github.com/kavu/go_reuseport"

	"github.com/nexuscore/netcore"
	"github.com/nexuscore/netcore/config"
	"github.com/nexuscore/netcore/internal/gettid"
	ipoller "github.com/nexuscore/netcore/internal/poller"
	"github.com/nexuscore/netcore/internal/rmutex"
	"github.com/nexuscore/netcore/log"
	"github.com/nexuscore/netcore/poller"
	"github.com/nexuscore/netcore/socket"
	"github.com/nexuscore/netcore/tlsbox"
)

const peerRemovalDelay = 3 * time.Second

// peerID is spec.md §4.6's normalized 18-byte (port[2] |
// ipv6-mapped-address[16]) tuple, IPv4 addresses embedded via the
// ::ffff:0:0/96 mapping so both families share one hash space.
type peerID [18]byte

func encodePeerID(addr net.Addr) (peerID, error) {
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		return peerID{}, fmt.Errorf("udp peer id: unexpected addr type %T", addr)
	}
	var id peerID
	binary.BigEndian.PutUint16(id[0:2], uint16(ua.Port))
	ip := ua.IP.To16()
	if ip == nil {
		if v4 := ua.IP.To4(); v4 != nil {
			ip = append(append(net.IP{}, net.IPv6unspecified[:10]...), 0xff, 0xff, v4[0], v4[1], v4[2], v4[3])
		} else {
			ip = net.IPv6zero
		}
	}
	copy(id[2:], ip)
	return id, nil
}

// udpPeer is the shared map's value: the SessionHelper for a peer and the
// EventPoller its Session lives on.
type udpPeer struct {
	helper *SessionHelper
	owner  *poller.EventPoller
}

// UDPServer generalizes the teacher's udpservice.go (one shared handler,
// no peer identity) into spec.md §4.6's per-peer virtual-session demux:
// every poller-affine clone shares one process-wide peer-id -> SessionHelper
// map guarded by a recursive mutex (internal/rmutex, **[ADD]** since the
// owning poller's own goroutine may re-enter the map while delivering a
// just-created peer's first datagram, and Go's sync.Mutex is not
// re-entrant).
type UDPServer struct {
	opts    serverOptions
	factory Factory
	svc     netcore.Service
	clones  []*udpClone
	cancel  context.CancelFunc

	mu    *rmutex.RMutex
	peers map[peerID]*udpPeer
}

type udpClone struct {
	conn netcore.PacketConn
	fd   int

	once  sync.Once
	owner atomic.Value // *poller.EventPoller
}

// captureOwner records the EventPoller this clone's handler executes on,
// which is exactly poller.Current() the first time the reactor invokes it
// (handlers run synchronously on their owning poller's goroutine). Must
// only ever be called from within that clone's own onPacket invocation —
// calling it from another clone's goroutine would wrongly attribute that
// goroutine's poller.
func (c *udpClone) captureOwner() *poller.EventPoller {
	c.once.Do(func() { c.owner.Store(poller.Current()) })
	return c.knownOwner()
}

// knownOwner returns the already-captured owner, or nil if this clone's
// handler has not yet run at least once. Safe to call from any goroutine.
func (c *udpClone) knownOwner() *poller.EventPoller {
	ep, _ := c.owner.Load().(*poller.EventPoller)
	return ep
}

// NewUDPServer opens one SO_REUSEPORT datagram socket per poller (or
// numClones from WithPollerClones) listening on address, generalizing the
// teacher's listenUDP multi-listener pattern.
func NewUDPServer(address string, factory Factory, opt ...Option) (*UDPServer, error) {
	o := defaultOptions()
	for _, f := range opt {
		f(&o)
	}
	n := o.pollers
	if n <= 0 {
		n = ipoller.NumPollers()
	}
	s := &UDPServer{
		opts:    o,
		factory: factory,
		mu:      rmutex.New(),
		peers:   make(map[peerID]*udpPeer),
	}
	var lns []netcore.PacketConn
	for i := 0; i < n; i++ {
		raw, err := goreuseport.ListenPacket("udp", address)
		if err != nil {
			return nil, fmt.Errorf("udp server listen clone %d: %w", i, err)
		}
		pc, err := netcore.NewPacketConn(raw)
		if err != nil {
			return nil, fmt.Errorf("udp server wrap clone %d: %w", i, err)
		}
		fdOf, ok := pc.(interface{ FD() int })
		if !ok {
			return nil, fmt.Errorf("udp server clone %d: packet conn exposes no FD()", i)
		}
		address = pc.LocalAddr().String()
		clone := &udpClone{conn: pc, fd: fdOf.FD()}
		s.clones = append(s.clones, clone)
		lns = append(lns, pc)
	}
	svc, err := netcore.NewUDPService(lns, s.onPacket)
	if err != nil {
		return nil, fmt.Errorf("udp server service: %w", err)
	}
	s.svc = svc
	return s, nil
}

// Config implements Server.
func (s *UDPServer) Config() *config.Config { return s.opts.cfg }

// TLSBox implements Server.
func (s *UDPServer) TLSBox() tlsbox.Box { return s.opts.tls }

// Serve runs the UDP service until ctx is cancelled.
func (s *UDPServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	return s.svc.Serve(ctx)
}

// Close stops the UDP service.
func (s *UDPServer) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// onPacket is the netcore.UDPHandler shared by every clone's socket, one
// invocation per available datagram (the reactor's udpAsyncHandler/
// udpSyncHandle loop already calls this repeatedly while conn.Len() > 0).
// It implements spec.md §4.6's packet flow: direct delivery on the owning
// poller, a cross-poller async post, or first-contact Session creation.
func (s *UDPServer) onPacket(conn netcore.PacketConn) error {
	clone := s.cloneFor(conn)
	pkt, addr, err := conn.ReadPacket()
	if err != nil {
		return nil
	}
	defer pkt.Free()
	data, err := pkt.Data()
	if err != nil {
		return nil
	}
	// ReadPacket's zero-copy buffer is invalid once Free runs above; copy
	// out before any cross-poller hand-off or session construction.
	buf := append([]byte(nil), data...)

	id, err := encodePeerID(addr)
	if err != nil {
		log.Errorf("udp server: %v", err)
		return nil
	}

	owner := clone.captureOwner()
	peer := s.lookupOrCreate(id, addr, clone, owner)
	if peer == nil {
		return nil
	}
	s.route(peer, buf)
	return nil
}

func (s *UDPServer) cloneFor(conn netcore.PacketConn) *udpClone {
	for _, c := range s.clones {
		if c.conn == conn {
			return c
		}
	}
	// Single-listener (WithPollerClones(1)) degenerates to the only clone.
	return s.clones[0]
}

// lookupOrCreate resolves id's SessionHelper under the shared recursive
// mutex, holding it across the lookup, the least-loaded pick and the
// insert, so at most one helper per peer id is ever created.
func (s *UDPServer) lookupOrCreate(id peerID, addr net.Addr, arrivalClone *udpClone, localPoller *poller.EventPoller) *udpPeer {
	owner := gettid.Current()
	s.mu.Lock(owner)
	defer s.mu.Unlock(owner)

	if peer, ok := s.peers[id]; ok {
		return peer
	}

	chosen := s.pickLeastLoaded(localPoller)
	sock := socket.NewUDP(arrivalClone.fd, arrivalClone.conn.LocalAddr(), chosen, s.opts.maxSendBufferDelay)
	sock.BindPeer(addr)
	helper := newSessionHelper(sock, arrivalClone.fd, s.opts.cfg, s.opts.tls)
	helper.session = s.factory(helper)
	peer := &udpPeer{helper: helper, owner: chosen}
	// A write-path failure (Send's bufferlist.Flush erroring, or a stalled
	// send queue past max_send_buffer_ms) only surfaces through the
	// Socket's own on_err callback, since this peer's writes never pass
	// through onPacket/route; wire it back into the same failPeer path a
	// bad read takes so both ends of the peer's lifecycle converge.
	sock.SetOnErr(func(err error) { s.failPeer(peer, err) })
	s.peers[id] = peer
	return peer
}

// pickLeastLoaded chooses the clone's own poller with the smallest Load
// among every clone whose owner has already been captured, falling back
// to localPoller (the datagram's arrival poller) before any others have
// run. Generalizes ZLToolKit's least-loaded peer-socket placement.
func (s *UDPServer) pickLeastLoaded(localPoller *poller.EventPoller) *poller.EventPoller {
	best := localPoller
	bestLoad := -1
	if best != nil {
		bestLoad = best.Load()
	}
	for _, c := range s.clones {
		ep := c.knownOwner()
		if ep == nil {
			continue
		}
		if bestLoad < 0 || ep.Load() < bestLoad {
			best = ep
			bestLoad = ep.Load()
		}
	}
	return best
}

// route delivers buf to peer's Session, either directly (the calling
// goroutine is already running on peer's owning poller) or via an async
// post to that poller. peer.owner.IsCurrent() compares the underlying
// EventPoller identity, not the *EventPoller wrapper pointer (a fresh
// wrapper is allocated on every poller.Current()/captureOwner() call, so
// wrapper-pointer equality would never match even for the same poller).
func (s *UDPServer) route(peer *udpPeer, buf []byte) {
	deliver := func() error {
		if err := peer.helper.deliver(buf); err != nil {
			s.failPeer(peer, err)
		}
		return nil
	}
	if peer.owner == nil || peer.owner.IsCurrent() {
		_ = deliver()
		return
	}
	if err := peer.owner.Async(deliver); err != nil {
		log.Errorf("udp server: posting to owning poller: %v", err)
	}
}

// failPeer marks the session errored and schedules its 3-second delayed
// removal from the shared map per spec.md §4.6, so a rapidly re-appearing
// peer doesn't thrash session creation in the meantime.
func (s *UDPServer) failPeer(peer *udpPeer, err error) {
	peer.helper.fail(err)
	ep := peer.owner
	if ep == nil {
		ep = poller.Current()
	}
	if ep == nil {
		s.removePeerByHelper(peer.helper)
		return
	}
	ep.DoDelayTask(peerRemovalDelay, func() {
		s.removePeerByHelper(peer.helper)
	})
}

func (s *UDPServer) removePeerByHelper(h *SessionHelper) {
	owner := gettid.Current()
	s.mu.Lock(owner)
	defer s.mu.Unlock(owner)
	for id, peer := range s.peers {
		if peer.helper == h {
			delete(s.peers, id)
			return
		}
	}
}
