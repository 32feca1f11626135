package bufferlist

import (
	"net"

	"github.com/nexuscore/netcore/internal/netutil"
	"github.com/nexuscore/netcore/metrics"
)

// dgramList batches outbound datagrams, flushed via sendmmsg where the
// platform provides it and via one sendto per message otherwise.
type dgramList struct {
	pending []Message
}

func newDgramList() *dgramList {
	return &dgramList{}
}

func (l *dgramList) Push(m Message) {
	l.pending = append(l.pending, m)
}

func (l *dgramList) Len() int { return len(l.pending) }

func (l *dgramList) Reset() {
	l.pending = l.pending[:0]
}

// Flush sends every pending datagram. UDP sends are all-or-nothing per
// message (no partial-write resumption like TCP), so Flush always drains
// the whole batch, reporting the count that sent successfully.
func (l *dgramList) Flush(fd int, laddr net.Addr) (int, error) {
	if len(l.pending) == 0 {
		return 0, nil
	}
	n, err := sendBatch(fd, laddr, l.pending)
	l.pending = l.pending[:0]
	return n, err
}

func sendToOne(fd int, laddr net.Addr, m Message) error {
	sa, err := netutil.AddrToSockAddr(laddr, m.Addr)
	if err != nil {
		metrics.Add(metrics.UDPWriteToFails, 1)
		return err
	}
	metrics.Add(metrics.UDPWriteToCalls, 1)
	if err := sendto(fd, m.Data, sa); err != nil {
		metrics.Add(metrics.UDPWriteToFails, 1)
		return err
	}
	return nil
}
