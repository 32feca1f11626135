//go:build linux

package bufferlist

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/nexuscore/netcore/internal/netutil"
	"github.com/nexuscore/netcore/metrics"
)

func sendto(fd int, data []byte, sa unix.Sockaddr) error {
	return unix.Sendto(fd, data, 0, sa)
}

// sendBatch flushes pending datagrams with sendmmsg. Messages whose
// sockaddr can't be built are skipped; if sendmmsg fails outright, every
// remaining message is retried with its own sendto.
func sendBatch(fd int, laddr net.Addr, pending []Message) (int, error) {
	hdrs := make([]unix.Mmsghdr, 0, len(pending))
	iovs := make([]unix.Iovec, len(pending))
	names := make([][]byte, len(pending))
	idx := make([]int, 0, len(pending))

	for i, m := range pending {
		sa, err := netutil.AddrToSockAddr(laddr, m.Addr)
		if err != nil {
			continue
		}
		rsa, salen, err := sockaddrToRaw(sa)
		if err != nil {
			continue
		}
		if len(m.Data) > 0 {
			iovs[i].Base = &m.Data[0]
		}
		iovs[i].SetLen(len(m.Data))
		names[i] = rsa

		var h unix.Mmsghdr
		h.Hdr.Iov = &iovs[i]
		h.Hdr.Iovlen = 1
		if len(rsa) > 0 {
			h.Hdr.Name = (*byte)(ptr(&names[i][0]))
			h.Hdr.Namelen = salen
		}
		hdrs = append(hdrs, h)
		idx = append(idx, i)
	}
	if len(hdrs) == 0 {
		return 0, nil
	}
	metrics.Add(metrics.UDPSendMMsgCalls, 1)
	n, err := unix.SendmmsgWithFlags(fd, hdrs, 0)
	if err != nil {
		metrics.Add(metrics.UDPSendMMsgFails, 1)
		// Fall back to per-message sends for whatever sendmmsg rejected
		// outright, so one bad destination doesn't stall the whole batch.
		sent := 0
		for _, i := range idx {
			if sendToOne(fd, laddr, pending[i]) == nil {
				sent++
			}
		}
		return sent, nil
	}
	metrics.Add(metrics.UDPSendMMsgPackets, uint64(n))
	return n, nil
}
