//go:build !linux

package bufferlist

import (
	"net"

	"golang.org/x/sys/unix"
)

func sendto(fd int, data []byte, sa unix.Sockaddr) error {
	return unix.Sendto(fd, data, 0, sa)
}

// sendBatch has no sendmmsg equivalent outside Linux, so it sends one
// message per sendto call.
func sendBatch(fd int, laddr net.Addr, pending []Message) (int, error) {
	sent := 0
	var firstErr error
	for _, m := range pending {
		if err := sendToOne(fd, laddr, m); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}
