//go:build linux

package affinity

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

func setName(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	buf := append([]byte(name), 0)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}

func pin(index int) {
	n := runtime.NumCPU()
	if n <= 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(index % n)
	_ = unix.SchedSetaffinity(0, &set)
}
