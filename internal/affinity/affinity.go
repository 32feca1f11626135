// Package affinity pins a poller goroutine's OS thread to a CPU and gives
// it a short, ps/top-visible name, generalized from the thread setup done in
// original_source/sources/thread.cc (pthread_setname_np on thread entry) and
// ZLToolKit's ThreadPool (setThreadAffinity/setThreadName in _on_setup,
// original_source/ZLToolKit/src/Thread/ThreadPool.h). The caller must already
// hold the OS thread via runtime.LockOSThread before calling either
// function, since both act on "the calling thread".
package affinity

// SetName sets the OS-visible name of the calling thread, truncated to the
// platform limit. Best effort: errors are not actionable for a poller loop.
func SetName(name string) {
	setName(name)
}

// Pin binds the calling thread to a single CPU, indexed modulo the number
// of CPUs visible to the process. Best effort, same rationale as SetName.
func Pin(index int) {
	pin(index)
}
