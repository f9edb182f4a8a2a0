package supervisor

import (
	"os"
	"syscall"
)

// IsAlive probes pid using POSIX kill(pid, 0) semantics: no signal is sent,
// only existence and permission are checked. An ambiguous result (EPERM —
// the pid exists but belongs to another user) counts as alive: never kill
// a healthy worker because the probe couldn't decide.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}
