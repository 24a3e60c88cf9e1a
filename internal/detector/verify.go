package detector

// VerifyPID reports whether pid is still alive and, when knownStartUnix is
// positive, whether the live process is still the one that started at that
// time. A mismatch means the pid has been recycled by the OS since the
// recorded process exited (spec.md §4.3 orphan-recovery: a recovered pid
// must be confirmed as "still our process", not just "some process").
func VerifyPID(pid int, knownStartUnix int64) (alive bool, reused bool) {
	if !pidAlive(pid) {
		return false, false
	}
	if knownStartUnix <= 0 {
		return true, false
	}
	cur := getProcStartUnix(pid)
	if cur > 0 && cur != knownStartUnix {
		return false, true
	}
	return true, false
}

// StartUnix returns the Unix-seconds start time of pid, or 0 if it cannot
// be determined (process gone, or the platform lookup failed).
func StartUnix(pid int) int64 {
	return getProcStartUnix(pid)
}
