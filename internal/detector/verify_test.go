package detector

import (
	"os/exec"
	"testing"
	"time"
)

// startSleep starts `sleep secs` as a child of the test process.
func startSleep(secs string) (*exec.Cmd, error) {
	cmd := exec.Command("sleep", secs)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func TestVerifyPID_DeadPID(t *testing.T) {
	requireUnix(t)
	cmd, err := startSleep("1")
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	_ = cmd.Wait()
	time.Sleep(20 * time.Millisecond)

	alive, reused := VerifyPID(pid, 0)
	if alive {
		t.Fatalf("expected dead pid to report not alive")
	}
	if reused {
		t.Fatalf("a dead pid is not a reuse mismatch, it is simply gone")
	}
}

func TestVerifyPID_NoKnownStartSkipsReuseCheck(t *testing.T) {
	requireUnix(t)
	cmd, err := startSleep("1")
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() { _ = cmd.Process.Kill() }()
	pid := cmd.Process.Pid
	time.Sleep(20 * time.Millisecond)

	alive, reused := VerifyPID(pid, 0)
	if !alive {
		t.Fatalf("expected live pid with no known start time to verify alive")
	}
	if reused {
		t.Fatalf("reuse must never be reported when the caller supplied no known start time")
	}
}

func TestVerifyPID_StartMismatchReportsReuse(t *testing.T) {
	requireUnix(t)
	cmd, err := startSleep("2")
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() { _ = cmd.Process.Kill() }()
	pid := cmd.Process.Pid
	time.Sleep(20 * time.Millisecond)

	start := getProcStartUnix(pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}

	alive, reused := VerifyPID(pid, start+12345)
	if alive {
		t.Fatalf("expected mismatched start time to report not alive")
	}
	if !reused {
		t.Fatalf("expected mismatched start time to be reported as a pid reuse")
	}
}

func TestStartUnix_DeadPIDReturnsZero(t *testing.T) {
	requireUnix(t)
	cmd, err := startSleep("1")
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	_ = cmd.Wait()

	if got := StartUnix(pid + 1_000_000); got != 0 {
		t.Fatalf("expected 0 for a pid unlikely to exist, got %d", got)
	}
}
