package svcstate

import "testing"

func TestCanAdvancePending_RequiresHealthyWhenProbeConfigured(t *testing.T) {
	deps := map[string]State{"db": Running}
	probes := map[string]bool{"db": true}
	if CanAdvancePending(deps, probes) {
		t.Fatal("a probed dependency stuck at Running must not allow advance")
	}

	deps["db"] = Healthy
	if !CanAdvancePending(deps, probes) {
		t.Fatal("a Healthy probed dependency must allow advance")
	}
}

func TestCanAdvancePending_RunningSufficesWithoutProbe(t *testing.T) {
	deps := map[string]State{"cache": Running}
	probes := map[string]bool{"cache": false}
	if !CanAdvancePending(deps, probes) {
		t.Fatal("an unprobed dependency at Running should satisfy §3's (or Running if no health check) clause")
	}
}

func TestCanAdvancePending_EmptyDepsAlwaysTrue(t *testing.T) {
	if !CanAdvancePending(nil, nil) {
		t.Fatal("a service with no dependencies must always be eligible")
	}
}

func TestIsRunningLike(t *testing.T) {
	for _, st := range []State{Running, Healthy, Stopping, ScheduledRunning} {
		if !st.IsRunningLike() {
			t.Errorf("%s should be running-like", st)
		}
	}
	for _, st := range []State{Pending, Starting, Stopped, Failed, Backoff, ScheduledIdle} {
		if st.IsRunningLike() {
			t.Errorf("%s should not be running-like", st)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !Stopped.Terminal() {
		t.Fatal("Stopped must be terminal")
	}
	if Failed.Terminal() {
		t.Fatal("Failed is not terminal: restart policy may still act on it")
	}
}
