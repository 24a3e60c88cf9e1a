package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegister_IdempotentAcrossDefaultRegistry(t *testing.T) {
	reg := prometheus.DefaultRegisterer
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "second Register call must be a no-op, not an AlreadyRegisteredError")
}

func TestHelpers_NoopBeforeRegister(t *testing.T) {
	// An earlier test in this binary may have registered; reset to the
	// unregistered state. These must not panic.
	regOK.Store(false)
	IncStart("svc")
	IncRestart("svc")
	IncStop("svc")
	RecordStateTransition("svc", "starting", "healthy")
	SetCurrentState("svc", "healthy", true)
	IncCronSkip("job")
}
