package metrics

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistory_CircularBuffer(t *testing.T) {
	h := newHistory(3)
	for i := 0; i < 5; i++ {
		h.add(Sample{NumThreads: int32(i)})
	}
	all := h.all()
	require.Len(t, all, 3)
	// oldest surviving sample is index 2, newest is index 4.
	require.Equal(t, int32(2), all[0].NumThreads)
	require.Equal(t, int32(4), all[2].NumThreads)

	latest, ok := h.latest()
	require.True(t, ok)
	require.Equal(t, int32(4), latest.NumThreads)
}

func TestHistory_EmptyBeforeAnyAdd(t *testing.T) {
	h := newHistory(4)
	_, ok := h.latest()
	require.False(t, ok)
	require.Nil(t, h.all())
}

func TestSampler_SampleOnce_SelfProcess(t *testing.T) {
	s := NewSampler(10)
	pid := int32(os.Getpid())
	sampled := s.SampleOnce(map[string]int32{"self": pid})
	require.Equal(t, []string{"self"}, sampled)

	latest, ok := s.Latest("self")
	require.True(t, ok)
	require.Equal(t, pid, latest.PID)
	require.True(t, latest.MemoryRSS > 0)
}

func TestSampler_SampleOnce_RespectsServiceCap(t *testing.T) {
	s := NewSampler(10)
	pid := int32(os.Getpid())
	pids := make(map[string]int32, SamplerServiceCap+5)
	for i := 0; i < SamplerServiceCap+5; i++ {
		pids[string(rune('a'+i))] = pid
	}
	sampled := s.SampleOnce(pids)
	require.LessOrEqual(t, len(sampled), SamplerServiceCap)
}

func TestSampler_Cleanup_DropsStaleHistory(t *testing.T) {
	s := NewSampler(5)
	pid := int32(os.Getpid())
	s.SampleOnce(map[string]int32{"svc": pid})
	_, ok := s.Latest("svc")
	require.True(t, ok)

	s.SampleOnce(map[string]int32{}) // svc no longer active
	_, ok = s.Latest("svc")
	require.False(t, ok)
}
