package adaptive

import "testing"

func newTestAdvisor(load float64) *Advisor {
	cfg := DefaultConfig()
	a := New(cfg)
	a.percentFn = func() (float64, error) { return load, nil }
	return a
}

func TestSampleStepsDownUnderHighLoad(t *testing.T) {
	a := newTestAdvisor(95)
	before := a.BitrateKbps()
	got, err := a.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got >= before {
		t.Fatalf("expected bitrate to step down under high load: before=%d after=%d", before, got)
	}
}

func TestSampleStepsUpUnderLowLoad(t *testing.T) {
	a := newTestAdvisor(10)
	before := a.BitrateKbps()
	got, err := a.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got <= before {
		t.Fatalf("expected bitrate to step up under low load: before=%d after=%d", before, got)
	}
}

func TestSampleRespectsBounds(t *testing.T) {
	a := newTestAdvisor(100)
	for i := 0; i < 100; i++ {
		a.Sample()
	}
	if got := a.BitrateKbps(); got < a.cfg.MinKbps {
		t.Fatalf("bitrate %d fell below minimum %d", got, a.cfg.MinKbps)
	}
}
