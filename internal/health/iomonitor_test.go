package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeProber fails or passes all storage probes on demand.
type fakeProber struct {
	mu   sync.Mutex
	fail bool
}

func (p *fakeProber) setFail(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = v
}

func (p *fakeProber) failing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fail
}

func (p *fakeProber) QuickCheck(context.Context) error {
	if p.failing() {
		return errors.New("database disk image is malformed")
	}
	return nil
}

func (p *fakeProber) JournalMode(context.Context) (string, error) {
	if p.failing() {
		return "", errors.New("disk I/O error")
	}
	return "wal", nil
}

func (p *fakeProber) PageCount(context.Context) (int64, error) {
	if p.failing() {
		return 0, errors.New("disk I/O error")
	}
	return 12, nil
}

func testIOMonitor(t *testing.T, prober StorageProber, esc Escalator) *IOMonitor {
	t.Helper()
	return NewIOMonitor(IOMonitorConfig{
		Enabled:          true,
		Cooldown:         -1, // no cooldown in tests
		FailureThreshold: 3,
		ScratchDir:       t.TempDir(),
	}, prober, esc)
}

// TestIOMonitorEscalatesAfterConsecutiveFailures verifies three failed
// runs cross the threshold and one success resets everything.
func TestIOMonitorEscalatesAfterConsecutiveFailures(t *testing.T) {
	prober := &fakeProber{fail: true}
	esc := &recordingEscalator{accept: true}
	m := testIOMonitor(t, prober, esc)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		out := m.RunCheck(ctx)
		if out.AllPassed || out.Skipped {
			t.Fatalf("run %d: outcome = %+v, want failure", i, out)
		}
		if out.ConsecutiveFailures != i {
			t.Fatalf("run %d: ConsecutiveFailures = %d, want %d", i, out.ConsecutiveFailures, i)
		}
	}

	d := m.ShouldEscalate()
	if !d.ShouldEscalate {
		t.Fatal("ShouldEscalate() = false after 3 consecutive failures")
	}
	if d.Reason == "" {
		t.Error("escalation decision has empty reason")
	}
	if esc.count() != 1 {
		t.Errorf("escalations = %d, want exactly 1 per crossing", esc.count())
	}

	// Further failed runs do not re-invoke the escalator.
	m.RunCheck(ctx)
	if esc.count() != 1 {
		t.Errorf("escalations = %d after 4th failure, want still 1", esc.count())
	}

	// A clean run resets the counter and re-arms the trigger.
	prober.setFail(false)
	out := m.RunCheck(ctx)
	if !out.AllPassed || out.ConsecutiveFailures != 0 {
		t.Fatalf("recovery outcome = %+v, want clean pass with counter 0", out)
	}
	if m.ShouldEscalate().ShouldEscalate {
		t.Error("ShouldEscalate() = true after recovery")
	}

	prober.setFail(true)
	for i := 0; i < 3; i++ {
		m.RunCheck(ctx)
	}
	if esc.count() != 2 {
		t.Errorf("escalations = %d after second crossing, want 2", esc.count())
	}
}

// TestIOMonitorCleanRun verifies the probe battery passes against real
// filesystem and a healthy prober.
func TestIOMonitorCleanRun(t *testing.T) {
	m := testIOMonitor(t, &fakeProber{}, nil)

	out := m.RunCheck(context.Background())
	if !out.AllPassed {
		t.Errorf("RunCheck() failed on healthy system: %v", out.FailedChecks)
	}
	if out.Skipped {
		t.Error("RunCheck() skipped, want a real run")
	}
}

// TestIOMonitorDisabled verifies a disabled monitor never runs or
// escalates.
func TestIOMonitorDisabled(t *testing.T) {
	m := NewIOMonitor(IOMonitorConfig{
		Enabled:    false,
		Cooldown:   -1,
		ScratchDir: t.TempDir(),
	}, &fakeProber{fail: true}, nil)

	if m.ShouldRun() {
		t.Error("ShouldRun() = true while disabled")
	}
	out := m.RunCheck(context.Background())
	if !out.Skipped || !out.AllPassed {
		t.Errorf("RunCheck() = %+v while disabled, want skipped pass-through", out)
	}
	if m.ShouldEscalate().ShouldEscalate {
		t.Error("ShouldEscalate() = true while disabled")
	}
}

// TestIOMonitorCooldown verifies runs inside the cooldown are skipped
// without side effects.
func TestIOMonitorCooldown(t *testing.T) {
	prober := &fakeProber{fail: true}
	m := NewIOMonitor(IOMonitorConfig{
		Enabled:          true,
		Cooldown:         time.Hour,
		FailureThreshold: 3,
		ScratchDir:       t.TempDir(),
	}, prober, nil)
	ctx := context.Background()

	first := m.RunCheck(ctx)
	if first.Skipped {
		t.Fatal("first run skipped, want a real run")
	}

	second := m.RunCheck(ctx)
	if !second.Skipped {
		t.Fatal("second run inside cooldown was not skipped")
	}
	if second.ConsecutiveFailures != first.ConsecutiveFailures {
		t.Errorf("skipped run changed ConsecutiveFailures: %d -> %d",
			first.ConsecutiveFailures, second.ConsecutiveFailures)
	}
}

// TestIOMonitorNoProber verifies the filesystem probe alone carries a
// proberless monitor.
func TestIOMonitorNoProber(t *testing.T) {
	m := testIOMonitor(t, nil, nil)
	out := m.RunCheck(context.Background())
	if !out.AllPassed {
		t.Errorf("RunCheck() without prober failed: %v", out.FailedChecks)
	}
}

// TestNopEscalator verifies the fallback escalator declines gracefully.
func TestNopEscalator(t *testing.T) {
	if (NopEscalator{}).RequestReboot("test") {
		t.Error("NopEscalator accepted a reboot request")
	}
}
