package serialconn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/arlenmoss/meshbridge-core/internal/transport/portlock"
)

// fakeDevice implements Device with controllable answers.
type fakeDevice struct {
	mu        sync.Mutex
	open      bool
	connected bool
	closes    int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{open: true, connected: true}
}

func (d *fakeDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.connected = false
	d.closes++
	return nil
}

// fakeFactory counts open calls and fails according to its script.
type fakeFactory struct {
	calls      atomic.Int64
	failAlways bool
	eintrFirst int64 // number of leading calls that fail with EINTR
}

func (f *fakeFactory) open(string) (Device, error) {
	n := f.calls.Add(1)
	if f.failAlways {
		return nil, errors.New("no such device")
	}
	if n <= f.eintrFirst {
		return nil, fmt.Errorf("open: %w", syscall.EINTR)
	}
	return newFakeDevice(), nil
}

// fakeInspector replays a scripted sequence of lock states; the last
// entry is sticky.
type fakeInspector struct {
	mu  sync.Mutex
	seq []portlock.LockInfo
}

func (f *fakeInspector) Inspect(context.Context, string) (portlock.LockInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seq) == 0 {
		return portlock.LockInfo{}, nil
	}
	info := f.seq[0]
	if len(f.seq) > 1 {
		f.seq = f.seq[1:]
	}
	return info, nil
}

// testConfig returns a config with millisecond-scale timings and an
// existing device path so liveness path checks pass.
func testConfig(t *testing.T) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ttyFAKE0")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	return Config{
		Path:             path,
		MaxRetries:       3,
		RetryDelay:       time.Millisecond,
		MaxRetryDelay:    10 * time.Millisecond,
		PortLockWait:     60 * time.Millisecond,
		LockPollInterval: 10 * time.Millisecond,
		SelfLockWait:     5 * time.Millisecond,
		MonitorInterval:  10 * time.Millisecond,
		CloseJoinTimeout: time.Second,
	}
}

// TestConnectAttemptsExhausted verifies a permanently failing device is
// tried exactly MaxRetries times and the call fails with ErrDeviceOpen.
func TestConnectAttemptsExhausted(t *testing.T) {
	factory := &fakeFactory{failAlways: true}
	m := NewManager(testConfig(t), factory.open, &fakeInspector{})
	defer m.Close()

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrDeviceOpen) {
		t.Fatalf("Connect() error = %v, want ErrDeviceOpen", err)
	}
	if got := factory.calls.Load(); got != 3 {
		t.Errorf("factory calls = %d, want exactly 3", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

// TestConnectIdempotent verifies a second Connect on a live connection
// does not reopen the device.
func TestConnectIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	m := NewManager(testConfig(t), factory.open, &fakeInspector{})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if got := factory.calls.Load(); got != 1 {
		t.Errorf("factory calls = %d, want 1", got)
	}
}

// TestRetryDelayMonotonicCapped verifies linear growth with a ceiling.
func TestRetryDelayMonotonicCapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.MaxRetryDelay = 12 * time.Millisecond
	m := NewManager(cfg, (&fakeFactory{}).open, &fakeInspector{})
	defer m.Close()

	prev := time.Duration(0)
	for n := 1; n <= 10; n++ {
		d := m.retryDelayFor(n)
		if d < prev {
			t.Errorf("retryDelayFor(%d) = %v, decreased from %v", n, d, prev)
		}
		if d > cfg.MaxRetryDelay {
			t.Errorf("retryDelayFor(%d) = %v, exceeds cap %v", n, d, cfg.MaxRetryDelay)
		}
		prev = d
	}
}

// TestMonitorBackoffMonotonicCapped verifies exponential growth with a
// ceiling.
func TestMonitorBackoffMonotonicCapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 20 * time.Millisecond
	m := NewManager(cfg, (&fakeFactory{}).open, &fakeInspector{})
	defer m.Close()

	prev := time.Duration(0)
	for n := 1; n <= 10; n++ {
		d := m.monitorBackoff(n)
		if d < prev {
			t.Errorf("monitorBackoff(%d) = %v, decreased from %v", n, d, prev)
		}
		if d > cfg.MaxRetryDelay {
			t.Errorf("monitorBackoff(%d) = %v, exceeds cap %v", n, d, cfg.MaxRetryDelay)
		}
		prev = d
	}
}

// TestForeignLockTimesOut verifies a port held by another process fails
// the connect after the lock wait without any open attempt.
func TestForeignLockTimesOut(t *testing.T) {
	factory := &fakeFactory{}
	insp := &fakeInspector{seq: []portlock.LockInfo{
		{Locked: true, HolderCommand: "minicom", HolderPID: 4321},
	}}
	cfg := testConfig(t)
	m := NewManager(cfg, factory.open, insp)
	defer m.Close()

	start := time.Now()
	err := m.Connect(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrPortLocked) {
		t.Fatalf("Connect() error = %v, want ErrPortLocked", err)
	}
	if factory.calls.Load() != 0 {
		t.Errorf("factory calls = %d, want 0 while locked", factory.calls.Load())
	}
	if elapsed < cfg.PortLockWait-cfg.LockPollInterval {
		t.Errorf("Connect() gave up after %v, want roughly the %v lock wait", elapsed, cfg.PortLockWait)
	}
}

// TestSelfLockResolvedQuickly verifies a self-held lock is cleared by a
// forced close and short wait rather than the full foreign-holder wait.
func TestSelfLockResolvedQuickly(t *testing.T) {
	factory := &fakeFactory{}
	insp := &fakeInspector{seq: []portlock.LockInfo{
		{Locked: true, HolderCommand: "meshbridge", HolderPID: os.Getpid()},
		{}, // released after the forced close
	}}
	cfg := testConfig(t)
	cfg.PortLockWait = 10 * time.Second // would dominate if taken
	m := NewManager(cfg, factory.open, insp)
	defer m.Close()

	start := time.Now()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect() took %v, self-lock path should not wait out the lock timeout", elapsed)
	}
	if m.State() != StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
}

// TestInterruptedOpenRetried verifies EINTR conditions are retried
// transparently within a single attempt.
func TestInterruptedOpenRetried(t *testing.T) {
	factory := &fakeFactory{eintrFirst: 2}
	m := NewManager(testConfig(t), factory.open, &fakeInspector{})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := factory.calls.Load(); got != 3 {
		t.Errorf("factory calls = %d, want 3 (two interrupted, one good)", got)
	}
	if got := m.Stats().ConnectAttempts; got != 1 {
		t.Errorf("ConnectAttempts = %d, want 1 (interrupts are sub-attempt)", got)
	}
}

// TestGracePeriodSuppressesDisconnect verifies notifications within the
// grace period are ignored and later ones are honoured.
func TestGracePeriodSuppressesDisconnect(t *testing.T) {
	cfg := testConfig(t)
	cfg.GracePeriod = 150 * time.Millisecond
	m := NewManager(cfg, (&fakeFactory{}).open, &fakeInspector{})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	m.NotifyDisconnect("startup noise")
	if m.State() != StateConnected {
		t.Fatal("disconnect within grace period was not suppressed")
	}

	time.Sleep(200 * time.Millisecond)
	m.NotifyDisconnect("link lost")
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v after post-grace disconnect, want disconnected", m.State())
	}
	if got := m.Stats().LastDisconnectReason; got != "link lost" {
		t.Errorf("LastDisconnectReason = %q, want link lost", got)
	}
}

// TestMonitorReconnects verifies the background monitor restores a lost
// connection.
func TestMonitorReconnects(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoReconnect = true
	cfg.LivenessCacheTTL = time.Millisecond
	m := NewManager(cfg, (&fakeFactory{}).open, &fakeInspector{})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	m.NotifyDisconnect("cable pulled")
	if m.State() == StateConnected {
		t.Fatal("NotifyDisconnect did not take effect")
	}

	deadline := time.After(2 * time.Second)
	for m.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("monitor did not reconnect within 2s")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := m.Stats().Reconnects; got < 1 {
		t.Errorf("Reconnects = %d, want >= 1", got)
	}
}

// TestCloseIdempotent verifies Close is repeatable and fences Connect.
func TestCloseIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoReconnect = true
	factory := &fakeFactory{}
	m := NewManager(cfg, factory.open, &fakeInspector{})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %v after close, want disconnected", m.State())
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after close error = %v, want ErrClosed", err)
	}
}

// TestHandleConnectsOnDemand verifies Handle triggers a connect when
// needed.
func TestHandleConnectsOnDemand(t *testing.T) {
	factory := &fakeFactory{}
	m := NewManager(testConfig(t), factory.open, &fakeInspector{})
	defer m.Close()

	dev, err := m.Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if dev == nil {
		t.Fatal("Handle() returned nil device")
	}
	if factory.calls.Load() != 1 {
		t.Errorf("factory calls = %d, want 1", factory.calls.Load())
	}
}

// TestVerifyAliveShortCircuits exercises the liveness chain.
func TestVerifyAliveShortCircuits(t *testing.T) {
	cfg := testConfig(t)
	factory := &fakeFactory{}
	m := NewManager(cfg, factory.open, &fakeInspector{})
	defer m.Close()

	t.Run("no handle", func(t *testing.T) {
		if m.VerifyAlive() {
			t.Error("VerifyAlive() = true with no device")
		}
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	t.Run("live handle", func(t *testing.T) {
		if !m.VerifyAlive() {
			t.Error("VerifyAlive() = false on live device")
		}
	})

	t.Run("closed stream", func(t *testing.T) {
		m.mu.Lock()
		dev := m.device.(*fakeDevice)
		m.mu.Unlock()
		dev.Close()
		if m.VerifyAlive() {
			t.Error("VerifyAlive() = true after stream close")
		}
	})

	t.Run("missing device path", func(t *testing.T) {
		os.Remove(cfg.Path)
		if m.VerifyAlive() {
			t.Error("VerifyAlive() = true with device path gone")
		}
	})
}
