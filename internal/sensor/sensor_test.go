package sensor

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const interval = 750 * time.Millisecond

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// fetch runs n fetch cycles, one interval apart, starting after t0.
func fetch(a *Acquisition, n int) {
	for i := 1; i <= n; i++ {
		a.Update(t0.Add(time.Duration(i) * interval))
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		c    float64
		want bool
	}{
		{-127, false},
		{-55, false},
		{-54.9, true},
		{0, true},
		{56, true},
		{124.9, true},
		{125, false},
		{200, false},
	}
	for _, tt := range tests {
		if got := Valid(tt.c); got != tt.want {
			t.Errorf("Valid(%v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestBeginRequestsConversion(t *testing.T) {
	p := NewFakeProbe(20)
	a := New(p, DefaultConfig())

	if err := a.Begin(t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Requests != 1 {
		t.Errorf("requests: got %d, want 1", p.Requests)
	}
	if !a.IsConnected() {
		t.Error("should be connected after begin")
	}
}

func TestBeginError(t *testing.T) {
	p := NewFakeProbe(20)
	p.RequestError = ErrDisconnected
	a := New(p, DefaultConfig())

	err := a.Begin(t0)
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
	if a.IsConnected() {
		t.Error("should not be connected")
	}
}

func TestUpdateRespectsInterval(t *testing.T) {
	p := NewFakeProbe(20)
	a := New(p, DefaultConfig())
	a.Begin(t0)

	a.Update(t0.Add(interval - time.Millisecond))
	if p.Reads != 0 {
		t.Errorf("read before interval: %d reads", p.Reads)
	}

	a.Update(t0.Add(interval))
	if p.Reads != 1 || p.Requests != 2 {
		t.Errorf("got %d reads %d requests, want 1 and 2", p.Reads, p.Requests)
	}
}

func TestPartialAverage(t *testing.T) {
	p := NewFakeProbe(20, 22, 24)
	a := New(p, DefaultConfig())
	a.Begin(t0)
	fetch(a, 3)

	if !near(a.Filtered(), 22) {
		t.Errorf("filtered: got %v, want 22", a.Filtered())
	}
	if a.Temperature() != 24 {
		t.Errorf("temperature: got %v, want 24", a.Temperature())
	}
}

func TestFullBufferOverwritesOldest(t *testing.T) {
	readings := []float64{100}
	for i := 0; i < 10; i++ {
		readings = append(readings, 50)
	}
	p := NewFakeProbe(readings...)
	a := New(p, DefaultConfig())
	a.Begin(t0)
	fetch(a, 11)

	if !near(a.Filtered(), 50) {
		t.Errorf("filtered: got %v, want 50 once the outlier is overwritten", a.Filtered())
	}
	if a.Max() != 100 {
		t.Errorf("max statistic should remember 100, got %v", a.Max())
	}
}

func TestInvalidReadingsDiscarded(t *testing.T) {
	p := NewFakeProbe(30, 125, -55, 300, 30)
	cfg := DefaultConfig()
	cfg.MaxMisses = 4
	a := New(p, cfg)
	a.Begin(t0)

	fetch(a, 4)
	snap := a.Snapshot()
	if snap.Samples != 1 {
		t.Errorf("samples: got %d, want 1", snap.Samples)
	}
	if snap.Temperature != 30 {
		t.Errorf("last valid: got %v, want 30", snap.Temperature)
	}
	if snap.Raw != 300 {
		t.Errorf("raw: got %v, want 300", snap.Raw)
	}
	if snap.ReadErrors != 3 {
		t.Errorf("read errors: got %d, want 3", snap.ReadErrors)
	}
	if !a.IsConnected() {
		t.Error("out-of-range reading should not mark the probe disconnected")
	}
}

func TestDisconnectSentinel(t *testing.T) {
	p := NewFakeProbe(40, DisconnectedC, 41)
	a := New(p, DefaultConfig())
	a.Begin(t0)

	fetch(a, 1)
	if a.Current() != 40 {
		t.Fatalf("current: got %v, want 40", a.Current())
	}

	a.Update(t0.Add(2 * interval))
	if a.IsConnected() {
		t.Error("sentinel should mark the probe disconnected")
	}
	if a.Current() != DisconnectedC {
		t.Errorf("current: got %v, want %v", a.Current(), DisconnectedC)
	}
	if a.Temperature() != 40 {
		t.Errorf("sentinel must not update last valid: got %v", a.Temperature())
	}

	a.Update(t0.Add(3 * interval))
	if !a.IsConnected() {
		t.Error("valid reading should reconnect")
	}
	if !near(a.Current(), 40.5) {
		t.Errorf("current: got %v, want 40.5", a.Current())
	}
}

func TestDisconnectError(t *testing.T) {
	p := NewFakeProbe(40)
	p.ReadError = ErrDisconnected
	a := New(p, DefaultConfig())
	a.Begin(t0)
	fetch(a, 1)

	if a.IsConnected() {
		t.Error("ErrDisconnected should mark the probe disconnected")
	}
}

func TestTransientErrorKeepsConnection(t *testing.T) {
	p := NewFakeProbe(40)
	a := New(p, DefaultConfig())
	a.Begin(t0)
	fetch(a, 1)

	p.ReadError = errors.New("crc mismatch")
	a.Update(t0.Add(2 * interval))
	if !a.IsConnected() {
		t.Error("transient error should not disconnect")
	}
	if a.Current() != 40 {
		t.Errorf("current: got %v, want 40", a.Current())
	}
	if p.Requests != 3 {
		t.Errorf("a new conversion should still be requested, got %d requests", p.Requests)
	}
}

func TestRepeatedErrorsDisconnect(t *testing.T) {
	p := NewFakeProbe(40)
	a := New(p, DefaultConfig())
	a.Begin(t0)
	fetch(a, 1)

	p.ReadError = errors.New("input/output error")
	for i := 2; i <= 3; i++ {
		a.Update(t0.Add(time.Duration(i) * interval))
		if !a.IsConnected() {
			t.Fatalf("disconnected after %d failed fetches, want 3", i-1)
		}
	}
	a.Update(t0.Add(4 * interval))
	if a.IsConnected() {
		t.Error("three failed fetches in a row should disconnect")
	}
	if a.Current() != DisconnectedC {
		t.Errorf("current: got %v, want %v", a.Current(), DisconnectedC)
	}
	if a.Temperature() != 40 {
		t.Errorf("failed fetches must not touch last valid: got %v", a.Temperature())
	}

	p.ReadError = nil
	p.Set(41)
	a.Update(t0.Add(5 * interval))
	if !a.IsConnected() || a.Current() == DisconnectedC {
		t.Errorf("valid reading should reconnect, current %v", a.Current())
	}
}

func TestConversionTimeoutsDisconnect(t *testing.T) {
	p := NewFakeProbe(40)
	cfg := DefaultConfig()
	cfg.MaxMisses = 2
	a := New(p, cfg)
	a.Begin(t0)
	fetch(a, 1)

	p.ReadError = ErrNotReady
	fetch(a, 2)
	if a.IsConnected() {
		t.Error("a conversion that never completes should disconnect")
	}
}

func TestMissCountResetsOnValidReading(t *testing.T) {
	p := NewFakeProbe(40)
	a := New(p, DefaultConfig())
	a.Begin(t0)

	at := 1
	step := func() {
		a.Update(t0.Add(time.Duration(at) * interval))
		at++
	}
	for i := 0; i < 5; i++ {
		p.ReadError = ErrNotReady
		step()
		step()
		p.ReadError = nil
		step()
	}
	if !a.IsConnected() {
		t.Error("isolated misses should not disconnect")
	}
}

func TestNoReadingBeforeFirstConversion(t *testing.T) {
	p := NewFakeProbe(40)
	p.ReadError = ErrNotReady
	a := New(p, DefaultConfig())
	a.Begin(t0)

	if a.Ready() {
		t.Error("should not be ready before the first reading")
	}
	if a.Current() != DisconnectedC {
		t.Errorf("current before the first reading: got %v, want %v", a.Current(), DisconnectedC)
	}

	fetch(a, 1)
	if a.Ready() || !a.IsConnected() {
		t.Error("one slow conversion is neither a reading nor a fault")
	}

	p.ReadError = nil
	a.Update(t0.Add(2 * interval))
	if !a.Ready() || a.Current() != 40 {
		t.Errorf("ready %v current %v, want true and 40", a.Ready(), a.Current())
	}
}

func TestBeginFailureIsReady(t *testing.T) {
	p := NewFakeProbe(40)
	p.RequestError = ErrDisconnected
	a := New(p, DefaultConfig())
	a.Begin(t0)

	if !a.Ready() || a.Current() != DisconnectedC {
		t.Error("a probe that fails at begin should report the sentinel at once")
	}
}

func TestCalibrationOffset(t *testing.T) {
	p := NewFakeProbe(50)
	a := New(p, DefaultConfig())
	a.SetCalibrationOffset(-1.5)
	a.Begin(t0)
	fetch(a, 1)

	if a.Temperature() != 48.5 {
		t.Errorf("temperature: got %v, want 48.5", a.Temperature())
	}
	if a.Raw() != 50 {
		t.Errorf("raw: got %v, want 50", a.Raw())
	}
	if !a.IsCalibrated() {
		t.Error("should be calibrated")
	}
}

func TestCalibrateToReference(t *testing.T) {
	p := NewFakeProbe(99.2)
	a := New(p, DefaultConfig())

	if err := a.CalibrateToReference(100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !near(a.CalibrationOffset(), 0.8) {
		t.Errorf("offset: got %v, want 0.8", a.CalibrationOffset())
	}

	p.Set(DisconnectedC)
	err := a.CalibrateToReference(100)
	if !errors.Is(err, ErrInvalidReading) {
		t.Errorf("expected ErrInvalidReading, got %v", err)
	}
	if !near(a.CalibrationOffset(), 0.8) {
		t.Error("failed calibration should keep the previous offset")
	}
}

func TestResetStatistics(t *testing.T) {
	p := NewFakeProbe(20, 30)
	a := New(p, DefaultConfig())
	a.Begin(t0)
	fetch(a, 2)

	if a.Min() != 20 || a.Max() != 30 {
		t.Fatalf("min/max: got %v/%v, want 20/30", a.Min(), a.Max())
	}

	a.ResetStatistics()
	if a.Snapshot().Samples != 0 {
		t.Error("buffer should be empty after reset")
	}
	// With no samples the filter falls back to the last valid reading.
	if a.Filtered() != 30 {
		t.Errorf("filtered: got %v, want 30", a.Filtered())
	}
}

func TestParseW1Slave(t *testing.T) {
	good := "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"
	c, err := ParseW1Slave(good)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != 23.125 {
		t.Errorf("got %v, want 23.125", c)
	}

	tests := []struct {
		name string
		in   string
	}{
		{"crc", "72 01 4b 46 7f ff 0e 10 57 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"},
		{"short", "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n"},
		{"no value", "72 01 : crc=57 YES\n72 01 4b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseW1Slave(tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestW1ProbeReadsSysfs(t *testing.T) {
	dir := t.TempDir()
	dev := filepath.Join(dir, "28-0316a2795eff")
	if err := os.Mkdir(dev, 0o755); err != nil {
		t.Fatal(err)
	}
	data := "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=56062\n"
	if err := os.WriteFile(filepath.Join(dev, "w1_slave"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewW1Probe(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.ReadC(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady before the first conversion, got %v", err)
	}

	p.RequestConversion()
	c, err := waitW1(p)
	if err != nil {
		t.Fatalf("conversion did not complete: %v", err)
	}
	if c != 56.062 {
		t.Errorf("got %v, want 56.062", c)
	}

	if _, err := p.ReadC(); !errors.Is(err, ErrNotReady) {
		t.Errorf("a result must be served once, got %v", err)
	}

	p.RequestConversion()
	if _, err := waitW1(p); err != nil {
		t.Errorf("second conversion: %v", err)
	}
}

// waitW1 polls p until a conversion completes or a second passes.
func waitW1(p *W1Probe) (float64, error) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err := p.ReadC()
		if !errors.Is(err, ErrNotReady) || time.Now().After(deadline) {
			return c, err
		}
		time.Sleep(time.Millisecond)
	}
}

func TestW1ProbeHungReadNeverRepeats(t *testing.T) {
	p := &W1Probe{path: "unused"}
	p.finish(21.5, nil)
	if c, err := p.ReadC(); err != nil || c != 21.5 {
		t.Fatalf("got %v %v, want 21.5", c, err)
	}

	// A read stuck in the kernel keeps the request in flight.
	p.mu.Lock()
	p.inFlight = true
	p.mu.Unlock()
	for i := 0; i < 3; i++ {
		if err := p.RequestConversion(); err != nil {
			t.Fatalf("request: %v", err)
		}
		if _, err := p.ReadC(); !errors.Is(err, ErrNotReady) {
			t.Fatalf("stale result served again: %v", err)
		}
	}
}

func TestW1ProbeMissingDevice(t *testing.T) {
	_, err := NewW1Probe(t.TempDir(), "")
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
}
