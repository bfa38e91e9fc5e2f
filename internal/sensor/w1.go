package sensor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultW1Dir is where the w1-gpio kernel driver exposes 1-Wire devices.
const DefaultW1Dir = "/sys/bus/w1/devices"

// W1Probe reads a DS18B20 through the kernel's w1_therm sysfs interface.
// Reading w1_slave blocks for the conversion time, so each request runs in
// its own goroutine. ReadC hands out each completed result once.
type W1Probe struct {
	path string

	mu       sync.Mutex
	inFlight bool
	fresh    bool // a completed result not yet read
	value    float64
	err      error
}

// NewW1Probe opens the device with the given id (e.g. "28-0316a2795eff").
// An empty id selects the first DS18B20 found under dir.
func NewW1Probe(dir, id string) (*W1Probe, error) {
	if dir == "" {
		dir = DefaultW1Dir
	}
	if id == "" {
		found, err := FindW1Device(dir)
		if err != nil {
			return nil, err
		}
		id = found
	}
	path := filepath.Join(dir, id, "w1_slave")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("probe %s: %w", id, ErrDisconnected)
	}
	return &W1Probe{path: path}, nil
}

// FindW1Device returns the id of the first DS18B20 (family 28) under dir.
func FindW1Device(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "28-*"))
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no DS18B20 under %s: %w", dir, ErrDisconnected)
	}
	return filepath.Base(matches[0]), nil
}

// RequestConversion starts a background read unless one is already running.
func (p *W1Probe) RequestConversion() error {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil
	}
	p.inFlight = true
	p.mu.Unlock()

	go func() {
		p.finish(readW1(p.path))
	}()
	return nil
}

func (p *W1Probe) finish(v float64, err error) {
	p.mu.Lock()
	p.value, p.err = v, err
	p.fresh = true
	p.inFlight = false
	p.mu.Unlock()
}

// ReadC returns the latest completed conversion, or ErrNotReady when none
// has completed since it was last read.
func (p *W1Probe) ReadC() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fresh {
		return 0, ErrNotReady
	}
	p.fresh = false
	return p.value, p.err
}

func readW1(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DisconnectedC, ErrDisconnected
		}
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseW1Slave(string(data))
}

// ParseW1Slave parses the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(s string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("short w1_slave output: %q", s)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, errors.New("w1_slave crc check failed")
	}
	i := strings.LastIndex(lines[1], "t=")
	if i < 0 {
		return 0, fmt.Errorf("no temperature in %q", lines[1])
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("parse temperature: %w", err)
	}
	c := float64(milli) / 1000
	if c == DisconnectedC {
		return c, ErrDisconnected
	}
	return c, nil
}
