// Package datalog records cook sessions as CSV files, one file per session.
package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultInterval is the time between rows.
	DefaultInterval = 10 * time.Second

	// DefaultMaxEntries rotates the session file after this many rows.
	DefaultMaxEntries = 1000

	filePrefix = "log_"
	fileSuffix = ".csv"
)

// ErrNoSession is returned when there is no session to write or export.
var ErrNoSession = errors.New("no log session")

// Header is the first line of every session file.
var Header = []string{"Time(s)", "Temperature(C)", "Target(C)", "Power(%)", "Remaining(s)"}

// Config controls where and how often rows are written.
type Config struct {
	Dir        string
	Interval   time.Duration
	MaxEntries int
}

// Entry is one row of a session file.
type Entry struct {
	Time        time.Time
	Temperature float64
	Target      float64
	Power       float64
	Remaining   time.Duration
}

// Logger writes session files. It is safe for concurrent use; the control
// loop writes while the web server exports.
type Logger struct {
	mu    sync.Mutex
	cfg   Config
	newID func() string

	file    *os.File
	w       *csv.Writer
	path    string
	session string
	part    int
	started time.Time
	last    time.Time
	entries int
}

// New creates the log directory if needed.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("datalog: no directory")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Logger{cfg: cfg, newID: uuid.NewString}, nil
}

// Start ends any open session and opens a new one, returning its ID.
func (l *Logger) Start(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeLocked(); err != nil {
		log.Printf("datalog: close previous session: %v", err)
	}
	return l.openLocked(l.newID(), 0, now)
}

func (l *Logger) openLocked(session string, part int, now time.Time) (string, error) {
	name := fmt.Sprintf("%s%d_%s%s", filePrefix, now.Unix(), session, fileSuffix)
	if part > 0 {
		name = fmt.Sprintf("%s%d_%s_%d%s", filePrefix, now.Unix(), session, part, fileSuffix)
	}
	path := filepath.Join(l.cfg.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("open session file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return "", fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("write header: %w", err)
	}

	l.file = f
	l.w = w
	l.path = path
	l.session = session
	l.part = part
	l.started = now
	l.last = time.Time{}
	l.entries = 0
	log.Printf("datalog: started session %s (%s)", session, name)
	return session, nil
}

// Log writes one row. The file is flushed after every row and rotated
// once it holds MaxEntries rows.
func (l *Logger) Log(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return ErrNoSession
	}

	row := []string{
		strconv.FormatInt(int64(e.Time.Sub(l.started)/time.Second), 10),
		strconv.FormatFloat(e.Temperature, 'f', 2, 64),
		strconv.FormatFloat(e.Target, 'f', 2, 64),
		strconv.FormatFloat(e.Power, 'f', 1, 64),
		strconv.FormatInt(int64(e.Remaining/time.Second), 10),
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	l.last = e.Time
	l.entries++

	if l.entries >= l.cfg.MaxEntries {
		session, part := l.session, l.part+1
		if err := l.closeLocked(); err != nil {
			return err
		}
		if _, err := l.openLocked(session, part, e.Time); err != nil {
			return err
		}
	}
	return nil
}

// Due reports whether a row should be written at now.
func (l *Logger) Due(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w != nil && (l.last.IsZero() || now.Sub(l.last) >= l.cfg.Interval)
}

// Track follows the heating state of the cooker: a session starts when
// heating begins, a row is written every interval while it continues, and
// the session ends when heating stops.
func (l *Logger) Track(heating bool, e Entry) error {
	active := l.Session() != ""
	switch {
	case heating && !active:
		if _, err := l.Start(e.Time); err != nil {
			return err
		}
	case !heating && active:
		return l.End()
	case !heating:
		return nil
	}
	if !l.Due(e.Time) {
		return nil
	}
	return l.Log(e)
}

// End closes the current session. Its file stays available to Export.
func (l *Logger) End() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Logger) closeLocked() error {
	if l.file == nil {
		return nil
	}
	l.w.Flush()
	werr := l.w.Error()
	cerr := l.file.Close()
	log.Printf("datalog: ended session %s after %d rows", l.session, l.entries)
	l.file = nil
	l.w = nil
	l.session = ""
	if werr != nil {
		return fmt.Errorf("flush session: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close session: %w", cerr)
	}
	return nil
}

// Session returns the open session ID, or "" when none is open.
func (l *Logger) Session() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Path returns the file of the current or most recent session.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Entries returns the number of rows in the current file.
func (l *Logger) Entries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

// Export copies the current or most recent session file to w.
func (l *Logger) Export(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return ErrNoSession
	}
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoSession
		}
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	return nil
}

// Files lists the session files in the log directory, oldest first.
func (l *Logger) Files() ([]string, error) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isSessionFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(l.cfg.Dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// UsedBytes returns the total size of the session files.
func (l *Logger) UsedBytes() (int64, error) {
	files, err := l.Files()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", f, err)
		}
		total += info.Size()
	}
	return total, nil
}

// ClearAll ends the open session and removes every session file. It
// returns the number of files removed.
func (l *Logger) ClearAll() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeLocked(); err != nil {
		log.Printf("datalog: close session: %v", err)
	}
	l.path = ""
	l.entries = 0

	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read log dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isSessionFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(l.cfg.Dir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func isSessionFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}
