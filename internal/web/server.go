// Package web provides the HTTP front end for the sousvide daemon: a status
// page, JSON status, control endpoints, the session CSV and Prometheus metrics.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/sousvide/internal/control"
	"github.com/sweeney/sousvide/internal/datalog"
	"github.com/sweeney/sousvide/internal/logic"
	"github.com/sweeney/sousvide/internal/metrics"
	"github.com/sweeney/sousvide/internal/status"
)

// DefaultCommandTimeout bounds how long a request waits for the control loop
// to apply a command.
const DefaultCommandTimeout = 2 * time.Second

var (
	errTimeout  = errors.New("timed out waiting for control loop")
	errDisabled = errors.New("control disabled")
)

// Commander accepts workflow commands. control.Controller implements it.
type Commander interface {
	Submit(cmd logic.Command) (<-chan error, error)
}

// Exporter writes the current session log as CSV. datalog.Logger implements it.
type Exporter interface {
	Export(w io.Writer) error
}

// Server serves the status page and control API over HTTP.
type Server struct {
	httpServer     *http.Server
	tracker        *status.Tracker
	commander      Commander
	exporter       Exporter
	commandTimeout time.Duration
}

// New creates a Server that reads state from the given tracker. commander and
// exporter may be nil, which disables the control endpoints and the CSV export.
func New(addr string, tracker *status.Tracker, commander Commander, exporter Exporter) *Server {
	s := &Server{
		tracker:        tracker,
		commander:      commander,
		exporter:       exporter,
		commandTimeout: DefaultCommandTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/status", s.handleJSON)
	mux.HandleFunc("/control", s.handleControl)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/log.csv", s.handleLog)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Printf("web: render: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleControl applies one command: form field action, plus value for
// set_temperature (°C) and set_time (minutes), or kp/ki/kd for set_tunings.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	action, err := logic.ParseAction(r.FormValue("action"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := logic.Command{Action: action}
	fields := map[string]*float64{"value": &cmd.Value, "kp": &cmd.Kp, "ki": &cmd.Ki, "kd": &cmd.Kd}
	for name, dst := range fields {
		v, ok, err := formFloat(r, name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ok {
			*dst = v
		}
	}
	if err := s.submit(cmd); err != nil {
		writeCommandError(w, cmd, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleSettings updates cook parameters from the form fields target (°C),
// time (minutes), alarm and preheat (on/off). Absent or unchanged fields are
// left alone, so the status page form can be saved mid-cook.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	cmds, err := settingsCommands(r, s.tracker.Snapshot().Control.Machine.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, cmd := range cmds {
		if err := s.submit(cmd); err != nil {
			writeCommandError(w, cmd, err)
			return
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func settingsCommands(r *http.Request, cur logic.CookingParameters) ([]logic.Command, error) {
	var cmds []logic.Command
	if v, ok, err := formFloat(r, "target"); err != nil {
		return nil, err
	} else if ok && v != cur.TargetTemperature {
		cmds = append(cmds, logic.Command{Action: logic.ActionSetTemperature, Value: v})
	}
	if v, ok, err := formFloat(r, "time"); err != nil {
		return nil, err
	} else if ok && v != cur.CookingTime.Minutes() {
		cmds = append(cmds, logic.Command{Action: logic.ActionSetTime, Value: v})
	}
	toggles := []struct {
		field   string
		current bool
		on, off logic.Action
	}{
		{"alarm", cur.AlarmEnabled, logic.ActionEnableAlarm, logic.ActionDisableAlarm},
		{"preheat", cur.PreheatEnabled, logic.ActionEnablePreheat, logic.ActionDisablePreheat},
	}
	for _, tg := range toggles {
		v, ok, err := formBool(r, tg.field)
		if err != nil {
			return nil, err
		}
		if !ok || v == tg.current {
			continue
		}
		if v {
			cmds = append(cmds, logic.Command{Action: tg.on})
		} else {
			cmds = append(cmds, logic.Command{Action: tg.off})
		}
	}
	return cmds, nil
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	if err := s.exporter.Export(&buf); err != nil {
		if errors.Is(err, datalog.ErrNoSession) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("web: export log: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sousvide.csv"`)
	w.Write(buf.Bytes())
}

// submit queues cmd and waits for the control loop to apply it.
func (s *Server) submit(cmd logic.Command) error {
	err := s.await(cmd)
	metrics.CountCommand("web", err)
	return err
}

func (s *Server) await(cmd logic.Command) error {
	if s.commander == nil {
		return errDisabled
	}
	reply, err := s.commander.Submit(cmd)
	if err != nil {
		return err
	}
	timer := time.NewTimer(s.commandTimeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err
	case <-timer.C:
		return errTimeout
	}
}

func writeCommandError(w http.ResponseWriter, cmd logic.Command, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, logic.ErrInvalidState):
		code = http.StatusConflict
	case errors.Is(err, logic.ErrUnknownAction), errors.Is(err, logic.ErrInvalidValue):
		code = http.StatusBadRequest
	case errors.Is(err, control.ErrQueueFull), errors.Is(err, errDisabled):
		code = http.StatusServiceUnavailable
	case errors.Is(err, errTimeout):
		code = http.StatusGatewayTimeout
	}
	http.Error(w, fmt.Sprintf("%s: %v", cmd.Action, err), code)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func formFloat(r *http.Request, name string) (float64, bool, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("%s: not a finite number", name)
	}
	return v, true, nil
}

func formBool(r *http.Request, name string) (bool, bool, error) {
	raw := strings.ToLower(strings.TrimSpace(r.FormValue(name)))
	switch raw {
	case "":
		return false, false, nil
	case "on", "true", "1", "yes":
		return true, true, nil
	case "off", "false", "0", "no":
		return false, true, nil
	}
	return false, false, fmt.Errorf("%s: invalid value %q", name, raw)
}
