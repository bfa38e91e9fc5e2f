// Command sousvide runs the sous-vide cooker: front panel, probe, PID and
// heater relay, with MQTT publishing and an HTTP status page alongside.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sweeney/sousvide/internal/config"
	"github.com/sweeney/sousvide/internal/control"
	"github.com/sweeney/sousvide/internal/datalog"
	"github.com/sweeney/sousvide/internal/gpio"
	"github.com/sweeney/sousvide/internal/logic"
	"github.com/sweeney/sousvide/internal/metrics"
	"github.com/sweeney/sousvide/internal/mqtt"
	"github.com/sweeney/sousvide/internal/sensor"
	"github.com/sweeney/sousvide/internal/status"
	"github.com/sweeney/sousvide/internal/watchdog"
	"github.com/sweeney/sousvide/internal/web"
)

// overrides holds the command-line values that replace config file settings.
// Empty or zero values leave the file setting alone.
type overrides struct {
	broker   string
	httpAddr string
	wsBroker string
	tick     time.Duration
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "YAML configuration file")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	wsBroker := flag.String("ws-broker", "", `MQTT websocket URL for live UI ("=broker" derives from the broker, "off" disables)`)
	tick := flag.Duration("tick", 0, "Control tick interval (overrides config)")
	printTemp := flag.Bool("print-temp", false, "Print the probe temperature and exit")
	calibrate := flag.String("calibrate", "", "Reference temperature in °C: store the probe offset in the config and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := applyOverrides(cfg, overrides{
		broker:   *broker,
		httpAddr: *httpAddr,
		wsBroker: *wsBroker,
		tick:     *tick,
	}); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, *configPath, *printTemp, *calibrate); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyOverrides copies the non-empty flag values onto cfg and revalidates.
func applyOverrides(cfg *config.Config, o overrides) error {
	if o.broker != "" {
		cfg.MQTT.Broker = o.broker
	}
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = o.httpAddr
	}
	if o.wsBroker != "" {
		cfg.HTTP.WSBroker = o.wsBroker
	}
	if o.tick != 0 {
		cfg.Control.Tick = o.tick
	}
	return cfg.Validate()
}

func run(cfg *config.Config, configPath string, printTemp bool, calibrate string) error {
	probe, err := sensor.NewW1Probe(cfg.Probe.W1Dir, cfg.Probe.ID)
	if err != nil {
		return fmt.Errorf("init probe: %w", err)
	}

	// Print temperature mode
	if printTemp {
		raw, err := readProbe(probe, cfg.Probe.Interval, time.Sleep)
		if err != nil {
			return fmt.Errorf("read probe: %w", err)
		}
		off := cfg.Probe.CalibrationOffset
		fmt.Printf("Temperature: %.2f°C (raw %.2f°C, offset %+.1f°C)\n", raw+off, raw, off)
		return nil
	}

	// Calibration mode
	if calibrate != "" {
		ref, err := strconv.ParseFloat(calibrate, 64)
		if err != nil {
			return fmt.Errorf("parse --calibrate %q: %w", calibrate, err)
		}
		raw, err := readProbe(probe, cfg.Probe.Interval, time.Sleep)
		if err != nil {
			return fmt.Errorf("read probe: %w", err)
		}
		off, err := calibrationOffset(ref, raw, cfg.ToControl().Limits.MaxCalibration)
		if err != nil {
			return err
		}
		cfg.Probe.CalibrationOffset = off
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Calibration offset %+.1f°C saved to %s\n", off, configPath)
		return nil
	}

	// Initialize GPIO
	button, err := gpio.NewRealButton(cfg.Pins.Button)
	if err != nil {
		return fmt.Errorf("init button: %w", err)
	}
	defer button.Close()

	heater, err := gpio.NewRealOutput("ssr", cfg.Pins.SSR)
	if err != nil {
		return fmt.Errorf("init heater: %w", err)
	}
	defer heater.Close()

	var buzzer gpio.Output
	if cfg.Pins.Buzzer >= 0 {
		b, err := gpio.NewRealOutput("buzzer", cfg.Pins.Buzzer)
		if err != nil {
			return fmt.Errorf("init buzzer: %w", err)
		}
		defer b.Close()
		buzzer = b
	}

	// Initialize controller
	startTime := time.Now()
	controller := control.New(cfg.ToControl(), probe, button, heater, buzzer, startTime)
	if err := controller.Begin(startTime); err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	defer func() {
		if err := controller.Shutdown(); err != nil {
			log.Printf("controller %v", err)
		}
	}()

	enc, err := gpio.NewRealEncoder(cfg.Pins.EncoderA, cfg.Pins.EncoderB, controller.Encoder())
	if err != nil {
		return fmt.Errorf("init encoder: %w", err)
	}
	defer enc.Close()

	// Initialize data log
	var logger *datalog.Logger
	if cfg.DataLog.Dir != "" {
		logger, err = datalog.New(cfg.ToDataLog())
		if err != nil {
			return fmt.Errorf("init data log: %w", err)
		}
		defer logger.End()
	}

	// Initialize MQTT
	commands := make(chan logic.Command, cfg.Control.QueueSize)
	publisher := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.BufferSize, func(cmd logic.Command) {
		select {
		case commands <- cmd:
		default:
			log.Printf("mqtt: dropping command %s: %v", cmd.Action, control.ErrQueueFull)
			metrics.CountCommand("mqtt", control.ErrQueueFull)
		}
	})
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	wsBroker := resolveWSBroker(cfg.HTTP.WSBroker, cfg.MQTT.Broker)
	tracker := status.NewTracker(startTime, status.Config{
		TickMs:      cfg.Control.Tick.Milliseconds(),
		SampleMs:    cfg.Control.PIDSample.Milliseconds(),
		WindowMs:    cfg.Control.Window.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		WSBroker:    wsBroker,
		ConfigPath:  configPath,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// The loop must not wait on the broker; a single sender drains the queue.
	outbox := mqtt.NewAsyncPublisher(publisher, mqtt.DefaultQueueSize, func(kind string, err error) {
		log.Printf("%s publish error: %v", kind, err)
		metrics.PublishErrors.WithLabelValues(kind).Inc()
	})
	g.Go(func() error {
		return outbox.Run(gCtx)
	})

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		var exporter web.Exporter
		if logger != nil {
			exporter = logger
		}
		srv := web.New(cfg.HTTP.Addr, tracker, controller, exporter)
		g.Go(func() error {
			return runHTTPServer(gCtx, srv)
		})
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	g.Go(func() error {
		limit := rate.NewLimiter(rate.Limit(cfg.MQTT.CommandRate), int(math.Max(1, cfg.MQTT.CommandRate)))
		return pumpCommands(gCtx, commands, controller, limit, 2*time.Second)
	})

	var wd *watchdog.Watchdog
	if cfg.Watchdog.Timeout > 0 {
		wd = watchdog.New(cfg.Watchdog.Timeout, time.Now)
		g.Go(func() error {
			t := time.NewTicker(wd.Timeout() / 4)
			defer t.Stop()
			return wd.Run(gCtx, t.C, func(err error) {
				if err := heater.Set(false); err != nil {
					log.Printf("watchdog: force heater off: %v", err)
				}
				// The loop goroutine is stuck and would block Wait forever.
				log.Fatalf("watchdog: %v, heater forced off", err)
			})
		})
	}

	log.Printf("started: tick=%v window=%v broker=%s heartbeat=%v target=%.1f°C",
		cfg.Control.Tick, cfg.Control.Window, cfg.MQTT.Broker, cfg.MQTT.Heartbeat, cfg.Cook.Target)

	ticker := time.NewTicker(cfg.Control.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps := loopDeps{
		controller: controller,
		publisher:  outbox,
		mqttStatus: publisher,
		tracker:    tracker,
		logger:     logger,
		watchdog:   wd,
		heartbeat:  cfg.MQTT.Heartbeat,
		telemetry:  cfg.MQTT.Telemetry,
		saveOffset: func(off float64) error {
			cfg.Probe.CalibrationOffset = off
			return cfg.Save(configPath)
		},
	}
	g.Go(func() error {
		defer cancel()
		return runLoop(gCtx, deps, time.Now, ticker.C, sigCh)
	})

	err = g.Wait()
	// SHUTDOWN is queued last; send it before the deferred Close.
	if n := outbox.Flush(); n > 0 {
		log.Printf("mqtt: flushed %d queued messages", n)
	}
	return err
}

// loopDeps are the collaborators runLoop drives. logger, watchdog and
// saveOffset may be nil.
type loopDeps struct {
	controller *control.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	logger     *datalog.Logger
	watchdog   *watchdog.Watchdog
	heartbeat  time.Duration
	telemetry  time.Duration
	saveOffset func(float64) error
}

func runLoop(ctx context.Context, d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	lastHeartbeat := startTime
	var lastTelemetry time.Time

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			shutdown(d, now(), signalName(s))
			return nil

		case <-ctx.Done():
			log.Printf("stopping: %v", context.Cause(ctx))
			shutdown(d, now(), "STOPPED")
			return nil

		case <-tick:
			began := time.Now()
			t := now()

			events := d.controller.Tick(t)
			metrics.CountEvents(events)
			for _, event := range events {
				logEvent(event)
				if err := d.publisher.Publish(event); err != nil {
					log.Printf("publish error: %v", err)
					metrics.PublishErrors.WithLabelValues("event").Inc()
				}
				if calibrationConfirmed(event) && d.saveOffset != nil {
					off := d.controller.Snapshot(t).Machine.CalibrationOffset
					if err := d.saveOffset(off); err != nil {
						log.Printf("save calibration offset: %v", err)
					} else {
						log.Printf("calibration offset %+.1f°C saved", off)
					}
				}
			}

			snap := d.controller.Snapshot(t)
			d.tracker.Update(snap)
			metrics.Record(snap)
			if d.mqttStatus != nil {
				connected := d.mqttStatus.IsConnected()
				d.tracker.SetMQTTConnected(connected)
				metrics.SetMQTTConnected(connected)
			}

			if d.logger != nil {
				err := d.logger.Track(snap.Machine.State.Heating(), datalog.Entry{
					Time:        t,
					Temperature: snap.Sensor.Filtered,
					Target:      snap.Machine.Params.TargetTemperature,
					Power:       snap.SSR.Power,
					Remaining:   snap.Machine.Remaining,
				})
				if err != nil {
					log.Printf("datalog: %v", err)
				}
				d.tracker.SetSession(d.logger.Session())
			}

			if d.telemetry > 0 && t.Sub(lastTelemetry) >= d.telemetry {
				lastTelemetry = t
				err := d.publisher.PublishTelemetry(mqtt.Telemetry{
					Timestamp:   t,
					Temperature: snap.Sensor.Filtered,
					Setpoint:    snap.Machine.Params.TargetTemperature,
				})
				if err != nil {
					log.Printf("telemetry publish error: %v", err)
					metrics.PublishErrors.WithLabelValues("telemetry").Inc()
				}
			}

			// Check for heartbeat
			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				hb := d.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v state=%s temp=%.2f°C power=%.1f%%",
					hb.Uptime().Truncate(time.Second), snap.Machine.State, snap.Sensor.Filtered, snap.SSR.Power)
				err := d.publisher.PublishSystem(mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(hb, "HEARTBEAT", ""),
				})
				if err != nil {
					log.Printf("heartbeat publish error: %v", err)
					metrics.PublishErrors.WithLabelValues("system").Inc()
				}
			}

			if d.watchdog != nil {
				d.watchdog.Kick()
			}
			metrics.ObserveTick(time.Since(began))
		}
	}
}

// shutdown latches the heater off, closes the data log session and publishes
// the retained SHUTDOWN event.
func shutdown(d loopDeps, t time.Time, reason string) {
	if err := d.controller.Shutdown(); err != nil {
		log.Printf("controller %v", err)
	}
	if d.logger != nil {
		if err := d.logger.End(); err != nil {
			log.Printf("datalog: %v", err)
		}
		d.tracker.SetSession("")
	}
	d.tracker.Update(d.controller.Snapshot(t))

	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", reason)
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func logEvent(e logic.Event) {
	switch {
	case e.Type == logic.EventStateChanged && e.Error != "" && e.Error != logic.ErrorNone:
		log.Printf("event: %s %s -> %s (%s)", e.Type, e.From, e.To, e.Error)
	case e.Type == logic.EventStateChanged:
		log.Printf("event: %s %s -> %s", e.Type, e.From, e.To)
	default:
		log.Printf("event: %s", e.Type)
	}
}

// calibrationConfirmed reports whether e leaves Calibration. The edited offset
// is kept on every exit.
func calibrationConfirmed(e logic.Event) bool {
	return e.Type == logic.EventStateChanged && e.From == logic.StateCalibration
}

// commander is the part of the controller that accepts remote commands.
type commander interface {
	Submit(cmd logic.Command) (<-chan error, error)
}

// pumpCommands feeds MQTT commands into the controller one at a time,
// paced by limit, and waits up to timeout for each to be applied.
func pumpCommands(ctx context.Context, in <-chan logic.Command, c commander, limit *rate.Limiter, timeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-in:
			if err := limit.Wait(ctx); err != nil {
				return nil
			}
			err := submitAndWait(ctx, c, cmd, timeout)
			if err != nil {
				log.Printf("mqtt: command %s: %v", cmd.Action, err)
			}
			metrics.CountCommand("mqtt", err)
		}
	}
}

var errCommandTimeout = errors.New("command not applied in time")

func submitAndWait(ctx context.Context, c commander, cmd logic.Command, timeout time.Duration) error {
	reply, err := c.Submit(cmd)
	if err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err
	case <-timer.C:
		return errCommandTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runHTTPServer serves until ctx is done, then shuts the server down.
func runHTTPServer(ctx context.Context, srv *web.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http server shutdown: %v", err)
		}
		return nil
	}
}

// readProbe issues one conversion and waits for its result.
func readProbe(p sensor.Probe, wait time.Duration, sleep func(time.Duration)) (float64, error) {
	if err := p.RequestConversion(); err != nil {
		return 0, err
	}
	for i := 0; i < 4; i++ {
		sleep(wait)
		c, err := p.ReadC()
		if errors.Is(err, sensor.ErrNotReady) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !sensor.Valid(c) {
			return 0, fmt.Errorf("reading %.2f: %w", c, sensor.ErrInvalidReading)
		}
		return c, nil
	}
	return 0, sensor.ErrNotReady
}

// calibrationOffset returns the offset, rounded to 0.1°C, that makes raw read
// as reference.
func calibrationOffset(reference, raw, max float64) (float64, error) {
	off := math.Round((reference-raw)*10) / 10
	if math.Abs(off) > max {
		return 0, fmt.Errorf("offset %+.1f°C exceeds ±%.1f°C", off, max)
	}
	return off, nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
