package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/export"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/hw/flash"
	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
	"github.com/cjeanneret/BoothGo/internal/kiosk"
	"github.com/cjeanneret/BoothGo/internal/logic/compose"
	"github.com/cjeanneret/BoothGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start the kiosk web server on port; -web= for defaults.web_port, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	shots := flag.Int("shots", 0, "override photos per session (1-64)")
	countdown := flag.Int("countdown", 0, "override countdown seconds before each photo (1-60)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (zero means "use config default")
	if err := validateCLIOverrides(*shots, *countdown); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	if err := applyOverrides(cfg, *shots, *countdown); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Shots per session", cfg.Capture.ShotCount)
	debug.Value("Countdown", cfg.Capture.CountdownSeconds)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	// Initialize camera
	debug.Step(2, "Initializing camera")
	cam, mock, err := newCameraFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.PrintStruct("Camera config", cfg.Camera)
	if cfg.Flash.Enabled {
		lamp := flash.NewGPIOLamp(gpioDriver, cfg.Flash.Pin, cfg.Flash.ActiveLow)
		cam = flash.Wrap(cam, lamp, cfg.FlashPreFire())
		debug.PrintStruct("Flash config", cfg.Flash)
	}

	// Assets and exports
	debug.Step(3, "Initializing compositor and export destinations")
	resolver := newResolver(cfg, mock)
	submitter, spool, err := newSubmitter(cfg)
	if err != nil {
		log.Fatalf("init export failed: %v", err)
	}
	if spool != nil {
		defer spool.Close()
	}
	debug.PrintStruct("Export config", cfg.Export)

	flow := kiosk.New(kiosk.Deps{
		Config:    cfg,
		Camera:    cam,
		Resolver:  resolver,
		Submitter: submitter,
	})

	if port := webPort.resolve(cfg.Defaults.WebPort); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		handlers := web.NewHandlers(flow, broadcaster, web.NewConfigView(cfg), spool, web.StaticFS())
		handlers.Assets = os.DirFS(cfg.Assets.Dir)
		srv := web.NewServer(webAddr, handlers)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		flow.Restart(context.Background())
		return
	}

	// Headless: take one set of photos and print the hand-off
	if err := runHeadless(ctx, flow, os.Stdout); err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// runHeadless captures one session, accepts it and writes the hand-off as JSON.
func runHeadless(ctx context.Context, flow *kiosk.Flow, out io.Writer) error {
	debug.Section("Capture")
	if err := flow.Begin("", ""); err != nil {
		return err
	}
	if err := flow.Capture(ctx); err != nil {
		return err
	}
	handoff, err := flow.Accept(ctx)
	if err != nil {
		return err
	}
	debug.Summary("Sequence Complete")
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(handoff)
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(shots, countdown int) error {
	if shots != 0 && (shots < 1 || shots > 64) {
		return fmt.Errorf("shots must be between 1 and 64, got %d", shots)
	}
	if countdown != 0 && (countdown < 1 || countdown > 60) {
		return fmt.Errorf("countdown must be between 1 and 60, got %d", countdown)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero values are applied.
// Frames that need more distinct photos than a session now takes are dropped.
func applyOverrides(cfg *config.Config, shots, countdown int) error {
	if countdown > 0 {
		cfg.Capture.CountdownSeconds = countdown
	}
	if shots <= 0 {
		return nil
	}
	cfg.Capture.ShotCount = shots
	frames := cfg.Frames[:0:0]
	for _, f := range cfg.Frames {
		if f.UniquePhotos() <= shots {
			frames = append(frames, f)
		} else {
			debug.Info("Frame %s dropped: needs %d photos", f.Name, f.UniquePhotos())
		}
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frame fits %d photos per session", shots)
	}
	cfg.Frames = frames
	return nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= → defaults.web_port
// (8080 when unset), -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
	implicit    bool // -web= given without a port
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		w.implicit = true
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	w.implicit = false
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// resolve returns the port to serve on, preferring the configured port
// when -web was given without one.
func (w *webPortFlag) resolve(configured int) int {
	if w.implicit && configured > 0 {
		return configured
	}
	return w.val
}

// newCameraFromConfig selects the camera service implementation. The mock
// is also returned so its synthetic photos can be resolved.
func newCameraFromConfig(cfg *config.Config) (camera.Service, *camera.Mock, error) {
	if cfg.Camera.Mock {
		m := camera.NewMock(1200, 800)
		return m, m, nil
	}
	c, err := camera.NewHTTPClient(cfg.Camera.BaseURL, cfg.CameraTimeout())
	if err != nil {
		return nil, nil, err
	}
	return c, nil, nil
}

// newResolver routes image references: http(s) URLs from the camera
// service, mock:// photos, and everything else as artwork paths under
// the assets directory (decoded once).
func newResolver(cfg *config.Config, mock *camera.Mock) compose.Resolver {
	mux := compose.NewMux(compose.NewCache(compose.DirResolver{Root: cfg.Assets.Dir}))
	remote := compose.HTTPResolver{Client: &http.Client{Timeout: cfg.CameraTimeout()}}
	mux.Handle("http", remote)
	mux.Handle("https", remote)
	if mock != nil {
		mux.Handle("mock", mock)
	}
	return mux
}

// newSubmitter builds the export destinations. In spool mode the print
// queue is returned too, so the web server can expose it.
func newSubmitter(cfg *config.Config) (*export.Submitter, *export.Spool, error) {
	client := &http.Client{}
	sub := &export.Submitter{
		Cloud:   &export.HTTPUploader{URL: cfg.Export.CloudURL, Client: client},
		Timeout: cfg.ExportTimeout(),
	}
	switch cfg.Export.PrintMode {
	case "spool":
		spool, err := export.OpenSpool(cfg.Export.SpoolPath)
		if err != nil {
			return nil, nil, err
		}
		sub.Print = spool
		return sub, spool, nil
	default:
		sub.Print = &export.HTTPPrinter{URL: cfg.Export.PrintURL, Client: client}
		return sub, nil, nil
	}
}
