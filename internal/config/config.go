package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes how to reach the camera service.
// With Mock set, an in-memory camera is used instead (dev kiosks, demos).
type CameraConfig struct {
	BaseURL   string `yaml:"base_url"`   // e.g., "http://172.30.174.2:5000"
	TimeoutMs int    `yaml:"timeout_ms"` // per-request timeout (ms)
	Mock      bool   `yaml:"mock"`       // use the in-memory camera
}

// CaptureConfig holds the capture session parameters.
type CaptureConfig struct {
	ShotCount        int `yaml:"shot_count"`        // photos per session
	CountdownSeconds int `yaml:"countdown_seconds"` // countdown before each shot
	PollAttempts     int `yaml:"poll_attempts"`     // get_photo attempts before giving up
	PollIntervalMs   int `yaml:"poll_interval_ms"`  // delay between get_photo attempts (ms)
}

// FlashConfig describes the optional GPIO flash lamp fired around each capture.
type FlashConfig struct {
	Enabled   bool `yaml:"enabled"`
	Pin       int  `yaml:"pin"`         // BCM pin driving the lamp relay
	ActiveLow bool `yaml:"active_low"`  // relay boards are commonly active LOW
	PreFireMs int  `yaml:"pre_fire_ms"` // lamp on before the shutter request (ms)
}

// OverlayConfig holds sticker defaults.
type OverlayConfig struct {
	ElementWidth  float64  `yaml:"element_width"`   // default sticker width (px)
	ElementHeight float64  `yaml:"element_height"`  // default sticker height (px)
	RotateStepDeg float64  `yaml:"rotate_step_deg"` // rotate button increment
	Stickers      []string `yaml:"stickers"`        // asset refs offered to the guest
}

// FrameConfig describes a printable frame layout.
// Cells are laid out row-major on a Columns x Rows grid.
type FrameConfig struct {
	Name          string `yaml:"name"`
	MaxSelections int    `yaml:"max_selections"` // photos the guest must pick
	Duplicate     bool   `yaml:"duplicate"`      // each pick fills two cells (strip frames)
	Mirror        bool   `yaml:"mirror"`         // mirror photos horizontally
	Width         int    `yaml:"width"`          // canvas width (px)
	Height        int    `yaml:"height"`         // canvas height (px)
	Background    string `yaml:"background"`     // asset drawn under the photos (optional)
	Cover         string `yaml:"cover"`          // asset drawn over the photos (optional)
	Columns       int    `yaml:"columns"`
	Rows          int    `yaml:"rows"`
	CellWidth     int    `yaml:"cell_width"`
	CellHeight    int    `yaml:"cell_height"`
	OriginX       int    `yaml:"origin_x"`
	OriginY       int    `yaml:"origin_y"`
	GapX          int    `yaml:"gap_x"`
	GapY          int    `yaml:"gap_y"`
}

// ExportConfig describes where finished photos go.
type ExportConfig struct {
	PrintMode string `yaml:"print_mode"` // "http" or "spool"
	PrintURL  string `yaml:"print_url"`  // print endpoint (http mode)
	SpoolPath string `yaml:"spool_path"` // SQLite print queue (spool mode)
	CloudURL  string `yaml:"cloud_url"`  // cloud upload endpoint
	TimeoutMs int    `yaml:"timeout_ms"`
	Device    string `yaml:"device"` // kiosk device number
}

// AssetsConfig points at the sticker/frame artwork.
type AssetsConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	WebPort    int  `yaml:"web_port"`    // kiosk API port
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Capture  CaptureConfig  `yaml:"capture"`
	Flash    FlashConfig    `yaml:"flash"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Frames   []FrameConfig  `yaml:"frames"`
	Export   ExportConfig   `yaml:"export"`
	Assets   AssetsConfig   `yaml:"assets"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Camera
	if !cfg.Camera.Mock && cfg.Camera.BaseURL == "" {
		return nil, fmt.Errorf("camera.base_url is required unless camera.mock is set")
	}
	if cfg.Camera.TimeoutMs <= 0 {
		cfg.Camera.TimeoutMs = 5000
	}

	// Capture
	if cfg.Capture.ShotCount < 0 || cfg.Capture.ShotCount > 64 {
		return nil, fmt.Errorf("capture.shot_count must be between 1 and 64, got %d", cfg.Capture.ShotCount)
	}
	if cfg.Capture.ShotCount == 0 {
		cfg.Capture.ShotCount = 8
	}
	if cfg.Capture.CountdownSeconds < 0 || cfg.Capture.CountdownSeconds > 60 {
		return nil, fmt.Errorf("capture.countdown_seconds must be between 0 and 60, got %d", cfg.Capture.CountdownSeconds)
	}
	if cfg.Capture.CountdownSeconds == 0 {
		cfg.Capture.CountdownSeconds = 8
	}
	if cfg.Capture.PollAttempts <= 0 {
		cfg.Capture.PollAttempts = 30
	}
	if cfg.Capture.PollIntervalMs <= 0 {
		cfg.Capture.PollIntervalMs = 500
	}

	// Flash
	if cfg.Flash.Enabled && cfg.Flash.Pin <= 0 {
		return nil, fmt.Errorf("flash.pin is required when flash is enabled")
	}
	if cfg.Flash.PreFireMs <= 0 {
		cfg.Flash.PreFireMs = 150
	}

	// Overlay
	if cfg.Overlay.ElementWidth <= 0 {
		cfg.Overlay.ElementWidth = 100
	}
	if cfg.Overlay.ElementHeight <= 0 {
		cfg.Overlay.ElementHeight = 100
	}
	if cfg.Overlay.RotateStepDeg == 0 {
		cfg.Overlay.RotateStepDeg = 45
	}
	if math.IsNaN(cfg.Overlay.RotateStepDeg) || math.IsInf(cfg.Overlay.RotateStepDeg, 0) {
		return nil, fmt.Errorf("overlay.rotate_step_deg must be finite")
	}

	// Frames
	if len(cfg.Frames) == 0 {
		for _, f := range DefaultFrames() {
			if validateFrame(&f, cfg.Capture.ShotCount) == nil {
				cfg.Frames = append(cfg.Frames, f)
			}
		}
	}
	seen := make(map[string]bool, len(cfg.Frames))
	for i := range cfg.Frames {
		f := &cfg.Frames[i]
		if err := validateFrame(f, cfg.Capture.ShotCount); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("frame %q defined twice", f.Name)
		}
		seen[f.Name] = true
	}

	// Export
	switch cfg.Export.PrintMode {
	case "":
		cfg.Export.PrintMode = "http"
	case "http", "spool":
	default:
		return nil, fmt.Errorf("export.print_mode must be \"http\" or \"spool\", got %q", cfg.Export.PrintMode)
	}
	if cfg.Export.PrintMode == "http" && cfg.Export.PrintURL == "" {
		return nil, fmt.Errorf("export.print_url is required in http print mode")
	}
	if cfg.Export.PrintMode == "spool" && cfg.Export.SpoolPath == "" {
		cfg.Export.SpoolPath = filepath.Join("var", "print-spool.db")
	}
	if cfg.Export.CloudURL == "" {
		return nil, fmt.Errorf("export.cloud_url is required")
	}
	if cfg.Export.TimeoutMs <= 0 {
		cfg.Export.TimeoutMs = 15000
	}
	if cfg.Export.Device == "" {
		cfg.Export.Device = "001"
	}

	if cfg.Assets.Dir == "" {
		cfg.Assets.Dir = "assets"
	}
	if cfg.Defaults.WebPort < 0 || cfg.Defaults.WebPort > 65535 {
		return nil, fmt.Errorf("defaults.web_port must be 0-65535, got %d", cfg.Defaults.WebPort)
	}
	if cfg.Defaults.WebPort == 0 {
		cfg.Defaults.WebPort = 8080
	}

	return &cfg, nil
}

func validateFrame(f *FrameConfig, shotCount int) error {
	if f.Name == "" {
		return fmt.Errorf("frame name is required")
	}
	if f.MaxSelections <= 0 {
		return fmt.Errorf("frame %q: max_selections must be > 0", f.Name)
	}
	if f.Columns <= 0 || f.Rows <= 0 {
		return fmt.Errorf("frame %q: columns and rows must be > 0", f.Name)
	}
	if f.CellWidth <= 0 || f.CellHeight <= 0 {
		return fmt.Errorf("frame %q: cell_width and cell_height must be > 0", f.Name)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame %q: width and height must be > 0", f.Name)
	}
	if f.Columns*f.Rows < f.MaxSelections {
		return fmt.Errorf("frame %q: %dx%d grid cannot hold %d photos", f.Name, f.Columns, f.Rows, f.MaxSelections)
	}
	if f.Duplicate && f.MaxSelections%2 != 0 {
		return fmt.Errorf("frame %q: duplicate frames need an even max_selections", f.Name)
	}
	if unique := f.UniquePhotos(); unique > shotCount {
		return fmt.Errorf("frame %q needs %d distinct photos but a session only takes %d", f.Name, unique, shotCount)
	}
	right := f.OriginX + f.Columns*f.CellWidth + (f.Columns-1)*f.GapX
	bottom := f.OriginY + f.Rows*f.CellHeight + (f.Rows-1)*f.GapY
	if right > f.Width || bottom > f.Height {
		return fmt.Errorf("frame %q: grid (%dx%d px) exceeds canvas %dx%d", f.Name, right, bottom, f.Width, f.Height)
	}
	return nil
}

// UniquePhotos is the number of distinct photos the guest picks for the frame.
func (f FrameConfig) UniquePhotos() int {
	if f.Duplicate {
		return f.MaxSelections / 2
	}
	return f.MaxSelections
}

// DefaultFrames returns the frame catalogue shipped with the kiosk
// (4x6 inch prints at 300 dpi).
func DefaultFrames() []FrameConfig {
	grid := func(name string, max, cols, rows int, dup bool) FrameConfig {
		const w, h, margin, gap = 1200, 1800, 60, 30
		cellW := (w - 2*margin - (cols-1)*gap) / cols
		cellH := (h - 2*margin - 240 - (rows-1)*gap) / rows
		return FrameConfig{
			Name: name, MaxSelections: max, Duplicate: dup, Mirror: true,
			Width: w, Height: h,
			Columns: cols, Rows: rows,
			CellWidth: cellW, CellHeight: cellH,
			OriginX: margin, OriginY: margin,
			GapX: gap, GapY: gap,
		}
	}
	return []FrameConfig{
		grid("Stripx2", 8, 2, 4, true),
		grid("2cut-x2", 2, 2, 1, false),
		grid("3-cutx2", 3, 1, 3, false),
		grid("4-cutx2", 4, 2, 2, false),
		grid("4.1-cutx2", 4, 2, 2, false),
		grid("5-cutx2", 5, 2, 3, false),
		grid("6-cutx2", 6, 3, 2, false),
	}
}

// Frame returns the frame with the given name.
func (c *Config) Frame(name string) (FrameConfig, bool) {
	for _, f := range c.Frames {
		if f.Name == name {
			return f, true
		}
	}
	return FrameConfig{}, false
}

// CameraTimeout returns the per-request camera service timeout.
func (c *Config) CameraTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutMs) * time.Millisecond
}

// PollInterval returns the delay between get_photo attempts.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Capture.PollIntervalMs) * time.Millisecond
}

// FlashPreFire returns how long the lamp burns before the shutter request.
func (c *Config) FlashPreFire() time.Duration {
	return time.Duration(c.Flash.PreFireMs) * time.Millisecond
}

// ExportTimeout returns the timeout applied to each export dispatch.
func (c *Config) ExportTimeout() time.Duration {
	return time.Duration(c.Export.TimeoutMs) * time.Millisecond
}
