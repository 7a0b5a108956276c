package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/alfredjeanlab/lastplay/internal/hotkey"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Recording policies.
const (
	PolicyOverwrite  = "overwrite"
	PolicyAlwaysKeep = "always-keep"
)

// Config is the runtime configuration. Durations are seconds, as in the file.
type Config struct {
	Input     InputConfig     `toml:"input"`
	OBS       OBSConfig       `toml:"obs"`
	Audio     AudioConfig     `toml:"audio"`
	Detection DetectionConfig `toml:"detection"`
	Recording RecordingConfig `toml:"recording"`
	History   HistoryConfig   `toml:"history"`
	Events    EventsConfig    `toml:"events"`
	Archive   ArchiveConfig   `toml:"archive"`
	Status    StatusConfig    `toml:"status"`
	Telemetry TelemetryConfig `toml:"telemetry"`

	// [scenes] and [video] mix plain keys with per-game tables.
	RawScenes map[string]toml.Primitive `toml:"scenes"`
	RawVideo  map[string]toml.Primitive `toml:"video"`

	scenes     sceneTable
	gameScenes map[string]sceneTable
	video      model.VideoSettings
	gameVideo  map[string]model.VideoSettings

	// Path is the file the config was read from ("" when defaults only).
	Path string `toml:"-"`
	// Undecoded lists keys present in the file that no setting consumed.
	Undecoded []string `toml:"-"`
}

type InputConfig struct {
	SaveKey          string `toml:"save_key" env:"LASTPLAY_SAVE_KEY"`
	Debug            bool   `toml:"debug" env:"LASTPLAY_DEBUG"`
	RequireElevation bool   `toml:"require_elevation" env:"LASTPLAY_REQUIRE_ELEVATION"`
	LogFile          string `toml:"log_file" env:"LASTPLAY_LOG_FILE"`
}

type OBSConfig struct {
	Host     string  `toml:"host" env:"LASTPLAY_OBS_HOST"`
	Port     int     `toml:"port" env:"LASTPLAY_OBS_PORT"`
	Password string  `toml:"password" env:"LASTPLAY_OBS_PASSWORD"`
	Timeout  float64 `toml:"timeout" env:"LASTPLAY_OBS_TIMEOUT"`
}

// URL returns the recorder's WebSocket endpoint.
func (c OBSConfig) URL() string {
	return "ws://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TimeoutDuration is the per-request deadline.
func (c OBSConfig) TimeoutDuration() time.Duration { return seconds(c.Timeout) }

type AudioConfig struct {
	Enabled       bool   `toml:"enabled" env:"LASTPLAY_AUDIO_ENABLED"`
	Notifications bool   `toml:"notifications" env:"LASTPLAY_NOTIFICATIONS"`
	Start         string `toml:"start"`
	Ready         string `toml:"ready"`
	Saved         string `toml:"saved"`
	Failed        string `toml:"failed"`
}

// Cues maps cue names to sound files.
func (c AudioConfig) Cues() map[string]string {
	return map[string]string{"start": c.Start, "ready": c.Ready, "saved": c.Saved, "failed": c.Failed}
}

type DetectionConfig struct {
	Interval           float64 `toml:"interval" env:"LASTPLAY_DETECTION_INTERVAL"`
	DetectionsRequired int     `toml:"detections_required" env:"LASTPLAY_DETECTIONS_REQUIRED"`
	SessionGrace       float64 `toml:"session_grace" env:"LASTPLAY_SESSION_GRACE"`
	ForceGame          string  `toml:"force_game" env:"LASTPLAY_FORCE_GAME"`
	Profiles           string  `toml:"profiles" env:"LASTPLAY_PROFILES"`
}

func (c DetectionConfig) IntervalDuration() time.Duration     { return seconds(c.Interval) }
func (c DetectionConfig) SessionGraceDuration() time.Duration { return seconds(c.SessionGrace) }

type RecordingConfig struct {
	Policy           string  `toml:"policy" env:"LASTPLAY_RECORDING_POLICY"`
	OutputDir        string  `toml:"output_dir" env:"LASTPLAY_OUTPUT_DIR"`
	SaveScreenshots  bool    `toml:"save_screenshots" env:"LASTPLAY_SAVE_SCREENSHOTS"`
	SceneChangeDelay float64 `toml:"scene_change_delay" env:"LASTPLAY_SCENE_CHANGE_DELAY"`
	SaveGrace        float64 `toml:"save_grace" env:"LASTPLAY_SAVE_GRACE"`
}

func (c RecordingConfig) SceneChangeDelayDuration() time.Duration { return seconds(c.SceneChangeDelay) }
func (c RecordingConfig) SaveGraceDuration() time.Duration        { return seconds(c.SaveGrace) }

type HistoryConfig struct {
	Database string `toml:"database" env:"LASTPLAY_DATABASE_URL"` // "sqlite:<path>" or "postgres://..." (empty = disabled)
}

type EventsConfig struct {
	NATSURL string `toml:"nats_url" env:"LASTPLAY_NATS_URL"` // empty = no events
}

type ArchiveConfig struct {
	S3Bucket   string `toml:"s3_bucket" env:"LASTPLAY_ARCHIVE_S3_BUCKET"` // enables uploads when set
	S3Region   string `toml:"s3_region" env:"LASTPLAY_ARCHIVE_S3_REGION"`
	S3Endpoint string `toml:"s3_endpoint" env:"LASTPLAY_ARCHIVE_S3_ENDPOINT"` // custom endpoint for MinIO
	S3Prefix   string `toml:"s3_prefix" env:"LASTPLAY_ARCHIVE_S3_PREFIX"`
}

type StatusConfig struct {
	HTTPAddr string `toml:"http_addr" env:"LASTPLAY_HTTP_ADDR"`
	GRPCAddr string `toml:"grpc_addr" env:"LASTPLAY_GRPC_ADDR"`
	// Token, when set, is required as a Bearer token on HTTP requests.
	Token string `toml:"token" env:"LASTPLAY_STATUS_TOKEN"`
}

type TelemetryConfig struct {
	OTelEndpoint string `toml:"otel_endpoint" env:"LASTPLAY_OTEL_ENDPOINT"`
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		Input: InputConfig{SaveKey: "ctrl+space", RequireElevation: true},
		OBS:   OBSConfig{Host: "localhost", Port: 4455, Timeout: 3},
		Audio: AudioConfig{
			Enabled:       true,
			Notifications: true,
			Start:         "sounds/start.wav",
			Ready:         "sounds/ready.wav",
			Saved:         "sounds/saved.wav",
			Failed:        "sounds/failed.wav",
		},
		Detection: DetectionConfig{
			Interval:           0.25,
			DetectionsRequired: 2,
			SessionGrace:       5,
			Profiles:           "games.json",
		},
		Recording: RecordingConfig{
			Policy:           PolicyOverwrite,
			SaveScreenshots:  true,
			SceneChangeDelay: 0.3,
		},
		Archive: ArchiveConfig{S3Region: "us-east-1", S3Prefix: "lastplay/"},
	}
}

// Load reads the TOML file at path over the defaults, applies LASTPLAY_*
// environment overrides and validates the result. A missing file is not an
// error; the defaults are used.
func Load(path string) (*Config, error) {
	c := Default()
	var md toml.MetaData
	if path != "" {
		var err error
		md, err = toml.DecodeFile(path, c)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("parse %s: %w", path, err)
		default:
			c.Path = path
		}
	}

	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var ve model.ValidationError
	c.decodeTables(md, &ve)
	if c.Path != "" {
		for _, k := range md.Undecoded() {
			c.Undecoded = append(c.Undecoded, k.String())
		}
	}
	c.validate(&ve)
	if err := ve.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// ProfilesPath resolves the game-profile file relative to the config file.
func (c *Config) ProfilesPath() string {
	p := expandHome(c.Detection.Profiles)
	if filepath.IsAbs(p) || c.Path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.Path), p)
}

func (c *Config) validate(ve *model.ValidationError) {
	if strings.TrimSpace(c.Input.SaveKey) == "" {
		ve.Add("input.save_key", "is required")
	} else if _, err := hotkey.ParseBinding(c.Input.SaveKey); err != nil {
		ve.Add("input.save_key", "%v", err)
	}
	if strings.TrimSpace(c.OBS.Host) == "" {
		ve.Add("obs.host", "is required")
	}
	if c.OBS.Port < 1 || c.OBS.Port > 65535 {
		ve.Add("obs.port", "must be between 1 and 65535, got %d", c.OBS.Port)
	}
	if c.OBS.Timeout <= 0 {
		ve.Add("obs.timeout", "must be > 0, got %v", c.OBS.Timeout)
	}
	if c.Detection.Interval <= 0 {
		ve.Add("detection.interval", "must be > 0, got %v", c.Detection.Interval)
	}
	if c.Detection.DetectionsRequired < 1 {
		ve.Add("detection.detections_required", "must be >= 1, got %d", c.Detection.DetectionsRequired)
	}
	if c.Detection.SessionGrace < 0 {
		ve.Add("detection.session_grace", "must be >= 0, got %v", c.Detection.SessionGrace)
	}
	if strings.TrimSpace(c.Detection.Profiles) == "" {
		ve.Add("detection.profiles", "is required")
	}
	switch c.Recording.Policy {
	case PolicyOverwrite, PolicyAlwaysKeep:
	default:
		ve.Add("recording.policy", "invalid value %q (want %q or %q)", c.Recording.Policy, PolicyOverwrite, PolicyAlwaysKeep)
	}
	if c.Recording.SceneChangeDelay < 0 {
		ve.Add("recording.scene_change_delay", "must be >= 0, got %v", c.Recording.SceneChangeDelay)
	}
	if c.Recording.SaveGrace < 0 {
		ve.Add("recording.save_grace", "must be >= 0, got %v", c.Recording.SaveGrace)
	}
	if db := c.History.Database; db != "" && !strings.HasPrefix(db, "sqlite:") &&
		!strings.HasPrefix(db, "postgres://") && !strings.HasPrefix(db, "postgresql://") {
		ve.Add("history.database", "unsupported scheme in %q (want sqlite: or postgres://)", db)
	}
}

// WriteDefault writes a commented default configuration to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.WriteString(defaultTemplate); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func expandHome(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}
