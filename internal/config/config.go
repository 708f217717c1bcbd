// Package config manages persistent settings for smoothmirror endpoints.
// Settings are stored as JSON at os.UserConfigDir()/smoothmirror/config.json;
// command-line flags override individual fields at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ForwardSpec declares one port-forward tunnel started at session setup:
// accept on Listen locally, dial Target at the peer.
type ForwardSpec struct {
	Listen string `json:"listen"`
	Target string `json:"target"`
}

// Config holds all persistent settings.
type Config struct {
	RelayAddr string `json:"relay_addr"`

	// Capture region and encoded stream geometry.
	CaptureX      int `json:"capture_x"`
	CaptureY      int `json:"capture_y"`
	CaptureWidth  int `json:"capture_width"`
	CaptureHeight int `json:"capture_height"`
	EncodedWidth  int `json:"encoded_width"`
	EncodedHeight int `json:"encoded_height"`

	FrameRate    int `json:"frame_rate"`
	VideoBitrate int `json:"video_bitrate"` // bits/s, CBR target
	AudioBitrate int `json:"audio_bitrate"` // bits/s

	Volume float64 `json:"volume"` // playback volume scalar, 0–2

	Forwards []ForwardSpec `json:"forwards,omitempty"`

	// StatsAddr exposes Prometheus metrics when non-empty (debug only).
	StatsAddr string `json:"stats_addr,omitempty"`
}

// Default returns the reference configuration: 1080p60 at 8 Mb/s video and
// 128 kb/s audio.
func Default() Config {
	return Config{
		RelayAddr:     "dw.superkooks.com:42069",
		CaptureWidth:  2560,
		CaptureHeight: 1440,
		EncodedWidth:  1920,
		EncodedHeight: 1080,
		FrameRate:     60,
		VideoBitrate:  8 << 20,
		AudioBitrate:  128_000,
		Volume:        1.0,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "smoothmirror", "config.json"), nil
}

// Load reads the config file. If the file is missing or unreadable, the
// default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	return LoadFrom(path)
}

// LoadFrom reads a config file at an explicit path, falling back to defaults
// field-by-field for anything the file omits.
func LoadFrom(path string) Config {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes cfg to an explicit path.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FrameDuration returns the capture period.
func (c Config) FrameDuration() time.Duration {
	if c.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FrameRate)
}
