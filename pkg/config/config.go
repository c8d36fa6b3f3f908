package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by accessor methods.
//
// Example (~/.shellfs/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8089
// shell:
//   backend: auto
//   command: [sh]
//   privileged_command: [su]
// browser:
//   history_size: 20
//
// Notes:
// - SHELLFS_CONFIG overrides the file location.
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Shell   ShellConfig   `yaml:"shell"`
	Browser BrowserConfig `yaml:"browser"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type LogConfig struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

type ShellConfig struct {
	Backend           *string       `yaml:"backend"`
	Command           []string      `yaml:"command,omitempty"`
	PrivilegedCommand []string      `yaml:"privileged_command,omitempty"`
	RootMode          bool          `yaml:"root_mode"`
	RetryElevated     bool          `yaml:"retry_elevated"`
	Remote            *RemoteConfig `yaml:"remote,omitempty"`
}

// RemoteConfig runs the shell interpreter on another host over SSH.
type RemoteConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
	Passphrase     string `yaml:"passphrase,omitempty"`
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`
}

type BrowserConfig struct {
	StartPath         *string `yaml:"start_path"`
	HistorySize       *int    `yaml:"history_size"`
	InvalidateDelayMS *int    `yaml:"invalidate_delay_ms"`
	ScanWorkers       *int    `yaml:"scan_workers"`
	ShowHidden        *bool   `yaml:"show_hidden"`
}

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8089
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultBackend         = "auto"
	DefaultHistorySize     = 20
	DefaultInvalidateDelay = 300 * time.Millisecond
	DefaultScanWorkers     = 4
	DefaultSSHPort         = 22

	envConfigPath = "SHELLFS_CONFIG"
)

var (
	DefaultShellCommand      = []string{"sh"}
	DefaultPrivilegedCommand = []string{"su"}
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return filepath.Dir(p), p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".shellfs")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads the config file.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w in %s", err, configFile)
	}
	return cfg, configFile, nil
}

// Validate checks value ranges and enums.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Host()) == "" {
		return fmt.Errorf("invalid server.host (empty)")
	}
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	switch c.Backend() {
	case "direct", "shell", "auto":
	default:
		return fmt.Errorf("invalid shell.backend %q (want direct, shell or auto)", c.Backend())
	}
	switch c.LogFormat() {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q (want text or json)", c.LogFormat())
	}
	if n := c.HistorySize(); n < 1 {
		return fmt.Errorf("invalid browser.history_size %d", n)
	}
	if n := c.ScanWorkers(); n < 1 {
		return fmt.Errorf("invalid browser.scan_workers %d", n)
	}
	if c.Browser.InvalidateDelayMS != nil && *c.Browser.InvalidateDelayMS < 0 {
		return fmt.Errorf("invalid browser.invalidate_delay_ms %d", *c.Browser.InvalidateDelayMS)
	}
	if r := c.Shell.Remote; r != nil {
		if strings.TrimSpace(r.Host) == "" {
			return fmt.Errorf("invalid shell.remote.host (empty)")
		}
		if strings.TrimSpace(r.Username) == "" {
			return fmt.Errorf("invalid shell.remote.username (empty)")
		}
		if r.Port < 0 || r.Port > 65535 {
			return fmt.Errorf("invalid shell.remote.port %d", r.Port)
		}
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Log:    LogConfig{Level: ptr(DefaultLogLevel), Format: ptr(DefaultLogFormat)},
		Shell: ShellConfig{
			Backend:           ptr(DefaultBackend),
			Command:           DefaultShellCommand,
			PrivilegedCommand: DefaultPrivilegedCommand,
		},
		Browser: BrowserConfig{
			HistorySize:       ptr(DefaultHistorySize),
			InvalidateDelayMS: ptr(int(DefaultInvalidateDelay / time.Millisecond)),
			ScanWorkers:       ptr(DefaultScanWorkers),
			ShowHidden:        ptr(true),
		},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions; the file may hold an SSH password.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) LogLevel() string {
	if c == nil {
		return DefaultLogLevel
	}
	return stringOr(c.Log.Level, DefaultLogLevel)
}

func (c *AppConfig) LogFormat() string {
	if c == nil {
		return DefaultLogFormat
	}
	return strings.ToLower(stringOr(c.Log.Format, DefaultLogFormat))
}

func (c *AppConfig) Backend() string {
	if c == nil {
		return DefaultBackend
	}
	return strings.ToLower(stringOr(c.Shell.Backend, DefaultBackend))
}

func (c *AppConfig) ShellCommand() []string {
	if c == nil || len(c.Shell.Command) == 0 {
		return DefaultShellCommand
	}
	return c.Shell.Command
}

func (c *AppConfig) PrivilegedCommand() []string {
	if c == nil || len(c.Shell.PrivilegedCommand) == 0 {
		return DefaultPrivilegedCommand
	}
	return c.Shell.PrivilegedCommand
}

// IsRemote reports whether the interpreter runs on a remote host over SSH.
func (c *AppConfig) IsRemote() bool {
	return c != nil && c.Shell.Remote != nil
}

// RemotePort returns the SSH port, or 0 without a remote section.
func (c *AppConfig) RemotePort() int {
	if !c.IsRemote() {
		return 0
	}
	if c.Shell.Remote.Port == 0 {
		return DefaultSSHPort
	}
	return c.Shell.Remote.Port
}

// StartPath returns the configured first location of a browsing session, or
// the empty string to let the caller pick the home directory.
func (c *AppConfig) StartPath() string {
	if c == nil {
		return ""
	}
	return stringOr(c.Browser.StartPath, "")
}

func (c *AppConfig) HistorySize() int {
	if c == nil || c.Browser.HistorySize == nil {
		return DefaultHistorySize
	}
	return *c.Browser.HistorySize
}

func (c *AppConfig) InvalidateDelay() time.Duration {
	if c == nil || c.Browser.InvalidateDelayMS == nil || *c.Browser.InvalidateDelayMS == 0 {
		return DefaultInvalidateDelay
	}
	return time.Duration(*c.Browser.InvalidateDelayMS) * time.Millisecond
}

func (c *AppConfig) ScanWorkers() int {
	if c == nil || c.Browser.ScanWorkers == nil {
		return DefaultScanWorkers
	}
	return *c.Browser.ScanWorkers
}

func (c *AppConfig) ShowHidden() bool {
	if c == nil || c.Browser.ShowHidden == nil {
		return true
	}
	return *c.Browser.ShowHidden
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	if v := strings.TrimSpace(*p); v != "" {
		return v
	}
	return def
}

func ptr[T any](v T) *T { return &v }
