package frontend

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/echotrap/echotrap/echo"
)

var (
	ErrNegativeSleep      = errors.New("sleep_ms must not be negative")
	ErrNegativeIterations = errors.New("iterations must not be negative")
	ErrNoDiagnosticPath   = errors.New("diagnostics enabled without a diagnostic_path")
)

// Config is the service configuration as it appears on disk. LoadConfig
// starts from DefaultConfig, so absent keys keep their defaults; CLI flags
// override whatever the file set.
type Config struct {
	Echo    EchoConfig    `toml:"echo"`
	Sim     SimConfig     `toml:"sim"`
	Record  RecordConfig  `toml:"record"`
	Profile ProfileConfig `toml:"profile"`
}

// EchoConfig shapes the echo loop itself.
type EchoConfig struct {
	Banner         string `toml:"banner"`
	Prompt         string `toml:"prompt"`
	ReplyPrefix    string `toml:"reply_prefix"`
	SleepMs        int    `toml:"sleep_ms"`
	Iterations     int    `toml:"iterations"`
	Diagnose       bool   `toml:"diagnose"`
	DiagnosticPath string `toml:"diagnostic_path"`
	Terminal       string `toml:"terminal"`
	ExitStatus     int64  `toml:"exit_status"`
}

// SimConfig selects the simulated kernel instead of the real trap vector.
// RealSleep makes the simulator honor sleep requests in wall-clock time.
type SimConfig struct {
	Enabled   bool `toml:"enabled"`
	RealSleep bool `toml:"real_sleep"`
}

// RecordConfig enables the sqlite transcript when Transcript names a file.
type RecordConfig struct {
	Transcript string `toml:"transcript"`
}

// ProfileConfig enables per-iteration stage timings when Stages names a
// file. Rows are CSV.
type ProfileConfig struct {
	Stages string `toml:"stages"`
}

// DefaultConfig is the configuration used when no file and no flags say
// otherwise: the classic banner and prompt, half-second pacing, an unbounded
// loop without diagnostics, running against the simulated kernel.
func DefaultConfig() *Config {
	return &Config{
		Echo: EchoConfig{
			Banner:         "Hey, type something\n",
			Prompt:         ">>> ",
			SleepMs:        500,
			Iterations:     0,
			DiagnosticPath: "/sbin/cpuid",
			Terminal:       string(echo.TerminateExit),
		},
		Sim: SimConfig{
			Enabled:   true,
			RealSleep: true,
		},
	}
}

// LoadConfig reads the TOML file at path over the defaults. An empty path
// just returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer file.Close()

	if _, err := toml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// WriteConfig serialises cfg as TOML. Round-trips through LoadConfig.
func WriteConfig(file io.Writer, cfg *Config) error {
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Validate rejects values no run mode could honor. The echo and proc
// constructors re-check their own slices of this; failing here just points
// at the file instead of the wiring.
func (c *Config) Validate() error {
	if c.Echo.SleepMs < 0 {
		return ErrNegativeSleep
	}

	if c.Echo.Iterations < 0 {
		return ErrNegativeIterations
	}

	if c.Echo.Diagnose && c.Echo.DiagnosticPath == "" {
		return ErrNoDiagnosticPath
	}

	switch echo.TerminalBehavior(c.Echo.Terminal) {
	case "", echo.TerminateExit, echo.TerminateSpin, echo.TerminateShutdown:
		return nil
	default:
		return fmt.Errorf("terminal %q: %w", c.Echo.Terminal, echo.ErrBadTerminal)
	}
}
