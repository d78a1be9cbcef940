package lightningd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// NetworkRegtest is the only network the harness runs.
const NetworkRegtest = "regtest"

// tempDirRootEnv names the parent directory for auto-created working dirs.
const tempDirRootEnv = "TEMPDIR_ROOT"

// Default launch parameters.
const (
	defaultStartupTimeout  = 30 * time.Second
	defaultPollInterval    = 100 * time.Millisecond
	defaultGracefulTimeout = 5 * time.Second
	defaultLogLevel        = "debug"
)

// Conf holds the launch configuration for one lightningd instance.
type Conf struct {
	// RPCPort is the gRPC port written to the config file.
	// Zero means choose a free port.
	RPCPort int `yaml:"rpc_port"`

	// PeerPort is the peer-to-peer listening port.
	// Zero means choose a free port.
	PeerPort int `yaml:"peer_port"`

	// WorkDir is a caller-supplied lightning directory. It is created if
	// missing and is never deleted. Empty means a fresh temporary directory
	// owned (and removed) by the node.
	WorkDir string `yaml:"work_dir"`

	// TempDirRoot is the parent of the temporary working directory.
	// Falls back to $TEMPDIR_ROOT, then the OS temp dir.
	TempDirRoot string `yaml:"tempdir_root"`

	// Args are appended verbatim after the generated arguments, so they
	// win when they conflict.
	Args []string `yaml:"args"`

	// NoWait returns the node right after spawn without polling getinfo.
	// Use Node.WaitReady to poll later.
	NoWait bool `yaml:"no_wait"`

	// StartupTimeout bounds the readiness poll.
	// Default: 30s
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// PollInterval is the delay between getinfo attempts.
	// Default: 100ms
	PollInterval time.Duration `yaml:"poll_interval"`

	// GracefulTimeout is how long Stop waits for a clean exit before SIGKILL.
	// Default: 5s
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// Attempts is how many times to launch when the daemon exits before
	// becoming ready. Default: 1 (no relaunch).
	Attempts int `yaml:"attempts"`

	// Env holds extra KEY=value entries for the daemon's environment.
	Env []string `yaml:"env"`

	// LogLevel is written as log-level in the config file.
	// Default: "debug"
	LogLevel string `yaml:"log_level"`

	// Alias is the node alias. Empty leaves the daemon's default.
	Alias string `yaml:"alias"`

	// Bitcoind points the node at a bitcoind backend. Optional.
	Bitcoind *BitcoindConf `yaml:"bitcoind,omitempty"`
}

// BitcoindConf is the bitcoind RPC backend written to the config file.
type BitcoindConf struct {
	RPCConnect  string `yaml:"rpc_connect"`
	RPCPort     int    `yaml:"rpc_port"`
	RPCUser     string `yaml:"rpc_user"`
	RPCPassword string `yaml:"rpc_password"`
}

// DefaultConf returns a Conf with defaults applied.
func DefaultConf() Conf {
	var c Conf
	c.applyDefaults()
	return c
}

// applyDefaults fills zero values.
func (c *Conf) applyDefaults() {
	if c.StartupTimeout == 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = defaultGracefulTimeout
	}
	if c.Attempts == 0 {
		c.Attempts = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// tempDirRoot returns the parent for an auto-created working directory.
func (c *Conf) tempDirRoot() string {
	if c.TempDirRoot != "" {
		return c.TempDirRoot
	}
	return os.Getenv(tempDirRootEnv)
}

// Validate checks the configuration for errors.
// All problems are reported together, wrapped in ErrInvalidConf.
func (c *Conf) Validate() error {
	if c.WorkDir != "" && c.TempDirRoot != "" {
		return ErrBothDirsSpecified
	}

	var errs []error

	if err := validatePort("rpc_port", c.RPCPort); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("peer_port", c.PeerPort); err != nil {
		errs = append(errs, err)
	}
	if c.RPCPort != 0 && c.RPCPort == c.PeerPort {
		errs = append(errs, fmt.Errorf("rpc_port and peer_port must differ (both %d)", c.RPCPort))
	}
	if c.StartupTimeout < 0 {
		errs = append(errs, errors.New("startup_timeout must not be negative"))
	}
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("poll_interval must not be negative"))
	}
	if c.GracefulTimeout < 0 {
		errs = append(errs, errors.New("graceful_timeout must not be negative"))
	}
	if c.Attempts < 0 {
		errs = append(errs, errors.New("attempts must not be negative"))
	}

	// Newlines would inject extra directives into the config file.
	type field struct{ name, value string }
	fields := []field{
		{"log_level", c.LogLevel},
		{"alias", c.Alias},
	}
	if c.Bitcoind != nil {
		fields = append(fields,
			field{"bitcoind.rpc_connect", c.Bitcoind.RPCConnect},
			field{"bitcoind.rpc_user", c.Bitcoind.RPCUser},
			field{"bitcoind.rpc_password", c.Bitcoind.RPCPassword},
		)
		if err := validatePort("bitcoind.rpc_port", c.Bitcoind.RPCPort); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range fields {
		if strings.ContainsAny(f.value, "\r\n") {
			errs = append(errs, fmt.Errorf("%s must not contain newlines", f.name))
		}
	}
	for _, env := range c.Env {
		if !strings.Contains(env, "=") {
			errs = append(errs, fmt.Errorf("env entry %q must be KEY=value", env))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConf, errors.Join(errs...))
	}
	return nil
}

// validatePort accepts 0 (auto) or a valid TCP port.
func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, port)
	}
	return nil
}
