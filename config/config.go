// Package config loads the static, file-based configuration a client
// binary needs before it can bootstrap a session: which datacenter to
// dial first, where the encrypted session file lives, and how verbosely
// to log. Following the wider pack's convention for this kind of static
// config (mailproxy's generated mailproxy.toml), it's plain TOML decoded
// with BurntSushi/toml rather than a flag-only or JSON setup.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/telemtx/mtproto/dcs"
)

// ClientConfig is the top-level shape of a client.toml file.
type ClientConfig struct {
	Client     Client
	Logging    Logging
	Metrics    Metrics
	DataCenter []DataCenter `toml:"DataCenter"`
}

// Client holds the knobs a caller sets once per deployment.
type Client struct {
	// DefaultDC is dialed on a brand-new session with no prior state.
	DefaultDC int32
	// TestMode selects each datacenter's test IP instead of production.
	TestMode bool
	// SessionFile is the path FileStorage encrypts the session to.
	// Ignored if SessionBackend is "bolt" or "memory".
	SessionFile string
	// SessionBackend selects the session.Storage implementation:
	// "file" (default), "bolt", or "memory".
	SessionBackend string
	// SessionPassphraseEnv names the environment variable holding the
	// passphrase used to derive the session file's encryption key.
	SessionPassphraseEnv string
	// FloodWaitThresholdSeconds is the flood-wait threshold, in seconds.
	// The client package does not read it: a 420 FLOOD_WAIT is always
	// returned to the caller as an *mtperrors.RPCError, with no sleep
	// and no retry.
	FloodWaitThresholdSeconds int
}

// Logging configures the charmbracelet/log logger shared across
// packages.
type Logging struct {
	Disable bool
	// Level is one of "debug", "info", "warn", "error".
	Level string
}

// Metrics configures the optional Prometheus exporter.
type Metrics struct {
	Enable     bool
	ListenAddr string
}

// DataCenter overrides or extends the built-in dcs.Production bootstrap
// table; entries here are merged by ID, letting a deployment point at a
// private test constellation without recompiling.
type DataCenter struct {
	ID       int32
	IPv4     string
	IPv4Test string
	Port     int
}

// Default returns a ClientConfig with the same defaults mailproxy's
// generated config uses: debug logging off, production datacenters,
// metrics disabled.
func Default() ClientConfig {
	return ClientConfig{
		Client: Client{
			DefaultDC:                 2,
			SessionFile:               "session.dat",
			SessionBackend:            "file",
			SessionPassphraseEnv:      "MTPROTO_SESSION_PASSPHRASE",
			FloodWaitThresholdSeconds: 60,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads and decodes path, filling in any field left zero with
// Default's value.
func Load(path string) (*ClientConfig, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unrecognized keys: %v", path, undecoded)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	switch c.Client.SessionBackend {
	case "file", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown SessionBackend %q", c.Client.SessionBackend)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown Logging.Level %q", c.Logging.Level)
	}
	return nil
}

// Datacenters merges the config's DataCenter overrides into the built-in
// production bootstrap table: an override with a matching ID replaces
// that entry in place, and an unmatched ID is appended.
func (c *ClientConfig) Datacenters() []dcs.DC {
	merged := make([]dcs.DC, len(dcs.Production))
	copy(merged, dcs.Production)
	for _, override := range c.DataCenter {
		replaced := false
		for i, dc := range merged {
			if dc.ID == override.ID {
				merged[i] = dcs.DC{ID: override.ID, IPv4: override.IPv4, IPv4Test: override.IPv4Test, Port: override.Port}
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, dcs.DC{ID: override.ID, IPv4: override.IPv4, IPv4Test: override.IPv4Test, Port: override.Port})
		}
	}
	return merged
}

// LogLevel parses Logging.Level into a charmbracelet/log level,
// defaulting to Info on an unrecognized value (validate should have
// already rejected one, but Load is not the only caller in future use).
func (c *ClientConfig) LogLevel() log.Level {
	switch c.Logging.Level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
