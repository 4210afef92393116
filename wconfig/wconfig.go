// Package wconfig holds the engine's tunable parameters (spec §6), loaded
// from a TOML file, the format this module's dependency tree already
// commits to via BurntSushi/toml.
package wconfig

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/griffone/gnet/reliability"
)

// Duration wraps time.Duration with TOML string support ("2.5s", "100ms")
// via encoding.TextUnmarshaler, since BurntSushi/toml has no native
// duration type.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds every option spec §6 names, plus their defaults.
type Config struct {
	// Timeout is the Open->Lost inactivity threshold.
	Timeout Duration `toml:"timeout"`
	// HandshakeRetryInterval is how long a PendingConnection waits before
	// retransmitting its REQUEST_CONNECTION.
	HandshakeRetryInterval Duration `toml:"handshake_retry_interval"`
	// RTOInitial is the first retransmit timeout for a reliable packet.
	RTOInitial Duration `toml:"rto_initial"`
	// RTOMax caps RTO doubling.
	RTOMax Duration `toml:"rto_max"`
	// MaxRetries is how many unacked retransmits before a connection is
	// marked Lost.
	MaxRetries int `toml:"max_retries"`
	// AckWindow is the width of the receive ack bitmask; spec §6 fixes
	// this at 64 and it is not configurable, but it is recorded here so a
	// loaded file that disagrees with the engine's compiled-in window can
	// be rejected rather than silently ignored.
	AckWindow int `toml:"ack_window"`
	// MaxDatagramLength bounds packet size; normally queried from the
	// Transmit in use, but overridable for substrates that don't expose
	// one dynamically (e.g. a fixed MTU link).
	MaxDatagramLength int `toml:"max_datagram_length"`
}

// Default returns spec §6's stated defaults.
func Default() Config {
	return Config{
		Timeout:                Duration(5 * time.Second),
		HandshakeRetryInterval: Duration(2500 * time.Millisecond),
		RTOInitial:             Duration(100 * time.Millisecond),
		RTOMax:                 Duration(1 * time.Second),
		MaxRetries:             10,
		AckWindow:              64,
		MaxDatagramLength:      1200,
	}
}

// ReliabilityConfig projects the subset of Config the reliability engine
// consumes.
func (c Config) ReliabilityConfig() reliability.Config {
	return reliability.Config{
		RTOInitial: time.Duration(c.RTOInitial),
		RTOMax:     time.Duration(c.RTOMax),
		MaxRetries: c.MaxRetries,
	}
}

// LoadFile parses a TOML config file, starting from Default() so an
// omitted field keeps its default rather than zeroing out. An ack_window
// other than the engine's fixed 64 is rejected with an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if cfg.AckWindow != 64 {
		return cfg, fmt.Errorf("wconfig: ack_window %d unsupported; the engine's ack window is fixed at 64", cfg.AckWindow)
	}
	return cfg, nil
}
