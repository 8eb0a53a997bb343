/*
Copyright 2024 The ZKWire Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package zk

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/pflag"
)

const (
	// DefaultConnectTimeout bounds a single TCP connection attempt.
	DefaultConnectTimeout = 500 * time.Millisecond
	// DefaultMaxPacketLength bounds a declared frame length in either
	// direction.
	DefaultMaxPacketLength = 4 * 1024 * 1024
	// DefaultMaxSpin is the number of poll iterations used while waiting
	// for the server to close the socket on dispose.
	DefaultMaxSpin = 30
)

// Dialer is a function used to establish a connection to a single host.
type Dialer func(network, address string, timeout time.Duration) (net.Conn, error)

// Config carries the engine's construction parameters. SessionTimeout is
// mandatory; zero values elsewhere select the defaults above.
type Config struct {
	// SessionTimeout is the amount of time for which the session stays
	// valid after losing the connection to a server. It also bounds each
	// caller's wait for a reply.
	SessionTimeout time.Duration

	// ConnectTimeout bounds one TCP connection attempt.
	ConnectTimeout time.Duration

	// MaxPacketLength rejects frames whose declared length is at or above
	// this bound.
	MaxPacketLength int

	// MaxSpin is the number of poll iterations during dispose.
	MaxSpin int

	// DisableAutoWatchReset suppresses the SetWatches replay after a
	// transparent reconnect.
	DisableAutoWatchReset bool

	// Dialer overrides net.DialTimeout, mainly for tests.
	Dialer Dialer

	// Sasl, when set, runs the SASL exchange inline during handshake.
	Sasl SaslClient
}

// RegisterFlags installs the tunable engine flags on the given FlagSet,
// storing values into this Config.
func (cfg *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", 30*time.Second, "zookeeper session timeout")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", DefaultConnectTimeout, "timeout for one TCP connection attempt")
	fs.IntVar(&cfg.MaxPacketLength, "max-packet-length", DefaultMaxPacketLength, "maximum frame length accepted from the server")
	fs.BoolVar(&cfg.DisableAutoWatchReset, "disable-auto-watch-reset", false, "do not replay registered watches after a reconnect")
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.SessionTimeout <= 0 {
		return cfg, fmt.Errorf("zk: session timeout is mandatory")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxPacketLength <= 0 {
		cfg.MaxPacketLength = DefaultMaxPacketLength
	}
	if cfg.MaxSpin <= 0 {
		cfg.MaxSpin = DefaultMaxSpin
	}
	if cfg.Dialer == nil {
		cfg.Dialer = net.DialTimeout
	}
	return cfg, nil
}
