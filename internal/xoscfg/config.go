// Package xoscfg holds the engine's small, mutable runtime configuration
// — tunables that spec.md leaves as constants or environment variables —
// following the corpus convention (aistore's cmn/rom.go) of a single
// struct read by hot paths instead of re-parsing options on every call.
package xoscfg

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config collects every tunable referenced by the spec's components.
type Config struct {
	// C6: completion-slot pool / legacy flag queue sizing.
	SlotPoolSize  int
	FlagQueueSize int

	// C4: server worker-pool size.
	ServerWorkers int

	// polling cadences (spec §4.5 step 4, §4.6.1).
	ChannelReadyPoll time.Duration
	SyncPollInterval time.Duration

	// C1: control-wire framing limits and socket timeouts.
	MaxFrameSize  int64
	RPCTimeout    time.Duration
	ConnectRetry  time.Duration

	// recognized options (spec §6).
	LocalCommRes        string
	BufferPool          string
	RdmaTrafficClass    string
	RdmaServiceLevel    string
	GlobalResourceConfig string
	EnableUseFabricMem  bool

	// environment (spec §6).
	ForceRoCE    bool
	LogToStdout  bool
}

// Default returns the baseline configuration before options/env are applied.
func Default() *Config {
	return &Config{
		SlotPoolSize:     128,
		FlagQueueSize:    4096,
		ServerWorkers:    4,
		ChannelReadyPoll: time.Millisecond,
		SyncPollInterval: time.Millisecond,
		MaxFrameSize:     4 << 20, // 4 MiB
		RPCTimeout:       30 * time.Second,
		ConnectRetry:     100 * time.Millisecond,
	}
}

// ValidateOptions rejects malformed recognized option values before
// they reach the control plane (spec §6 "Recognized options", §7(a)
// "malformed JSON" / parameter errors), matching
// original_source/src/hixl/common/hixl_checker.h's habit of validating
// config input up front rather than leaving it implicit.
func ValidateOptions(options map[string]string) error {
	if v, ok := options["EnableUseFabricMem"]; ok {
		if _, err := strconv.ParseBool(v); err != nil {
			return errors.Wrapf(err, "xoscfg: EnableUseFabricMem %q is not a bool", v)
		}
	}
	return nil
}

// FromOptions applies the `options map[string]string` accepted by
// Initialize (spec §6 "Recognized options"); unknown keys are ignored.
// Callers should run ValidateOptions first; a malformed value here is
// simply left at its zero/default rather than panicking.
func (c *Config) FromOptions(options map[string]string) {
	if options == nil {
		return
	}
	if v, ok := options["LocalCommRes"]; ok {
		c.LocalCommRes = v
	}
	if v, ok := options["BufferPool"]; ok {
		c.BufferPool = v
	}
	if v, ok := options["RdmaTrafficClass"]; ok {
		c.RdmaTrafficClass = v
	}
	if v, ok := options["RdmaServiceLevel"]; ok {
		c.RdmaServiceLevel = v
	}
	if v, ok := options["GlobalResourceConfig"]; ok {
		c.GlobalResourceConfig = v
	}
	if v, ok := options["EnableUseFabricMem"]; ok {
		b, _ := strconv.ParseBool(v)
		c.EnableUseFabricMem = b
	}
}

// FromEnv applies the two environment variables named in spec §6.
func (c *Config) FromEnv() {
	c.ForceRoCE = os.Getenv("HCCL_INTRA_ROCE_ENABLE") == "1"
	c.LogToStdout = os.Getenv("ASCEND_SLOG_PRINT_TO_STDOUT") == "1"
}
