// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package config collects the coordinator's configuration surface (spec §6)
// into one Config struct, loadable from a TOML file and/or a cli.Context of
// flags, the way cmd/ranger/config.go loads a rangerConfig in the teacher.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"
)

// Config is every recognized option of spec §6's configuration surface.
type Config struct {
	BindHost string
	BindPort int

	DatabaseURL string

	// ReceiptLedgerDir, when set, routes receipt history into an embedded
	// kv.Backend rooted at this path instead of DatabaseURL's row store
	// (store.KVLedgerStore). ReceiptLedgerEngine selects "leveldb" (default)
	// or "badger".
	ReceiptLedgerDir    string
	ReceiptLedgerEngine string

	ClientAPIKeys []string
	MinerAPIKeys  []string
	AdminAPIKeys  []string

	ReceiptSigningKey     string // hex-encoded Ed25519 seed or private key
	ReceiptAttestationKey string

	TTLMinSeconds int
	TTLMaxSeconds int

	HeartbeatTimeoutSeconds int
	ReaperPeriodSeconds     int

	PollCapSeconds int
	MaxAttempts    int

	RateLimitWindowSeconds int
	RateLimitMaxRequests   int

	// RedisAddr, when set, backs the rate limiter with auth.RedisLimiter
	// instead of the in-process auth.WindowLimiter default.
	RedisAddr string

	// KafkaBrokers/KafkaTopic, when set, turn on the optional lifecycle
	// event stream (SPEC_FULL.md §C).
	KafkaBrokers []string
	KafkaTopic   string

	// CORSAllowedOrigins configures C8's CORS policy; empty means same-origin only.
	CORSAllowedOrigins []string

	LogLevel string
}

// Default holds the tunables recommended by spec §8's scenarios when no
// override is given.
var Default = Config{
	BindHost: "0.0.0.0",
	BindPort: 8080,

	TTLMinSeconds: 60,
	TTLMaxSeconds: 900,

	HeartbeatTimeoutSeconds: 30,
	ReaperPeriodSeconds:     5,

	PollCapSeconds: 30,
	MaxAttempts:    3,

	RateLimitWindowSeconds: 60,
	RateLimitMaxRequests:   600,

	LogLevel: "info",
}

func (c Config) TTLMin() time.Duration {
	return time.Duration(c.TTLMinSeconds) * time.Second
}

func (c Config) TTLMax() time.Duration {
	return time.Duration(c.TTLMaxSeconds) * time.Second
}

func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c Config) ReaperPeriod() time.Duration {
	return time.Duration(c.ReaperPeriodSeconds) * time.Second
}

func (c Config) PollCap() time.Duration {
	return time.Duration(c.PollCapSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// Validate enforces the invariants spec §8 assumes every deployment holds
// (ttl_min <= ttl_max, at least one client/miner key, etc.), so a
// misconfigured process fails fast at startup instead of misbehaving later.
func (c Config) Validate() error {
	if c.TTLMinSeconds <= 0 || c.TTLMaxSeconds <= 0 || c.TTLMinSeconds > c.TTLMaxSeconds {
		return fmt.Errorf("config: ttl_min_seconds/ttl_max_seconds must satisfy 0 < min <= max")
	}
	if c.HeartbeatTimeoutSeconds <= 0 {
		return fmt.Errorf("config: heartbeat_timeout_seconds must be positive")
	}
	if c.ReaperPeriod() > c.HeartbeatTimeout()/2 {
		// spec §4.3 only "recommends" reaper_period <= 1/4 heartbeat_timeout;
		// periods up to half the timeout are accepted and only longer
		// periods are refused.
		return fmt.Errorf("config: reaper_period_seconds should not exceed half of heartbeat_timeout_seconds")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be at least 1")
	}
	if c.PollCapSeconds <= 0 {
		return fmt.Errorf("config: poll_cap_seconds must be positive")
	}
	if len(c.ClientAPIKeys) == 0 {
		return fmt.Errorf("config: at least one client api key is required")
	}
	if len(c.MinerAPIKeys) == 0 {
		return fmt.Errorf("config: at least one miner api key is required")
	}
	return nil
}

// tomlSettings mirrors cmd/ranger/config.go's field-name-preserving decoder
// so the TOML file's keys are exactly the Config struct's field names.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// LoadFile decodes a TOML config file into cfg, starting from Default.
func LoadFile(path string) (Config, error) {
	cfg := Default
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return cfg, err
}

// Flags is the cli.Flag set for every knob in spec §6, one *Flag var per
// option, the way cmd/utils/flags.go enumerates klaytn's node flags.
var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	BindHostFlag = cli.StringFlag{
		Name:  "bind-host",
		Usage: "HTTP listen host",
		Value: Default.BindHost,
	}
	BindPortFlag = cli.IntFlag{
		Name:  "bind-port",
		Usage: "HTTP listen port",
		Value: Default.BindPort,
	}
	DatabaseURLFlag = cli.StringFlag{
		Name:  "database-url",
		Usage: `Persistence store location ("memory://", "mysql://...")`,
		Value: "memory://",
	}
	ReceiptLedgerDirFlag = cli.StringFlag{
		Name:  "receipt-ledger-dir",
		Usage: "Directory for the embedded receipt-history ledger; empty keeps receipts in database-url's row store",
	}
	ReceiptLedgerEngineFlag = cli.StringFlag{
		Name:  "receipt-ledger-engine",
		Usage: "leveldb|badger",
		Value: "leveldb",
	}
	ClientAPIKeysFlag = cli.StringFlag{
		Name:  "client-api-keys",
		Usage: "Comma-separated accepted client-tier keys",
	}
	MinerAPIKeysFlag = cli.StringFlag{
		Name:  "miner-api-keys",
		Usage: "Comma-separated accepted miner-tier keys",
	}
	AdminAPIKeysFlag = cli.StringFlag{
		Name:  "admin-api-keys",
		Usage: "Comma-separated accepted admin-tier keys",
	}
	ReceiptSigningKeyFlag = cli.StringFlag{
		Name:  "receipt-signing-key",
		Usage: "Hex-encoded Ed25519 private key (or seed) for the coordinator's receipt attestation; absent means no attestation is emitted",
	}
	ReceiptAttestationKeyFlag = cli.StringFlag{
		Name:  "receipt-attestation-key",
		Usage: "Optional second hex-encoded Ed25519 key for an additional attestation",
	}
	TTLMinSecondsFlag = cli.IntFlag{
		Name:  "ttl-min-seconds",
		Usage: "Minimum accepted job ttl_seconds",
		Value: Default.TTLMinSeconds,
	}
	TTLMaxSecondsFlag = cli.IntFlag{
		Name:  "ttl-max-seconds",
		Usage: "Maximum accepted job ttl_seconds",
		Value: Default.TTLMaxSeconds,
	}
	HeartbeatTimeoutSecondsFlag = cli.IntFlag{
		Name:  "heartbeat-timeout-seconds",
		Usage: "Seconds of heartbeat silence before a miner is OFFLINE",
		Value: Default.HeartbeatTimeoutSeconds,
	}
	ReaperPeriodSecondsFlag = cli.IntFlag{
		Name:  "reaper-period-seconds",
		Usage: "Offline-detection and re-queue scan period",
		Value: Default.ReaperPeriodSeconds,
	}
	PollCapSecondsFlag = cli.IntFlag{
		Name:  "poll-cap-seconds",
		Usage: "Hard upper bound on a miner's long-poll wait",
		Value: Default.PollCapSeconds,
	}
	MaxAttemptsFlag = cli.IntFlag{
		Name:  "max-attempts",
		Usage: "Max assignments per job; a miner loss on the last one fails the job as abandoned",
		Value: Default.MaxAttempts,
	}
	RateLimitWindowSecondsFlag = cli.IntFlag{
		Name:  "rate-limit-window-seconds",
		Usage: "Sliding-window width for the per-key rate limit",
		Value: Default.RateLimitWindowSeconds,
	}
	RateLimitMaxRequestsFlag = cli.IntFlag{
		Name:  "rate-limit-max-requests",
		Usage: "Max requests per key per window",
		Value: Default.RateLimitMaxRequests,
	}
	RedisAddrFlag = cli.StringFlag{
		Name:  "redis-addr",
		Usage: "Redis address backing a distributed rate limiter; empty uses the in-process limiter",
	}
	KafkaBrokersFlag = cli.StringFlag{
		Name:  "kafka-brokers",
		Usage: "Comma-separated Kafka brokers for the optional lifecycle event stream",
	}
	KafkaTopicFlag = cli.StringFlag{
		Name:  "kafka-topic",
		Usage: "Kafka topic for lifecycle events",
		Value: "coordinator.job-lifecycle",
	}
	CORSAllowedOriginsFlag = cli.StringFlag{
		Name:  "cors-allowed-origins",
		Usage: "Comma-separated CORS allowed origins; empty allows none",
	}
	LogLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "crit|error|warn|info|debug",
		Value: Default.LogLevel,
	}
)

// Flags is the full flag set cmd/coordinatord registers on its app.
var Flags = []cli.Flag{
	ConfigFileFlag,
	BindHostFlag, BindPortFlag,
	DatabaseURLFlag, ReceiptLedgerDirFlag, ReceiptLedgerEngineFlag,
	ClientAPIKeysFlag, MinerAPIKeysFlag, AdminAPIKeysFlag,
	ReceiptSigningKeyFlag, ReceiptAttestationKeyFlag,
	TTLMinSecondsFlag, TTLMaxSecondsFlag,
	HeartbeatTimeoutSecondsFlag, ReaperPeriodSecondsFlag,
	PollCapSecondsFlag, MaxAttemptsFlag,
	RateLimitWindowSecondsFlag, RateLimitMaxRequestsFlag,
	RedisAddrFlag,
	KafkaBrokersFlag, KafkaTopicFlag,
	CORSAllowedOriginsFlag,
	LogLevelFlag,
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SetCoordinatorConfig applies every flag in Flags that was explicitly set
// on ctx onto cfg, the way utils.SetNodeConfig layers cli.Context flags
// over a loaded node.Config in the teacher's cmd/ranger.
func SetCoordinatorConfig(ctx *cli.Context, cfg *Config) {
	if ctx.GlobalIsSet(BindHostFlag.Name) {
		cfg.BindHost = ctx.GlobalString(BindHostFlag.Name)
	}
	if ctx.GlobalIsSet(BindPortFlag.Name) {
		cfg.BindPort = ctx.GlobalInt(BindPortFlag.Name)
	}
	if ctx.GlobalIsSet(DatabaseURLFlag.Name) {
		cfg.DatabaseURL = ctx.GlobalString(DatabaseURLFlag.Name)
	}
	if ctx.GlobalIsSet(ReceiptLedgerDirFlag.Name) {
		cfg.ReceiptLedgerDir = ctx.GlobalString(ReceiptLedgerDirFlag.Name)
	}
	if ctx.GlobalIsSet(ReceiptLedgerEngineFlag.Name) {
		cfg.ReceiptLedgerEngine = ctx.GlobalString(ReceiptLedgerEngineFlag.Name)
	}
	if ctx.GlobalIsSet(ClientAPIKeysFlag.Name) {
		cfg.ClientAPIKeys = splitCSV(ctx.GlobalString(ClientAPIKeysFlag.Name))
	}
	if ctx.GlobalIsSet(MinerAPIKeysFlag.Name) {
		cfg.MinerAPIKeys = splitCSV(ctx.GlobalString(MinerAPIKeysFlag.Name))
	}
	if ctx.GlobalIsSet(AdminAPIKeysFlag.Name) {
		cfg.AdminAPIKeys = splitCSV(ctx.GlobalString(AdminAPIKeysFlag.Name))
	}
	if ctx.GlobalIsSet(ReceiptSigningKeyFlag.Name) {
		cfg.ReceiptSigningKey = ctx.GlobalString(ReceiptSigningKeyFlag.Name)
	}
	if ctx.GlobalIsSet(ReceiptAttestationKeyFlag.Name) {
		cfg.ReceiptAttestationKey = ctx.GlobalString(ReceiptAttestationKeyFlag.Name)
	}
	if ctx.GlobalIsSet(TTLMinSecondsFlag.Name) {
		cfg.TTLMinSeconds = ctx.GlobalInt(TTLMinSecondsFlag.Name)
	}
	if ctx.GlobalIsSet(TTLMaxSecondsFlag.Name) {
		cfg.TTLMaxSeconds = ctx.GlobalInt(TTLMaxSecondsFlag.Name)
	}
	if ctx.GlobalIsSet(HeartbeatTimeoutSecondsFlag.Name) {
		cfg.HeartbeatTimeoutSeconds = ctx.GlobalInt(HeartbeatTimeoutSecondsFlag.Name)
	}
	if ctx.GlobalIsSet(ReaperPeriodSecondsFlag.Name) {
		cfg.ReaperPeriodSeconds = ctx.GlobalInt(ReaperPeriodSecondsFlag.Name)
	}
	if ctx.GlobalIsSet(PollCapSecondsFlag.Name) {
		cfg.PollCapSeconds = ctx.GlobalInt(PollCapSecondsFlag.Name)
	}
	if ctx.GlobalIsSet(MaxAttemptsFlag.Name) {
		cfg.MaxAttempts = ctx.GlobalInt(MaxAttemptsFlag.Name)
	}
	if ctx.GlobalIsSet(RateLimitWindowSecondsFlag.Name) {
		cfg.RateLimitWindowSeconds = ctx.GlobalInt(RateLimitWindowSecondsFlag.Name)
	}
	if ctx.GlobalIsSet(RateLimitMaxRequestsFlag.Name) {
		cfg.RateLimitMaxRequests = ctx.GlobalInt(RateLimitMaxRequestsFlag.Name)
	}
	if ctx.GlobalIsSet(RedisAddrFlag.Name) {
		cfg.RedisAddr = ctx.GlobalString(RedisAddrFlag.Name)
	}
	if ctx.GlobalIsSet(KafkaBrokersFlag.Name) {
		cfg.KafkaBrokers = splitCSV(ctx.GlobalString(KafkaBrokersFlag.Name))
	}
	if ctx.GlobalIsSet(KafkaTopicFlag.Name) {
		cfg.KafkaTopic = ctx.GlobalString(KafkaTopicFlag.Name)
	}
	if ctx.GlobalIsSet(CORSAllowedOriginsFlag.Name) {
		cfg.CORSAllowedOrigins = splitCSV(ctx.GlobalString(CORSAllowedOriginsFlag.Name))
	}
	if ctx.GlobalIsSet(LogLevelFlag.Name) {
		cfg.LogLevel = ctx.GlobalString(LogLevelFlag.Name)
	}
}

// MakeConfig loads a config file (if -config was given) then layers flags
// on top, mirroring cmd/ranger's makeConfigRanger.
func MakeConfig(ctx *cli.Context) (Config, error) {
	cfg := Default
	if file := ctx.GlobalString(ConfigFileFlag.Name); file != "" {
		loaded, err := LoadFile(file)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	SetCoordinatorConfig(ctx, &cfg)
	return cfg, cfg.Validate()
}
