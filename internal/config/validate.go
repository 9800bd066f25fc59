package config

import "errors"

var (
	ErrInvalidLogLevel          = errors.New("config: invalid log level provided")
	ErrInvalidOwnAddr           = errors.New("config: node.own_addr must be a concrete, non-broadcast logical address")
	ErrInvalidTranscodingFormat = errors.New("config: node.audio_transcoding enabled with an invalid transcoding format")
	ErrInvalidBusDriver         = errors.New("config: invalid bus driver provided")
	ErrInvalidBusAddr           = errors.New("config: bus address is required for the tcp driver")
	ErrInvalidHTTPBindAddress   = errors.New("config: invalid HTTP bind address provided")
	ErrInvalidHTTPPort          = errors.New("config: invalid HTTP port provided")
	ErrInvalidMetricsBindAddr   = errors.New("config: invalid metrics bind address provided")
	ErrInvalidMetricsPort       = errors.New("config: invalid metrics port provided")
	ErrInvalidPProfBindAddr     = errors.New("config: invalid pprof bind address provided")
	ErrInvalidPProfPort         = errors.New("config: invalid pprof port provided")
	ErrInvalidRedisHost         = errors.New("config: invalid redis host provided")
	ErrInvalidRedisPort         = errors.New("config: invalid redis port provided")
	ErrInvalidDatabaseDriver    = errors.New("config: invalid database driver provided")
	ErrInvalidDatabaseHost      = errors.New("config: invalid database host provided")
	ErrInvalidDatabasePort      = errors.New("config: invalid database port provided")
	ErrInvalidDatabaseName      = errors.New("config: invalid database name provided")
)

// HTTP configures the operational HTTP surface (internal/httpapi):
// status, query, config-change, and the websocket status stream.
type HTTP struct {
	Bind           string   `default:"0.0.0.0"`
	Port           int      `default:"8080"`
	CORSHosts      []string
	TrustedProxies []string
	RateLimitRPS   float64 `default:"5"`
}

func (h HTTP) Validate() error {
	if h.Bind == "" {
		return ErrInvalidHTTPBindAddress
	}
	if h.Port <= 0 || h.Port > 65535 {
		return ErrInvalidHTTPPort
	}
	return nil
}

// Metrics configures the Prometheus metrics server and, when
// OTLPEndpoint is set, OpenTelemetry tracing.
type Metrics struct {
	Enabled      bool   `default:"true"`
	Bind         string `default:"0.0.0.0"`
	Port         int    `default:"9090"`
	OTLPEndpoint string
}

func (m Metrics) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Bind == "" {
		return ErrInvalidMetricsBindAddr
	}
	if m.Port <= 0 || m.Port > 65535 {
		return ErrInvalidMetricsPort
	}
	return nil
}

// PProf configures the pprof debug server.
type PProf struct {
	Enabled        bool `default:"false"`
	Bind           string
	Port           int
	TrustedProxies []string
}

func (p PProf) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Bind == "" {
		return ErrInvalidPProfBindAddr
	}
	if p.Port <= 0 || p.Port > 65535 {
		return ErrInvalidPProfPort
	}
	return nil
}

// Redis configures the optional shared KV/pub-sub backend; when
// disabled, internal/kv and internal/pubsub fall back to in-memory
// implementations.
type Redis struct {
	Enabled  bool `default:"false"`
	Host     string
	Port     int `default:"6379"`
	Password string
}

func (r Redis) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Host == "" {
		return ErrInvalidRedisHost
	}
	if r.Port <= 0 || r.Port > 65535 {
		return ErrInvalidRedisPort
	}
	return nil
}

// Database configures the cache-blob persistence backend (C2's
// Persistence collaborator).
type Database struct {
	Driver          DatabaseDriver `default:"sqlite"`
	Host            string
	Port            int
	Database        string `default:"lipd.db"`
	Username        string
	Password        string
	ExtraParameters []string
}

func (d Database) Validate() error {
	if d.Driver != DatabaseDriverSQLite && d.Driver != DatabaseDriverPostgres && d.Driver != DatabaseDriverMySQL {
		return ErrInvalidDatabaseDriver
	}
	if d.Driver != DatabaseDriverSQLite && d.Host == "" {
		return ErrInvalidDatabaseHost
	}
	if d.Driver != DatabaseDriverSQLite && (d.Port <= 0 || d.Port > 65535) {
		return ErrInvalidDatabasePort
	}
	if d.Database == "" {
		return ErrInvalidDatabaseName
	}
	return nil
}

func (b Bus) Validate() error {
	if b.Driver != BusDriverSim && b.Driver != BusDriverTCP {
		return ErrInvalidBusDriver
	}
	if b.Driver == BusDriverTCP && b.Addr == "" {
		return ErrInvalidBusAddr
	}
	return nil
}
