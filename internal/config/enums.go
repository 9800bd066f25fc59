package config

// LogLevel represents the logging level for the application.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// BusDriver selects the CEC transport adapter.
type BusDriver string

const (
	// BusDriverSim is an in-process transport: Transmit hands each
	// frame asynchronously to the receive callback registered for the
	// destination on a shared SimRegistry (or to every other registered
	// address for a broadcast), used for demos and tests without a CEC
	// adapter attached.
	BusDriverSim BusDriver = "sim"
	// BusDriverTCP frames Frame values over a TCP connection to an
	// external CEC adapter process.
	BusDriverTCP BusDriver = "tcp"
)

// DatabaseDriver represents the supported cache-blob storage drivers.
type DatabaseDriver string

const (
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
)
