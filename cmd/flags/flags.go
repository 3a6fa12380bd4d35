// Package flags holds the shared CLI flag definitions and the glue that
// turns them into configured components.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/quiin/skipd/common"
	"github.com/quiin/skipd/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8443",
	Usage:   "address to listen on for the key provider API",
	EnvVars: []string{"SKIPD_LISTEN_ADDR"},
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"SKIPD_METRICS_ADDR"},
}

var LocalSystemIDFlag = &cli.StringFlag{
	Name:     "local-system-id",
	Required: true,
	Usage:    "system identifier of this key provider instance",
	EnvVars:  []string{"SKIPD_LOCAL_SYSTEM_ID"},
}

var RemoteSystemIDsFlag = &cli.StringSliceFlag{
	Name:    "remote-system-ids",
	Usage:   "remote system IDs allowed to request keys; '*' glob patterns are supported",
	EnvVars: []string{"SKIPD_REMOTE_SYSTEM_IDS"},
}

var PeersFileFlag = &cli.StringFlag{
	Name:    "peers-file",
	Usage:   "JSON file listing sync peers with their endpoints and shared secrets",
	EnvVars: []string{"SKIPD_PEERS_FILE"},
}

var StoreURIFlag = &cli.StringFlag{
	Name:    "store-uri",
	Value:   "mem://",
	Usage:   "key store location, mem:// or a postgres:// connection string",
	EnvVars: []string{"SKIPD_STORE_URI"},
}

var SyncEnabledFlag = &cli.BoolFlag{
	Name:    "sync-enabled",
	Value:   true,
	Usage:   "enable key synchronization with configured peers",
	EnvVars: []string{"SKIPD_SYNC_ENABLED"},
}

var SyncIntervalFlag = &cli.DurationFlag{
	Name:    "sync-interval",
	Value:   30 * time.Second,
	Usage:   "interval between key-sync cycles",
	EnvVars: []string{"SKIPD_SYNC_INTERVAL"},
}

var HeartbeatIntervalFlag = &cli.DurationFlag{
	Name:    "heartbeat-interval",
	Value:   10 * time.Second,
	Usage:   "interval between peer heartbeat cycles",
	EnvVars: []string{"SKIPD_HEARTBEAT_INTERVAL"},
}

var MaxRetryAttemptsFlag = &cli.IntFlag{
	Name:    "max-retry-attempts",
	Value:   3,
	Usage:   "send attempts per sync message before giving up",
	EnvVars: []string{"SKIPD_MAX_RETRY_ATTEMPTS"},
}

var SyncTimeoutFlag = &cli.DurationFlag{
	Name:    "sync-timeout",
	Value:   10 * time.Second,
	Usage:   "per-attempt timeout for sync sends",
	EnvVars: []string{"SKIPD_SYNC_TIMEOUT"},
}

var KeyExpiryFlag = &cli.DurationFlag{
	Name:    "key-expiry",
	Value:   time.Hour,
	Usage:   "lifetime of stored keys before the expiry sweep removes them",
	EnvVars: []string{"SKIPD_KEY_EXPIRY"},
}

var DisableZeroizationFlag = &cli.BoolFlag{
	Name:    "disable-zeroization",
	Value:   false,
	Usage:   "keep keys readable after retrieval instead of destroying them",
	EnvVars: []string{"SKIPD_DISABLE_ZEROIZATION"},
}

var SyncCipherIDFlag = &cli.StringFlag{
	Name:    "sync-cipher-id",
	Usage:   "identity the key material cipher key is derived from; defaults to local-system-id",
	EnvVars: []string{"SKIPD_SYNC_CIPHER_ID"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"SKIPD_LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"SKIPD_LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:    "log-service",
	Value:   common.PackageName,
	Usage:   "add 'service' tag to logs",
	EnvVars: []string{"SKIPD_LOG_SERVICE"},
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
