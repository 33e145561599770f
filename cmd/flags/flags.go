package flags

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flashbots/go-utils/signature"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/common"
	"github.com/urfave/cli/v2"
)

// LoadEnv reads a .env file when present. Variables already set in the
// environment win.
func LoadEnv(cCtx *cli.Context) error {
	path := cCtx.String(EnvFileFlag.Name)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) && !cCtx.IsSet(EnvFileFlag.Name) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

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

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		MaxBodyBytes:             cCtx.Int64(MaxBodyBytesFlag.Name),
	}
}

// Signer builds the request signer from the private key flag.
func Signer(cCtx *cli.Context) (*signature.Signer, error) {
	key := cCtx.String(PrivateKeyFlag.Name)
	if key == "" {
		return nil, fmt.Errorf("--%s is required", PrivateKeyFlag.Name)
	}
	signer, err := signature.NewSignerFromHexPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return signer, nil
}

var EnvFileFlag = &cli.StringFlag{
	Name:  "env-file",
	Value: ".env",
	Usage: "load environment variables from this file if it exists",
}

var GatewayAddrFlag = &cli.StringFlag{
	Name:    "gateway-addr",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"GATEWAY_ADDR"},
	Usage:   "gateway API base URL",
}

var PrivateKeyFlag = &cli.StringFlag{
	Name:    "privkey",
	EnvVars: []string{"GATEWAY_PRIVKEY"},
	Usage:   "hex secp256k1 private key used to sign requests",
}

var MaxBodyBytesFlag = &cli.Int64Flag{
	Name:  "max-body-bytes",
	Value: 1024 * 1024,
	Usage: "maximum accepted request body size",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
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
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	EnvFileFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	MaxBodyBytesFlag,
}
