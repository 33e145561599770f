package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-signing-gateway/api/clients"
	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/cmd/flags"
	"github.com/ruteri/tee-signing-gateway/gateway"
	"github.com/ruteri/tee-signing-gateway/httpserver"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/kms"
	"github.com/ruteri/tee-signing-gateway/registry"
	"github.com/ruteri/tee-signing-gateway/storage"
	"github.com/urfave/cli/v2"
)

var (
	listenAddrFlag = &cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	}
	ownerFlag = &cli.StringFlag{
		Name:     "owner",
		Required: true,
		EnvVars:  []string{"GATEWAY_OWNER"},
		Usage:    "address allowed to manage the codehash allowlist",
	}
	storeDriverFlag = &cli.StringFlag{
		Name:    "store-driver",
		Value:   registry.DriverSQLite,
		EnvVars: []string{"GATEWAY_STORE_DRIVER"},
		Usage:   "trust store driver: 'sqlite', 'postgres' or 'memory'",
	}
	storeDSNFlag = &cli.StringFlag{
		Name:    "store-dsn",
		Value:   "file:gateway.db",
		EnvVars: []string{"GATEWAY_STORE_DSN"},
		Usage:   "trust store connection string",
	}
	collateralArchiveFlag = &cli.StringSliceFlag{
		Name:    "collateral-archive",
		EnvVars: []string{"GATEWAY_COLLATERAL_ARCHIVE"},
		Usage:   "storage backend URI holding archived collateral (file://, s3://, ipfs://, vault://), may be repeated",
	}
	livePCSFlag = &cli.BoolFlag{
		Name:  "live-pcs",
		Value: false,
		Usage: "accept the 'pcs' collateral argument and fetch collateral from the Intel PCS",
	}
	signerURLFlag = &cli.StringFlag{
		Name:    "signer-url",
		EnvVars: []string{"GATEWAY_SIGNER_URL"},
		Usage:   "threshold-signing service base URL",
	}
	signerRetriesFlag = &cli.IntFlag{
		Name:  "signer-retries",
		Value: 3,
		Usage: "delivery retries per signature request",
	}
	localSignerSeedFlag = &cli.StringFlag{
		Name:    "local-signer-seed",
		EnvVars: []string{"GATEWAY_LOCAL_SIGNER_SEED"},
		Usage:   "hex master seed for an in-process development signer (instead of --signer-url)",
	}
	outboxSizeFlag = &cli.IntFlag{
		Name:  "outbox-size",
		Value: gateway.DefaultOutboxBuffer,
		Usage: "signature requests buffered for delivery",
	}
	deliveryTimeoutFlag = &cli.DurationFlag{
		Name:  "delivery-timeout",
		Value: gateway.DefaultOutboxDelivery,
		Usage: "timeout for delivering one signature request",
	}
	signRateFlag = &cli.Float64Flag{
		Name:  "sign-rate",
		Value: 10,
		Usage: "signing requests per second allowed per worker, 0 disables the limit",
	}
	signBurstFlag = &cli.IntFlag{
		Name:  "sign-burst",
		Value: 20,
		Usage: "signing request burst allowed per worker",
	}
)

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "Serve the TEE worker signing gateway",
		Flags: append([]cli.Flag{
			listenAddrFlag, ownerFlag, storeDriverFlag, storeDSNFlag,
			collateralArchiveFlag, livePCSFlag,
			signerURLFlag, signerRetriesFlag, localSignerSeedFlag, flags.PrivateKeyFlag,
			outboxSizeFlag, deliveryTimeoutFlag, signRateFlag, signBurstFlag,
			flags.LogServiceFlagFn("gateway"),
		}, flags.CommonFlags...),
		Before: flags.LoadEnv,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	owner, err := interfaces.NewIdentityFromHex(cCtx.String(ownerFlag.Name))
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cCtx, logger)
	if err != nil {
		logger.Error("Failed to open trust store", "err", err)
		return err
	}
	defer closeStore()

	resolver, err := buildResolver(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure collateral resolution", "err", err)
		return err
	}

	signer, err := buildSigner(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure signer", "err", err)
		return err
	}

	outbox := gateway.NewOutbox(signer, cCtx.Int(outboxSizeFlag.Name), cCtx.Duration(deliveryTimeoutFlag.Name), logger)
	outbox.Start()

	gw, err := gateway.New(gateway.Config{
		Owner:     owner,
		Store:     store,
		Verifier:  attestation.NewTDXVerifier(logger),
		Resolver:  resolver,
		Delegator: outbox,
		Log:       logger,
	})
	if err != nil {
		return err
	}

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name))
	cfg.SignRateLimit = cCtx.Float64(signRateFlag.Name)
	cfg.SignBurst = cCtx.Int(signBurstFlag.Name)

	var limiter *httpserver.IdentityRateLimiter
	if cfg.SignRateLimit > 0 {
		limiter = httpserver.NewIdentityRateLimiter(cfg.SignRateLimit, cfg.SignBurst)
	}

	server, err := httpserver.New(cfg, httpserver.NewHandler(gw, cfg.MaxBodyBytes, limiter, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting gateway", "owner", owner.String())
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownDuration)
	defer cancel()
	if err := outbox.Stop(ctx); err != nil {
		logger.Error("Outbox did not drain", "err", err, "pending", outbox.Len())
	}
	logger.Info("Server shutdown complete",
		"delivered", outbox.Delivered(),
		"failed", outbox.Failed(),
		"dropped", outbox.Dropped())
	return nil
}

func openStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.TrustStore, func(), error) {
	driver := cCtx.String(storeDriverFlag.Name)
	if driver == "memory" {
		logger.Warn("Using in-memory trust store, state is lost on restart")
		return registry.NewMemoryStore(), func() {}, nil
	}

	store, err := registry.NewSQLStore(driver, cCtx.String(storeDSNFlag.Name), logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func buildResolver(cCtx *cli.Context, logger *slog.Logger) (interfaces.CollateralResolver, error) {
	chain := attestation.ChainResolver{attestation.InlineResolver{}}

	if uris := cCtx.StringSlice(collateralArchiveFlag.Name); len(uris) > 0 {
		locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
		for _, uri := range uris {
			location, err := interfaces.NewStorageBackendLocation(uri)
			if err != nil {
				return nil, err
			}
			locations = append(locations, location)
		}

		backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
		if err != nil {
			return nil, fmt.Errorf("collateral archive: %w", err)
		}
		chain = append(chain, attestation.NewArchiveResolver(backend, logger))
	}

	if cCtx.Bool(livePCSFlag.Name) {
		chain = append(chain, attestation.NewPCSResolver(nil))
	}
	return chain, nil
}

// buildSigner returns the signing backend. Both modes sign as the gateway
// identity from --privkey, so the signing service derives keys per gateway.
func buildSigner(cCtx *cli.Context, logger *slog.Logger) (interfaces.ThresholdSigner, error) {
	signerURL := cCtx.String(signerURLFlag.Name)
	seedHex := cCtx.String(localSignerSeedFlag.Name)
	if signerURL != "" && seedHex != "" {
		return nil, errors.New("--signer-url and --local-signer-seed are mutually exclusive")
	}
	if signerURL == "" && seedHex == "" {
		return nil, errors.New("one of --signer-url or --local-signer-seed is required")
	}

	gatewayKey, err := flags.Signer(cCtx)
	if err != nil {
		return nil, err
	}
	gatewayID := interfaces.IdentityFromAddress(gatewayKey.Address())

	if signerURL != "" {
		logger.Info("Delegating signatures", "signer", signerURL, "gateway", gatewayID.String())
		return clients.NewSignerClient(signerURL, cCtx.Int(signerRetriesFlag.Name), gatewayKey, logger)
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid local signer seed: %w", err)
	}
	local, err := kms.NewLocalSigner(seed, logger)
	if err != nil {
		return nil, err
	}
	logger.Warn("Using in-process development signer", "gateway", gatewayID.String())
	return local.For(gatewayID), nil
}
