package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-signing-gateway/cmd/flags"
	"github.com/ruteri/tee-signing-gateway/httpserver"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/urfave/cli/v2"
)

var KmsServiceLogFlag = flags.LogServiceFlagFn("signer")

var KmsListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8082",
	Usage: "address to listen on for API",
}

var KmsGatewaysFlag = &cli.StringSliceFlag{
	Name:    "gateway",
	EnvVars: []string{"SIGNER_GATEWAYS"},
	Usage:   "gateway address allowed to submit requests, may be repeated. At least one is required",
}

func main() {
	app := &cli.App{
		Name:   "signer-server",
		Usage:  "Serve a development threshold-signing service",
		Flags:  append(append(KmsFlags, []cli.Flag{KmsListenAddrFlag, KmsGatewaysFlag, KmsServiceLogFlag}...), flags.CommonFlags...),
		Before: flags.LoadEnv,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			var gateways []interfaces.Identity
			for _, addr := range cCtx.StringSlice(KmsGatewaysFlag.Name) {
				id, err := interfaces.NewIdentityFromHex(addr)
				if err != nil {
					return err
				}
				gateways = append(gateways, id)
			}
			if len(gateways) == 0 {
				return fmt.Errorf("at least one --%s is required", KmsGatewaysFlag.Name)
			}

			signer, err := SetupSigner(cCtx, logger)
			if err != nil {
				logger.Error("Failed to initialize signer", "err", err)
				return err
			}

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(KmsListenAddrFlag.Name))
			server, err := httpserver.New(cfg, httpserver.NewSignerHandler(signer, gateways, cfg.MaxBodyBytes, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
