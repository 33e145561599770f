package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/api/clients"
	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/cmd/flags"
	"github.com/urfave/cli/v2"
)

var flagCollateral *cli.StringFlag = &cli.StringFlag{
	Name:  "collateral",
	Value: attestation.LivePCSReference,
	Usage: "collateral argument: 'pcs', 'archive:<id>' or a path prefixed with '@' to send a bundle inline",
}
var flagChecksum *cli.StringFlag = &cli.StringFlag{
	Name:     "checksum",
	Required: true,
	EnvVars:  []string{"WORKER_CHECKSUM"},
	Usage:    "build fingerprint recorded with the registration",
}
var flagRemoteAttestation *cli.StringFlag = &cli.StringFlag{
	Name:  "remote-attestation-provider",
	Usage: "quote service address to use instead of the local TDX device",
}
var flagDstackEndpoint *cli.StringFlag = &cli.StringFlag{
	Name:    "dstack-endpoint",
	EnvVars: []string{"DSTACK_SIMULATOR_ENDPOINT"},
	Usage:   "dstack guest agent endpoint, the default socket when empty",
}
var flagTcbInfoFile *cli.StringFlag = &cli.StringFlag{
	Name:  "tcb-info-file",
	Usage: "read the TCB-info document from this file instead of the guest agent",
}
var flagPayload *cli.StringFlag = &cli.StringFlag{
	Name:     "payload",
	Required: true,
	Usage:    "0x-prefixed hex payload to sign",
}
var flagPath *cli.StringFlag = &cli.StringFlag{
	Name:  "path",
	Usage: "key derivation path",
}
var flagKeyVersion *cli.UintFlag = &cli.UintFlag{
	Name:  "key-version",
	Usage: "key version",
}

func collateralArg(raw string) (api.CollateralArg, error) {
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		if !json.Valid(data) {
			return "", errors.New("collateral file is not valid JSON")
		}
		return api.CollateralArg(data), nil
	}
	return api.CollateralArg(raw), nil
}

func main() {
	app := &cli.App{
		Name:   "gateway-worker",
		Usage:  "Register a TEE worker with the signing gateway and request signatures",
		Flags:  []cli.Flag{flags.EnvFileFlag, flags.GatewayAddrFlag, flags.PrivateKeyFlag},
		Before: flags.LoadEnv,
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "attest and register this worker",
				Flags: []cli.Flag{flagCollateral, flagChecksum, flagRemoteAttestation, flagDstackEndpoint, flagTcbInfoFile},
				Action: func(cCtx *cli.Context) error {
					signer, err := flags.Signer(cCtx)
					if err != nil {
						return err
					}
					client := clients.NewGatewayClient(cCtx.String(flags.GatewayAddrFlag.Name), signer)

					var quotes attestation.QuoteProvider = attestation.DCAPQuoteProvider{}
					if addr := cCtx.String(flagRemoteAttestation.Name); addr != "" {
						quotes = &attestation.RemoteQuoteProvider{Address: addr}
					}

					var tcbInfo attestation.TcbInfoSource = attestation.NewDstackTcbInfoSource(cCtx.String(flagDstackEndpoint.Name))
					if path := cCtx.String(flagTcbInfoFile.Name); path != "" {
						tcbInfo = attestation.FileTcbInfoSource(path)
					}

					evidence, err := attestation.CollectEvidence(cCtx.Context, client.Identity(), quotes, tcbInfo)
					if err != nil {
						return err
					}

					collateral, err := collateralArg(cCtx.String(flagCollateral.Name))
					if err != nil {
						return err
					}

					registered, err := client.RegisterWorker(cCtx.Context, &api.RegisterWorkerRequest{
						QuoteHex:   evidence.QuoteHex,
						Collateral: collateral,
						Checksum:   cCtx.String(flagChecksum.Name),
						TcbInfo:    evidence.TcbInfo,
					})
					if err != nil {
						return err
					}
					fmt.Printf("registered %s: %t\n", client.Identity(), registered)
					return nil
				},
			},
			{
				Name:  "sign",
				Usage: "request a signature over a payload",
				Flags: []cli.Flag{flagPayload, flagPath, flagKeyVersion},
				Action: func(cCtx *cli.Context) error {
					signer, err := flags.Signer(cCtx)
					if err != nil {
						return err
					}
					client := clients.NewGatewayClient(cCtx.String(flags.GatewayAddrFlag.Name), signer)

					payload, err := hexutil.Decode(cCtx.String(flagPayload.Name))
					if err != nil {
						return fmt.Errorf("invalid payload: %w", err)
					}

					handle, err := client.Sign(cCtx.Context, &api.SignRequest{
						Payload:    payload,
						Path:       cCtx.String(flagPath.Name),
						KeyVersion: uint32(cCtx.Uint(flagKeyVersion.Name)),
					})
					if err != nil {
						return err
					}
					return json.NewEncoder(os.Stdout).Encode(handle)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
