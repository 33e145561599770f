package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-signing-gateway/api/clients"
	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/cmd/flags"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/kms"
	"github.com/ruteri/tee-signing-gateway/storage"
	"github.com/urfave/cli/v2"
)

var flagArchive *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:     "archive",
	Required: true,
	EnvVars:  []string{"GATEWAY_COLLATERAL_ARCHIVE"},
	Usage:    "storage backend URI to store the bundle in, may be repeated",
}
var flagCollateralFile *cli.StringFlag = &cli.StringFlag{
	Name:     "file",
	Required: true,
	Usage:    "collateral bundle JSON file",
}
var flagSeed *cli.StringFlag = &cli.StringFlag{
	Name:  "seed",
	Usage: "hex master seed to split, a fresh one is generated when empty",
}
var flagShareDir *cli.StringFlag = &cli.StringFlag{
	Name:  "out-dir",
	Value: ".",
	Usage: "directory to write share-<n>.hex files to",
}
var flagShamirThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "shamir-threshold",
	Value: 2,
}
var flagShamirTotal *cli.IntFlag = &cli.IntFlag{
	Name:  "shamir-total-shares",
	Value: 3,
}

func gatewayClient(cCtx *cli.Context) (*clients.GatewayClient, error) {
	signer, err := flags.Signer(cCtx)
	if err != nil {
		return nil, err
	}
	return clients.NewGatewayClient(cCtx.String(flags.GatewayAddrFlag.Name), signer), nil
}

func codehashArg(cCtx *cli.Context) (string, error) {
	if cCtx.NArg() != 1 {
		return "", errors.New("expected exactly one codehash argument")
	}
	return cCtx.Args().First(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:   "gateway-admin",
		Usage:  "Manage the signing gateway allowlist",
		Flags:  []cli.Flag{flags.EnvFileFlag, flags.GatewayAddrFlag, flags.PrivateKeyFlag},
		Before: flags.LoadEnv,
		Commands: []*cli.Command{
			{
				Name:  "generate-key",
				Usage: "generate a secp256k1 private key",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return fmt.Errorf("failed to generate key: %w", err)
					}
					fmt.Printf("privkey: %s\naddress: %s\n", hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey).Hex())
					return nil
				},
			},
			{
				Name:  "owner",
				Usage: "print the gateway owner",
				Action: func(cCtx *cli.Context) error {
					client, err := gatewayClient(cCtx)
					if err != nil {
						return err
					}
					owner, err := client.Owner(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Println(owner)
					if owner != client.Identity() {
						fmt.Fprintf(os.Stderr, "warning: %s is not the owner\n", client.Identity())
					}
					return nil
				},
			},
			{
				Name:      "approve",
				Usage:     "approve a codehash",
				ArgsUsage: "<codehash>",
				Action: func(cCtx *cli.Context) error {
					codehash, err := codehashArg(cCtx)
					if err != nil {
						return err
					}
					client, err := gatewayClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.ApproveCodehash(cCtx.Context, codehash)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:      "revoke",
				Usage:     "revoke a codehash, workers running it can no longer sign",
				ArgsUsage: "<codehash>",
				Action: func(cCtx *cli.Context) error {
					codehash, err := codehashArg(cCtx)
					if err != nil {
						return err
					}
					client, err := gatewayClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.RevokeCodehash(cCtx.Context, codehash)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "list",
				Usage: "list approved codehashes",
				Action: func(cCtx *cli.Context) error {
					client, err := gatewayClient(cCtx)
					if err != nil {
						return err
					}
					codehashes, err := client.ListCodehashes(cCtx.Context)
					if err != nil {
						return err
					}
					for _, c := range codehashes {
						fmt.Println(c)
					}
					return nil
				},
			},
			{
				Name:      "status",
				Usage:     "report whether a codehash is approved",
				ArgsUsage: "<codehash>",
				Action: func(cCtx *cli.Context) error {
					codehash, err := codehashArg(cCtx)
					if err != nil {
						return err
					}
					client, err := gatewayClient(cCtx)
					if err != nil {
						return err
					}
					approved, err := client.IsApproved(cCtx.Context, codehash)
					if err != nil {
						return err
					}
					fmt.Println(approved)
					return nil
				},
			},
			{
				Name:      "worker",
				Usage:     "show a worker record",
				ArgsUsage: "<address>",
				Action: func(cCtx *cli.Context) error {
					identity, err := interfaces.NewIdentityFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					client, err := gatewayClient(cCtx)
					if err != nil {
						return err
					}
					worker, err := client.GetWorker(cCtx.Context, identity)
					if err != nil {
						return err
					}
					return printJSON(worker)
				},
			},
			{
				Name:  "archive-collateral",
				Usage: "store a collateral bundle and print the reference to pass at registration",
				Flags: []cli.Flag{flagArchive, flagCollateralFile},
				Action: func(cCtx *cli.Context) error {
					data, err := os.ReadFile(cCtx.String(flagCollateralFile.Name))
					if err != nil {
						return err
					}
					if _, err := attestation.ParseCollateral(data); err != nil {
						return fmt.Errorf("invalid collateral bundle: %w", err)
					}

					var locations []interfaces.StorageBackendLocation
					for _, uri := range cCtx.StringSlice(flagArchive.Name) {
						location, err := interfaces.NewStorageBackendLocation(uri)
						if err != nil {
							return err
						}
						locations = append(locations, location)
					}

					logger := flags.SetupLogger(cCtx)
					backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
					if err != nil {
						return err
					}
					id, err := backend.Store(cCtx.Context, data, interfaces.CollateralType)
					if err != nil {
						return err
					}
					fmt.Println(attestation.ArchivePrefix + id.String())
					return nil
				},
			},
			{
				Name:  "split-seed",
				Usage: "split a signer master seed into Shamir shares",
				Flags: []cli.Flag{flagSeed, flagShareDir, flagShamirThreshold, flagShamirTotal},
				Action: func(cCtx *cli.Context) error {
					var seed []byte
					if seedHex := cCtx.String(flagSeed.Name); seedHex != "" {
						decoded, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
						if err != nil {
							return fmt.Errorf("invalid seed: %w", err)
						}
						seed = decoded
					} else {
						seed = make([]byte, kms.MinSeedLength)
						if _, err := rand.Read(seed); err != nil {
							return err
						}
					}

					shares, err := kms.SplitSeed(seed, cCtx.Int(flagShamirTotal.Name), cCtx.Int(flagShamirThreshold.Name))
					if err != nil {
						return err
					}

					dir := cCtx.String(flagShareDir.Name)
					for i, share := range shares {
						path := filepath.Join(dir, fmt.Sprintf("share-%d.hex", i+1))
						if err := os.WriteFile(path, []byte(hex.EncodeToString(share)+"\n"), 0600); err != nil {
							return fmt.Errorf("writing %s: %w", path, err)
						}
						fmt.Println(path)
					}

					signer, err := kms.NewLocalSigner(seed, nil)
					if err != nil {
						return err
					}
					check, err := signer.Address(interfaces.IdentityFromAddress(common.Address{}), "", 0)
					if err != nil {
						return err
					}
					fmt.Printf("check-address: %s\n", check.Hex())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
