package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/kms"
	"github.com/urfave/cli/v2"
)

var KmsSeedFlag = &cli.StringFlag{
	Name:    "seed",
	EnvVars: []string{"SIGNER_SEED"},
	Usage:   "hex-encoded master seed of at least 32 bytes. One of seed and share-file should be set.",
}

var KmsShareFilesFlag = &cli.StringSliceFlag{
	Name:  "share-file",
	Usage: "file holding one hex-encoded Shamir share of the master seed, repeat for each share",
}

var KmsCheckAddressFlag = &cli.StringFlag{
	Name:  "check-address",
	Usage: "expected signer address for caller 0x0, path \"\" and key version 0, refuses to start on mismatch",
}

var KmsFlags = []cli.Flag{
	KmsSeedFlag,
	KmsShareFilesFlag,
	KmsCheckAddressFlag,
}

// SetupSigner builds the LocalSigner from a seed or from Shamir share files.
func SetupSigner(cCtx *cli.Context, logger *slog.Logger) (*kms.LocalSigner, error) {
	seedHex := cCtx.String(KmsSeedFlag.Name)
	shareFiles := cCtx.StringSlice(KmsShareFilesFlag.Name)

	var seed []byte
	switch {
	case seedHex != "" && len(shareFiles) > 0:
		return nil, errors.New("seed and share-file are mutually exclusive")
	case seedHex != "":
		decoded, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid seed: %w", err)
		}
		seed = decoded
	case len(shareFiles) > 0:
		shares, err := readShares(shareFiles)
		if err != nil {
			return nil, err
		}
		seed, err = kms.CombineShares(shares)
		if err != nil {
			return nil, err
		}
		logger.Info("Master seed reconstructed from shares", "shares", len(shares))
	default:
		return nil, errors.New("one of seed or share-file is required")
	}

	signer, err := kms.NewLocalSigner(seed, logger)
	if err != nil {
		return nil, err
	}

	if expected := cCtx.String(KmsCheckAddressFlag.Name); expected != "" {
		addr, err := signer.Address(interfaces.IdentityFromAddress(common.Address{}), "", 0)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(addr.Hex(), expected) {
			return nil, fmt.Errorf("reconstructed seed yields %s, expected %s", addr.Hex(), expected)
		}
	}
	return signer, nil
}

func readShares(paths []string) ([][]byte, error) {
	shares := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading share %s: %w", path, err)
		}
		share, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decoding share %s: %w", path, err)
		}
		shares = append(shares, share)
	}
	return shares, nil
}
