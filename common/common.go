// Package common holds build metadata and logger setup shared by the binaries.
package common

var (
	PackageName = "tee-signing-gateway"

	// Version is set at build time with -ldflags "-X .../common.Version=...".
	Version = "dev"
)
