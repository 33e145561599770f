// Package storage archives attestation documents in content-addressed backends.
//
// Operators archive collateral bundles (and optionally TCB-info documents) so
// that workers can reference them as "archive:<content-id>" at admission
// instead of sending the full bundle. Content is identified by the SHA-256
// hash of its bytes and every backend keeps the two content types in separate
// namespaces.
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/gateway/archive/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://ipfs.example.com:5001/
//   - vault://vault.example.com:8200/secret/gateway?token_env=VAULT_TOKEN
//
// # Multi-Backend Example
//
//	factory := storage.NewStorageBackendFactory(logger)
//	archive, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{fileLoc, s3Loc})
//	id, err := archive.Store(ctx, bundleJSON, interfaces.CollateralType)
package storage
