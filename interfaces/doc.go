// Package interfaces defines the core types and contracts of the signing
// gateway, separating them from their implementations.
//
// # Trust state
//
// WorkerRegistry maps an authenticated Identity to the Worker record written
// at admission. CodehashAllowlist holds the CodeIdentity values the owner has
// approved. Both are injected into the gateway; TrustStore combines them for
// backends that keep the two collections in one database.
//
// # Collaborators
//
// QuoteVerifier checks binary attestation quotes and yields a VerifiedReport.
// CollateralResolver turns the caller-supplied collateral argument into a
// CollateralBundle the verifier can consume. ThresholdSigner receives accepted
// SignatureRequest messages; the gateway never waits for its result.
//
// # Storage
//
// StorageBackend provides content-addressed storage used to archive
// collateral bundles that callers reference instead of inlining.
//
// # Errors
//
// Every rejection is one of the sentinel errors in errors.go. They are
// terminal: none of them leaves partial state behind and none is retried.
package interfaces
