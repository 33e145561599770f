// Package main (cmd/httpserver) runs the signing gateway.
//
// The gateway admits attested workers whose code identity is on the owner's
// allowlist and forwards their signing requests to a threshold-signing
// service. Trust state lives in SQLite (default) or PostgreSQL.
//
// Collateral arguments may be inline bundles, "archive:<id>" references into
// the backends given with --collateral-archive, or "pcs" when --live-pcs is set.
//
// Signing requests go to --signer-url, signed with the gateway key from
// --privkey. For development, --local-signer-seed runs an in-process
// kms.LocalSigner instead. Either way signing keys are derived for the
// gateway identity, so --privkey is always required.
//
// Example:
//
//	gateway --owner=0x00000000000000000000000000000000000000aa \
//	    --store-dsn=file:gateway.db \
//	    --collateral-archive=file:///var/lib/gateway/collateral \
//	    --signer-url=http://127.0.0.1:8082 \
//	    --privkey=$GATEWAY_PRIVKEY
package main
