// Package main (cmd/admin) is the owner's command-line client for the gateway.
//
// Commands:
//
//	generate-key        - Generate a secp256k1 key for the owner or a gateway
//	owner               - Print the gateway's configured owner
//	approve <codehash>  - Add a code identity to the allowlist
//	revoke <codehash>   - Remove a code identity from the allowlist
//	list                - List approved code identities
//	status <codehash>   - Report whether a code identity is approved
//	worker <address>    - Show the registry record of a worker
//	archive-collateral  - Store a collateral bundle and print its archive reference
//	split-seed          - Split a signer master seed into Shamir share files
//
// Allowlist changes are signed with --privkey and only succeed for the owner.
package main
