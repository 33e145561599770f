// Package kms provides LocalSigner, a single-process stand-in for the
// threshold-signing service, and Shamir helpers for its master seed.
//
// Keys are derived per (requester, derivation path, key version) from the
// master seed with HKDF-SHA256 and used as secp256k1 keys. The requester is
// the authenticated sender of the request, not the worker named in it. A request is signed over
// keccak256(payload), producing a 65-byte [R || S || V] signature.
//
// The master seed can be split into shares with SplitSeed and reconstructed
// with CombineShares so that no single operator holds it:
//
//	shares, _ := kms.SplitSeed(seed, 5, 3)
//	seed, _ = kms.CombineShares(shares[:3])
//	signer, _ := kms.NewLocalSigner(seed, logger)
package kms
