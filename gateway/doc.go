// Package gateway implements worker admission and the signing authorization gate.
//
// # Admission
//
// RegisterWorker runs, in order and stopping at the first failure:
//
//  1. decode the hex quote (ErrMalformedEvidence)
//  2. resolve collateral and verify the quote (ErrAttestationRejected)
//  3. require a TD10 report whose report data names the caller (ErrIdentityBindingFailed)
//  4. derive the code identity from the TCB-info document (ErrCodeIdentityUnresolvable)
//  5. require the code identity to be approved (ErrCodeNotApproved)
//  6. store Worker{checksum, codehash} under the caller identity
//
// Steps 1 to 4 are pure and run concurrently across callers. Steps 5 and 6
// run under the gateway lock, so an admission never observes a half-applied
// allowlist change.
//
// # Signing
//
// Sign re-checks the caller's codehash against the current allowlist and, if
// still approved, enqueues a SignatureRequest into the Outbox. The call ends
// once the request is queued; the Outbox delivers it to the ThresholdSigner in
// the background.
package gateway
