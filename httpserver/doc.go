// Package httpserver serves the gateway API and the development signing service.
//
// Mutating routes require an X-Flashbots-Signature header over the request
// body; the recovered address becomes the caller identity handed to the
// gateway. Signed bodies carry issued_at and nonce fields, and each nonce is
// accepted once while issued_at is within DefaultReplayWindow. Errors are returned as api.ErrorResponse with a status derived
// from the gateway error kind:
//
//	400  malformed evidence, invalid argument, unreadable body
//	401  missing or invalid signature, stale or replayed request
//	403  identity binding, code not approved, code no longer approved,
//	     worker not registered, not the owner
//	404  unknown worker
//	422  attestation rejected (with stage), code identity unresolvable
//	429  signing rate limit
//	503  signing delegation unavailable
//
// Health endpoints /livez, /readyz, /drain and /undrain behave as in every
// service of this family.
package httpserver
