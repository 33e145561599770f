// Package attestation turns worker-supplied TDX evidence into verified facts.
//
// The admission pipeline uses, in order:
//
//   - DecodeQuote: hex evidence to raw quote bytes
//   - TDXVerifier: quote signature chain, TCB status and revocation checks
//     through go-tdx-guest, with collateral served from a CollateralBundle
//   - CheckCallerBinding: report data must name the calling identity
//   - ExtractCodeIdentity: the TCB-info event log must replay to RTMR3, and
//     its compose-hash event yields the code identity
//
// Collateral reaches the verifier through a CollateralResolver: inline JSON,
// a content-addressed archive reference, or a live PCS fetch.
//
// Worker-side helpers (DCAPQuoteProvider, DstackTcbInfoSource,
// CollectEvidence) produce evidence in the form the gateway expects.
package attestation
