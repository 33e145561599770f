// Package api defines the JSON wire types of the gateway's HTTP surface and
// of its delegation to the threshold-signing service, together with the
// server configuration shared by the binaries.
//
// Every mutating request is authenticated by a secp256k1 signature over the
// request body carried in the X-Flashbots-Signature header as
// "<address>:<signature>". The recovered address is the caller identity.
//
// Routes:
//
//	POST /api/v1/workers/register     RegisterWorkerRequest -> RegisterWorkerResponse
//	GET  /api/v1/workers/{identity}   WorkerResponse
//	POST /api/v1/codehashes/approve   CodehashRequest -> CodehashResponse (owner only)
//	POST /api/v1/codehashes/revoke    CodehashRequest -> CodehashResponse (owner only)
//	GET  /api/v1/codehashes           CodehashListResponse
//	GET  /api/v1/codehashes/{hash}    CodehashResponse
//	POST /api/v1/sign                 SignRequest -> SignResponse
//	GET  /api/v1/owner                OwnerResponse
//
// Subpackage clients implements Go clients for the gateway and for the
// signing service.
package api
