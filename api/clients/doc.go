// Package clients implements HTTP clients for the gateway API and for the
// threshold-signing service the gateway delegates to.
//
// GatewayClient signs every mutating request body with the caller's key:
//
//	signer, _ := signature.NewSignerFromHexPrivateKey(keyHex)
//	gw := clients.NewGatewayClient("http://gateway:8080", signer)
//	ok, err := gw.RegisterWorker(ctx, &api.RegisterWorkerRequest{...})
//
// SignerClient implements interfaces.ThresholdSigner over HTTP with bounded
// retries and is what the gateway's outbox delivers to in production.
package clients
