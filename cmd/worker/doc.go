// Package main (cmd/worker) registers a TEE worker with the gateway and
// submits signing requests on its behalf.
//
// register obtains a quote whose report data carries the worker's address,
// reads the application's TCB-info document from the dstack guest agent and
// posts both with the chosen collateral argument. Outside a TEE, pass
// --remote-attestation-provider and --tcb-info-file to use a quote service
// and a saved document instead.
package main
