// Package relay implements the zero-knowledge sync relay.
//
// The relay stores encrypted records per authenticated user and answers
// three requests:
//
//	POST /records           upload a batch, processed record by record
//	GET  /records/status    last idx of every stream
//	GET  /records/next      one page of a stream
//
// It enforces the same idx and parent contract as the local store, rejects
// envelopes above the configured size, and clamps page requests to its own
// cap. It never holds a key and never inspects payloads.
//
// Requests authenticate with "Authorization: Token <token>"; tokens map to
// users through static configuration. /healthz and /metrics are open.
package relay
