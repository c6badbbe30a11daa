// Package livebridge is a command bridge for a running Ableton Live set.
//
// External controllers speak a small JSON protocol over two transport
// classes with different delivery promises:
//
//   - Reliable (TCP, optional WebSocket, NATS request/reply): every request
//     is answered with a success or error envelope. All commands are
//     permitted, including critical structural edits such as deleting a
//     track.
//   - Lossy (UDP, NATS without a reply inbox): fire-and-forget, nothing is
//     ever written back. Only reversible, idempotent parameter commands are
//     permitted; anything else is dropped by policy, never executed.
//
// The Live API is single-threaded and non-reentrant, so every accepted
// command from every transport funnels into one FIFO queue consumed by a
// single goroutine (package dispatch). That goroutine is the only caller of
// the host adapter; panics inside the host boundary are contained there.
//
// Layout:
//
//	cmd/livebridge  binary entry point, flags, logging
//	command         wire envelopes and the transport classification table
//	dispatch        the execution serializer and completion handles
//	gateway/tcp     primary request/response transport
//	gateway/ws      optional WebSocket transport
//	input/udp       fire-and-forget datagram transport
//	input/nats      optional broker ingress
//	host            host adapter interface and the simulated Live set
//	service         component lifecycle orchestration
//	metric, health  observability surfaces
package livebridge
