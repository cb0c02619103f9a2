// Package x402 implements the transport-agnostic core of the x402 payment
// protocol: the resource-server negotiator, the client payload builder, and
// the facilitator dispatcher. HTTP bindings live in the http subpackage and
// blockchain mechanisms under mechanisms/.
package x402

// Protocol versions. V2 is the default for all new integrations; V1 is kept
// for interoperability with servers that still speak X-PAYMENT headers.
const (
	ProtocolVersionV1 = 1
	ProtocolVersion   = 2
)
