// Package proxy relays verified requests to the inference engine.
//
// The proxy is transparent except for the trusted header contract: the
// X-Attach-* headers on the upstream request always carry gateway-derived
// values, caller-supplied values having been stripped at the edge, and any
// engine echo of those headers is removed from the response. Engine status
// codes and bodies relay verbatim; only a transport-level failure to reach
// the engine is reported as an error, which handlers map to 502.
package proxy
