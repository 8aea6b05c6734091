// Package clearnode implements the websocket transport to the state-channel
// network.
//
// Frames follow the NitroRPC envelope: requests and responses are JSON
// arrays [id, method, params, timestamp] and signatures cover the exact
// marshalled array bytes. Responses are matched to callers by request ID.
package clearnode
