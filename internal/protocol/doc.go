// Package protocol implements the producer-to-collector stream protocol: every telemetry record
// travels as one frame, a 2-byte big-endian length followed by that many bytes of serialized
// record. It also contains the per-connection handler that reads frames off an accepted producer
// connection and hands their payloads to the endpoint queue.
package protocol
