// Package nats feeds compositor input ports from NATS subjects.
//
// A producer publishes msgpack envelopes (see media/wire) on the input's
// subject:
//
//   - packet envelopes are queued on the port,
//   - a properties envelope updates the port properties and triggers
//     the OnPropertiesChange callback, which the node turns into a
//     reconfiguration of the port,
//   - an eos envelope ends the stream; queued packets are still consumed.
//
// Control signals the compositor sends to the port (play, stop) are published
// back as JSON on Subject + ".events", so the producer can start or pause.
//
// The queue capacity and overflow policy come from config.InputConfig. With
// the block policy a full queue holds back the subscription instead of
// dropping packets.
package nats
