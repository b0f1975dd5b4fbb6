// Package websocket provides a compositor output port served over WebSocket,
// for live previews and downstream consumers that sit outside NATS.
//
// # Overview
//
// Output implements port.Output. Everything the compositor publishes on the
// port (packets, property changes, end of stream) is encoded as a msgpack
// envelope (see media/wire) and written to every connected client as a
// binary message.
//
//	output, err := websocket.NewOutput(websocket.Config{
//	    PortID: port.VisualOutputID,
//	    Kind:   media.StreamVisual,
//	    Addr:   ":8081",
//	    Path:   "/preview",
//	}, deps)
//	_ = output.Initialize()
//	_ = output.Start(ctx)
//
// # Client Management
//
// Each client gets a uuid, a bounded queue and a writer goroutine. A slow
// client loses its oldest queued envelopes; it never stalls the compositor.
// A newly connected client first receives the current property set, so it can
// interpret the frames that follow.
//
// Connections are pinged every PingInterval and dropped when no pong arrives
// within two intervals.
//
// # Capability Requests
//
// Clients negotiate the output format by sending either a binary caps
// envelope or a text message:
//
//	{"type": "caps", "id": "1", "payload": {"width": 1280, "height": 720}}
//
// The latest request from any client wins. It is returned by QueryCaps and
// reported through the OnCapsChange callback, which the node wires to the
// compositor's output renegotiation. Text requests are acknowledged with an
// "ack" message carrying the same id. Each client may issue CapsRate requests
// per second with bursts of CapsBurst; excess requests are dropped and, when
// sent as text, answered with "error".
//
// # Metrics
//
// With a metrics registry the output exports envelope, byte, drop, client,
// capability-request and error counters under the websocket subsystem.
package websocket
