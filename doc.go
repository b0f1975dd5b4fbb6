// Package mediacompose is a composition node: it attaches incoming media
// streams to a presentation tree and produces one composed visual output and
// one audio output.
//
// # Architecture
//
// The node is organised around the compositor and its driver:
//
//	NATS subjects ──► input/nats ──► port.Pipe ─┐
//	                                             ├─► compositor ──► port.Tee ──► output/nats
//	config.Manager (KV options) ──► engine ─────┘       │                   └──► output/websocket
//	                                                     └── render (Timeline, Mixer)
//
//   - scene holds the presentation tree: scenes, media objects, source
//     namespaces and the role slots of dynamic scenes.
//   - compositor attaches ports to objects (Configure), renegotiates the
//     outputs, handles control events and runs one presentation cycle at a
//     time.
//   - engine.Driver owns the compositor. Every external call is queued and
//     executed on the driver goroutine between cycles.
//   - render provides the default collaborators: a Timeline that advances
//     the presentation clock and forwards frames, and a Mixer that holds the
//     audio output configuration.
//   - port defines the Input and Output contracts with in-memory pipes,
//     sinks and a tee fanning one output out to several transports.
//   - media/wire is the msgpack envelope carried on NATS and WebSocket.
//
// # Ambient Packages
//
//   - config: file loading (JSON, YAML, TOML), validation, compositor
//     options and the NATS KV backed option Manager.
//   - errors: classified errors (transient, invalid, fatal) and the domain
//     sentinels Unsupported, BadParameter and EndOfStream.
//   - metric and health: Prometheus registry, /metrics and /health server,
//     aggregated component health.
//   - natsclient: NATS connection with circuit breaker, subscriptions and
//     KV access.
//   - pkg/buffer and pkg/retry: bounded queues and retry with backoff.
//
// # Running
//
//	mediacompose run --config node.yaml
//	mediacompose validate --config node.yaml
//	mediacompose options
//
// See cmd/mediacompose for flags and environment variables.
package mediacompose
