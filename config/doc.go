// Package config loads and manages mediacompose configuration.
//
// A configuration file declares the node's NATS connection, its input
// streams, the transports bound to the visual and audio outputs, the metrics
// endpoint and the compositor Options. JSON, YAML and TOML files are read;
// the extension selects the decoder and unknown fields are rejected.
//
// # Loading
//
// Layers are decoded over Default in order, so later files override only the
// fields they set:
//
//	loader := config.NewLoader()
//	loader.AddLayer("base.yaml")
//	loader.AddLayer("site.toml")
//	cfg, err := loader.Load()
//
// MEDIACOMPOSE_NATS_URL, MEDIACOMPOSE_INSTANCE, MEDIACOMPOSE_METRICS_ADDR and
// MEDIACOMPOSE_DURATION override the loaded values.
//
// # Options
//
// Options mirrors the compositor's option table. Reference lists every option
// with its default and whether it may change at runtime; WithUpdates merges
// only the updatable ones.
//
// # Runtime updates
//
// Manager keeps the options of one instance in a NATS KV bucket
// (mediacompose_options by default). On start the file version and the stored
// version decide which side wins; afterwards every valid change written to
// the bucket is delivered on Updates.
package config
