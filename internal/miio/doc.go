// Package miio implements the schema-driven channel engine for miio devices.
//
// miio devices expose a small JSON-RPC surface (get properties, set
// properties, invoke actions), but the property names, value encodings and
// valid commands differ per model. The engine turns a model's declarative
// schema into a uniform set of channels, polls device state in batches,
// decodes responses back into typed channel state, and encodes high-level
// commands into the wire command the device expects.
//
// # Architecture
//
//	              HandleCommand                          HandleResponse
//	  caller ──────────────────► Encoder ──► Transport ──────────────────► Decoder ──► StatePublisher
//	                                            ▲                            │
//	  RefreshNow / periodic ──► debounce ──► worker: refresh cycle ──────────┘
//	                                            │
//	  OnModelKnown ──► SchemaLoader ──► Materializer ──► ChannelRegistry
//
// # Key Responsibilities
//
//   - Materialize channels and the action index from a device schema
//   - Batch property reads according to the schema's maxProperties
//   - Decode array- and object-shaped responses by position or key
//   - Apply per-channel transformations and coerce to the channel data type
//   - Encode commands for every parameter type
//   - Identify the device via miIO.info until its identity is known
//
// # Thread Safety
//
// Handler methods are safe for concurrent use. Refresh cycles run on one
// worker goroutine per handler, so at most one cycle executes at a time.
// The action index and refresh list live in an immutable Snapshot that is
// replaced atomically; readers never observe a partially rebuilt index.
//
// # Error Handling
//
// No Handler method returns an error or panics to the caller. Failures are
// classified by the sentinel errors in errors.go, logged, and skipped at the
// narrowest scope: one channel, one batch, or one cycle.
package miio
