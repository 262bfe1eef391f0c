// Package publisher forwards delivered change notifications to external
// systems.
//
// Notifications are flattened into Events and appended to a durable,
// Pebble-backed log (see Log). One Worker per configured sink polls the
// log from that sink's cursor, filters events by realm path and table
// globs, encodes them (json or msgpack), and publishes them with
// exponential-backoff retry. Cursors advance only after a successful
// publish, giving at-least-once delivery per sink; entries every sink has
// moved past are reclaimed in the background.
//
// Registry ties it together: it owns the log, builds workers from sink
// configurations via the RegisterSink/RegisterEncoder factories, and
// exposes Publish for the notification callback to call. Sink
// implementations live in the sink subpackage and register themselves in
// their init functions, so importing a sink package is enough to make its
// type name available in configuration.
package publisher
