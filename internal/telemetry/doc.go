// Package telemetry mirrors endpoint events to MQTT and InfluxDB.
//
// The Mirror is an endpoint.Listener. Registry listeners are called
// synchronously, so OnEvent only buffers the event; a worker goroutine
// started by Start performs the slower broker and time-series writes.
//
// # MQTT topics
//
//	{prefix}/endpoints/{name}/status          lifecycle, retained
//	{prefix}/endpoints/{name}/{obj}/{inst}/{res}  last value, retained
//
// # InfluxDB points
//
// Numeric and boolean values are written to the "value" field, strings and
// opaque values to the "text" field. Lifecycle events become lwm2m_event
// points.
//
// Either sink may be nil; a Mirror with no sinks drops everything.
package telemetry
