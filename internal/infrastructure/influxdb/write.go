package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Measurements written by the gateway.
const (
	MeasurementResource = "lwm2m_resource"
	MeasurementEvent    = "lwm2m_event"
)

// WriteResourceNumber records a numeric resource value in the "value"
// field. Booleans arrive here as 0 or 1.
func (c *Client) WriteResourceNumber(endpoint, path string, value float64, at time.Time) {
	c.write(MeasurementResource, endpoint, "path", path, "value", value, at)
}

// WriteResourceText records a string or opaque resource value in the
// "text" field.
func (c *Client) WriteResourceText(endpoint, path, text string, at time.Time) {
	c.write(MeasurementResource, endpoint, "path", path, "text", text, at)
}

// WriteEndpointEvent counts a lifecycle event such as "registered".
func (c *Client) WriteEndpointEvent(endpoint, event string, at time.Time) {
	c.write(MeasurementEvent, endpoint, "event", event, "count", 1, at)
}

// write queues one point tagged with the endpoint and one more tag. Points
// written to a closed client are dropped.
func (c *Client) write(measurement, endpoint, tag, tagValue, field string, value any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("endpoint", endpoint).
		AddTag(tag, tagValue).
		AddField(field, value).
		SetTime(at)
	c.writer.WritePoint(p)
}
