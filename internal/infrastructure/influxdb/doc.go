// Package influxdb writes LwM2M resource history to InfluxDB 2.x.
//
// Points, tagged by endpoint:
//
//	lwm2m_resource,endpoint=<ep>,path=/3303/0/5700 value=21.5
//	lwm2m_resource,endpoint=<ep>,path=/3303/0/5701 text="Cel"
//	lwm2m_event,endpoint=<ep>,event=registered count=1i
//
// Writes never block the caller. They are batched by batch_size and
// flush_interval, and batch failures go to the Logger given to Connect.
package influxdb
