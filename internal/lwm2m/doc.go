// Package lwm2m models LwM2M objects, instances and resources.
//
// A Registry holds the resources of one endpoint. Every resource has a
// declared type fixed at creation and writes are type-checked. The package
// also converts between resource updates and SenML packs (the LwM2M Send
// payload) and renders registration link-format payloads.
package lwm2m
