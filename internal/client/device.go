package client

import "github.com/nerrad567/lwm2m-gateway/internal/lwm2m"

// Well-known resource paths of the emulated device.
var (
	PathManufacturer    = lwm2m.ResourcePath(3, 0, 0)
	PathModelNumber     = lwm2m.ResourcePath(3, 0, 1)
	PathFirmwareVersion = lwm2m.ResourcePath(3, 0, 3)
	PathTemperature     = lwm2m.ResourcePath(3303, 0, 5700)
	PathSensorUnits     = lwm2m.ResourcePath(3303, 0, 5701)
)

// DeviceInfo identifies the emulated device in its Device object.
type DeviceInfo struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
}

// DefaultDeviceInfo is the identity used when none is configured.
var DefaultDeviceInfo = DeviceInfo{
	Manufacturer:    "8devices",
	Model:           "8dev_test",
	FirmwareVersion: "1.0",
}

// NewDeviceObjects builds the resource model of the emulated device: a
// Device object (/3/0) and a temperature sensor (/3303/0) starting at 20.0 Cel.
func NewDeviceObjects(info DeviceInfo) *lwm2m.Registry {
	r := lwm2m.NewRegistry()

	defs := []struct {
		path lwm2m.Path
		def  lwm2m.ResourceDef
	}{
		{PathManufacturer, lwm2m.ResourceDef{Type: lwm2m.TypeString, Initial: lwm2m.StringValue(info.Manufacturer)}},
		{PathModelNumber, lwm2m.ResourceDef{Type: lwm2m.TypeString, Initial: lwm2m.StringValue(info.Model)}},
		{PathFirmwareVersion, lwm2m.ResourceDef{Type: lwm2m.TypeString, Initial: lwm2m.StringValue(info.FirmwareVersion)}},
		{PathTemperature, lwm2m.ResourceDef{Type: lwm2m.TypeFloat, Observable: true, Initial: lwm2m.FloatValue(20.0)}},
		{PathSensorUnits, lwm2m.ResourceDef{Type: lwm2m.TypeString, Initial: lwm2m.StringValue("Cel")}},
	}
	for _, d := range defs {
		// Paths are distinct and values match their types.
		_ = r.Define(d.path, d.def) //nolint:errcheck // static definitions
	}
	return r
}
