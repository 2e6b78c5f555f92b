// Package mqtt mirrors the gateway onto an MQTT broker.
//
// The gateway only publishes. Topics are built by Topics:
//
//	lwm2m/gateway/status                 retained Presence, with a Last Will
//	lwm2m/endpoints/<ep>/status          retained endpoint lifecycle
//	lwm2m/endpoints/<ep>/<obj>/<inst>/<res>  retained resource value
//
// Northbound consumers subscribe to "lwm2m/endpoints/#".
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
