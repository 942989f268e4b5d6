// Package mqtt connects the Timerly daemon to an MQTT broker.
//
// The daemon publishes retained entity state and availability, timer state
// change events, and its own online/offline status (with a Last Will).
// It subscribes to service command topics and to the discovery announce
// topic. See Topics for the hierarchy.
//
// Usage:
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.EntityState(uid), state, true)
package mqtt
