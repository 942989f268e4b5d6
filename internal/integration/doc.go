// Package integration is the Timerly application context.
//
// An Integration owns everything a running instance shares: the discovery
// cache, the coordinator map, the reconciler, the timer queue that fires
// post-expiry refreshes, the entity collection and the timer type
// selection. Discovery events from every source pass through one event
// loop and are applied in arrival order; each Added event is followed by a
// reconciliation pass.
//
// Lifecycle:
//
//	app, err := integration.New(opts)
//	app.Start(ctx)          // queue, sources, event loop
//	...
//	app.Unload()            // jobs cancelled, coordinators and queue stopped
//
// Services (start_timer, cancel_all, doorbell, dismiss, notify,
// refresh_all) are exposed through CallService for the REST API and MQTT
// command topics.
package integration
