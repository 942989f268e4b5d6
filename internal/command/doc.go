// Package command sends operator commands to Timerly displays.
//
// Every command is a JSON POST to http://address:port/<endpoint>, bounded
// by the command timeout. Only HTTP 200 counts as success. Commands aimed at
// several displays are sent concurrently and per-device failures are joined
// into one error.
//
// Request types carry validation tags and are checked with Validate before a
// payload is built:
//
//	req := command.StartTimerRequest{Minutes: 10}
//	payload, err := command.BuildStartTimer(req, time.Now(), "DEFAULT")
//	if err != nil {
//	    return err
//	}
//	err = client.PostAll(ctx, devices, command.EndpointTimer, payload)
package command
