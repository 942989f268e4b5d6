// Package discovery tracks which Timerly displays are on the network and
// turns them into polled entities.
//
// Sources (mDNS, MQTT announcements, static configuration) emit Added and
// Removed events. The integration applies each event to the Cache and,
// after every Added event, runs the Reconciler. The Reconciler creates a
// coordinator for each cached device that lacks one and hands genuinely
// new entities to the host exactly once per unique ID.
package discovery
