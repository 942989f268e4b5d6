// Package device models Timerly display devices as they are discovered on
// the LAN and the timer status they report.
//
// A Device is built from an advertised mDNS service name such as
// "Timerly Office TV._tvtimer._tcp.local." plus the address and port it
// resolved to. The cleaned name ("Office TV") keys the discovery cache and
// the derived unique ID ("timerly_office_tv") keys entities.
//
// TimerData is one poll result from GET /timer. Its Properties keep the
// device's JSON object opaque and in the order the device sent it.
package device
