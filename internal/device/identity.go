package device

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// ServiceType is the mDNS service the displays advertise.
	ServiceType = "_tvtimer._tcp"

	// serviceSuffix trails every fully-qualified advertised instance name.
	serviceSuffix = "." + ServiceType + ".local."

	// productPrefix is prepended to the user-visible name by the firmware.
	productPrefix = "Timerly "

	// UniqueIDPrefix namespaces unique IDs.
	UniqueIDPrefix = "timerly_"

	// DefaultPort is the port the display firmware listens on.
	DefaultPort = 8181
)

// Device identifies one display. It is a value: build a fresh one for every
// discovery event and never mutate it.
type Device struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	UniqueID string `json:"unique_id"`
}

// New builds a Device from a raw advertised name. It never fails; input
// that is all prefix and suffix yields an empty name.
func New(rawName, address string, port int) Device {
	name := CleanName(rawName)
	return Device{
		Name:     name,
		Address:  address,
		Port:     port,
		UniqueID: GenerateUniqueID(name),
	}
}

// CleanName strips the service suffix and the product prefix, then trims
// surrounding whitespace.
//
// Example:
//
//	CleanName("Timerly Office TV._tvtimer._tcp.local.") // "Office TV"
func CleanName(rawName string) string {
	name := strings.TrimSuffix(rawName, serviceSuffix)
	name = strings.TrimPrefix(name, productPrefix)
	return strings.TrimSpace(name)
}

// GenerateUniqueID lower-cases name, replaces dots and spaces with
// underscores and adds UniqueIDPrefix.
func GenerateUniqueID(name string) string {
	slug := strings.NewReplacer(".", "_", " ", "_").Replace(strings.ToLower(name))
	return UniqueIDPrefix + slug
}

// HostPort returns "address:port", bracketing IPv6 literals.
func (d Device) HostPort() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// URL returns the device endpoint URL for path, e.g. "/timer".
func (d Device) URL(path string) string {
	return fmt.Sprintf("http://%s/%s", d.HostPort(), strings.TrimPrefix(path, "/"))
}

// EntityID is the binary sensor entity ID exposed for the device's timer.
func (d Device) EntityID() string {
	return "binary_sensor." + strings.ReplaceAll(strings.ToLower(d.Name), " ", "_") + "_timer"
}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.HostPort())
}
