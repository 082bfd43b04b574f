// Package serviceindex maintains the in-memory, health-filtered
// hostname-to-IPs projection that the discovery DNS server answers queries
// against. It is the only state shared between the Subscriber (writer) and
// the DnsServer (reader); the index owns making that sharing safe.
package serviceindex

import "strings"

// Record is the discovery-side entity mirrored from the state store: one
// container's registration for a service on a server.
type Record struct {
	ContainerID string
	Service     string
	Project     string
	ServerID    string
	IP          string
	Healthy     bool
	StartedAt   int64
	InstanceID  string // optional
}

// Hostnames returns the lowercased hostnames this record answers to: the
// primary "<project>-<service>" name, and, if InstanceID is set, the
// additional "<project>-<service>-<instanceId>" name.
func (r Record) Hostnames() []string {
	primary := strings.ToLower(r.Project + "-" + r.Service)
	if r.InstanceID == "" {
		return []string{primary}
	}
	instance := strings.ToLower(r.Project + "-" + r.Service + "-" + r.InstanceID)
	return []string{primary, instance}
}
