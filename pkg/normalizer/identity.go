package normalizer

import (
	"errors"
	"os"
	"strings"
)

// ErrNoIPv4 is returned when the identity carries no usable IPv4 address
var ErrNoIPv4 = errors.New("no ipv4 address found in host identity")

var badHostnames = map[string]struct{}{
	"localhost":               {},
	"localhost.localdomain":   {},
	"localhost6.localdomain6": {},
}

// Identity is the host context gathered by the agent
type Identity struct {
	FQDN         string            `json:"fqdn" yaml:"fqdn"`
	LocalFQDN    string            `json:"local_fqdn" yaml:"local_fqdn"`
	ID           string            `json:"id" yaml:"id"`
	Master       string            `json:"master" yaml:"master"`
	LocalIPv4    string            `json:"local_ip4" yaml:"local_ip4"`
	FQDNIPv4     []string          `json:"fqdn_ip4" yaml:"fqdn_ip4"`
	IPv4         []string          `json:"ipv4" yaml:"ipv4"`
	SystemUUID   string            `json:"system_uuid" yaml:"system_uuid"`
	CloudDetails map[string]string `json:"cloud_details" yaml:"cloud_details"`
	// Gateway is false when the host has no default network gateway
	Gateway *bool `json:"ip_gw" yaml:"ip_gw"`
}

// NoGateway reports whether the host explicitly has no default gateway
func (id Identity) NoGateway() bool {
	return id.Gateway != nil && !*id.Gateway
}

// Host is the resolved identity stamped on every event
type Host struct {
	Name       string
	IPv4       string
	FQDN       string
	Master     string
	ID         string
	SystemUUID string
	Cloud      map[string]string
}

// HostnameFunc returns the local OS hostname
type HostnameFunc func() (string, error)

// Resolve applies the hostname and address policies to id
func Resolve(id Identity, hostname HostnameFunc) (Host, error) {
	if hostname == nil {
		hostname = os.Hostname
	}
	ip, err := id.ResolveIPv4()
	if err != nil {
		return Host{}, err
	}

	fqdn := id.LocalFQDN
	if fqdn == "" {
		fqdn = id.FQDN
	}

	master := id.Master
	if master == "" {
		if name, err := hostname(); err == nil {
			master = name
		}
	}

	return Host{
		Name:       ResolveHostname(id.FQDN, id.ID, ip, hostname),
		IPv4:       ip,
		FQDN:       fqdn,
		Master:     master,
		ID:         id.ID,
		SystemUUID: id.SystemUUID,
		Cloud:      id.CloudDetails,
	}, nil
}

// ResolveIPv4 picks the address reported as dest_ip
func (id Identity) ResolveIPv4() (string, error) {
	ip := id.LocalIPv4
	if ip == "" {
		switch {
		case len(id.FQDNIPv4) > 0:
			ip = id.FQDNIPv4[0]
		case len(id.IPv4) > 0:
			ip = id.IPv4[0]
		default:
			return "", ErrNoIPv4
		}
	}
	if strings.HasPrefix(ip, "127.") {
		for _, addr := range id.IPv4 {
			if addr != "" && !strings.HasPrefix(addr, "127.") {
				return addr, nil
			}
		}
	}
	return ip, nil
}

// ResolveHostname picks the name reported as the envelope host and dest_host
func ResolveHostname(fqdn, id, ipv4 string, hostname HostnameFunc) string {
	if fqdn == "" {
		fqdn = id
	}
	if _, bad := badHostnames[fqdn]; !bad {
		return fqdn
	}
	name, err := hostname()
	if err != nil || !strings.Contains(name, ".") {
		return ipv4
	}
	if _, bad := badHostnames[name]; bad {
		return ipv4
	}
	return name
}
