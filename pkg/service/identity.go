package service

import (
	"net"
	"os"

	"github.com/kumarabd/hostwatch/pkg/normalizer"
)

// DetectIdentity fills identity fields the configuration left empty from
// the local host
func DetectIdentity(id normalizer.Identity, hostname normalizer.HostnameFunc) normalizer.Identity {
	if hostname == nil {
		hostname = os.Hostname
	}
	if id.ID == "" || id.FQDN == "" {
		if name, err := hostname(); err == nil {
			if id.ID == "" {
				id.ID = name
			}
			if id.FQDN == "" {
				id.FQDN = name
			}
		}
	}
	if id.LocalIPv4 == "" && len(id.FQDNIPv4) == 0 && len(id.IPv4) == 0 {
		id.IPv4 = localIPv4()
	}
	return id
}

// localIPv4 lists the host's IPv4 interface addresses, loopback last
func localIPv4() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out, loopback []string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil {
			continue
		}
		if ip.IsLoopback() {
			loopback = append(loopback, ip.String())
			continue
		}
		out = append(out, ip.String())
	}
	return append(out, loopback...)
}
