package util

import (
	"net"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// LocalIPs returns every address bound to a local interface.
// It is used to tell which side of a flow is the local server when
// capturing on 0.0.0.0.
func LocalIPs() (*StringSet, error) {
	set := NewStringSet()
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return set, err
	}
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip != nil {
				set.Add(ip.String())
			}
		}
	}
	return set, nil
}
