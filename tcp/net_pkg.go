package tcp

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/util"
)

// DirectConn is one direction of a TCP connection.
type DirectConn struct {
	SrcAddr psnet.Addr
	DstAddr psnet.Addr
}

func (d DirectConn) String() string {
	return fmt.Sprintf("%v:%v -> %v:%v", d.SrcAddr.IP,
		d.SrcAddr.Port, d.DstAddr.IP, d.DstAddr.Port)
}

func (d DirectConn) Reverse() DirectConn {
	return DirectConn{SrcAddr: d.DstAddr, DstAddr: d.SrcAddr}
}

func (d DirectConn) Src() string {
	return fmt.Sprintf("%v:%v", d.SrcAddr.IP, d.SrcAddr.Port)
}

func (d DirectConn) Dst() string {
	return fmt.Sprintf("%v:%v", d.DstAddr.IP, d.DstAddr.Port)
}

type NetPkg struct {
	SrcIP string
	DstIP string

	IPv4 *layers.IPv4
	IPv6 *layers.IPv6
	TCP  *layers.TCP
	// Direction is decided by port and local address only,
	// the flow table may refine it later.
	Direction model.Dir
}

// Target describes the server side the capture is interested in.
// An empty IPSet means any address.
type Target struct {
	IPSet *util.StringSet
	Ports []uint16
}

func (t *Target) isServer(ip string, port uint16) bool {
	if t == nil {
		return false
	}
	if t.IPSet != nil && t.IPSet.Size() > 0 && !t.IPSet.Has(ip) {
		return false
	}
	for _, p := range t.Ports {
		if p == port {
			return true
		}
	}
	return false
}

func ProcessPacket(packet gopacket.Packet, target *Target) (*NetPkg, error) {
	var p NetPkg

	ipLayerIPv4 := packet.Layer(layers.LayerTypeIPv4)
	ipLayerIPv6 := packet.Layer(layers.LayerTypeIPv6)
	if ipLayerIPv4 == nil && ipLayerIPv6 == nil {
		return nil, errors.New("invalid IP package")
	}

	if ipLayerIPv4 != nil {
		p.IPv4 = ipLayerIPv4.(*layers.IPv4)
		p.SrcIP = p.IPv4.SrcIP.String()
		p.DstIP = p.IPv4.DstIP.String()
	}
	if ipLayerIPv6 != nil {
		p.IPv6 = ipLayerIPv6.(*layers.IPv6)
		p.SrcIP = p.IPv6.SrcIP.String()
		p.DstIP = p.IPv6.DstIP.String()
	}

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, errors.New("invalid TCP package")
	}
	p.TCP = tcpLayer.(*layers.TCP)

	switch {
	case target.isServer(p.DstIP, uint16(p.TCP.DstPort)):
		p.Direction = model.DirRequest
	case target.isServer(p.SrcIP, uint16(p.TCP.SrcPort)):
		p.Direction = model.DirResponse
	default:
		p.Direction = model.DirUnknown
	}
	return &p, nil
}

func (p *NetPkg) TCPFlags() []string {
	flags := make([]string, 0)
	if p.TCP.FIN {
		flags = append(flags, "FIN")
	}
	if p.TCP.SYN {
		flags = append(flags, "SYN")
	}
	if p.TCP.RST {
		flags = append(flags, "RST")
	}
	if p.TCP.PSH {
		flags = append(flags, "PSH")
	}
	if p.TCP.ACK {
		flags = append(flags, "ACK")
	}
	if p.TCP.URG {
		flags = append(flags, "URG")
	}
	return flags
}

func (p *NetPkg) DirectConn() DirectConn {
	var c DirectConn
	c.SrcAddr.IP = p.SrcIP
	c.DstAddr.IP = p.DstIP
	c.SrcAddr.Port = uint32(p.TCP.SrcPort)
	c.DstAddr.Port = uint32(p.TCP.DstPort)
	return c
}
