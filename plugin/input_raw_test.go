package plugin

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearne/httpsniffer/model"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		address string
		host    string
		ports   []uint16
		wantErr bool
	}{
		{"0.0.0.0:80", "0.0.0.0", []uint16{80}, false},
		{":8080", "0.0.0.0", []uint16{8080}, false},
		{"eth0:80,8080", "eth0", []uint16{80, 8080}, false},
		{"/tmp/dump.pcap:80", "/tmp/dump.pcap", []uint16{80}, false},
		{"/tmp/dump.pcap", "/tmp/dump.pcap", nil, false},
		{"k8s://default/pod/web-0:8080", "k8s://default/pod/web-0", []uint16{8080}, false},
		{"[::1]:80", "::1", []uint16{80}, false},
		{"eth0", "", nil, true},
		{"eth0:http", "", nil, true},
		{"eth0:70000", "", nil, true},
	}
	for _, c := range cases {
		host, ports, err := parseAddress(c.address)
		if c.wantErr {
			assert.Error(t, err, c.address)
			continue
		}
		require.NoError(t, err, c.address)
		assert.Equal(t, c.host, host, c.address)
		assert.Equal(t, c.ports, ports, c.address)
	}
}

func buildPacket(t *testing.T, fromClient bool, seq uint32, payload string) gopacket.Packet {
	t.Helper()
	srcIP, dstIP := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	srcPort, dstPort := layers.TCPPort(40000), layers.TCPPort(80)
	if !fromClient {
		srcIP, dstIP = dstIP, srcIP
		srcPort, dstPort = dstPort, srcPort
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	seg := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     seq,
		ACK:     true,
		PSH:     true,
		Window:  65535,
	}
	require.NoError(t, seg.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, seg, gopacket.Payload(payload)))
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeIPv4, gopacket.Default)
}

func TestRAWInputReadsExchanges(t *testing.T) {
	i := newRAWInput(RAWInputConfig{}, "0.0.0.0", []uint16{80})

	req := "GET /health HTTP/1.1\r\nHost: api.local\r\n\r\n"
	resp := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	i.handlePacket(buildPacket(t, true, 1000, req))
	i.handlePacket(buildPacket(t, false, 5000, resp))
	// a second request whose response never arrives
	i.handlePacket(buildPacket(t, true, 1000+uint32(len(req)), "GET /slow HTTP/1.1\r\nHost: api.local\r\n\r\n"))
	i.stopProcessor()

	first, err := i.Read()
	require.NoError(t, err)
	assert.Equal(t, "/health", first.URL)
	assert.Equal(t, "api.local", first.Host)
	assert.Equal(t, 200, first.StatusCode)
	assert.Equal(t, "ok", string(first.Body[model.DirResponse]))
	assert.Equal(t, "10.0.0.1:40000", first.SrcAddr)
	assert.True(t, first.Finished())

	second, err := i.Read()
	require.NoError(t, err)
	assert.Equal(t, "/slow", second.URL)
	assert.False(t, second.Finished())

	_, err = i.Read()
	assert.ErrorIs(t, err, ErrorStopped)
	assert.NoError(t, i.Close())
	assert.NoError(t, i.Close())
}

func TestRAWInputSkipsNonTCP(t *testing.T) {
	i := newRAWInput(RAWInputConfig{}, "0.0.0.0", []uint16{80})

	buf := gopacket.NewSerializeBuffer()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 1).To4(), DstIP: net.IPv4(10, 0, 0, 2).To4()}
	udp := &layers.UDP{SrcPort: 53, DstPort: 5353}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		ip, udp, gopacket.Payload("x")))
	i.handlePacket(gopacket.NewPacket(buf.Bytes(), layers.LayerTypeIPv4, gopacket.Default))
	i.stopProcessor()

	_, err := i.Read()
	assert.ErrorIs(t, err, ErrorStopped)
}
