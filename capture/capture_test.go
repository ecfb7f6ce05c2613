package capture

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestEngineType(t *testing.T) {
	var eng EngineType
	require.NoError(t, eng.Set("pcap_file"))
	assert.Equal(t, EnginePcapFile, eng)
	assert.Equal(t, "pcap_file", eng.String())

	require.NoError(t, eng.Set(""))
	assert.Equal(t, EnginePcap, eng)
	assert.Equal(t, "libpcap", eng.String())

	require.NoError(t, eng.Set("raw_socket"))
	assert.Equal(t, EngineRawSocket, eng)
	assert.Equal(t, "raw_socket", eng.String())

	require.NoError(t, eng.Set("af_packet"))
	assert.Equal(t, EngineAFPacket, eng)
	assert.Equal(t, "af_packet", eng.String())

	assert.Error(t, eng.Set("vxlan"))
}

func TestAfpacketComputeSize(t *testing.T) {
	frameSize, blockSize, numBlocks, err := afpacketComputeSize(32, 64<<10, 4096)
	require.NoError(t, err)
	assert.Equal(t, 69632, frameSize)
	assert.Equal(t, frameSize*128, blockSize)
	assert.Equal(t, 3, numBlocks)
	assert.Zero(t, blockSize%4096)

	frameSize, _, _, err = afpacketComputeSize(32, 1500, 4096)
	require.NoError(t, err)
	assert.Equal(t, 2048, frameSize)

	_, _, _, err = afpacketComputeSize(1, 64<<10, 4096)
	assert.Error(t, err)
}

func TestCompileBPF(t *testing.T) {
	insts, err := compileBPF(65535, "tcp dst port 80")
	require.NoError(t, err)
	assert.NotEmpty(t, insts)

	_, err = compileBPF(65535, "tcp dst port")
	assert.Error(t, err)
}

func TestReadSourceSkipsTimeouts(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	data := serialize(t, 1, "GET / HTTP/1.1\r\n\r\n")
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1600000000, 0), CaptureLength: len(data), Length: len(data)}
	require.NoError(t, w.WritePacket(ci, data))
	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)

	var got int
	l := &Listener{
		quit:    make(chan struct{}),
		handler: func(p gopacket.Packet) { got++ },
	}
	l.readSource("test", packetHandle{source: &timeoutSource{reader: r, timeouts: 3}, decoder: r.LinkType()})
	assert.Equal(t, 1, got)
}

// timeoutSource reports a few poll timeouts before each packet, the way
// socket handles do when the wire is idle.
type timeoutSource struct {
	reader   *pcapgo.Reader
	timeouts int
}

func (s *timeoutSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if s.timeouts > 0 {
		s.timeouts--
		return nil, gopacket.CaptureInfo{}, errReadTimeout
	}
	return s.reader.ReadPacketData()
}

func TestFilter(t *testing.T) {
	l := &Listener{ports: []uint16{80, 8080}}
	assert.Equal(t, "(tcp dst port 80 or tcp dst port 8080) or (tcp src port 80 or tcp src port 8080)",
		l.Filter(pcap.Interface{}))

	l = &Listener{ports: []uint16{80}, host: "10.0.0.5"}
	assert.Equal(t, "((tcp dst port 80) and (dst host 10.0.0.5)) or ((tcp src port 80) and (src host 10.0.0.5))",
		l.Filter(pcap.Interface{}))

	ifi := pcap.Interface{
		Name:      "eth0",
		Addresses: []pcap.InterfaceAddress{{IP: net.ParseIP("192.168.0.2")}},
	}
	l = &Listener{ports: []uint16{443}, host: "eth0"}
	assert.Equal(t, "((tcp dst port 443) and (dst host 192.168.0.2)) or ((tcp src port 443) and (src host 192.168.0.2))",
		l.Filter(ifi))

	l = &Listener{ports: nil}
	assert.Equal(t, "(tcp dst portrange 0-65535) or (tcp src portrange 0-65535)", l.Filter(pcap.Interface{}))
}

func TestIsDevice(t *testing.T) {
	ifi := pcap.Interface{
		Name:      "veth12ab",
		Addresses: []pcap.InterfaceAddress{{IP: net.ParseIP("172.17.0.1")}},
	}
	assert.True(t, isDevice("veth12ab", ifi))
	assert.True(t, isDevice("veth*", ifi))
	assert.True(t, isDevice("172.17.0.1", ifi))
	assert.False(t, isDevice("eth0", ifi))
	assert.True(t, listenAll("0.0.0.0"))
	assert.False(t, listenAll("127.0.0.1"))
}

func TestReadSource(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	payloads := []string{"GET / HTTP/1.1\r\n\r\n", "HTTP/1.1 204 No Content\r\n\r\n"}
	for i, payload := range payloads {
		data := serialize(t, uint32(100*i), payload)
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1600000000, 0),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)

	var got []gopacket.Packet
	l := &Listener{
		quit:    make(chan struct{}),
		handler: func(p gopacket.Packet) { got = append(got, p) },
	}
	l.readSource("test", packetHandle{source: r, decoder: r.LinkType()})

	require.Len(t, got, 2)
	for i, p := range got {
		seg := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
		assert.Equal(t, payloads[i], string(seg.Payload))
		assert.Equal(t, int64(1600000000), p.Metadata().Timestamp.Unix())
	}
}

func serialize(t *testing.T, seq uint32, payload string) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	seg := &layers.TCP{SrcPort: 50000, DstPort: 80, Seq: seq, ACK: true, Window: 1024}
	require.NoError(t, seg.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, seg, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestParseSelector(t *testing.T) {
	var cases = []struct {
		addr      string
		namespace string
		label     string
		field     string
	}{
		{"pod/nginx-0", "", "", "metadata.name=nginx-0"},
		{"prod/pod/nginx-0", "prod", "", "metadata.name=nginx-0"},
		{"deployment/web", "", "app=web", ""},
		{"prod/daemonset/agent", "prod", "pod-template-generation=1,name=agent", ""},
		{"labelSelector/tier=backend", "", "tier=backend", ""},
		{"ns/fieldSelector/status.phase=Running", "ns", "", "status.phase=Running"},
	}
	for _, c := range cases {
		s, err := ParseSelector(c.addr)
		require.NoError(t, err, c.addr)
		assert.Equal(t, c.namespace, s.Namespace, c.addr)
		assert.Equal(t, c.label, s.LabelSelector, c.addr)
		assert.Equal(t, c.field, s.FieldSelector, c.addr)
	}

	for _, addr := range []string{"pod", "ns/unknown/x", "pod/"} {
		_, err := ParseSelector(addr)
		assert.Error(t, err, addr)
	}
	assert.True(t, IsK8sAddress("k8s://pod/a"))
	assert.False(t, IsK8sAddress("eth0"))
}

func TestPodIPs(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default", Labels: map[string]string{"app": "web"}},
			Status:     corev1.PodStatus{PodIPs: []corev1.PodIP{{IP: "10.1.0.7"}}},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "db-1", Namespace: "default", Labels: map[string]string{"app": "db"}},
			Status:     corev1.PodStatus{PodIPs: []corev1.PodIP{{IP: "10.1.0.9"}}},
		},
	)

	selector, err := ParseSelector("default/deployment/web")
	require.NoError(t, err)
	ips, err := podIPs(clientset, selector)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.0.7"}, ips)
}
