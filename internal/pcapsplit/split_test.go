package pcapsplit

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type segment struct {
	at            time.Duration
	src, dst      string
	sport, dport  uint16
	syn, ack, fin bool
	udp           bool
}

var epoch = time.Date(2019, 1, 1, 10, 0, 0, 0, time.UTC)

func writeCapture(t *testing.T, path string, segments []segment) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, s := range segments {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version: 4, TTL: 64,
			SrcIP: net.ParseIP(s.src).To4(),
			DstIP: net.ParseIP(s.dst).To4(),
		}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if s.udp {
			ip.Protocol = layers.IPProtocolUDP
			udp := &layers.UDP{SrcPort: layers.UDPPort(s.sport), DstPort: layers.UDPPort(s.dport)}
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
			require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload("x")))
		} else {
			ip.Protocol = layers.IPProtocolTCP
			tcp := &layers.TCP{
				SrcPort: layers.TCPPort(s.sport), DstPort: layers.TCPPort(s.dport),
				SYN: s.syn, ACK: s.ack, FIN: s.fin, Window: 1024,
			}
			require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
			require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp))
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: epoch.Add(s.at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
}

func countPackets(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	n := 0
	for {
		_, _, err := r.ReadPacketData()
		if err == io.EOF {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestThresholds(t *testing.T) {
	th := Thresholds()
	assert.Len(t, th, 65)
	assert.Equal(t, 0.0, th[0])
	assert.InDelta(t, 1000.0, th[len(th)-1], 1e-9)
	for i := 1; i < len(th); i++ {
		assert.Less(t, th[i-1], th[i])
	}
	assert.Equal(t, "0.000100", FormatThreshold(th[1]))
}

func TestNativeSplit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.pcap")
	writeCapture(t, src, []segment{
		{at: 0, src: "10.0.0.1", dst: "10.0.0.2", sport: 5000, dport: 80, syn: true},
		{at: 10 * time.Millisecond, src: "10.0.0.2", dst: "10.0.0.1", sport: 80, dport: 5000, syn: true, ack: true},
		{at: 20 * time.Millisecond, src: "10.0.0.9", dst: "10.0.0.2", sport: 6000, dport: 80, syn: true},
		{at: 50 * time.Millisecond, src: "10.0.0.1", dst: "10.0.0.2", sport: 5000, dport: 80, ack: true},
		{at: 60 * time.Millisecond, src: "10.0.0.9", dst: "10.0.0.2", sport: 6000, dport: 80, ack: true},
		{at: 70 * time.Millisecond, src: "10.0.0.1", dst: "10.0.0.3", sport: 53, dport: 53, udp: true},
	})

	dst := filepath.Join(dir, "out.pcap")
	require.NoError(t, Native{}.Split(context.Background(), src, dst, 0.045))
	// 50ms of the first stream and the UDP datagram are dropped
	assert.Equal(t, 4, countPackets(t, dst))

	require.NoError(t, Native{}.Split(context.Background(), src, dst, 0))
	assert.Equal(t, 2, countPackets(t, dst))
}

func TestThresholdDuration(t *testing.T) {
	// 1.4999999999999999e-05 * 1e9 is 14999.999999999998
	assert.Equal(t, 15*time.Microsecond, thresholdDuration(1.4999999999999999e-05))
	assert.Equal(t, 70*time.Millisecond, thresholdDuration(0.06999999999999999))
	assert.Equal(t, time.Duration(0), thresholdDuration(0))
	for _, th := range Thresholds() {
		assert.Zero(t, thresholdDuration(th)%time.Microsecond, FormatThreshold(th))
	}
}

func TestNativeSplit_KeepsPacketAtRoundedThreshold(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.pcap")
	writeCapture(t, src, []segment{
		{at: 0, src: "10.0.0.1", dst: "10.0.0.2", sport: 5000, dport: 80, syn: true},
		{at: 15 * time.Microsecond, src: "10.0.0.2", dst: "10.0.0.1", sport: 80, dport: 5000, syn: true, ack: true},
	})

	dst := filepath.Join(dir, "out.pcap")
	require.NoError(t, Native{}.Split(context.Background(), src, dst, 1.4999999999999999e-05))
	assert.Equal(t, 2, countPackets(t, dst))
}

func TestNativeSplit_ReusedPortsStartNewStream(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.pcap")
	writeCapture(t, src, []segment{
		{at: 0, src: "10.0.0.1", dst: "10.0.0.2", sport: 5000, dport: 80, syn: true},
		{at: time.Second, src: "10.0.0.2", dst: "10.0.0.1", sport: 80, dport: 5000, fin: true, ack: true},
		{at: 5 * time.Second, src: "10.0.0.1", dst: "10.0.0.2", sport: 5000, dport: 80, syn: true},
		{at: 5*time.Second + time.Millisecond, src: "10.0.0.2", dst: "10.0.0.1", sport: 80, dport: 5000, syn: true, ack: true},
	})

	dst := filepath.Join(dir, "out.pcap")
	require.NoError(t, Native{}.Split(context.Background(), src, dst, 0.5))
	assert.Equal(t, 3, countPackets(t, dst))
}

func TestNativeSplit_NotACapture(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.pcap")
	require.NoError(t, os.WriteFile(src, []byte("definitely not a capture file"), 0644))
	assert.Error(t, Native{}.Split(context.Background(), src, filepath.Join(dir, "out.pcap"), 1))
}

func TestSplitFolder(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "pcap")
	require.NoError(t, os.Mkdir(folder, 0755))
	seg := []segment{{at: 0, src: "10.0.0.1", dst: "10.0.0.2", sport: 1, dport: 80, syn: true}}
	writeCapture(t, filepath.Join(folder, "b.pcap"), seg)
	writeCapture(t, filepath.Join(folder, "a.pcap"), seg)
	require.NoError(t, os.WriteFile(filepath.Join(folder, "notes.txt"), nil, 0644))

	names, err := Captures(folder)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pcap", "b.pcap"}, names)

	dst, err := SplitFolder(context.Background(), Native{}, folder+"/", 0.1, nil)
	require.NoError(t, err)
	assert.Equal(t, folder+"-0.100000", dst)

	split, err := Captures(dst)
	require.NoError(t, err)
	assert.Equal(t, names, split)
}

func TestSplitFolder_Cancelled(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "pcap")
	require.NoError(t, os.Mkdir(folder, 0755))
	writeCapture(t, filepath.Join(folder, "a.pcap"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SplitFolder(ctx, Native{}, folder, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
