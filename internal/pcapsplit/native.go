package pcapsplit

import (
	"bufio"
	"context"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

const ngSnaplen = 262144

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// streamKey identifies a TCP connection independently of the packet direction.
type streamKey struct {
	network   gopacket.Flow
	transport gopacket.Flow
}

type stream struct {
	first  time.Time
	closed bool
}

// Native splits captures in-process. pcap and pcapng inputs are supported; the output is
// always pcap. A SYN on a connection that already saw FIN or RST starts a new stream.
type Native struct{}

// Split implements Splitter.
func (Native) Split(ctx context.Context, src, dst string, threshold float64) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open capture")
	}
	defer in.Close()

	reader, snaplen, err := openReader(in)
	if err != nil {
		return errors.Wrapf(err, "read %s", src)
	}

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create split capture")
	}
	defer out.Close()

	buf := bufio.NewWriter(out)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(snaplen, reader.LinkType()); err != nil {
		return errors.Wrap(err, "write pcap header")
	}

	streams := make(map[streamKey]*stream)
	limit := thresholdDuration(threshold)
	count := 0
	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", src)
		}
		count++
		if count%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		if !keep(packet, ci.Timestamp, limit, streams) {
			continue
		}
		if err := w.WritePacket(ci, data); err != nil {
			return errors.Wrap(err, "write packet")
		}
	}

	if err := buf.Flush(); err != nil {
		return errors.Wrap(err, "flush split capture")
	}
	return errors.Wrap(out.Close(), "close split capture")
}

// thresholdDuration converts a threshold in seconds, rounding to the nearest nanosecond.
func thresholdDuration(threshold float64) time.Duration {
	return time.Duration(math.Round(threshold * float64(time.Second)))
}

func keep(packet gopacket.Packet, ts time.Time, limit time.Duration, streams map[streamKey]*stream) bool {
	network := packet.NetworkLayer()
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if network == nil || tcpLayer == nil {
		return false
	}
	tcp, _ := tcpLayer.(*layers.TCP)

	key := canonical(network.NetworkFlow(), tcp.TransportFlow())
	st, ok := streams[key]
	if !ok || (st.closed && tcp.SYN && !tcp.ACK) {
		st = &stream{first: ts}
		streams[key] = st
	}
	if tcp.FIN || tcp.RST {
		st.closed = true
	}
	return ts.Sub(st.first) <= limit
}

func canonical(network, transport gopacket.Flow) streamKey {
	src, dst := network.Endpoints()
	if dst.LessThan(src) {
		return streamKey{network.Reverse(), transport.Reverse()}
	}
	if src == dst {
		tsrc, tdst := transport.Endpoints()
		if tdst.LessThan(tsrc) {
			return streamKey{network, transport.Reverse()}
		}
	}
	return streamKey{network, transport}
}

func openReader(f *os.File) (packetReader, uint32, error) {
	r, err := pcapgo.NewReader(f)
	if err == nil {
		snaplen := r.Snaplen()
		if snaplen == 0 {
			snaplen = ngSnaplen
		}
		return r, snaplen, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, 0, serr
	}
	ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, 0, errors.Wrapf(err, "neither pcap nor pcapng (%v)", ngErr)
	}
	return ng, ngSnaplen, nil
}
