package surface

import (
	"fmt"
	"io"

	"github.com/pion/rtp"
)

const (
	naluSTAPA = 24
	naluFUA   = 28
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// h264Depacketizer turns RTP H264 payloads into NAL units. Each remote
// stream gets its own instance so FU-A reassembly never mixes streams.
type h264Depacketizer struct {
	fu      []byte
	inFU    bool
	lastSeq uint16
}

// Depacketize returns the complete NAL units carried by one packet.
// A sequence gap inside an FU-A chain drops the chain until the next start
// fragment.
func (d *h264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}

	switch t := payload[0] & 0x1f; {
	case t >= 1 && t <= 23:
		d.resetFU()
		return [][]byte{payload}
	case t == naluSTAPA:
		d.resetFU()
		return splitSTAPA(payload[1:])
	case t == naluFUA:
		return d.fragment(seq, payload)
	default:
		return nil
	}
}

func (d *h264Depacketizer) resetFU() {
	d.fu = nil
	d.inFU = false
}

func (d *h264Depacketizer) fragment(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		d.resetFU()
		return nil
	}
	indicator, header := payload[0], payload[1]
	start, end := header&0x80 != 0, header&0x40 != 0

	switch {
	case start:
		d.fu = append([]byte{indicator&0xe0 | header&0x1f}, payload[2:]...)
		d.inFU = true
	case !d.inFU:
		return nil
	case seq != d.lastSeq+1:
		d.resetFU()
		return nil
	default:
		d.fu = append(d.fu, payload[2:]...)
	}
	d.lastSeq = seq

	if !end {
		return nil
	}
	nalu := d.fu
	d.resetFU()
	return [][]byte{nalu}
}

func splitSTAPA(b []byte) [][]byte {
	var nalus [][]byte
	for len(b) >= 2 {
		size := int(b[0])<<8 | int(b[1])
		b = b[2:]
		if size == 0 || size > len(b) {
			break
		}
		nalus = append(nalus, b[:size])
		b = b[size:]
	}
	return nalus
}

// annexBWriter writes an H264 elementary stream with start codes.
type annexBWriter struct {
	w io.WriteCloser
	d h264Depacketizer
}

func newAnnexBWriter(w io.WriteCloser) *annexBWriter {
	return &annexBWriter{w: w}
}

func (a *annexBWriter) WriteRTP(pkt *rtp.Packet) error {
	for _, nalu := range a.d.Depacketize(pkt.SequenceNumber, pkt.Payload) {
		if _, err := a.w.Write(annexBStartCode); err != nil {
			return fmt.Errorf("write start code: %w", err)
		}
		if _, err := a.w.Write(nalu); err != nil {
			return fmt.Errorf("write nalu: %w", err)
		}
	}
	return nil
}

func (a *annexBWriter) Close() error {
	return a.w.Close()
}
