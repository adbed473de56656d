package flv

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/AgustinSRG/go-stream-toolkit/pkg/mediapacket"
	"github.com/AgustinSRG/go-stream-toolkit/pkg/streamer"
)

type collector struct {
	*streamer.Base
	packets []*mediapacket.MediaPacket
}

func newCollector(name string) *collector {
	return &collector{Base: streamer.NewBase(name)}
}

func (c *collector) AddOption(string, string) error             { return nil }
func (c *collector) StartNetwork(context.Context, string) error { return nil }
func (c *collector) Source(pkt *mediapacket.MediaPacket) (int, error) {
	c.packets = append(c.packets, pkt.Clone())
	return 0, nil
}

func flvTag(tagType TagType, ts uint32, body []byte) []byte {
	tag := make([]byte, 11, 11+len(body)+4)
	tag[0] = byte(tagType)
	size := uint32(len(body))
	tag[1], tag[2], tag[3] = byte(size>>16), byte(size>>8), byte(size)
	tag[4], tag[5], tag[6] = byte(ts>>16), byte(ts>>8), byte(ts)
	tag[7] = byte(ts >> 24)
	// stream id (3 bytes, reserved) already zero.
	tag = append(tag, body...)
	prevSize := make([]byte, 4)
	binary.BigEndian.PutUint32(prevSize, uint32(len(tag)))
	return append(tag, prevSize...)
}

// TestDemuxHeaderSeqHdrThenKeyFrame exercises spec §8 scenario 5: an FLV
// header plus a video sequence-header tag then an IDR tag must yield one
// MediaPacket with IsSeqHdr=true then one with IsKeyFrame=true, both
// carrying the tag timestamp.
func TestDemuxHeaderSeqHdrThenKeyFrame(t *testing.T) {
	header := []byte{'F', 'L', 'V', 0x01, 0x01, 0x00, 0x00, 0x00, 0x09}
	header = append(header, 0x00, 0x00, 0x00, 0x00) // previous-tag-size for the header itself

	// AVC sequence header: frame-type=1 (key), codec=7 (H264), AVCPacketType=0, cts=0.
	seqHdrBody := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x42, 0x00, 0x1e}
	seqHdrTag := flvTag(TagVideo, 0, seqHdrBody)

	// IDR: frame-type=1, codec=7, AVCPacketType=1 (NALU), cts=0.
	idrBody := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x65, 0xAA, 0xBB}
	idrTag := flvTag(TagVideo, 40, idrBody)

	var wire []byte
	wire = append(wire, header...)
	wire = append(wire, seqHdrTag...)
	wire = append(wire, idrTag...)

	d := NewDemuxer("flvdemux_test")
	sink := newCollector("sink")
	d.AddSinker(sink)

	feed := mediapacket.New()
	feed.Payload.Append(wire)
	if _, err := d.Source(feed); err != nil {
		t.Fatalf("demux error: %v", err)
	}

	if len(sink.packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(sink.packets))
	}

	if !sink.packets[0].IsSeqHdr {
		t.Fatalf("expected first packet to be a sequence header")
	}
	if sink.packets[0].DTS != 0 {
		t.Fatalf("expected first packet dts=0, got %d", sink.packets[0].DTS)
	}

	if !sink.packets[1].IsKeyFrame {
		t.Fatalf("expected second packet to be a key frame")
	}
	if sink.packets[1].DTS != 40 {
		t.Fatalf("expected second packet dts=40, got %d", sink.packets[1].DTS)
	}
}

func TestDemuxBadSignatureErrors(t *testing.T) {
	d := NewDemuxer("flvdemux_test")
	feed := mediapacket.New()
	feed.Payload.Append([]byte{'X', 'X', 'X', 0x01, 0x00, 0x00, 0x00, 0x00, 0x09})
	if _, err := d.Source(feed); err == nil {
		t.Fatalf("expected error on bad signature")
	}
}
