// Package bitio provides the fixed-width integer pack/unpack helpers and the
// bit-level reader used to parse sequence headers (SPS/PPS, ADTS), spec
// component C2.
//
// The byte helpers are grounded on rtmp_utils.go/av.go's ad-hoc big-endian
// reads in the teacher. The bit reader is a direct port of bitop.go's
// Bitop, fixed to use pointer receivers: the teacher's Read/Look take a
// value receiver, so bufpos/bufoff mutations inside Read are lost as soon
// as the call returns, meaning sequential Read calls on the same Bitop
// value never actually advance (only the internal per-call loop sees the
// update). That breaks any caller doing more than one Read on the same
// variable, which is exactly how SPS/PPS parsing works, so the port uses
// *Bitop throughout.
package bitio

import "encoding/binary"

// BE exposes big-endian fixed-width reads/writes.
var BE = binary.BigEndian

// LE exposes little-endian fixed-width reads/writes.
var LE = binary.LittleEndian

// Bitop reads bits out of a byte slice MSB-first.
type Bitop struct {
	buffer []byte
	buflen uint32
	bufpos uint32
	bufoff uint32
	iserr  bool
}

// NewBitop wraps buffer for bit-level reading.
func NewBitop(buffer []byte) *Bitop {
	return &Bitop{
		buffer: buffer,
		buflen: uint32(len(buffer)),
	}
}

// Err reports whether a read has run past the end of the buffer.
func (b *Bitop) Err() bool {
	return b.iserr
}

// Read consumes n bits (n <= 32) and returns them right-aligned.
func (b *Bitop) Read(n uint32) uint32 {
	var v uint32
	var d uint32

	for n > 0 {
		if b.bufpos >= b.buflen {
			b.iserr = true
			return 0
		}

		b.iserr = false

		if b.bufoff+n > 8 {
			d = 8 - b.bufoff
		} else {
			d = n
		}

		v <<= d
		v += uint32((b.buffer[b.bufpos] >> byte(8-b.bufoff-d)) & (0xff >> byte(8-d)))

		b.bufoff += d
		n -= d

		if b.bufoff == 8 {
			b.bufpos++
			b.bufoff = 0
		}
	}

	return v
}

// Look peeks n bits without advancing the cursor.
func (b *Bitop) Look(n uint32) uint32 {
	savedPos := b.bufpos
	savedOff := b.bufoff

	v := b.Read(n)

	b.bufpos = savedPos
	b.bufoff = savedOff

	return v
}

// ReadGolomb reads an Exp-Golomb coded unsigned value (used by H.264/H.265
// SPS parsing).
func (b *Bitop) ReadGolomb() uint32 {
	var n uint32

	for b.Read(1) == 0 && !b.iserr {
		n++
	}

	return (1 << n) + b.Read(n) - 1
}

// H264SPSInfo carries the fields this toolkit pulls out of an H.264 SPS
// NALU: presentation width/height plus profile/level, used to report
// stream info once a sequence header is seen.
//
// Grounded directly on the teacher's readH264SpecificConfig
// (av.go): same field walk (profile_idc, chroma_format_idc, bit depths,
// scaling matrix flag, frame-num/pic-order-cnt skip, ref-frame list,
// width/height in macroblocks, frame-cropping), ported from the teacher's
// value-receiver Bitop (which, per the package doc, loses its cursor
// across calls) onto the pointer-receiver Bitop above.
type H264SPSInfo struct {
	Width   uint32
	Height  uint32
	Profile byte
	Level   float32
}

// hasChromaFormatIDC lists the profile_idc values whose SPS carries a
// chroma_format_idc field (spec §4.4 "SPS/PPS carry is_seq_hdr=true";
// av.go's readH264SpecificConfig names these exact profile numbers).
func hasChromaFormatIDC(profileIDC uint32) bool {
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118:
		return true
	default:
		return false
	}
}

// ParseH264SPS walks a raw (Annex-B-stripped, start-code-free) SPS NALU,
// skipping the 1-byte NAL header, and extracts width/height/profile/level.
// Returns ok=false if the bitstream runs out before width/height are
// reached (a truncated or unparseable SPS).
func ParseH264SPS(sps []byte) (info H264SPSInfo, ok bool) {
	if len(sps) < 4 {
		return H264SPSInfo{}, false
	}

	b := NewBitop(sps)
	b.Read(8) // NAL header byte (type/ref_idc)

	profileIDC := b.Read(8)
	b.Read(8) // constraint flags + reserved
	levelIDC := b.Read(8)
	b.ReadGolomb() // seq_parameter_set_id

	if hasChromaFormatIDC(profileIDC) {
		chromaFormatIDC := b.ReadGolomb()
		if chromaFormatIDC == 3 {
			b.Read(1) // separate_colour_plane_flag
		}
		b.ReadGolomb() // bit_depth_luma_minus8
		b.ReadGolomb() // bit_depth_chroma_minus8
		b.Read(1)      // qpprime_y_zero_transform_bypass_flag
		if b.Read(1) != 0 {
			// seq_scaling_matrix_present: walk every present scaling list
			// (16 entries for the first six, 64 after) so the fields that
			// follow are read from the right position; the values are
			// discarded, since only width/height/profile are needed here.
			lists := uint32(8)
			if chromaFormatIDC == 3 {
				lists = 12
			}
			for i := uint32(0); i < lists; i++ {
				if b.Read(1) == 0 {
					continue
				}
				for j, next := 0, int32(8); j < 16+48*int(i/6) && next != 0; j++ {
					k := int32(b.ReadGolomb()) // delta_scale, signed Exp-Golomb
					next = (next + (k+1)/2*(1-2*((k+1)%2)) + 256) % 256
				}
			}
		}
	}

	b.ReadGolomb() // log2_max_frame_num_minus4
	picOrderCntType := b.ReadGolomb()

	switch picOrderCntType {
	case 0:
		b.ReadGolomb() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		b.Read(1)      // delta_pic_order_always_zero_flag
		b.ReadGolomb() // offset_for_non_ref_pic
		b.ReadGolomb() // offset_for_top_to_bottom_field
		numRefFrames := b.ReadGolomb()
		for n := uint32(0); n < numRefFrames; n++ {
			b.ReadGolomb()
		}
	}

	b.ReadGolomb() // max_num_ref_frames
	b.Read(1)      // gaps_in_frame_num_value_allowed_flag

	widthMBs := b.ReadGolomb()
	heightMapUnits := b.ReadGolomb()
	frameMBSOnly := b.Read(1)
	if frameMBSOnly == 0 {
		b.Read(1) // mb_adaptive_frame_field_flag
	}
	b.Read(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if b.Read(1) != 0 {
		cropLeft = b.ReadGolomb()
		cropRight = b.ReadGolomb()
		cropTop = b.ReadGolomb()
		cropBottom = b.ReadGolomb()
	}

	if b.Err() {
		return H264SPSInfo{}, false
	}

	info.Profile = byte(profileIDC)
	info.Level = float32(levelIDC) / 10.0
	info.Width = (widthMBs+1)*16 - (cropLeft+cropRight)*2
	info.Height = (2-frameMBSOnly)*(heightMapUnits+1)*16 - (cropTop+cropBottom)*2
	return info, true
}
