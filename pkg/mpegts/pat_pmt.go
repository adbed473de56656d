package mpegts

import (
	"encoding/binary"
	"errors"
)

var ErrMalformed = errors.New("mpegts: malformed section")

// DecodePAT parses a PAT section payload (spec §4.4: table_id==0x00, the
// 4-byte CRC trailer is validated).
func DecodePAT(payload []byte) (*PAT, error) {
	if len(payload) < 8 || payload[0] != TableIDPAT {
		return nil, ErrMalformed
	}

	sectionLength := int(binary.BigEndian.Uint16(payload[1:3]) & 0x0FFF)
	if 3+sectionLength > len(payload) {
		return nil, ErrMalformed
	}
	section := payload[:3+sectionLength]
	if sectionLength < 9 || crc32MPEG2(section[:len(section)-4]) != binary.BigEndian.Uint32(section[len(section)-4:]) {
		return nil, ErrMalformed
	}

	tsID := binary.BigEndian.Uint16(section[3:5])

	// skip reserved/version/current_next/section_number/last_section_number
	cursor := 8
	end := len(section) - 4 // trailing CRC32

	pat := &PAT{TransportStreamID: tsID, Version: (section[5] >> 1) & 0x1F}

	for cursor+4 <= end {
		programNumber := binary.BigEndian.Uint16(section[cursor : cursor+2])
		pid := binary.BigEndian.Uint16(section[cursor+2:cursor+4]) & 0x1FFF
		pat.Programs = append(pat.Programs, ProgramEntry{ProgramNumber: programNumber, PMTPID: pid})
		cursor += 4
	}

	return pat, nil
}

// EncodePAT serializes a PAT section, appending its CRC32 trailer.
func EncodePAT(pat *PAT) []byte {
	body := make([]byte, 0, 8+4*len(pat.Programs)+4)
	body = append(body, TableIDPAT)
	body = append(body, 0, 0) // section length placeholder

	tsID := make([]byte, 2)
	binary.BigEndian.PutUint16(tsID, pat.TransportStreamID)
	body = append(body, tsID...)

	body = append(body, 0xC0|(pat.Version<<1)|0x01) // reserved+version+current_next
	body = append(body, 0x00)                       // section_number
	body = append(body, 0x00)                       // last_section_number

	for _, p := range pat.Programs {
		pn := make([]byte, 2)
		binary.BigEndian.PutUint16(pn, p.ProgramNumber)
		body = append(body, pn...)

		pid := make([]byte, 2)
		binary.BigEndian.PutUint16(pid, 0xE000|p.PMTPID)
		body = append(body, pid...)
	}

	sectionLength := len(body) - 3 + 4 // everything after length field, plus CRC
	binary.BigEndian.PutUint16(body[1:3], uint16(0xB000|sectionLength))

	crc := crc32MPEG2(body)
	crcBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBytes, crc)
	return append(body, crcBytes...)
}

// DecodePMT parses a PMT section payload (spec §4.4: table_id==0x02).
func DecodePMT(payload []byte) (*PMT, error) {
	if len(payload) < 12 || payload[0] != TableIDPMT {
		return nil, ErrMalformed
	}

	sectionLength := int(binary.BigEndian.Uint16(payload[1:3]) & 0x0FFF)
	if 3+sectionLength > len(payload) {
		return nil, ErrMalformed
	}
	section := payload[:3+sectionLength]

	programNumber := binary.BigEndian.Uint16(section[3:5])
	version := (section[5] >> 1) & 0x1F
	pcrPID := binary.BigEndian.Uint16(section[8:10]) & 0x1FFF
	programInfoLength := int(binary.BigEndian.Uint16(section[10:12]) & 0x0FFF)

	cursor := 12 + programInfoLength
	end := len(section) - 4

	pmt := &PMT{ProgramNumber: programNumber, Version: version, PCRPID: pcrPID}

	for cursor+5 <= end {
		streamType := StreamType(section[cursor])
		pid := binary.BigEndian.Uint16(section[cursor+1:cursor+3]) & 0x1FFF
		esInfoLength := int(binary.BigEndian.Uint16(section[cursor+3:cursor+5]) & 0x0FFF)

		descStart := cursor + 5
		descEnd := descStart + esInfoLength
		if descEnd > end {
			return nil, ErrMalformed
		}

		descriptors, err := decodeDescriptors(section[descStart:descEnd])
		if err != nil {
			return nil, err
		}

		pmt.Streams = append(pmt.Streams, ElementaryStream{StreamType: streamType, PID: pid, Descriptors: descriptors})
		cursor = descEnd
	}

	return pmt, nil
}

// decodeDescriptors walks a run of <tag><length><data> descriptor TLVs
// (spec §3 "PMT carries... [descriptor]*").
func decodeDescriptors(data []byte) ([]Descriptor, error) {
	var descriptors []Descriptor
	cursor := 0
	for cursor+2 <= len(data) {
		tag := data[cursor]
		length := int(data[cursor+1])
		valStart := cursor + 2
		valEnd := valStart + length
		if valEnd > len(data) {
			return nil, ErrMalformed
		}
		descriptors = append(descriptors, Descriptor{Tag: tag, Data: append([]byte(nil), data[valStart:valEnd]...)})
		cursor = valEnd
	}
	return descriptors, nil
}

// encodeDescriptors serializes a descriptor list back to its TLV form.
func encodeDescriptors(descs []Descriptor) []byte {
	var out []byte
	for _, d := range descs {
		out = append(out, d.Tag, byte(len(d.Data)))
		out = append(out, d.Data...)
	}
	return out
}

// EncodePMT serializes a PMT section, appending its CRC32 trailer.
func EncodePMT(pmt *PMT) []byte {
	body := make([]byte, 0, 12+5*len(pmt.Streams)+4)
	body = append(body, TableIDPMT)
	body = append(body, 0, 0) // section length placeholder

	pn := make([]byte, 2)
	binary.BigEndian.PutUint16(pn, pmt.ProgramNumber)
	body = append(body, pn...)

	body = append(body, 0xC0|(pmt.Version<<1)|0x01)
	body = append(body, 0x00, 0x00) // section_number, last_section_number

	pcr := make([]byte, 2)
	binary.BigEndian.PutUint16(pcr, 0xE000|pmt.PCRPID)
	body = append(body, pcr...)

	body = append(body, 0xF0, 0x00) // program_info_length = 0

	for _, es := range pmt.Streams {
		body = append(body, byte(es.StreamType))
		pidBytes := make([]byte, 2)
		binary.BigEndian.PutUint16(pidBytes, 0xE000|es.PID)
		body = append(body, pidBytes...)

		descBytes := encodeDescriptors(es.Descriptors)
		esInfoLen := make([]byte, 2)
		binary.BigEndian.PutUint16(esInfoLen, 0xF000|uint16(len(descBytes)))
		body = append(body, esInfoLen...)
		body = append(body, descBytes...)
	}

	sectionLength := len(body) - 3 + 4
	binary.BigEndian.PutUint16(body[1:3], uint16(0xB000|sectionLength))

	crc := crc32MPEG2(body)
	crcBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBytes, crc)
	return append(body, crcBytes...)
}
