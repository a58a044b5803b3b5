package tensor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// ErrBadPayload is returned when a binary blob cannot be decoded: short or
// truncated data, bad magic, unsupported version, or checksum mismatch.
var ErrBadPayload = errors.New("malformed parameter payload")

// wireHeader precedes every non-empty blob on the wire.
type wireHeader struct {
	Magic    uint32 // "DKPS" in little endian
	Version  uint16 // format version
	Flags    uint16 // bit 0 marks a full-replacement delta
	Count    uint32 // number of tensors
	Checksum uint32 // CRC-32 (IEEE) of everything after the header
}

const (
	wireMagic   = 0x53504B44 // "DKPS" in little endian
	wireVersion = 1
	headerSize  = 16 // sizeof(wireHeader)

	flagReplace = 0x0001
)

// EncodeParameterSet serializes a parameter set to its wire form.
// An empty set encodes to zero bytes, the wire convention for "no
// parameters yet".
func EncodeParameterSet(p ParameterSet) ([]byte, error) {
	if p.Empty() {
		return nil, nil
	}
	return encode(p, 0)
}

// DecodeParameterSet deserializes a parameter set from its wire form.
// Zero bytes decode to the empty set.
func DecodeParameterSet(b []byte) (ParameterSet, error) {
	if len(b) == 0 {
		return nil, nil
	}
	p, _, err := decode(b)
	return p, err
}

// EncodeDelta serializes a delta to its wire form. A delta must carry at
// least one tensor; an empty delta has no meaning on the wire.
func EncodeDelta(d Delta) ([]byte, error) {
	if d.Weights.Empty() {
		return nil, fmt.Errorf("%w: empty delta", ErrBadPayload)
	}
	var flags uint16
	if d.Replace {
		flags |= flagReplace
	}
	return encode(d.Weights, flags)
}

// DecodeDelta deserializes a delta from its wire form.
func DecodeDelta(b []byte) (Delta, error) {
	if len(b) == 0 {
		return Delta{}, fmt.Errorf("%w: empty body", ErrBadPayload)
	}
	p, flags, err := decode(b)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Weights: p, Replace: flags&flagReplace != 0}, nil
}

// encode writes the blob layout:
// [header(16)] then per tensor [rank(2)][dims(4*rank)][values(8*size)],
// all little endian.
func encode(p ParameterSet, flags uint16) ([]byte, error) {
	payload := &bytes.Buffer{}
	for i, t := range p {
		if len(t.Data) != t.Size() {
			return nil, fmt.Errorf("tensor %d: data length %d does not match shape %v", i, len(t.Data), t.Shape)
		}
		if len(t.Shape) > 0xFFFF {
			return nil, fmt.Errorf("tensor %d: rank %d too large", i, len(t.Shape))
		}
		if err := binary.Write(payload, binary.LittleEndian, uint16(len(t.Shape))); err != nil {
			return nil, err
		}
		for _, d := range t.Shape {
			if d < 0 || int64(d) > 0xFFFFFFFF {
				return nil, fmt.Errorf("tensor %d: dimension %d out of range", i, d)
			}
			if err := binary.Write(payload, binary.LittleEndian, uint32(d)); err != nil {
				return nil, err
			}
		}
		if err := binary.Write(payload, binary.LittleEndian, t.Data); err != nil {
			return nil, err
		}
	}

	header := wireHeader{
		Magic:    wireMagic,
		Version:  wireVersion,
		Flags:    flags,
		Count:    uint32(len(p)),
		Checksum: crc32.ChecksumIEEE(payload.Bytes()),
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+payload.Len()))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	buf.Write(payload.Bytes())
	return buf.Bytes(), nil
}

func decode(b []byte) (ParameterSet, uint16, error) {
	if len(b) < headerSize {
		return nil, 0, fmt.Errorf("%w: %d bytes is too short for header", ErrBadPayload, len(b))
	}

	var header wireHeader
	if err := binary.Read(bytes.NewReader(b[:headerSize]), binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if header.Magic != wireMagic {
		return nil, 0, fmt.Errorf("%w: bad magic %#x", ErrBadPayload, header.Magic)
	}
	if header.Version != wireVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrBadPayload, header.Version)
	}

	payload := b[headerSize:]
	if crc32.ChecksumIEEE(payload) != header.Checksum {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrBadPayload)
	}

	r := bytes.NewReader(payload)
	p := make(ParameterSet, 0, header.Count)
	for i := uint32(0); i < header.Count; i++ {
		var rank uint16
		if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
			return nil, 0, fmt.Errorf("%w: tensor %d truncated", ErrBadPayload, i)
		}
		shape := make([]int, rank)
		size := int64(1)
		for j := range shape {
			var dim uint32
			if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
				return nil, 0, fmt.Errorf("%w: tensor %d truncated", ErrBadPayload, i)
			}
			shape[j] = int(dim)
			size *= int64(dim)
			if size > 1<<31 {
				return nil, 0, fmt.Errorf("%w: tensor %d dimension product overflows", ErrBadPayload, i)
			}
		}
		// Values must fit in the remaining payload; rejects truncation and
		// absurd dimension products before allocating.
		if size*8 > int64(r.Len()) {
			return nil, 0, fmt.Errorf("%w: tensor %d claims %d values but %d bytes remain", ErrBadPayload, i, size, r.Len())
		}
		data := make([]float64, size)
		if err := binary.Read(r, binary.LittleEndian, &data); err != nil {
			return nil, 0, fmt.Errorf("%w: tensor %d truncated", ErrBadPayload, i)
		}
		p = append(p, Tensor{Shape: shape, Data: data})
	}
	if r.Len() != 0 {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes", ErrBadPayload, r.Len())
	}
	return p, header.Flags, nil
}
