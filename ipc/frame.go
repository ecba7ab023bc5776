// Package ipc implements the byte-exact wire framing for the four
// EncodingModes: SINGLE, BATCH, FRAGMENT_SINGLE_PRODUCER, and
// FRAGMENT_MULTIPLE_PRODUCER. All multi-byte integers are little-endian.
package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/justapithecus/racecm/types"
)

// Frame size constants.
const (
	// LengthPrefixSize is the size of an in-body length prefix, in bytes.
	LengthPrefixSize = 4
	// FragmentCounterSize is the size of a fragment-mode counter, in bytes.
	FragmentCounterSize = 4
	// FlagsSize is the size of the fragment-mode flags byte.
	FlagsSize = 1
	// ProducerIDSize is the size of the FRAGMENT_MULTIPLE_PRODUCER producer
	// id prefix, in bytes.
	ProducerIDSize = 16
)

// FrameErrorKind classifies a wire deframing error.
type FrameErrorKind int

const (
	// FrameErrorTruncated indicates the buffer ended before a declared
	// length prefix or fixed-size header was fully readable.
	FrameErrorTruncated FrameErrorKind = iota
	// FrameErrorTrailing indicates unconsumed bytes remained after the
	// last complete body was read.
	FrameErrorTrailing
)

// FrameError represents a wire deframing error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
}

func (e *FrameError) Error() string {
	return e.Msg
}

func truncated(msg string) *FrameError {
	return &FrameError{Kind: FrameErrorTruncated, Msg: msg}
}

// EncodeSingle returns the SINGLE-mode wire bytes: the package body
// verbatim, no framing header.
func EncodeSingle(body []byte) []byte {
	out := make([]byte, len(body))
	copy(out, body)
	return out
}

// EncodeBatch returns the BATCH-mode wire bytes: each body length-prefixed
// with a little-endian u32.
func EncodeBatch(bodies [][]byte) []byte {
	total := 0
	for _, b := range bodies {
		total += LengthPrefixSize + len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range bodies {
		out = appendLengthPrefixed(out, b)
	}
	return out
}

// EncodeFragmentSingleProducer returns the FRAGMENT_SINGLE_PRODUCER-mode
// wire bytes: <u32 fragId><u8 flags> followed by length-prefixed bodies.
func EncodeFragmentSingleProducer(fragID uint32, flags byte, bodies [][]byte) []byte {
	out := make([]byte, 0, FragmentCounterSize+FlagsSize+fragmentBodiesLen(bodies))
	out = appendUint32(out, fragID)
	out = append(out, flags)
	for _, b := range bodies {
		out = appendLengthPrefixed(out, b)
	}
	return out
}

// EncodeFragmentMultiProducer returns the FRAGMENT_MULTIPLE_PRODUCER-mode
// wire bytes: <16-byte producerId> followed by the single-producer framing.
func EncodeFragmentMultiProducer(producerID types.ProducerID, fragID uint32, flags byte, bodies [][]byte) []byte {
	out := make([]byte, 0, ProducerIDSize+FragmentCounterSize+FlagsSize+fragmentBodiesLen(bodies))
	out = append(out, producerID[:]...)
	out = appendUint32(out, fragID)
	out = append(out, flags)
	for _, b := range bodies {
		out = appendLengthPrefixed(out, b)
	}
	return out
}

func fragmentBodiesLen(bodies [][]byte) int {
	n := 0
	for _, b := range bodies {
		n += LengthPrefixSize + len(b)
	}
	return n
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLengthPrefixed(buf []byte, body []byte) []byte {
	buf = appendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

// DecodeBatch splits BATCH-mode wire bytes back into the original bodies
// in order.
func DecodeBatch(wire []byte) ([][]byte, error) {
	var bodies [][]byte
	offset := 0
	for offset < len(wire) {
		body, next, err := readLengthPrefixed(wire, offset)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
		offset = next
	}
	return bodies, nil
}

// DecodeFragmentSingleProducer splits FRAGMENT_SINGLE_PRODUCER-mode wire
// bytes into the fragment counter, flags, and ordered bodies.
func DecodeFragmentSingleProducer(wire []byte) (fragID uint32, flags byte, bodies [][]byte, err error) {
	if len(wire) < FragmentCounterSize+FlagsSize {
		return 0, 0, nil, truncated("fragment header truncated")
	}
	fragID = binary.LittleEndian.Uint32(wire[:FragmentCounterSize])
	flags = wire[FragmentCounterSize]
	offset := FragmentCounterSize + FlagsSize
	for offset < len(wire) {
		var body []byte
		body, offset, err = readLengthPrefixed(wire, offset)
		if err != nil {
			return 0, 0, nil, err
		}
		bodies = append(bodies, body)
	}
	return fragID, flags, bodies, nil
}

// DecodeFragmentMultiProducer splits FRAGMENT_MULTIPLE_PRODUCER-mode wire
// bytes into the producer id, fragment counter, flags, and ordered bodies.
func DecodeFragmentMultiProducer(wire []byte) (producerID types.ProducerID, fragID uint32, flags byte, bodies [][]byte, err error) {
	if len(wire) < ProducerIDSize {
		return types.ProducerID{}, 0, 0, nil, truncated("producer id truncated")
	}
	copy(producerID[:], wire[:ProducerIDSize])
	fragID, flags, bodies, err = DecodeFragmentSingleProducer(wire[ProducerIDSize:])
	return producerID, fragID, flags, bodies, err
}

func readLengthPrefixed(wire []byte, offset int) (body []byte, next int, err error) {
	if offset+LengthPrefixSize > len(wire) {
		return nil, 0, truncated(fmt.Sprintf("length prefix truncated at offset %d", offset))
	}
	length := binary.LittleEndian.Uint32(wire[offset : offset+LengthPrefixSize])
	offset += LengthPrefixSize
	end := offset + int(length)
	if end > len(wire) {
		return nil, 0, truncated(fmt.Sprintf("body truncated at offset %d: want %d bytes", offset, length))
	}
	return wire[offset:end], end, nil
}
