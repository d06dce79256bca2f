// Package core defines core data structures with zero external dependencies.
package core

import "time"

// ChecksumState tracks the validity of a fragment's transport checksum.
// States only move downward: trimming a fragment invalidates any
// precomputed or hardware-verified sum.
type ChecksumState uint8

const (
	ChecksumNone        ChecksumState = iota // no usable checksum
	ChecksumHardware                         // NIC computed a partial sum
	ChecksumUnnecessary                      // verified, no check needed
)

func (c ChecksumState) String() string {
	switch c {
	case ChecksumHardware:
		return "hardware"
	case ChecksumUnnecessary:
		return "unnecessary"
	default:
		return "none"
	}
}

// FragmentKey uniquely identifies a fragmented IPv4 datagram in flight.
// Uses fixed-size arrays to avoid string allocation in the hot path.
type FragmentKey struct {
	SrcIP    [4]byte
	DstIP    [4]byte
	Protocol uint8
	ID       uint16
}

// Fragment is one IPv4 fragment, normalized for reassembly: Offset is in
// bytes (wire offset * 8), Header holds the IP header bytes and Payload
// the data behind it. Size is the number of bytes charged to the memory
// accountant while a queue owns the fragment; it is fixed at admission
// and does not shrink when the payload is trimmed.
type Fragment struct {
	Key       FragmentKey
	Offset    int
	More      bool // MF flag
	Header    []byte
	Payload   []byte
	Checksum  ChecksumState
	Device    int
	Timestamp time.Time
	Size      int
}

// End returns the byte position one past the fragment's payload.
func (f *Fragment) End() int {
	return f.Offset + len(f.Payload)
}

// Datagram is a fully reassembled IPv4 datagram. Header is the first
// fragment's IP header with the fragmentation fields cleared and the
// total length rewritten; Payload is the concatenated fragment data.
type Datagram struct {
	Header    []byte
	Payload   []byte
	Checksum  ChecksumState
	Device    int
	Timestamp time.Time
}

// TotalLen returns the on-wire length of the rebuilt datagram.
func (d *Datagram) TotalLen() int {
	return len(d.Header) + len(d.Payload)
}
