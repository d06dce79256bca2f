// Package decoder normalizes raw IPv4 packets into engine fragments.
package decoder

import (
	"encoding/binary"
	"fmt"
	"time"

	"firestige.xyz/defrag/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv4MaxSize      = 65535
)

// Decode parses a raw IPv4 packet (header included). For a fragment
// (MF set or nonzero offset) it returns a normalized core.Fragment with
// copied header and payload buffers and reports true; for a complete
// packet it reports false with a nil fragment. The capture buffer may
// be reused by the caller after Decode returns.
func Decode(ipData []byte, device int, ts time.Time) (*core.Fragment, bool, error) {
	if len(ipData) < ipv4HeaderMinLen {
		return nil, false, fmt.Errorf("%w: %d bytes", core.ErrPacketTooShort, len(ipData))
	}
	if ipData[0]>>4 != 4 {
		return nil, false, fmt.Errorf("%w: version %d", core.ErrInvalidHeader, ipData[0]>>4)
	}

	ihl := int(ipData[0]&0x0F) * 4
	if ihl < ipv4HeaderMinLen || len(ipData) < ihl {
		return nil, false, fmt.Errorf("%w: IHL %d", core.ErrInvalidHeader, ihl)
	}

	// Clamp a bogus total length to what actually arrived.
	totalLen := int(binary.BigEndian.Uint16(ipData[2:4]))
	if totalLen < ihl || totalLen > len(ipData) {
		totalLen = len(ipData)
	}

	flagsOffset := binary.BigEndian.Uint16(ipData[6:8])
	more := flagsOffset&0x2000 != 0    // MF flag
	fragOffset := flagsOffset & 0x1FFF // offset in 8-byte units

	if !more && fragOffset == 0 {
		return nil, false, nil
	}

	byteOffset := int(fragOffset) * 8
	if byteOffset+(totalLen-ihl) > ipv4MaxSize {
		return nil, false, fmt.Errorf("%w: fragment ends at %d",
			core.ErrInvalidHeader, byteOffset+(totalLen-ihl))
	}

	key := core.FragmentKey{
		Protocol: ipData[9],
		ID:       binary.BigEndian.Uint16(ipData[4:6]),
	}
	copy(key.SrcIP[:], ipData[12:16])
	copy(key.DstIP[:], ipData[16:20])

	header := make([]byte, ihl)
	copy(header, ipData[:ihl])
	payload := make([]byte, totalLen-ihl)
	copy(payload, ipData[ihl:totalLen])

	return &core.Fragment{
		Key:       key,
		Offset:    byteOffset,
		More:      more,
		Header:    header,
		Payload:   payload,
		Checksum:  core.ChecksumNone,
		Device:    device,
		Timestamp: ts,
	}, true, nil
}
