package defrag

import (
	"encoding/binary"

	"firestige.xyz/defrag/internal/core"
	"firestige.xyz/defrag/internal/metrics"
)

const maxDatagramSize = 65535

// insert merges f into q's fragment list. Overlaps resolve in favor of
// data already queued on the left and the new fragment on the right, so
// the list stays strictly ordered and pairwise disjoint. Caller holds
// q.mu. On error the fragment is not admitted and q is unchanged except
// for total-length bookkeeping already validated above.
func (e *Engine) insert(q *queue, f *core.Fragment) error {
	if q.flags&complete != 0 {
		return core.ErrQueueExpired
	}

	offset := f.Offset
	end := offset + len(f.Payload)

	if !f.More {
		// Terminal fragment pins the datagram length. Data beyond a
		// previously seen end, or a second terminal with a different
		// end, is corruption.
		if end < q.total || (q.flags&lastIn != 0 && end != q.total) {
			return core.ErrFragmentCorrupt
		}
		q.flags |= lastIn
		q.total = end
	} else {
		// Intermediate fragments must end on an 8-byte boundary;
		// tolerate violations by trimming down.
		if end&7 != 0 {
			end &^= 7
			f.Payload = f.Payload[:end-offset]
			f.Checksum = core.ChecksumNone
		}
		if end > q.total {
			if q.flags&lastIn != 0 {
				return core.ErrFragmentCorrupt
			}
			q.total = end
		}
	}

	if end == offset {
		return core.ErrZeroLength
	}

	// Locate the first queued fragment at or past our offset.
	next := q.fragments.Front()
	for next != nil {
		if next.Value.(*core.Fragment).Offset >= offset {
			break
		}
		next = next.Next()
	}

	var prev *core.Fragment
	if next != nil {
		if p := next.Prev(); p != nil {
			prev = p.Value.(*core.Fragment)
		}
	} else if back := q.fragments.Back(); back != nil {
		prev = back.Value.(*core.Fragment)
	}

	// Left overlap: the predecessor keeps its bytes, our head is eaten.
	if prev != nil {
		if i := prev.End() - offset; i > 0 {
			offset += i
			if end <= offset {
				return core.ErrFragmentCorrupt
			}
			f.Payload = f.Payload[i:]
			f.Checksum = core.ChecksumNone
		}
	}

	// Right overlap: we keep our bytes, successors get trimmed or
	// dropped entirely.
	for next != nil {
		nf := next.Value.(*core.Fragment)
		if nf.Offset >= end {
			break
		}
		if i := end - nf.Offset; i < len(nf.Payload) {
			// Eat the head of the next fragment and stop; later ones
			// cannot overlap us.
			nf.Payload = nf.Payload[i:]
			nf.Offset += i
			nf.Checksum = core.ChecksumNone
			q.meat -= i
			break
		}
		// Fully covered by the new fragment.
		victim := next
		next = next.Next()
		q.meat -= len(nf.Payload)
		q.fragments.Remove(victim)
		e.mem.sub(int64(nf.Size))
	}

	f.Offset = offset
	if next != nil {
		q.fragments.InsertBefore(f, next)
	} else {
		q.fragments.PushBack(f)
	}

	q.meat += end - offset
	e.mem.add(int64(f.Size))
	if f.Device != 0 {
		q.device = f.Device
	}
	q.stamp = f.Timestamp
	if offset == 0 {
		q.flags |= firstIn
	}

	// Freshly fed queues move to the LRU tail so the evictor sees the
	// stalest reassembly first.
	e.mu.Lock()
	if q.lruElem != nil {
		e.lru.MoveToBack(q.lruElem)
	}
	e.mu.Unlock()

	return nil
}

// reassemble glues the completed queue into one datagram. Caller holds
// q.mu and has verified FIRST_IN, LAST_IN, and meat == total. The queue
// is killed either way; on success the fragment memory is released to
// the caller's datagram.
func (e *Engine) reassemble(q *queue) (*core.Datagram, error) {
	e.kill(q)

	head := q.fragments.Front().Value.(*core.Fragment)
	ihl := len(head.Header)
	if ihl+q.total > maxDatagramSize {
		metrics.ReasmFails.Inc()
		return nil, core.ErrOversize
	}

	payload := make([]byte, 0, q.total)
	sum := core.ChecksumUnnecessary
	for el := q.fragments.Front(); el != nil; el = el.Next() {
		f := el.Value.(*core.Fragment)
		payload = append(payload, f.Payload...)
		if f.Checksum != core.ChecksumUnnecessary {
			sum = core.ChecksumNone
		}
		e.mem.sub(int64(f.Size))
	}
	q.fragments.Init()

	hdr := make([]byte, ihl)
	copy(hdr, head.Header)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(ihl+q.total)) // total length
	binary.BigEndian.PutUint16(hdr[6:8], 0)                   // flags + fragment offset
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	binary.BigEndian.PutUint16(hdr[10:12], ipChecksum(hdr))

	metrics.ReasmOKs.Inc()
	return &core.Datagram{
		Header:    hdr,
		Payload:   payload,
		Checksum:  sum,
		Device:    q.device,
		Timestamp: q.stamp,
	}, nil
}

// ipChecksum computes the RFC 1071 ones-complement sum over the header.
func ipChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}
