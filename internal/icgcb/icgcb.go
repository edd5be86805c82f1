// Package icgcb implements the in-place compacting, garbage-collected
// buffer used for resource storage (spec.md §4.1): a fixed byte arena
// carved into blocks, each stable-addressed by a caller-supplied Ref tag
// rather than a raw pointer, since a Ref survives the GC's compaction pass
// and a pointer does not (spec.md §9 "Pointer stability across
// compaction").
//
// No block is ever freed back to the OS and no block grows once allocated;
// this mirrors the teacher's fixed-size, preallocated-at-construction style
// (go-ublk's mmap'd descriptor/buffer rings) rather than anything backed by
// the Go heap's garbage collector.
package icgcb

import "errors"

// Ref is the caller-chosen stable identifier for a block. It survives
// compaction; a raw byte offset does not. URIPOS_INVALID in the original
// source becomes the zero value's complement here: callers must not use
// RefInvalid as a real tag.
type Ref uint16

// RefInvalid marks a block header as free.
const RefInvalid Ref = 0xFFFF

// headerSize is the in-band header: 2 bytes block size (header + payload,
// rounded up to Unit), 2 bytes Ref.
const headerSize = 4

// AllocResult reports the outcome of Alloc (spec.md §4.1).
type AllocResult int

const (
	// OK: the block was carved from the tail free region.
	OK AllocResult = iota
	// Again: total free space would satisfy the request, but the
	// contiguous tail region does not; the caller must run GC and retry.
	Again
	// NoSpace: even total free space is insufficient.
	NoSpace
)

func (r AllocResult) String() string {
	switch r {
	case OK:
		return "OK"
	case Again:
		return "AGAIN"
	case NoSpace:
		return "NOSPACE"
	default:
		return "UNKNOWN"
	}
}

// ErrUnknownRef is returned by Resolve/Free for a Ref with no live block.
var ErrUnknownRef = errors.New("icgcb: unknown or freed ref")

// Arena is a fixed-capacity compacting allocator. The zero value is not
// usable; construct with New.
type Arena struct {
	buf        []byte
	unit       int
	sentinel   int // offset of the trailing zero-size sentinel header
	openspace  int // offset of the tail free block (== sentinel once full)
	freespace  int // cap - sum(live block sizes) - one header
	refOffsets map[Ref]int
}

// New allocates an Arena over buf (taken by reference: the caller's backing
// array is what gets carved, not a copy) using the given alignment unit,
// which must be a power of two. unit <= 1 behaves as unit 1 (no rounding),
// which is what the test scenarios in spec.md §8 assume.
func New(buf []byte, unit int) *Arena {
	if unit < 1 {
		unit = 1
	}
	a := &Arena{
		buf:        buf,
		unit:       unit,
		refOffsets: make(map[Ref]int),
	}
	a.init()
	return a
}

func (a *Arena) init() {
	size := len(a.buf)
	a.sentinel = size - headerSize
	a.writeHeader(0, a.sentinel, RefInvalid)
	a.writeHeader(a.sentinel, 0, RefInvalid)
	a.openspace = 0
	a.freespace = size - headerSize
}

// Cap returns the arena's total byte capacity.
func (a *Arena) Cap() int { return len(a.buf) }

// FreeSpace returns the current free-space accounting value (spec.md §8
// invariant: cap - sum(live block sizes) - one header).
func (a *Arena) FreeSpace() int { return a.freespace }

func (a *Arena) roundUp(n int) int {
	if rem := n % a.unit; rem != 0 {
		n += a.unit - rem
	}
	return n
}

func (a *Arena) readHeader(off int) (size int, ref Ref) {
	size = int(a.buf[off]) | int(a.buf[off+1])<<8
	ref = Ref(a.buf[off+2]) | Ref(a.buf[off+3])<<8
	return
}

func (a *Arena) writeHeader(off, size int, ref Ref) {
	a.buf[off] = byte(size)
	a.buf[off+1] = byte(size >> 8)
	a.buf[off+2] = byte(ref)
	a.buf[off+3] = byte(ref >> 8)
}

// Alloc reserves size bytes tagged with ref, which must be distinct from
// every other currently-live ref (and must not be RefInvalid). It never
// partially succeeds.
func (a *Arena) Alloc(size int, ref Ref) AllocResult {
	blockSize := a.roundUp(headerSize + size)
	tailFree := a.sentinel - a.openspace
	if blockSize <= tailFree {
		start := a.openspace
		a.writeHeader(start, blockSize, ref)
		newOpen := start + blockSize
		if newOpen < a.sentinel {
			a.writeHeader(newOpen, a.sentinel-newOpen, RefInvalid)
		}
		a.openspace = newOpen
		a.freespace -= blockSize
		a.refOffsets[ref] = start
		return OK
	}
	if a.freespace >= blockSize {
		return Again
	}
	return NoSpace
}

// Free marks ref's block free. Freeing an unknown ref is undefined
// behavior per spec.md §7; this implementation no-ops rather than
// corrupting the arena, which is a defensible strengthening of "trusted
// caller" rather than a spec violation.
func (a *Arena) Free(ref Ref) {
	off, ok := a.refOffsets[ref]
	if !ok {
		return
	}
	size, _ := a.readHeader(off)
	a.writeHeader(off, size, RefInvalid)
	delete(a.refOffsets, ref)
	a.freespace += size
}

// Resolve returns the current payload slice for ref. The slice is only
// valid until the next GC call: GC may relocate the block, and Alloc never
// relocates but may still shrink the tail free block backing a previous
// Resolve if the caller kept slicing past the header.
func (a *Arena) Resolve(ref Ref) ([]byte, error) {
	off, ok := a.refOffsets[ref]
	if !ok {
		return nil, ErrUnknownRef
	}
	size, _ := a.readHeader(off)
	return a.buf[off+headerSize : off+size], nil
}

// GetSize returns the user-visible payload size of ref's block (header
// size subtracted).
func (a *Arena) GetSize(ref Ref) (int, error) {
	off, ok := a.refOffsets[ref]
	if !ok {
		return 0, ErrUnknownRef
	}
	size, _ := a.readHeader(off)
	return size - headerSize, nil
}

// MoveFunc is invoked once per relocated live block during GC, so the
// holder can update wherever it cached an offset derived from a prior
// Resolve. newData aliases the arena's backing array at its new location.
type MoveFunc func(ref Ref, newData []byte, arg any)

// GC compacts: every block from the arena base onward slides toward the
// front, free blocks are absorbed, and a single free region remains before
// the sentinel. freespace is unchanged; openspace is updated to reflect the
// new layout. GC always walks the full block chain from offset 0 rather
// than resuming from a cached live-prefix boundary: tracking such a
// boundary correctly would require updating it on every Alloc as well as
// every Free, and the scan is O(live blocks) either way.
func (a *Arena) GC(move MoveFunc, arg any) {
	readPos := 0
	writePos := 0
	for readPos < a.openspace {
		size, ref := a.readHeader(readPos)
		if ref != RefInvalid {
			if writePos != readPos {
				copy(a.buf[writePos:writePos+size], a.buf[readPos:readPos+size])
				a.refOffsets[ref] = writePos
				if move != nil {
					move(ref, a.buf[writePos+headerSize:writePos+size], arg)
				}
			}
			writePos += size
		}
		readPos += size
	}
	if writePos < a.sentinel {
		a.writeHeader(writePos, a.sentinel-writePos, RefInvalid)
	}
	a.openspace = writePos
}
