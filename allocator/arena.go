package allocator

import (
	"math"
	"sync"
	"unsafe"

	"log/slog"
)

// nullOffset marks the end of a free-list and the "no back-link" value,
// exactly like the teacher's buddyNullPtr.
const nullOffset uint32 = math.MaxUint32

// freeNode is the intrusive doubly-linked-list header threaded through the
// first bytes of every free block. It is only valid while the block is
// free; once allocated, those bytes belong entirely to the caller. Kept to
// two uint32 fields (8 bytes) so it fits inside the smallest allowed
// MinAllocBytes block; the size class a free node currently belongs to is
// tracked separately in Arena.classOf rather than inside the node itself,
// since an 8-byte minimum leaves no room for a third field.
type freeNode struct {
	next uint32
	prev uint32
}

// Arena owns one contiguous ArenaSizeBytes region and the per-class
// free-lists/bitmap/back-link bookkeeping described for C1. One mutex
// guards all of it; there is no global lock on the allocate/deallocate hot
// path (§5).
type Arena struct {
	mu sync.Mutex

	minLog2 uint32
	maxLog2 uint32
	size    uint32

	data []byte
	base unsafe.Pointer

	// buckets[k-minLog2] holds the offset of the free-list head for class
	// k, or nullOffset if empty.
	buckets []uint32

	// freeBit has one bit per minLog2-granule: whether that address is
	// currently the head of a free block, regardless of which class. A
	// single flat bit suffices (rather than the sum-over-classes bit count
	// spec.md describes in the abstract) because a given address can be
	// the head of at most one free block, of exactly one class, at any
	// moment — the classOf table disambiguates which.
	freeBit []uint64
	classOf []uint8
}

func granuleIndex(offset, minLog2 uint32) uint32 { return offset >> minLog2 }

// newArena materializes one arena: its backing bytes, and an initial free
// state of (size/maxAlloc) independent max-class blocks, one per
// MaxAllocBytes-sized chunk (§4.1 "Initial state"). This generalizes the
// teacher's BuddyInit, which derived its top class purely from the data
// size with no external ceiling; here maxLog2 is an explicit parameter
// because spec.md requires MaxAllocBytes to bound the mergeable class even
// when one arena is built from several MaxAllocBytes-sized chunks.
func newArena(minLog2, maxLog2, size uint32) *Arena {
	classes := maxLog2 - minLog2 + 1
	granules := size >> minLog2

	data := make([]byte, size)
	a := &Arena{
		minLog2: minLog2,
		maxLog2: maxLog2,
		size:    size,
		data:    data,
		base:    unsafe.Pointer(&data[0]),
		buckets: make([]uint32, classes),
		freeBit: make([]uint64, (granules+63)>>6),
		classOf: make([]uint8, granules),
	}
	for i := range a.buckets {
		a.buckets[i] = nullOffset
	}

	chunkSize := uint32(1) << maxLog2
	topIdx := maxLog2 - minLog2
	for offset := uint32(0); offset < size; offset += chunkSize {
		a.pushFree(offset, maxLog2, topIdx)
	}
	return a
}

func (a *Arena) nodeAt(offset uint32) *freeNode {
	return (*freeNode)(unsafe.Add(a.base, offset))
}

// view returns the byte slice backing [offset, offset+length).
func (a *Arena) view(offset, length uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(a.base, offset)), length)
}

func (a *Arena) setFree(offset, class uint32) {
	idx := granuleIndex(offset, a.minLog2)
	a.freeBit[idx>>6] |= uint64(1) << (idx & 0x3f)
	a.classOf[idx] = uint8(class)
}

func (a *Arena) clearFree(offset uint32) {
	idx := granuleIndex(offset, a.minLog2)
	a.freeBit[idx>>6] &^= uint64(1) << (idx & 0x3f)
}

func (a *Arena) isFree(offset uint32) bool {
	idx := granuleIndex(offset, a.minLog2)
	return a.freeBit[idx>>6]&(uint64(1)<<(idx&0x3f)) != 0
}

func (a *Arena) classAt(offset uint32) uint32 {
	return uint32(a.classOf[granuleIndex(offset, a.minLog2)])
}

// pushFree inserts offset at the head of class bucket bucketIdx and marks
// it free.
func (a *Arena) pushFree(offset, class, bucketIdx uint32) {
	node := a.nodeAt(offset)
	head := a.buckets[bucketIdx]
	if head != nullOffset {
		a.nodeAt(head).prev = offset
	}
	node.next = head
	node.prev = nullOffset
	a.buckets[bucketIdx] = offset
	a.setFree(offset, class)
}

// popFree removes and returns the head of class bucket bucketIdx. Callers
// must have already checked the bucket is non-empty.
func (a *Arena) popFree(bucketIdx uint32) uint32 {
	offset := a.buckets[bucketIdx]
	node := a.nodeAt(offset)
	a.buckets[bucketIdx] = node.next
	if node.next != nullOffset {
		a.nodeAt(node.next).prev = nullOffset
	}
	return offset
}

// removeFree unlinks offset from class bucket bucketIdx in O(1), using the
// node's own prev/next rather than a list scan.
func (a *Arena) removeFree(offset, bucketIdx uint32) {
	node := a.nodeAt(offset)
	if node.next != nullOffset {
		a.nodeAt(node.next).prev = node.prev
	}
	if node.prev != nullOffset {
		a.nodeAt(node.prev).next = node.next
	} else {
		a.buckets[bucketIdx] = node.next
	}
}

// allocateLocked implements §4.1's local allocate algorithm: pop a free
// block of the wanted class, or split the smallest larger free block down
// to it. Must be called with a.mu held.
func (a *Arena) allocateLocked(k uint32) (uint32, bool) {
	want := k - a.minLog2
	maxIdx := a.maxLog2 - a.minLog2

	found := want
	for found <= maxIdx && a.buckets[found] == nullOffset {
		found++
	}
	if found > maxIdx {
		return 0, false
	}

	offset := a.popFree(found)
	a.clearFree(offset)
	if found == want {
		return offset, true
	}

	for i := int(found) - 1; i >= int(want); i-- {
		buddyOffset := offset + (uint32(1) << (uint32(i) + a.minLog2))
		a.pushFree(buddyOffset, a.minLog2+uint32(i), uint32(i))
	}
	return offset, true
}

// buddyAddrs returns the root address of the size-(k+1) parent and the
// address of the buddy at class k for addr, mirroring the teacher's
// computeRootAndNeighborAddr.
func buddyAddrs(addr, k uint32) (root, neighbor uint32) {
	mask := ^uint32(0) << (k + 1)
	masked := addr & mask
	if masked == addr {
		return masked, addr + (uint32(1) << k)
	}
	return masked, masked
}

// deallocateLocked implements §4.1's local deallocate algorithm: walk up
// merging with a free buddy at the same class for as long as one exists,
// then push the (possibly merged) block onto its class's free list. Must
// be called with a.mu held.
func (a *Arena) deallocateLocked(addr, k uint32) {
	idx := k - a.minLog2
	for k < a.maxLog2 {
		root, neighbor := buddyAddrs(addr, k)
		if neighbor >= a.size {
			break
		}
		if !a.isFree(neighbor) {
			break
		}
		if a.classAt(neighbor) != k {
			break
		}

		a.removeFree(neighbor, idx)
		a.clearFree(neighbor)

		addr = root
		k++
		idx++
	}
	a.pushFree(addr, k, idx)
}

// freeCount returns the number of free blocks currently listed at class k,
// for debugDump and tests.
func (a *Arena) freeCount(k uint32) int {
	n := 0
	offset := a.buckets[k-a.minLog2]
	for offset != nullOffset {
		n++
		offset = a.nodeAt(offset).next
	}
	return n
}

// freeOffsets returns the offsets currently listed at class k, in list
// order, for tests. Mirrors the teacher's contentOfList.
func (a *Arena) freeOffsets(k uint32) []uint32 {
	var result []uint32
	offset := a.buckets[k-a.minLog2]
	for offset != nullOffset {
		result = append(result, offset)
		offset = a.nodeAt(offset).next
	}
	return result
}

// logArenaMaterialized is a small hook kept separate from newArena so Allocator can
// attach a logger without Arena needing to carry one of its own; Arena's
// bookkeeping has no reason to log on its own hot path.
func logArenaMaterialized(logger *slog.Logger, index int, size uint32) {
	logger.Debug("allocator: materialized arena", slog.Int("index", index), slog.Int("sizeBytes", int(size)))
}
