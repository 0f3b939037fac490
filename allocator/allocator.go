// Package allocator tracks free physical frames with a bitmap.
package allocator

import (
	"fmt"
	"log/slog"
	"math/bits"
	"strings"

	"github.com/pkg/errors"

	"vmtrace/mmu"
)

// MaxPageFrames - capacity of the bitmap
const MaxPageFrames = mmu.MaxFrames

// bitmap bit values
const (
	inUse = 0
	free  = 1
)

const bitMapBytes = (MaxPageFrames + 7) / 8

var (
	// ErrConfiguration is returned for a capacity the allocator cannot manage
	ErrConfiguration = errors.New("page frame count out of range")

	// ErrInsufficientFrames is returned when fewer frames are free than requested
	ErrInsufficientFrames = errors.New("insufficient free page frames")

	// ErrFreeCount is returned when more frames are freed than supplied
	ErrFreeCount = errors.New("free count exceeds supplied page frames")

	// ErrInvalidFrame is returned when freeing a frame that is not allocated
	ErrInvalidFrame = errors.New("page frame not allocated")
)

// FrameWriter is the part of the memory unit the allocator needs to clear frames
type FrameWriter interface {
	FrameCount() uint32
	WritePhysical(addr mmu.Addr, data []byte) error
}

// BitMapAllocator hands out physical frames lowest number first.
// Frame 0 and frames at or beyond the capacity are never free.
type BitMapAllocator struct {
	memory    FrameWriter
	log       *slog.Logger
	capacity  uint32
	freeCount uint32
	bitMap    [bitMapBytes]byte
}

var zeroFrame [mmu.PageSize]byte

// New builds the bitmap for capacity frames backed by memory
func New(memory FrameWriter, capacity uint32, log *slog.Logger) (*BitMapAllocator, error) {
	if capacity < 2 || capacity > MaxPageFrames {
		return nil, errors.Wrapf(ErrConfiguration, "capacity %d not in [2, %d]", capacity, MaxPageFrames)
	}
	if capacity > memory.FrameCount() {
		return nil, errors.Wrapf(ErrConfiguration, "capacity %d exceeds memory of %d frames",
			capacity, memory.FrameCount())
	}

	if log == nil {
		log = slog.Default()
	}
	a := BitMapAllocator{memory: memory, log: log, capacity: capacity}

	// frame 0 and frames beyond the end stay in use (zero value)
	for i := uint32(1); i < capacity; i++ {
		a.storeBit(i, free)
	}
	a.freeCount = capacity - 1

	log.Debug("frame allocator ready", "capacity", capacity, "free", a.freeCount)
	return &a, nil
}

// Capacity returns the number of frames managed
func (a *BitMapAllocator) Capacity() uint32 {
	return a.capacity
}

// FreeCount returns the number of free frames
func (a *BitMapAllocator) FreeCount() uint32 {
	return a.freeCount
}

// IsFree reports whether frame number frame is free
func (a *BitMapAllocator) IsFree(frame uint32) bool {
	if frame >= MaxPageFrames {
		return false
	}
	return a.getBit(frame) == free
}

// Allocate returns the addresses of count zero-filled frames, or
// ErrInsufficientFrames without allocating anything.
func (a *BitMapAllocator) Allocate(count uint32) ([]mmu.Addr, error) {
	if count > a.freeCount {
		return nil, errors.Wrapf(ErrInsufficientFrames, "requested %d, free %d", count, a.freeCount)
	}

	frames := make([]mmu.Addr, 0, count)
	for i := uint32(0); i < count; i++ {
		frameAddr, ok := a.getFirstFree()
		if !ok {
			// free count and bitmap disagree
			a.release(frames)
			return nil, errors.Wrap(ErrInsufficientFrames, "bitmap exhausted")
		}

		if err := a.memory.WritePhysical(frameAddr, zeroFrame[:]); err != nil {
			a.release(append(frames, frameAddr))
			return nil, errors.Wrapf(err, "clearing frame %08x", frameAddr)
		}
		frames = append(frames, frameAddr)
	}

	a.log.Debug("frames allocated", "count", count, "free", a.freeCount)
	return frames, nil
}

// Free releases count frames popped from the back of frames and returns
// what is left of the slice.
func (a *BitMapAllocator) Free(frames []mmu.Addr, count uint32) ([]mmu.Addr, error) {
	if int(count) > len(frames) {
		return frames, errors.Wrapf(ErrFreeCount, "count %d, supplied %d", count, len(frames))
	}

	rest := frames[:len(frames)-int(count)]
	popped := frames[len(rest):]
	var seen [bitMapBytes]byte
	for _, frameAddr := range popped {
		if err := a.checkAllocated(frameAddr); err != nil {
			return frames, err
		}
		frame := uint32(frameAddr >> mmu.PageSizeBits)
		if seen[frame/8]&(1<<(frame%8)) != 0 {
			return frames, errors.Wrapf(ErrInvalidFrame, "frame address %08x freed twice", frameAddr)
		}
		seen[frame/8] |= 1 << (frame % 8)
	}

	for i := len(popped) - 1; i >= 0; i-- {
		a.freeFrame(popped[i])
	}

	a.log.Debug("frames freed", "count", count, "free", a.freeCount)
	return rest, nil
}

// BitMapString returns the bitmap bytes in hex, lowest frames first
func (a *BitMapAllocator) BitMapString() string {
	var sb strings.Builder
	for _, b := range a.bitMap {
		fmt.Fprintf(&sb, " %02x", b)
	}
	return sb.String()
}

func (a *BitMapAllocator) checkAllocated(frameAddr mmu.Addr) error {
	frame := uint32(frameAddr >> mmu.PageSizeBits)
	if frameAddr&mmu.PageOffsetMask != 0 || frame == 0 || frame >= a.capacity || a.getBit(frame) == free {
		return errors.Wrapf(ErrInvalidFrame, "frame address %08x", frameAddr)
	}
	return nil
}

// release gives back frames taken by a failed Allocate
func (a *BitMapAllocator) release(frames []mmu.Addr) {
	for _, frameAddr := range frames {
		a.freeFrame(frameAddr)
	}
}

// getBit returns free or inUse for frame number frame
func (a *BitMapAllocator) getBit(frame uint32) uint8 {
	return (a.bitMap[frame/8] >> (frame % 8)) & 1
}

// storeBit sets the bitmap bit of frame number frame to value
func (a *BitMapAllocator) storeBit(frame uint32, value uint8) {
	shift := frame % 8
	b := a.bitMap[frame/8]
	a.bitMap[frame/8] = (b &^ (1 << shift)) | ((value & 1) << shift)
}

// getFirstFree marks the lowest free frame in use and returns its address.
// Bytes are scanned low to high, then bits within the byte.
func (a *BitMapAllocator) getFirstFree() (mmu.Addr, bool) {
	for index, b := range a.bitMap {
		if b == 0 {
			continue
		}
		frame := uint32(index*8 + bits.TrailingZeros8(b))
		a.storeBit(frame, inUse)
		a.freeCount--
		return mmu.Addr(frame) << mmu.PageSizeBits, true
	}
	return 0, false
}

// freeFrame marks the frame at frameAddr free
func (a *BitMapAllocator) freeFrame(frameAddr mmu.Addr) {
	a.storeBit(uint32(frameAddr>>mmu.PageSizeBits), free)
	a.freeCount++
}
