package flash

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Fake is an in-memory Device with failure injection.
type Fake struct {
	mu       sync.Mutex
	mem      []byte
	pageSize int

	// FailProgram, if set, is consulted before each word is programmed.
	// Returning true makes that program fail without touching the cells.
	FailProgram func(addr uint32) bool

	// FailErase, if set, is consulted before each page erase.
	FailErase func(page int) bool

	// Counters for assertions.
	Programs int
	Erases   int
}

// NewFake creates an erased device of pages*pageSize bytes.
func NewFake(pages, pageSize int) *Fake {
	mem := make([]byte, pages*pageSize)
	for i := range mem {
		mem[i] = Erased
	}
	return &Fake{mem: mem, pageSize: pageSize}
}

// NewFakeImage creates an erased device with the controller image layout.
func NewFakeImage() *Fake {
	return NewFake(ImagePages, PageSize)
}

func (f *Fake) PageSize() int { return f.pageSize }

func (f *Fake) Pages() int { return len(f.mem) / f.pageSize }

// ReadAt copies device memory into p.
func (f *Fake) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || int(off)+len(p) > len(f.mem) {
		return 0, fmt.Errorf("%w: read at 0x%x", ErrOutOfRange, off)
	}
	return copy(p, f.mem[off:]), nil
}

// ProgramWord writes a word into erased cells.
func (f *Fake) ProgramWord(addr uint32, word uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkProgram(len(f.mem), addr); err != nil {
		return err
	}
	if f.FailProgram != nil && f.FailProgram(addr) {
		return fmt.Errorf("%w: 0x%x", ErrProgram, addr)
	}
	cell := f.mem[addr : addr+WordSize]
	if binary.LittleEndian.Uint32(cell) != 0xFFFFFFFF {
		return fmt.Errorf("%w: 0x%x", ErrNotErased, addr)
	}
	binary.LittleEndian.PutUint32(cell, word)
	f.Programs++
	return nil
}

// ErasePage sets a page back to all ones.
func (f *Fake) ErasePage(page int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if page < 0 || page >= len(f.mem)/f.pageSize {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, page)
	}
	if f.FailErase != nil && f.FailErase(page) {
		return fmt.Errorf("%w: page %d", ErrErase, page)
	}
	start := page * f.pageSize
	for i := start; i < start+f.pageSize; i++ {
		f.mem[i] = Erased
	}
	f.Erases++
	return nil
}

// Poke overwrites raw bytes regardless of erase state, for simulating
// corruption in tests.
func (f *Fake) Poke(addr int, b ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.mem[addr:], b)
}

// Bytes returns a copy of device memory.
func (f *Fake) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.mem))
	copy(out, f.mem)
	return out
}
