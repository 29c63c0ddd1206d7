// Package flash models a small NOR flash part: bytes read freely, words are
// programmed only into erased cells, and erasure happens a whole page at a time.
// The Fake implementation runs in memory for tests; File backs the same
// semantics with an image file so state survives restarts.
package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Erased is the value of every byte after a page erase.
const Erased = 0xFF

// WordSize is the programming granularity in bytes.
const WordSize = 4

// Layout of the controller's image: one configuration page followed by the
// circular record log.
const (
	PageSize    = 2048
	ConfigPages = 1
	LogPages    = 32
	ImagePages  = ConfigPages + LogPages
)

var (
	ErrOutOfRange = errors.New("flash: address out of range")
	ErrNotErased  = errors.New("flash: word not erased")
	ErrAlignment  = errors.New("flash: unaligned address")
	ErrProgram    = errors.New("flash: program failed")
	ErrErase      = errors.New("flash: erase failed")
)

// Device is a page-erasable flash part addressed from zero.
type Device interface {
	// ReadAt fills p from the device starting at off.
	ReadAt(p []byte, off int64) (int, error)

	// ProgramWord writes one little-endian 32-bit word at a word-aligned
	// address. The target cells must be erased.
	ProgramWord(addr uint32, word uint32) error

	// ErasePage sets every byte of the page to Erased.
	ErasePage(page int) error

	PageSize() int
	Pages() int
}

// Region is a page-aligned window onto a Device. Offsets and page numbers
// passed to its methods are relative to the start of the window.
type Region struct {
	Dev       Device
	FirstPage int
	Pages     int
}

// ConfigRegion returns the configuration page of a controller image.
func ConfigRegion(dev Device) Region {
	return Region{Dev: dev, FirstPage: 0, Pages: ConfigPages}
}

// LogRegion returns the record log pages of a controller image.
func LogRegion(dev Device) Region {
	return Region{Dev: dev, FirstPage: ConfigPages, Pages: LogPages}
}

// Validate checks the window lies inside the device.
func (r Region) Validate() error {
	if r.Dev == nil {
		return errors.New("flash: region has no device")
	}
	if r.FirstPage < 0 || r.Pages <= 0 || r.FirstPage+r.Pages > r.Dev.Pages() {
		return fmt.Errorf("%w: pages %d..%d of %d", ErrOutOfRange, r.FirstPage, r.FirstPage+r.Pages-1, r.Dev.Pages())
	}
	return nil
}

// PageSize returns the page size of the underlying device.
func (r Region) PageSize() int { return r.Dev.PageSize() }

// Size returns the window size in bytes.
func (r Region) Size() int { return r.Pages * r.Dev.PageSize() }

func (r Region) base() uint32 { return uint32(r.FirstPage * r.Dev.PageSize()) }

// Read fills p starting at the window-relative offset off.
func (r Region) Read(p []byte, off int) error {
	if off < 0 || off+len(p) > r.Size() {
		return fmt.Errorf("%w: read %d bytes at %d", ErrOutOfRange, len(p), off)
	}
	_, err := r.Dev.ReadAt(p, int64(r.base())+int64(off))
	return err
}

// ProgramWord programs one word at the window-relative offset off.
func (r Region) ProgramWord(off int, word uint32) error {
	if off < 0 || off+WordSize > r.Size() {
		return fmt.Errorf("%w: program at %d", ErrOutOfRange, off)
	}
	return r.Dev.ProgramWord(r.base()+uint32(off), word)
}

// Program writes data word by word starting at off. len(data) must be a
// multiple of WordSize. Words that are already all ones are skipped.
func (r Region) Program(off int, data []byte) error {
	if len(data)%WordSize != 0 {
		return fmt.Errorf("%w: length %d", ErrAlignment, len(data))
	}
	for i := 0; i < len(data); i += WordSize {
		w := binary.LittleEndian.Uint32(data[i:])
		if w == 0xFFFFFFFF {
			continue
		}
		if err := r.ProgramWord(off+i, w); err != nil {
			return err
		}
	}
	return nil
}

// ErasePage erases the window-relative page.
func (r Region) ErasePage(page int) error {
	if page < 0 || page >= r.Pages {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, page)
	}
	return r.Dev.ErasePage(r.FirstPage + page)
}

// IsErased reports whether every byte of b is Erased.
func IsErased(b []byte) bool {
	for _, c := range b {
		if c != Erased {
			return false
		}
	}
	return true
}

func checkProgram(size int, addr uint32) error {
	if addr%WordSize != 0 {
		return fmt.Errorf("%w: 0x%x", ErrAlignment, addr)
	}
	if int(addr)+WordSize > size {
		return fmt.Errorf("%w: 0x%x", ErrOutOfRange, addr)
	}
	return nil
}
