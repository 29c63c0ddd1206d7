package flash

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// File is a Device backed by an image file on disk. A missing file is
// created fully erased.
type File struct {
	mu       sync.Mutex
	f        *os.File
	pageSize int
	pages    int
}

// OpenFile opens or creates an image of pages*pageSize bytes at path.
// An existing image of a different size is rejected.
func OpenFile(path string, pages, pageSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}

	size := int64(pages * pageSize)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat flash image: %w", err)
	}

	d := &File{f: f, pageSize: pageSize, pages: pages}
	switch info.Size() {
	case size:
	case 0:
		for p := 0; p < pages; p++ {
			if err := d.ErasePage(p); err != nil {
				f.Close()
				return nil, fmt.Errorf("format flash image: %w", err)
			}
		}
	default:
		f.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes, want %d", path, info.Size(), size)
	}
	return d, nil
}

func (d *File) PageSize() int { return d.pageSize }

func (d *File) Pages() int { return d.pages }

func (d *File) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || int(off)+len(p) > d.pages*d.pageSize {
		return 0, fmt.Errorf("%w: read at 0x%x", ErrOutOfRange, off)
	}
	return d.f.ReadAt(p, off)
}

func (d *File) ProgramWord(addr uint32, word uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkProgram(d.pages*d.pageSize, addr); err != nil {
		return err
	}

	var cell [WordSize]byte
	if _, err := d.f.ReadAt(cell[:], int64(addr)); err != nil {
		return fmt.Errorf("%w: read back 0x%x: %v", ErrProgram, addr, err)
	}
	if binary.LittleEndian.Uint32(cell[:]) != 0xFFFFFFFF {
		return fmt.Errorf("%w: 0x%x", ErrNotErased, addr)
	}

	binary.LittleEndian.PutUint32(cell[:], word)
	if _, err := d.f.WriteAt(cell[:], int64(addr)); err != nil {
		return fmt.Errorf("%w: 0x%x: %v", ErrProgram, addr, err)
	}
	return nil
}

func (d *File) ErasePage(page int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if page < 0 || page >= d.pages {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, page)
	}
	blank := make([]byte, d.pageSize)
	for i := range blank {
		blank[i] = Erased
	}
	if _, err := d.f.WriteAt(blank, int64(page*d.pageSize)); err != nil {
		return fmt.Errorf("%w: page %d: %v", ErrErase, page, err)
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync page %d: %v", ErrErase, page, err)
	}
	return nil
}

// Close flushes and closes the image.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return fmt.Errorf("sync flash image: %w", err)
	}
	return d.f.Close()
}
