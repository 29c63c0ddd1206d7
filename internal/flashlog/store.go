// Package flashlog stores fixed-size records in a circular log spread across
// the pages of a flash region. Every record begins with a little-endian
// uint32 timestamp followed by a type byte. The word holding the type byte is
// programmed last, so a slot only counts as written once its type is legal.
//
// The first slot of each page is a header holding the page's sequence
// number and pageMagic. Sequence numbers grow by one every time a page is
// opened, so the write cursor is recovered from write order alone and
// record timestamps may go backwards.
package flashlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/greenhouse-controller/internal/flash"
)

// Header offsets shared by every record.
const (
	TimestampOffset = 0
	TypeOffset      = 4
)

const commitWord = TypeOffset / flash.WordSize

// pageMagic is programmed after the sequence word when a page is opened.
const pageMagic = 0x4748504C

// firstSlot is the first record slot of a page; slot 0 is the header.
const firstSlot = 1

var (
	ErrRecordSize  = errors.New("flashlog: bad record size")
	ErrInvalidType = errors.New("flashlog: invalid record type")
)

// Options describe the records kept in a Store.
type Options struct {
	// RecordSize in bytes. Must be a multiple of the flash word size, at
	// least two words, and divide the page size into at least two slots.
	RecordSize int

	// ValidType reports whether a type byte marks a written record.
	ValidType func(typ byte) bool
}

// Info summarizes the records currently in the log.
type Info struct {
	Total  int
	ByType map[byte]int
	// Torn counts slots holding partial data from an interrupted write.
	Torn   int
	Oldest uint32
	Newest uint32
	// Page and Offset locate the next slot to be written. Offset 0 means
	// the page has not been opened yet.
	Page   int
	Offset int
	// Seq is the sequence number of the page holding the cursor.
	Seq uint32
}

// Filter selects records for Query. Start and End are inclusive. A zero Type
// matches every type. Max <= 0 returns every match.
type Filter struct {
	Start uint32
	End   uint32
	Type  byte
	Max   int
}

type slotState int

const (
	slotFree slotState = iota
	slotRecord
	slotTorn
)

// Store is a circular record log. It is not safe for concurrent use.
type Store struct {
	region  flash.Region
	opts    Options
	perPage int

	page   int
	offset int
	seq    uint32
	info   Info
}

// Open scans the region, rebuilds the statistics and positions the write
// cursor after the last record written.
func Open(region flash.Region, opts Options) (*Store, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	rs := opts.RecordSize
	if rs < 2*flash.WordSize || rs%flash.WordSize != 0 || region.PageSize()%rs != 0 || region.PageSize()/rs < 2 {
		return nil, fmt.Errorf("%w: %d", ErrRecordSize, rs)
	}
	if opts.ValidType == nil {
		return nil, errors.New("flashlog: ValidType is required")
	}

	s := &Store{
		region:  region,
		opts:    opts,
		perPage: region.PageSize() / rs,
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// Capacity returns the number of record slots in the region.
func (s *Store) Capacity() int { return s.RecordsPerPage() * s.region.Pages }

// RecordsPerPage returns the number of record slots in one page.
func (s *Store) RecordsPerPage() int { return s.perPage - firstSlot }

// Info returns a copy of the current statistics.
func (s *Store) Info() Info {
	info := s.info
	info.ByType = make(map[byte]int, len(s.info.ByType))
	for k, v := range s.info.ByType {
		info.ByType[k] = v
	}
	info.Page = s.page
	info.Offset = s.offset
	info.Seq = s.seq
	return info
}

// pageSeq returns the sequence number from a page's header, or false if the
// page was never opened or its header is torn.
func pageSeq(buf []byte) (uint32, bool) {
	if binary.LittleEndian.Uint32(buf[flash.WordSize:]) != pageMagic {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf), true
}

func (s *Store) classify(slot []byte) slotState {
	if s.opts.ValidType(slot[TypeOffset]) {
		return slotRecord
	}
	if flash.IsErased(slot) {
		return slotFree
	}
	return slotTorn
}

func (s *Store) readPage(page int, buf []byte) error {
	if err := s.region.Read(buf, page*s.region.PageSize()); err != nil {
		return fmt.Errorf("read log page %d: %w", page, err)
	}
	return nil
}

// recover rebuilds statistics and locates the write cursor: the page with
// the highest sequence number, just past its last used slot. With no opened
// page the cursor waits at the start of page 0.
func (s *Store) recover() error {
	rs := s.opts.RecordSize
	buf := make([]byte, s.region.PageSize())

	s.info = Info{ByType: map[byte]int{}}
	s.page, s.offset, s.seq = 0, 0, 0
	found := false

	for p := 0; p < s.region.Pages; p++ {
		if err := s.readPage(p, buf); err != nil {
			return err
		}
		seq, ok := pageSeq(buf)
		if !ok {
			if !flash.IsErased(buf) {
				log.Printf("flashlog: page %d has no valid header, ignoring its contents", p)
			}
			continue
		}
		used := firstSlot
		for o := firstSlot; o < s.perPage; o++ {
			slot := buf[o*rs : (o+1)*rs]
			switch s.classify(slot) {
			case slotFree:
				continue
			case slotRecord:
				s.count(slot, 1)
			case slotTorn:
				s.info.Torn++
			}
			used = o + 1
		}
		if !found || seq > s.seq {
			found = true
			s.page, s.offset, s.seq = p, used, seq
		}
	}
	return nil
}

// count adds (delta=1) or removes (delta=-1) one record from the statistics.
// Oldest is only maintained on add; removal recomputes it with retally.
func (s *Store) count(slot []byte, delta int) {
	ts := binary.LittleEndian.Uint32(slot[TimestampOffset:])
	s.info.Total += delta
	s.info.ByType[slot[TypeOffset]] += delta
	if delta < 0 {
		return
	}
	if s.info.Total == 1 || ts < s.info.Oldest {
		s.info.Oldest = ts
	}
	if s.info.Total == 1 || ts > s.info.Newest {
		s.info.Newest = ts
	}
}

// retally recomputes statistics without moving the cursor.
func (s *Store) retally() error {
	page, offset, seq := s.page, s.offset, s.seq
	err := s.recover()
	s.page, s.offset, s.seq = page, offset, seq
	return err
}

// Append writes rec into the next slot. When the cursor enters a new page,
// that page is erased if it still holds data, dropping its records, and
// stamped with the next sequence number. A failed record program still
// consumes the slot.
func (s *Store) Append(rec []byte) error {
	rs := s.opts.RecordSize
	if len(rec) != rs {
		return fmt.Errorf("%w: got %d, want %d", ErrRecordSize, len(rec), rs)
	}
	if !s.opts.ValidType(rec[TypeOffset]) {
		return fmt.Errorf("%w: %d", ErrInvalidType, rec[TypeOffset])
	}

	if s.offset >= s.perPage {
		s.page++
		s.offset = 0
		if s.page >= s.region.Pages {
			s.page = 0
		}
	}
	if s.offset == 0 {
		if err := s.openPage(s.page); err != nil {
			return err
		}
	}

	addr := s.page*s.region.PageSize() + s.offset*rs
	s.offset++

	if err := s.program(addr, rec); err != nil {
		log.Printf("flashlog: write at page %d slot %d failed: %v", s.page, s.offset-1, err)
		slot := make([]byte, rs)
		if rerr := s.region.Read(slot, addr); rerr == nil && s.classify(slot) == slotTorn {
			s.info.Torn++
		}
		return fmt.Errorf("write record: %w", err)
	}

	s.count(rec, 1)
	return nil
}

func (s *Store) program(addr int, rec []byte) error {
	for w := 0; w < len(rec)/flash.WordSize; w++ {
		if w == commitWord {
			continue
		}
		if err := s.region.Program(addr+w*flash.WordSize, rec[w*flash.WordSize:(w+1)*flash.WordSize]); err != nil {
			return err
		}
	}
	off := commitWord * flash.WordSize
	return s.region.Program(addr+off, rec[off:off+flash.WordSize])
}

// openPage erases page if needed and programs its header with the next
// sequence number. On failure the page stays unopened and the next Append
// tries again.
func (s *Store) openPage(page int) error {
	if err := s.preparePage(page); err != nil {
		return err
	}
	seq := s.seq + 1
	var hdr [2 * flash.WordSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], seq)
	binary.LittleEndian.PutUint32(hdr[flash.WordSize:], pageMagic)

	base := page * s.region.PageSize()
	if err := s.region.Program(base, hdr[:flash.WordSize]); err != nil {
		log.Printf("flashlog: open page %d failed: %v", page, err)
		return fmt.Errorf("open log page %d: %w", page, err)
	}
	if err := s.region.Program(base+flash.WordSize, hdr[flash.WordSize:]); err != nil {
		log.Printf("flashlog: open page %d failed: %v", page, err)
		return fmt.Errorf("open log page %d: %w", page, err)
	}
	s.seq = seq
	s.offset = firstSlot
	return nil
}

// preparePage erases page if it holds anything, dropping its records from
// the statistics.
func (s *Store) preparePage(page int) error {
	buf := make([]byte, s.region.PageSize())
	if err := s.readPage(page, buf); err != nil {
		return err
	}
	if flash.IsErased(buf) {
		return nil
	}

	if err := s.region.ErasePage(page); err != nil {
		log.Printf("flashlog: erase page %d failed: %v", page, err)
		return fmt.Errorf("erase log page %d: %w", page, err)
	}
	return s.retally()
}

// Query walks records from newest to oldest, starting just before the cursor
// and stepping back through the pages in write order, visiting each once. It
// returns copies of the records that match f.
func (s *Store) Query(f Filter) ([][]byte, error) {
	rs := s.opts.RecordSize
	buf := make([]byte, s.region.PageSize())
	var out [][]byte

	visit := func(page, from int) (bool, error) {
		if from <= firstSlot {
			return false, nil
		}
		if err := s.readPage(page, buf); err != nil {
			return false, err
		}
		if _, ok := pageSeq(buf); !ok {
			return false, nil
		}
		for o := from - 1; o >= firstSlot; o-- {
			slot := buf[o*rs : (o+1)*rs]
			if s.classify(slot) != slotRecord {
				continue
			}
			ts := binary.LittleEndian.Uint32(slot[TimestampOffset:])
			if ts < f.Start || ts > f.End {
				continue
			}
			if f.Type != 0 && slot[TypeOffset] != f.Type {
				continue
			}
			rec := make([]byte, rs)
			copy(rec, slot)
			out = append(out, rec)
			if f.Max > 0 && len(out) >= f.Max {
				return true, nil
			}
		}
		return false, nil
	}

	order := []struct{ page, from int }{{s.page, s.offset}}
	for p := s.page - 1; p >= 0; p-- {
		order = append(order, struct{ page, from int }{p, s.perPage})
	}
	for p := s.region.Pages - 1; p > s.page; p-- {
		order = append(order, struct{ page, from int }{p, s.perPage})
	}

	for _, o := range order {
		done, err := visit(o.page, o.from)
		if err != nil {
			return out, err
		}
		if done {
			break
		}
	}
	return out, nil
}

// EraseAll erases every page and resets the cursor to the first slot.
func (s *Store) EraseAll() error {
	for p := 0; p < s.region.Pages; p++ {
		if err := s.region.ErasePage(p); err != nil {
			log.Printf("flashlog: erase page %d failed: %v", p, err)
			if rerr := s.recover(); rerr != nil {
				log.Printf("flashlog: rescan after failed erase: %v", rerr)
			}
			return fmt.Errorf("erase log page %d: %w", p, err)
		}
	}
	s.page, s.offset, s.seq = 0, 0, 0
	s.info = Info{ByType: map[byte]int{}}
	return nil
}
