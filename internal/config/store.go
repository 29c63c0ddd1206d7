package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/greenhouse-controller/internal/flash"
)

// Store persists a SystemConfig in the first bytes of a flash region.
type Store struct {
	region flash.Region
}

// NewStore returns a store over region.
func NewStore(region flash.Region) (*Store, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if region.PageSize() < Size {
		return nil, fmt.Errorf("config: page size %d too small", region.PageSize())
	}
	return &Store{region: region}, nil
}

// Load reads and verifies the stored configuration.
func (s *Store) Load() (SystemConfig, error) {
	b := make([]byte, Size)
	if err := s.region.Read(b, 0); err != nil {
		return SystemConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Unmarshal(b)
}

// Save erases the configuration page and programs cfg word by word.
func (s *Store) Save(cfg SystemConfig) error {
	if err := s.region.ErasePage(0); err != nil {
		log.Printf("config: erase failed: %v", err)
		return fmt.Errorf("erase config page: %w", err)
	}
	if err := s.region.Program(0, cfg.Marshal()); err != nil {
		log.Printf("config: program failed: %v", err)
		return fmt.Errorf("program config: %w", err)
	}
	return nil
}

// Init loads the stored configuration. If the stored block fails any
// integrity check, defaults are written back and returned; recovered is then
// true. A flash error while writing the defaults is returned alongside them.
func (s *Store) Init() (cfg SystemConfig, recovered bool, err error) {
	cfg, err = s.Load()
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, ErrMagic) && !errors.Is(err, ErrVersion) && !errors.Is(err, ErrChecksum) {
		return Defaults(), true, err
	}

	log.Printf("config: %v, restoring defaults", err)
	cfg = Defaults()
	if err := s.Save(cfg); err != nil {
		return cfg, true, err
	}
	return cfg, true, nil
}
