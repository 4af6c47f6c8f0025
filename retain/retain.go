// Package retain persists the small set of fields that must survive a
// deep-sleep cycle. The original device kept them in RTC memory; the
// Linux stand-in is a fixed-layout binary file on tmpfs, which survives
// a suspend-to-RAM cycle and is gone after a real power cycle or reboot.
package retain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	fileVersion   = 1
	fileSize      = 24
	flagDutyCycle = 1 << 0
)

var fileMagic = [4]byte{'T', 'B', 'R', 'N'}

// State holds the retained fields. Timestamps are stored with seconds
// resolution, matching the clock the deadline is compared against.
type State struct {
	DutyCycleEnabled bool
	Deadline         time.Time
	LastReading      int16
	SavedAt          time.Time
}

// Store reads and writes the retained region at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the retained state. A missing file means cold boot and
// yields (nil, nil); a malformed file is an error, and callers fall back
// to cold-boot defaults.
func (s *Store) Load() (*State, error) {
	buf, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't read retained state %s: %w", s.path, err)
	}
	return decode(buf, s.path)
}

// Save writes the retained state atomically (write-then-rename), so a
// wake never sees a half-written region.
func (s *Store) Save(state *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("can't create retain directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encode(state), 0o644); err != nil {
		return fmt.Errorf("can't write retained state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("can't replace retained state: %w", err)
	}
	return nil
}

// Clear removes the retained region; the next boot is cold. Clearing an
// absent region is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("can't clear retained state: %w", err)
	}
	return nil
}

func encode(state *State) []byte {
	buf := make([]byte, fileSize)
	copy(buf[0:4], fileMagic[:])
	buf[4] = fileVersion
	if state.DutyCycleEnabled {
		buf[5] |= flagDutyCycle
	}
	binary.LittleEndian.PutUint16(buf[6:8], uint16(state.LastReading))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(state.Deadline.Unix()))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(state.SavedAt.Unix()))
	return buf
}

func decode(buf []byte, path string) (*State, error) {
	if len(buf) != fileSize {
		return nil, fmt.Errorf("retained state %s has %d bytes, want %d", path, len(buf), fileSize)
	}
	if !bytes.Equal(buf[0:4], fileMagic[:]) {
		return nil, fmt.Errorf("retained state %s has wrong magic", path)
	}
	if buf[4] != fileVersion {
		return nil, fmt.Errorf("retained state %s has version %d, want %d", path, buf[4], fileVersion)
	}
	return &State{
		DutyCycleEnabled: buf[5]&flagDutyCycle != 0,
		LastReading:      int16(binary.LittleEndian.Uint16(buf[6:8])),
		Deadline:         time.Unix(int64(binary.LittleEndian.Uint64(buf[8:16])), 0),
		SavedAt:          time.Unix(int64(binary.LittleEndian.Uint64(buf[16:24])), 0),
	}, nil
}
