package retain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.bin"))

	saved := &State{
		DutyCycleEnabled: true,
		Deadline:         time.Unix(1_700_000_008, 0),
		LastReading:      -7,
		SavedAt:          time.Unix(1_700_000_000, 0),
	}
	assert.NoError(t, store.Save(saved), "Save should succeed")

	loaded, err := store.Load()
	assert.NoError(t, err, "Load should succeed after Save")
	assert.NotNil(t, loaded, "Load should return the saved state")
	assert.True(t, loaded.DutyCycleEnabled, "Duty cycle flag should survive")
	assert.Equal(t, int16(-7), loaded.LastReading, "Reading should survive with its sign")
	assert.True(t, loaded.Deadline.Equal(saved.Deadline), "Deadline should survive to the second")
	assert.True(t, loaded.SavedAt.Equal(saved.SavedAt), "Save timestamp should survive to the second")
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.bin"))

	loaded, err := store.Load()
	assert.NoError(t, err, "A missing region is a cold boot, not an error")
	assert.Nil(t, loaded, "A missing region yields no state")
}

func TestStoreSaveCreatesDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "run", "tempbeacon", "state.bin"))

	assert.NoError(t, store.Save(&State{}), "Save should create missing parent directories")
	loaded, err := store.Load()
	assert.NoError(t, err)
	assert.NotNil(t, loaded)
}

func TestStoreRejectsCorruptFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	store := NewStore(path)

	// Too short.
	assert.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
	_, err := store.Load()
	assert.Error(t, err, "A truncated region must be rejected")

	// Right size, wrong magic.
	buf := make([]byte, fileSize)
	copy(buf, []byte("XXXX"))
	assert.NoError(t, os.WriteFile(path, buf, 0o644))
	_, err = store.Load()
	assert.Error(t, err, "A region with the wrong magic must be rejected")

	// Right magic, unknown version.
	copy(buf, fileMagic[:])
	buf[4] = 99
	assert.NoError(t, os.WriteFile(path, buf, 0o644))
	_, err = store.Load()
	assert.Error(t, err, "A region with an unknown version must be rejected")
}

func TestStoreClear(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.bin"))

	assert.NoError(t, store.Clear(), "Clearing an absent region should succeed")

	assert.NoError(t, store.Save(&State{DutyCycleEnabled: true}))
	assert.NoError(t, store.Clear(), "Clearing a present region should succeed")

	loaded, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, loaded, "A cleared region reads as cold boot")
}

func TestStoreSaveOverwrites(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.bin"))

	assert.NoError(t, store.Save(&State{LastReading: 10}))
	assert.NoError(t, store.Save(&State{LastReading: 29}))

	loaded, err := store.Load()
	assert.NoError(t, err)
	assert.Equal(t, int16(29), loaded.LastReading, "The later save wins")
}
