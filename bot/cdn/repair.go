package cdn

import (
	"errors"
	"fmt"
	"os"
)

// ErrTruncatedHeader is returned when a file is too short to hold the
// patched header region.
var ErrTruncatedHeader = errors.New("file shorter than patched header")

// Patch overwrites len(Data) bytes starting at Offset.
type Patch struct {
	Offset int64
	Data   []byte
}

func (p Patch) end() int64 { return p.Offset + int64(len(p.Data)) }

// OggVorbisPatches restores the first two Ogg page headers and the Vorbis
// identification header: 44100 Hz, 2 channels, 320 kbit/s nominal.
var OggVorbisPatches = []Patch{
	{Offset: 0, Data: []byte("OggS")},
	{Offset: 6, Data: make([]byte, 10)},
	{Offset: 26, Data: []byte("\x01\x1E\x01vorbis")},
	{Offset: 39, Data: []byte{0x02}},
	{Offset: 40, Data: []byte{0x44, 0xAC, 0x00, 0x00}},
	{Offset: 48, Data: []byte{0x00, 0xE2, 0x04, 0x00}},
	{Offset: 56, Data: []byte{0xB8, 0x01}},
	{Offset: 58, Data: []byte("OggS")},
	{Offset: 62, Data: make([]byte, 10)},
}

// RepairHeaders applies OggVorbisPatches to the file at path in place.
func RepairHeaders(path string) error {
	return ApplyPatches(path, OggVorbisPatches)
}

// ApplyPatches writes every patch of table into the file at path. Patches
// must not overlap; their order does not matter.
func ApplyPatches(path string, table []Patch) error {
	var need int64
	for _, p := range table {
		if p.Offset < 0 {
			return fmt.Errorf("patch at negative offset %d", p.Offset)
		}
		need = max(need, p.end())
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() < need {
		return fmt.Errorf("%w: %d < %d bytes", ErrTruncatedHeader, info.Size(), need)
	}

	for _, p := range table {
		if _, err := file.WriteAt(p.Data, p.Offset); err != nil {
			return fmt.Errorf("write at offset %d: %w", p.Offset, err)
		}
	}
	return file.Sync()
}
