package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/df-mc/terrastream/engine/world"
	"github.com/klauspost/compress/zstd"
)

// formatVersion is bumped whenever the persisted record layout changes.
// Loading an overlay with an unknown version fails instead of guessing.
const formatVersion = 1

const recordSize = 16

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

const (
	flagCustomColour = 1 << 0
)

// encodeOverlay serialises an overlay to its durable form: a version byte
// followed by a zstd frame of fixed-size records in replay order.
func encodeOverlay(records []world.Modification) []byte {
	raw := make([]byte, 4+len(records)*recordSize)
	binary.LittleEndian.PutUint32(raw, uint32(len(records)))
	off := 4
	for _, m := range records {
		raw[off] = m.X
		raw[off+1] = m.Y
		raw[off+2] = m.Z
		raw[off+3] = uint8(m.Kind)
		var flags uint8
		if m.CustomColour {
			flags |= flagCustomColour
		}
		raw[off+4] = flags
		raw[off+5] = m.Colour.R
		raw[off+6] = m.Colour.G
		raw[off+7] = m.Colour.B
		binary.LittleEndian.PutUint64(raw[off+8:], uint64(m.Timestamp))
		off += recordSize
	}
	return append([]byte{formatVersion}, encoder.EncodeAll(raw, nil)...)
}

// decodeOverlay parses the durable form produced by encodeOverlay.
func decodeOverlay(payload []byte) ([]world.Modification, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if payload[0] != formatVersion {
		return nil, fmt.Errorf("overlay format version %d not supported", payload[0])
	}
	raw, err := decoder.DecodeAll(payload[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress overlay: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("overlay payload truncated: %d bytes", len(raw))
	}
	n := int(binary.LittleEndian.Uint32(raw))
	if len(raw) != 4+n*recordSize {
		return nil, fmt.Errorf("overlay payload corrupt: %d records in %d bytes", n, len(raw))
	}
	records := make([]world.Modification, 0, n)
	off := 4
	for i := 0; i < n; i++ {
		kind := world.Kind(raw[off+3])
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %d", world.ErrUnknownKind, raw[off+3])
		}
		records = append(records, world.Modification{
			X:            raw[off],
			Y:            raw[off+1],
			Z:            raw[off+2],
			Kind:         kind,
			CustomColour: raw[off+4]&flagCustomColour != 0,
			Colour:       world.RGB{R: raw[off+5], G: raw[off+6], B: raw[off+7]},
			Timestamp:    int64(binary.LittleEndian.Uint64(raw[off+8:])),
		})
		off += recordSize
	}
	return records, nil
}
