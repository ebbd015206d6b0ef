package ledger

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/df-mc/goleveldb/leveldb"
	ldberrors "github.com/df-mc/goleveldb/leveldb/errors"
	"github.com/df-mc/terrastream/engine/world"

	_ "modernc.org/sqlite"
)

// ErrCorrupt is returned by provider constructors when the durable store
// exists but cannot be opened. It is deliberately fatal: silently
// regenerating the world would turn storage corruption into invisible data
// loss.
var ErrCorrupt = errors.New("ledger: store is corrupt")

// Provider stores chunk overlays durably. The absence of an overlay for a
// chunk means "no overlay, use pure generation" and is reported as a nil
// record slice with no error.
type Provider interface {
	// Load reads the overlay of the chunk at pos in replay order.
	Load(pos world.ChunkPos) ([]world.Modification, error)
	// Store overwrites the overlay of the chunk at pos.
	Store(pos world.ChunkPos, records []world.Modification) error
	Close() error
}

// NopProvider is a Provider that stores nothing, used when no ledger folder
// is configured.
type NopProvider struct{}

func (NopProvider) Load(world.ChunkPos) ([]world.Modification, error) { return nil, nil }
func (NopProvider) Store(world.ChunkPos, []world.Modification) error  { return nil }
func (NopProvider) Close() error                                      { return nil }

// chunkKey builds the fixed 8-byte key overlays are stored under in LevelDB.
func chunkKey(pos world.ChunkPos) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint32(key, uint32(pos[0]))
	binary.BigEndian.PutUint32(key[4:], uint32(pos[1]))
	return key
}

// LevelDBProvider persists overlays in a LevelDB database, one value per
// chunk.
type LevelDBProvider struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the overlay database in the directory passed.
// An existing database that cannot be opened surfaces as ErrCorrupt.
func OpenLevelDB(dir string) (*LevelDBProvider, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0777); err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		if ldberrors.IsCorrupted(err) {
			return nil, fmt.Errorf("%w: %v (recover or remove %v before restarting)", ErrCorrupt, err, dir)
		}
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return &LevelDBProvider{db: db}, nil
}

// Load implements Provider.
func (p *LevelDBProvider) Load(pos world.ChunkPos) ([]world.Modification, error) {
	payload, err := p.db.Get(chunkKey(pos), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load overlay %v: %w", pos, err)
	}
	records, err := decodeOverlay(payload)
	if err != nil {
		return nil, fmt.Errorf("load overlay %v: %w", pos, err)
	}
	return records, nil
}

// Store implements Provider. An empty overlay deletes the chunk's entry so
// the absence-means-pure-generation contract holds.
func (p *LevelDBProvider) Store(pos world.ChunkPos, records []world.Modification) error {
	if len(records) == 0 {
		if err := p.db.Delete(chunkKey(pos), nil); err != nil {
			return fmt.Errorf("store overlay %v: %w", pos, err)
		}
		return nil
	}
	if err := p.db.Put(chunkKey(pos), encodeOverlay(records), nil); err != nil {
		return fmt.Errorf("store overlay %v: %w", pos, err)
	}
	return nil
}

// Close implements Provider.
func (p *LevelDBProvider) Close() error {
	return p.db.Close()
}

// SQLiteProvider persists overlays in a single-file SQLite database. It
// exists for deployments that prefer one inspectable file over a LevelDB
// directory; the stored payload is identical.
type SQLiteProvider struct {
	db *sql.DB
}

// OpenSQLite opens or creates the overlay database at the file path passed.
func OpenSQLite(path string) (*SQLiteProvider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS overlays (
		cx INTEGER NOT NULL,
		cz INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (cx, cz)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v (recover or remove %v before restarting)", ErrCorrupt, err, path)
	}
	return &SQLiteProvider{db: db}, nil
}

// Load implements Provider.
func (p *SQLiteProvider) Load(pos world.ChunkPos) ([]world.Modification, error) {
	var payload []byte
	err := p.db.QueryRow(`SELECT payload FROM overlays WHERE cx = ? AND cz = ?`,
		pos[0], pos[1]).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load overlay %v: %w", pos, err)
	}
	records, err := decodeOverlay(payload)
	if err != nil {
		return nil, fmt.Errorf("load overlay %v: %w", pos, err)
	}
	return records, nil
}

// Store implements Provider.
func (p *SQLiteProvider) Store(pos world.ChunkPos, records []world.Modification) error {
	if len(records) == 0 {
		if _, err := p.db.Exec(`DELETE FROM overlays WHERE cx = ? AND cz = ?`, pos[0], pos[1]); err != nil {
			return fmt.Errorf("store overlay %v: %w", pos, err)
		}
		return nil
	}
	_, err := p.db.Exec(`INSERT INTO overlays (cx, cz, payload) VALUES (?, ?, ?)
		ON CONFLICT (cx, cz) DO UPDATE SET payload = excluded.payload`,
		pos[0], pos[1], encodeOverlay(records))
	if err != nil {
		return fmt.Errorf("store overlay %v: %w", pos, err)
	}
	return nil
}

// Close implements Provider.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}
