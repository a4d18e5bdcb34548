package robots

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// diskEntry is the on-disk form of a fetched robots.txt. Status 0 means the
// fetch itself failed.
type diskEntry struct {
	Host      string    `json:"host"`
	Status    int       `json:"status"`
	Body      string    `json:"body,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// diskStore keeps one JSON file per host so policies survive restarts.
type diskStore struct {
	dir string
}

func (d *diskStore) path(host string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(strings.ToLower(host))
	return filepath.Join(d.dir, safe+".json")
}

func (d *diskStore) load(host string) (*diskEntry, bool) {
	data, err := os.ReadFile(d.path(host))
	if err != nil {
		return nil, false
	}
	var e diskEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false
	}
	return &e, true
}

// save writes through a temp file and rename so readers never see a
// partial entry.
func (d *diskStore) save(e *diskEntry) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return eris.Wrap(err, "robots: create cache dir")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "robots: marshal entry")
	}
	tmp, err := os.CreateTemp(d.dir, ".robots-*.tmp")
	if err != nil {
		return eris.Wrap(err, "robots: create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "robots: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "robots: close temp file")
	}
	if err := os.Rename(tmp.Name(), d.path(e.Host)); err != nil {
		_ = os.Remove(tmp.Name())
		return eris.Wrap(err, "robots: rename cache file")
	}
	return nil
}
