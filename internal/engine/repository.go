package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/racelock/veloengine/internal/errs"
)

// Repository persists EngineRuns as one JSON file per run, named
// {engine_run_id}.json, under StorageDir. Grounded on
// internal/artifacts/manifest/io.go's temp-file-then-rename atomic write.
type Repository struct {
	StorageDir string
}

// NewRepository creates the storage directory if absent.
func NewRepository(storageDir string) (*Repository, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.StorageIO, "create engine run storage dir", err, map[string]any{"dir": storageDir})
	}
	return &Repository{StorageDir: storageDir}, nil
}

func (repo *Repository) path(engineRunID string) string {
	return filepath.Join(repo.StorageDir, engineRunID+".json")
}

// Save writes run to storage atomically and returns the file path.
func (repo *Repository) Save(run *EngineRun) (string, error) {
	target := repo.path(run.EngineRunID)
	tmp := target + ".tmp"

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.StorageIO, "encode engine run", err, map[string]any{"engine_run_id": run.EngineRunID})
	}

	f, err := os.Create(tmp)
	if err != nil {
		return "", errs.Wrap(errs.StorageIO, "create temp engine run file", err, map[string]any{"path": tmp})
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	if _, err := f.Write(data); err != nil {
		return "", errs.Wrap(errs.StorageIO, "write engine run", err, map[string]any{"path": tmp})
	}
	if err := f.Sync(); err != nil {
		return "", errs.Wrap(errs.StorageIO, "sync engine run file", err, map[string]any{"path": tmp})
	}
	if err := f.Close(); err != nil {
		return "", errs.Wrap(errs.StorageIO, "close engine run file", err, map[string]any{"path": tmp})
	}

	if err := os.Rename(tmp, target); err != nil {
		return "", errs.Wrap(errs.StorageIO, "replace engine run file", err, map[string]any{"path": target})
	}
	return target, nil
}

// Load reads one run by ID. Returns an errs.NotFound-coded error if the file
// is absent.
func (repo *Repository) Load(engineRunID string) (*EngineRun, error) {
	data, err := os.ReadFile(repo.path(engineRunID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "engine run not found", map[string]any{"engine_run_id": engineRunID})
		}
		return nil, errs.Wrap(errs.StorageIO, "read engine run", err, map[string]any{"engine_run_id": engineRunID})
	}
	var run EngineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, errs.Wrap(errs.StorageIO, "decode engine run", err, map[string]any{"engine_run_id": engineRunID})
	}
	return &run, nil
}

type runFile struct {
	id      string
	modTime time.Time
}

func (repo *Repository) sortedRunFiles() ([]runFile, error) {
	entries, err := os.ReadDir(repo.StorageDir)
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "list engine run storage dir", err, map[string]any{"dir": repo.StorageDir})
	}
	runs := make([]runFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, runFile{
			id:      e.Name()[:len(e.Name())-len(".json")],
			modTime: info.ModTime(),
		})
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].modTime.After(runs[j].modTime)
	})
	return runs, nil
}

// List returns up to limit recent engine run IDs, most recently modified
// first.
func (repo *Repository) List(limit int) ([]string, error) {
	runs, err := repo.sortedRunFiles()
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

// ListSince returns engine run IDs modified at or after cutoff, most
// recently modified first. Used by the episodic/shadow runner's
// finalization sweep (§4.13 plus).
func (repo *Repository) ListSince(cutoff time.Time) ([]string, error) {
	runs, err := repo.sortedRunFiles()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		if !r.modTime.Before(cutoff) {
			ids = append(ids, r.id)
		}
	}
	return ids, nil
}
