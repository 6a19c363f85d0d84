package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

// Store reads historical run manifests for lineage queries. Manifests
// accumulate; the store never deletes or rewrites them.
type Store struct {
	dir string
}

// NewStore opens a manifest directory for reading.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// List returns all persisted manifests, newest first.
func (s *Store) List() ([]*models.RunManifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestRead,
			fmt.Sprintf("failed to read manifest directory %s", s.dir))
	}

	manifests := make([]*models.RunManifest, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		manifest, err := s.load(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// A torn or foreign file in the directory must not hide the rest.
			continue
		}
		manifests = append(manifests, manifest)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// Get returns one manifest by run id.
func (s *Store) Get(runID string) (*models.RunManifest, error) {
	path := filepath.Join(s.dir, ManifestFileName(runID))
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WrapError(errors.ErrManifestNotFound, errors.ErrorTypePersistence,
			errors.CodeManifestRead, fmt.Sprintf("no manifest for run %s", runID))
	}
	return s.load(path)
}

// FindByChecksum returns every run whose input or output checksum matches,
// tracing the lineage chain through historical manifests.
func (s *Store) FindByChecksum(sum string) ([]*models.RunManifest, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var matched []*models.RunManifest
	for _, manifest := range all {
		if manifest.InputChecksum == sum || manifest.OutputChecksum == sum {
			matched = append(matched, manifest)
		}
	}
	return matched, nil
}

func (s *Store) load(path string) (*models.RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestRead,
			fmt.Sprintf("failed to read manifest %s", path))
	}
	manifest := &models.RunManifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestRead,
			fmt.Sprintf("failed to parse manifest %s", path))
	}
	return manifest, nil
}
