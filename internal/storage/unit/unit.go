package unit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/spf13/afero"
)

const (
	maxUnits = 1000
)

type unitStorage struct {
	fs  afero.Fs
	cfg *config.SyncConfig
	log *slog.Logger
}

func NewUnitStorage(fs afero.Fs, cfg *config.SyncConfig, log *slog.Logger) *unitStorage {
	return &unitStorage{
		fs:  fs,
		cfg: cfg,
		log: log.With(slog.String("item", "UnitStorage")),
	}
}

// List returns unit names under the module base in directory order. Hidden
// entries (starting with "." or "_") are skipped, plain files only count when
// they carry one of the legacy extensions.
func (s *unitStorage) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.cfg.ModuleBase)
	if err != nil {
		return nil, fmt.Errorf("cannot read module base %s: %w", s.cfg.ModuleBase, err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}

		if entry.IsDir() && filepath.Join(s.cfg.ModuleBase, name) == filepath.Clean(s.cfg.DataDir) {
			continue
		}

		if !entry.IsDir() && !slices.Contains(s.cfg.LegacyExtensions, filepath.Ext(name)) {
			s.log.Debug("Skip file", slog.String("name", name))

			continue
		}

		names = append(names, name)
		if len(names) >= maxUnits {
			s.log.Warn("Too many units, the rest is ignored", slog.Int("max", maxUnits))

			break
		}
	}

	return names, nil
}

// Load reads the unit's descriptor from disk.
func (s *unitStorage) Load(name string) (*entity.Unit, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return nil, fmt.Errorf("%w: bad unit name %q", common.ErrDescriptorInvalid, name)
	}

	root := filepath.Join(s.cfg.ModuleBase, name)
	stat, err := s.fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot stat unit %s: %w", name, err)
	}

	if !stat.IsDir() {
		return nil, common.ErrPlainFileUnit
	}

	descriptorPath := filepath.Join(root, s.cfg.DescriptorFileName)
	data, err := afero.ReadFile(s.fs, descriptorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrDescriptorNotFound
		}

		return nil, fmt.Errorf("cannot read descriptor %s: %w", descriptorPath, err)
	}

	var d entity.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrDescriptorInvalid, descriptorPath, err)
	}

	return &entity.Unit{
		Name:           name,
		Root:           root,
		DescriptorPath: descriptorPath,
		Descriptor:     &d,
	}, nil
}
