package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jgivc/modsync/internal/adapter/mirror"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/util"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

const (
	serviceName = "manifest"
)

type Fetcher interface {
	GetJSON(ctx context.Context, rawURL, authParam string, v any) error
	Execute(ctx context.Context, tasks []entity.FileTask, sequential bool) []entity.FetchOutcome
}

type ManifestService struct {
	fs         afero.Fs
	fetcher    Fetcher
	sequential bool
	log        *slog.Logger
}

// NewManifestService creates the per-unit processor. With sequential set every
// file is awaited before the next one is requested.
func NewManifestService(fs afero.Fs, fetcher Fetcher, sequential bool, log *slog.Logger) *ManifestService {
	return &ManifestService{
		fs:         fs,
		fetcher:    fetcher,
		sequential: sequential,
		log:        log.With(slog.String("service", serviceName)),
	}
}

type served struct {
	manifest *entity.Manifest
	base     string
}

// Process makes one pass over the unit's manifest. When the unit's own
// descriptor was updated the result has ManifestChanged set and the caller is
// expected to reload the unit and process it again.
func (s *ManifestService) Process(ctx context.Context, unit *entity.Unit) (*entity.UnitResult, error) {
	log := s.log.With(slog.String("unit", unit.Name))

	if unit.Descriptor.DisableAutoUpdate {
		log.Info("Auto-update disabled")

		return &entity.UnitResult{}, nil
	}

	srv, err := mirror.WithMirrors(ctx, unit.Descriptor.Servers, func(ctx context.Context, i int, server string) (*served, error) {
		base := mirror.BaseURL(server)

		var m entity.Manifest
		if err := s.fetcher.GetJSON(ctx, base+entity.ManifestFileName, unit.Descriptor.DRMKey, &m); err != nil {
			log.Warn("Cannot get manifest", slog.String("server", server), slog.Any("error", err))

			return nil, err
		}

		if m.Files == nil {
			log.Warn("Manifest has no files", slog.String("server", server))

			return nil, fmt.Errorf("%w: %s: no files", common.ErrInvalidManifest, server)
		}

		return &served{manifest: &m, base: base}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot get manifest: %w", err)
	}

	m := srv.manifest
	verify := !m.NoHashVerification

	var (
		outcomes []entity.FetchOutcome
		tasks    []entity.FileTask
		seen     = make(map[string]string, len(m.Files))
	)

	names := lo.Keys(m.Files)
	slices.Sort(names)

	for _, name := range names {
		entry := m.Files[name]

		localPath, ok := util.SafeJoin(unit.Root, name)
		if !ok {
			log.Error("Invalid file path in manifest", slog.String("file", name))
			outcomes = append(outcomes, entity.FetchOutcome{ID: name, Err: fmt.Errorf("%w: %s", common.ErrInvalidPath, name)})

			continue
		}

		if first, ok := seen[localPath]; ok {
			log.Warn("Duplicate file path in manifest", slog.String("file", name), slog.String("same_as", first))

			continue
		}
		seen[localPath] = name

		if !s.needsUpdate(localPath, entry, verify) {
			continue
		}

		rel, err := filepath.Rel(unit.Root, localPath)
		if err != nil {
			rel = name
		}

		task := entity.FileTask{
			ID:        name,
			LocalPath: localPath,
			URL:       srv.base + escapePath(rel),
			AuthParam: unit.Descriptor.DRMKey,
		}
		if verify {
			task.ExpectedHash = entry.Hash
		}

		tasks = append(tasks, task)
	}

	log.Info("Files to update", slog.Int("count", len(tasks)), slog.Int("total", len(m.Files)))

	result := &entity.UnitResult{
		Defs:     m.Defs,
		Outcomes: append(outcomes, s.fetcher.Execute(ctx, tasks, s.sequential)...),
	}

	if unit.DescriptorPath != "" {
		descriptor := filepath.Clean(unit.DescriptorPath)
		for i, o := range result.Outcomes[len(outcomes):] {
			if o.OK && filepath.Clean(tasks[i].LocalPath) == descriptor {
				log.Info("Descriptor has been updated")
				result.ManifestChanged = true
			}
		}
	}

	if m.ForceClean && !result.ManifestChanged && len(result.Failed()) == 0 {
		if err := s.clean(unit, m); err != nil {
			log.Error("Cannot clean unit", slog.Any("error", err))

			return result, fmt.Errorf("cannot clean unit %s: %w", unit.Name, err)
		}
	}

	return result, nil
}

func (s *ManifestService) needsUpdate(localPath string, entry entity.FileEntry, verify bool) bool {
	if !util.FileExists(s.fs, localPath) {
		return true
	}

	if !verify || !entry.Overwrite || entry.Hash == "" {
		return false
	}

	hash, err := util.HashFile(s.fs, localPath)
	if err != nil {
		s.log.Warn("Cannot hash local file", slog.String("path", localPath), slog.Any("error", err))

		return true
	}

	return !util.HashEqual(hash, entry.Hash)
}

// clean deletes files the manifest does not list, then prunes directories left
// empty, deepest first.
func (s *ManifestService) clean(unit *entity.Unit, m *entity.Manifest) error {
	root := filepath.Clean(unit.Root)

	keep := make(map[string]struct{}, len(m.Files)+1)
	for name := range m.Files {
		if p, ok := util.SafeJoin(root, name); ok {
			keep[p] = struct{}{}
		}
	}
	if unit.DescriptorPath != "" {
		keep[filepath.Clean(unit.DescriptorPath)] = struct{}{}
	}

	var (
		stale []string
		dirs  []string
	)
	err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		path = filepath.Clean(path)
		if info.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}

			return nil
		}

		if _, exists := keep[path]; !exists {
			stale = append(stale, path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot list files: %w", err)
	}

	for _, path := range stale {
		if err := s.fs.Remove(path); err != nil {
			return fmt.Errorf("cannot remove %s: %w", path, err)
		}
		s.log.Info("Removed stale file", slog.String("unit", unit.Name), slog.String("path", path))
	}

	slices.SortFunc(dirs, func(a, b string) int {
		return strings.Count(b, string(filepath.Separator)) - strings.Count(a, string(filepath.Separator))
	})

	for _, dir := range dirs {
		removed, err := util.RemoveIfEmpty(s.fs, dir)
		if err != nil {
			return err
		}

		if removed {
			s.log.Info("Removed empty dir", slog.String("unit", unit.Name), slog.String("path", dir))
		}
	}

	return nil
}

func escapePath(name string) string {
	parts := strings.Split(filepath.ToSlash(name), "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}

	return strings.Join(parts, "/")
}
