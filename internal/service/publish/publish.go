package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
)

const (
	serviceName = "publish"

	maxFiles = 10000
	filePerm = 0644
)

// Options describe the manifest flags a unit author chooses.
type Options struct {
	Defs               map[string]entity.DefVersions
	ForceClean         bool
	NoHashVerification bool
	// Paths, relative to the unit root, published with overwrite disabled.
	Keep []string
	// Names or relative paths left out of the manifest.
	Skip []string
}

type PublishService struct {
	fs  afero.Fs
	log *slog.Logger
}

func NewPublishService(fs afero.Fs, log *slog.Logger) *PublishService {
	return &PublishService{
		fs:  fs,
		log: log.With(slog.String("service", serviceName)),
	}
}

// Generate builds the manifest for the unit tree under root. Hidden entries
// and the manifest itself are not listed.
func (s *PublishService) Generate(root string, opts Options) (*entity.Manifest, error) {
	skip := make(map[string]struct{}, len(opts.Skip)+1)
	skip[entity.ManifestFileName] = struct{}{}
	for _, name := range opts.Skip {
		skip[filepath.ToSlash(name)] = struct{}{}
	}

	keep := make(map[string]struct{}, len(opts.Keep))
	for _, name := range opts.Keep {
		keep[filepath.ToSlash(name)] = struct{}{}
	}

	m := &entity.Manifest{
		Files:              map[string]entity.FileEntry{},
		Defs:               opts.Defs,
		ForceClean:         opts.ForceClean,
		NoHashVerification: opts.NoHashVerification,
	}

	err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		_, skipName := skip[info.Name()]
		_, skipPath := skip[rel]
		if skipName || skipPath {
			s.log.Debug("Skip", slog.String("path", rel))
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if info.IsDir() {
			return nil
		}

		if len(m.Files) >= maxFiles {
			return fmt.Errorf("too many files, max %d", maxFiles)
		}

		hash, err := util.HashFile(s.fs, path)
		if err != nil {
			return err
		}

		_, kept := keep[rel]
		m.Files[rel] = entity.FileEntry{Hash: hash, Overwrite: !kept}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk %s: %w", root, err)
	}

	s.log.Info("Manifest generated", slog.String("root", root), slog.Int("files", len(m.Files)))

	return m, nil
}

// Save writes the manifest to root/manifest.json.
func (s *PublishService) Save(root string, m *entity.Manifest) error {
	data, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return fmt.Errorf("cannot marshal manifest: %w", err)
	}

	path := filepath.Join(root, entity.ManifestFileName)
	if err := afero.WriteFile(s.fs, path, data, filePerm); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}

	return nil
}
