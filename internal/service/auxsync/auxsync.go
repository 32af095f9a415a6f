package auxsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/jgivc/modsync/internal/adapter/mirror"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/util"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName = "auxsync"

	ProtocolDir         = "protocol"
	MapBaseDir          = "map_base"
	MappingsFileName    = "mappings.json"
	pcSuffix            = ".pc"
	consoleSuffix       = ".con"
	protocolMapPrefix   = "protocol."
	sysmsgMapPrefix     = "sysmsg."
	mapFileNameSuffix   = ".map"
	definitionExtension = ".def"
)

type Fetcher interface {
	Get(ctx context.Context, rawURL, authParam string) ([]byte, error)
	Fetch(ctx context.Context, task entity.FileTask) entity.FetchOutcome
	Execute(ctx context.Context, tasks []entity.FileTask, sequential bool) []entity.FetchOutcome
}

// AuxService keeps the shared definition and region map files in data dir up
// to date. Only the base layer is managed; customized copies live elsewhere.
type AuxService struct {
	fs         afero.Fs
	fetcher    Fetcher
	dataDir    string
	servers    []string
	sequential bool
	log        *slog.Logger
}

func NewAuxService(fs afero.Fs, fetcher Fetcher, dataDir string, servers []string, sequential bool, log *slog.Logger) *AuxService {
	return &AuxService{
		fs:         fs,
		fetcher:    fetcher,
		dataDir:    dataDir,
		servers:    servers,
		sequential: sequential,
		log:        log.With(slog.String("service", serviceName)),
	}
}

// ResolveDependencies makes sure every definition of the set is present.
func (s *AuxService) ResolveDependencies(ctx context.Context, set entity.DependencySet) []entity.FetchOutcome {
	deps := set.Sorted()
	outcomes := make([]entity.FetchOutcome, len(deps))

	if s.sequential {
		for i, dep := range deps {
			outcomes[i] = s.ResolveDependency(ctx, dep)
		}

		return outcomes
	}

	var g errgroup.Group
	for i, dep := range deps {
		g.Go(func() error {
			outcomes[i] = s.ResolveDependency(ctx, dep)

			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// ResolveDependency fetches a definition unless it is already present. The
// platform independent file is tried first; the split pc/console pair is only
// accepted when both halves could be fetched.
func (s *AuxService) ResolveDependency(ctx context.Context, dep entity.Dependency) entity.FetchOutcome {
	id := dep.FileName()
	generic := filepath.Join(s.dataDir, ProtocolDir, id)
	pc := filepath.Join(s.dataDir, ProtocolDir, variantName(dep, pcSuffix))
	con := filepath.Join(s.dataDir, ProtocolDir, variantName(dep, consoleSuffix))

	if util.FileExists(s.fs, generic) || (util.FileExists(s.fs, pc) && util.FileExists(s.fs, con)) {
		return entity.FetchOutcome{ID: id, OK: true}
	}

	log := s.log.With(slog.String("def", id))

	_, err := mirror.WithMirrors(ctx, s.servers, func(ctx context.Context, i int, server string) (struct{}, error) {
		base := mirror.BaseURL(server) + ProtocolDir + "/"

		o := s.fetcher.Fetch(ctx, entity.FileTask{ID: id, LocalPath: generic, URL: base + id})
		if o.OK {
			return struct{}{}, nil
		}

		log.Debug("Cannot get definition, trying platform variants", slog.String("server", server), slog.Any("error", o.Err))

		pair := []entity.FileTask{
			{ID: variantName(dep, pcSuffix), LocalPath: pc, URL: base + variantName(dep, pcSuffix)},
			{ID: variantName(dep, consoleSuffix), LocalPath: con, URL: base + variantName(dep, consoleSuffix)},
		}

		var errs error
		for _, po := range s.fetcher.Execute(ctx, pair, false) {
			if !po.OK {
				errs = multierr.Append(errs, po.Err)
			}
		}
		if errs != nil {
			return struct{}{}, fmt.Errorf("cannot get %s: %w", id, multierr.Append(o.Err, errs))
		}

		return struct{}{}, nil
	})
	if err != nil {
		log.Error("Cannot resolve definition", slog.Any("error", err))

		return entity.FetchOutcome{ID: id, Err: err}
	}

	log.Info("Definition updated")

	return entity.FetchOutcome{ID: id, OK: true}
}

type mappingsDoc struct {
	base    string
	regions map[string]entity.RegionMapEntry
}

// ResolveRegionMaps fetches mappings.json, makes sure every region's protocol and
// sysmsg maps match the published hashes and returns the protocol table. The
// returned error is only set for a malformed mapping document.
func (s *AuxService) ResolveRegionMaps(ctx context.Context) (entity.ProtocolTable, []entity.FetchOutcome, error) {
	var malformed error

	doc, err := mirror.WithMirrors(ctx, s.servers, func(ctx context.Context, i int, server string) (*mappingsDoc, error) {
		base := mirror.BaseURL(server)

		data, err := s.fetcher.Get(ctx, base+MappingsFileName, "")
		if err != nil {
			s.log.Warn("Cannot get mappings", slog.String("server", server), slog.Any("error", err))

			return nil, err
		}

		regions, err := parseMappings(data)
		if err != nil {
			s.log.Error("Malformed mappings", slog.String("server", server), slog.Any("error", err))
			malformed = err

			return nil, err
		}

		return &mappingsDoc{base: base, regions: regions}, nil
	})
	if err != nil {
		if malformed != nil {
			return nil, nil, malformed
		}

		return entity.ProtocolTable{}, []entity.FetchOutcome{{ID: MappingsFileName, Err: err}}, nil
	}

	table := entity.ProtocolTable{}
	seen := map[string]struct{}{}
	var tasks []entity.FileTask

	regions := lo.Keys(doc.regions)
	slices.Sort(regions)

	for _, region := range regions {
		entry := doc.regions[region]

		if info, exists := table[entry.Version]; exists {
			s.log.Debug("Version published by several regions", slog.Int("version", entry.Version),
				slog.String("region", region), slog.String("kept", info.Region))
		} else {
			table[entry.Version] = entity.ProtocolInfo{Region: region, MajorPatch: entry.MajorPatch, MinorPatch: entry.MinorPatch}
		}

		for _, f := range []struct{ name, hash string }{
			{mapFileName(protocolMapPrefix, entry.Version), entry.ProtocolHash},
			{mapFileName(sysmsgMapPrefix, entry.Version), entry.SysmsgHash},
		} {
			if _, exists := seen[f.name]; exists {
				continue
			}
			seen[f.name] = struct{}{}

			localPath := filepath.Join(s.dataDir, MapBaseDir, f.name)
			if !s.needsUpdate(localPath, f.hash) {
				continue
			}

			tasks = append(tasks, entity.FileTask{
				ID:           f.name,
				LocalPath:    localPath,
				URL:          doc.base + MapBaseDir + "/" + f.name,
				ExpectedHash: f.hash,
			})
		}
	}

	s.log.Info("Region maps to update", slog.Int("count", len(tasks)), slog.Int("regions", len(regions)))

	return table, s.fetcher.Execute(ctx, tasks, s.sequential), nil
}

func (s *AuxService) needsUpdate(localPath, hash string) bool {
	if !util.FileExists(s.fs, localPath) {
		return true
	}

	if hash == "" {
		return false
	}

	got, err := util.HashFile(s.fs, localPath)
	if err != nil {
		s.log.Warn("Cannot hash map file", slog.String("path", localPath), slog.Any("error", err))

		return true
	}

	return !util.HashEqual(got, hash)
}

func parseMappings(data []byte) (map[string]entity.RegionMapEntry, error) {
	var regions map[string]entity.RegionMapEntry
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedMappings, err)
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("%w: no regions", common.ErrMalformedMappings)
	}

	for region, entry := range regions {
		if entry.Version <= 0 {
			return nil, fmt.Errorf("%w: region %s has no version", common.ErrMalformedMappings, region)
		}
	}

	return regions, nil
}

func variantName(dep entity.Dependency, platform string) string {
	return dep.Name + "." + dep.Version + platform + definitionExtension
}

func mapFileName(prefix string, version int) string {
	return fmt.Sprintf("%s%d%s", prefix, version, mapFileNameSuffix)
}
