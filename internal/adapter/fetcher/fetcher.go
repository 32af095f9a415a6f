package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	AuthParamName = "drmKey"

	dirPerm  = 0755
	filePerm = 0644
)

type Fetcher struct {
	fs     afero.Fs
	client *http.Client
	log    *slog.Logger
}

func New(fs afero.Fs, client *http.Client, log *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &Fetcher{
		fs:     fs,
		client: client,
		log:    log.With(slog.String("item", "Fetcher")),
	}
}

// Fetch downloads one task. Nothing is written unless the download succeeded
// and, when a hash is expected, the digest matched.
func (f *Fetcher) Fetch(ctx context.Context, task entity.FileTask) entity.FetchOutcome {
	data, err := f.Get(ctx, task.URL, task.AuthParam)
	if err != nil {
		f.log.Debug("Cannot download file", slog.String("id", task.ID), slog.String("url", task.URL), slog.Any("error", err))

		return entity.FetchOutcome{ID: task.ID, Err: err}
	}

	if task.ExpectedHash != "" {
		if got := util.HashBytes(data); !util.HashEqual(got, task.ExpectedHash) {
			f.log.Warn("Downloaded file has wrong hash", slog.String("id", task.ID), slog.String("url", task.URL),
				slog.String("expected", task.ExpectedHash), slog.String("got", got))

			return entity.FetchOutcome{
				ID:  task.ID,
				Err: fmt.Errorf("%w: %s: expected %s, got %s", common.ErrIntegrityMismatch, task.ID, task.ExpectedHash, got),
			}
		}
	}

	if err := f.write(task.LocalPath, data); err != nil {
		f.log.Error("Cannot write file", slog.String("id", task.ID), slog.String("path", task.LocalPath), slog.Any("error", err))

		return entity.FetchOutcome{ID: task.ID, Err: err}
	}

	f.log.Debug("File updated", slog.String("id", task.ID), slog.String("path", task.LocalPath))

	return entity.FetchOutcome{ID: task.ID, OK: true}
}

// Execute runs tasks one after another when sequential is set, otherwise all at
// once. Outcomes are returned in task order.
func (f *Fetcher) Execute(ctx context.Context, tasks []entity.FileTask, sequential bool) []entity.FetchOutcome {
	outcomes := make([]entity.FetchOutcome, len(tasks))

	if sequential {
		for i, task := range tasks {
			outcomes[i] = f.Fetch(ctx, task)
		}

		return outcomes
	}

	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			outcomes[i] = f.Fetch(ctx, task)

			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// GetJSON downloads a json document into v.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL, authParam string, v any) error {
	data, err := f.Get(ctx, rawURL, authParam)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cannot decode %s: %w", rawURL, err)
	}

	return nil
}

// Get returns the body of a successful (2xx) GET request.
func (f *Fetcher) Get(ctx context.Context, rawURL, authParam string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse url %s: %w", rawURL, err)
	}

	if authParam != "" {
		q := u.Query()
		q.Set(AuthParamName, authParam)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: %s", common.ErrBadStatus, rawURL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read body of %s: %w", rawURL, err)
	}

	return data, nil
}

func (f *Fetcher) write(path string, data []byte) error {
	// MkdirAll succeeds when the chain already exists, even if created concurrently.
	if err := f.fs.MkdirAll(filepath.Dir(path), dirPerm); err != nil && !os.IsExist(err) {
		return fmt.Errorf("cannot create dir for %s: %w", path, err)
	}

	if err := afero.WriteFile(f.fs, path, data, filePerm); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}

	return nil
}
