package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, files map[string]string, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		if r.URL.Path == "/secret.txt" && r.URL.Query().Get(AuthParamName) != "key" {
			http.Error(w, "Forbidden", http.StatusForbidden)

			return
		}

		content, exists := files[r.URL.Path]
		if !exists {
			http.NotFound(w, r)

			return
		}

		w.Write([]byte(content))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestFetch(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/a.txt":      "new content",
		"/secret.txt": "secret",
	}, nil)

	testCases := []struct {
		name          string
		task          entity.FileTask
		existing      string
		expectOK      bool
		expectErr     error
		expectContent string
	}{
		{
			name:          "Creates parent dirs",
			task:          entity.FileTask{ID: "a.txt", LocalPath: "/mods/m/deep/dir/a.txt", URL: srv.URL + "/a.txt"},
			expectOK:      true,
			expectContent: "new content",
		},
		{
			name:          "Overwrites existing",
			task:          entity.FileTask{ID: "a.txt", LocalPath: "/mods/m/a.txt", URL: srv.URL + "/a.txt"},
			existing:      "old content",
			expectOK:      true,
			expectContent: "new content",
		},
		{
			name: "Hash matches case insensitive",
			task: entity.FileTask{
				ID: "a.txt", LocalPath: "/mods/m/a.txt", URL: srv.URL + "/a.txt",
				ExpectedHash: strings.ToLower(util.HashBytes([]byte("new content"))),
			},
			expectOK:      true,
			expectContent: "new content",
		},
		{
			name: "Hash mismatch keeps local copy",
			task: entity.FileTask{
				ID: "a.txt", LocalPath: "/mods/m/a.txt", URL: srv.URL + "/a.txt",
				ExpectedHash: util.HashBytes([]byte("other content")),
			},
			existing:      "old content",
			expectErr:     common.ErrIntegrityMismatch,
			expectContent: "old content",
		},
		{
			name:      "Not found",
			task:      entity.FileTask{ID: "b.txt", LocalPath: "/mods/m/b.txt", URL: srv.URL + "/b.txt"},
			expectErr: common.ErrBadStatus,
		},
		{
			name:      "Missing auth",
			task:      entity.FileTask{ID: "secret.txt", LocalPath: "/mods/m/secret.txt", URL: srv.URL + "/secret.txt"},
			expectErr: common.ErrBadStatus,
		},
		{
			name:          "Auth param",
			task:          entity.FileTask{ID: "secret.txt", LocalPath: "/mods/m/secret.txt", URL: srv.URL + "/secret.txt", AuthParam: "key"},
			expectOK:      true,
			expectContent: "secret",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if tc.existing != "" {
				require.NoError(t, afero.WriteFile(fs, tc.task.LocalPath, []byte(tc.existing), 0644))
			}

			f := New(fs, srv.Client(), discardLog())
			outcome := f.Fetch(context.Background(), tc.task)

			require.Equal(t, tc.task.ID, outcome.ID)
			require.Equal(t, tc.expectOK, outcome.OK)
			if tc.expectErr != nil {
				require.ErrorIs(t, outcome.Err, tc.expectErr)
			} else {
				require.NoError(t, outcome.Err)
			}

			if tc.expectContent == "" {
				require.False(t, util.FileExists(fs, tc.task.LocalPath))

				return
			}

			data, err := afero.ReadFile(fs, tc.task.LocalPath)
			require.NoError(t, err)
			require.Equal(t, tc.expectContent, string(data))
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	fs := afero.NewMemMapFs()
	f := New(fs, nil, discardLog())
	outcome := f.Fetch(context.Background(), entity.FileTask{ID: "x", LocalPath: "/x", URL: srv.URL + "/x"})

	require.False(t, outcome.OK)
	require.Error(t, outcome.Err)
	require.False(t, errors.Is(outcome.Err, common.ErrBadStatus))
}

func TestExecute(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, map[string]string{
		"/1": "one",
		"/2": "two",
		"/3": "three",
	}, &hits)

	for _, sequential := range []bool{true, false} {
		hits.Store(0)
		fs := afero.NewMemMapFs()
		f := New(fs, srv.Client(), discardLog())

		tasks := []entity.FileTask{
			{ID: "1", LocalPath: "/d/1", URL: srv.URL + "/1"},
			{ID: "2", LocalPath: "/d/2", URL: srv.URL + "/2"},
			{ID: "4", LocalPath: "/d/4", URL: srv.URL + "/4"},
			{ID: "3", LocalPath: "/d/3", URL: srv.URL + "/3"},
		}

		outcomes := f.Execute(context.Background(), tasks, sequential)
		require.Len(t, outcomes, len(tasks))
		require.EqualValues(t, len(tasks), hits.Load())

		for i, o := range outcomes {
			require.Equal(t, tasks[i].ID, o.ID)
			require.Equal(t, tasks[i].ID != "4", o.OK, "sequential=%v id=%s", sequential, o.ID)
		}
	}
}

func TestExecuteInFlight(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("data"))
	}))
	t.Cleanup(srv.Close)

	testCases := []struct {
		name       string
		sequential bool
		check      func(t *testing.T, peak int32)
	}{
		{name: "Sequential", sequential: true, check: func(t *testing.T, peak int32) { require.EqualValues(t, 1, peak) }},
		{name: "Concurrent", sequential: false, check: func(t *testing.T, peak int32) { require.Greater(t, peak, int32(1)) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			peak.Store(0)
			f := New(afero.NewMemMapFs(), srv.Client(), discardLog())

			tasks := make([]entity.FileTask, 4)
			for i := range tasks {
				id := strconv.Itoa(i)
				tasks[i] = entity.FileTask{ID: id, LocalPath: "/d/" + id, URL: srv.URL + "/" + id}
			}

			for _, o := range f.Execute(context.Background(), tasks, tc.sequential) {
				require.True(t, o.OK, o.ID)
			}
			tc.check(t, peak.Load())
		})
	}
}

func TestGetJSON(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/ok.json":  `{"files": {"a": "AA"}}`,
		"/bad.json": `{"files": `,
	}, nil)

	f := New(afero.NewMemMapFs(), srv.Client(), discardLog())

	var m entity.Manifest
	require.NoError(t, f.GetJSON(context.Background(), srv.URL+"/ok.json", "", &m))
	require.Equal(t, "AA", m.Files["a"].Hash)

	require.Error(t, f.GetJSON(context.Background(), srv.URL+"/bad.json", "", &m))
	require.ErrorIs(t, f.GetJSON(context.Background(), srv.URL+"/none.json", "", &m), common.ErrBadStatus)
}
