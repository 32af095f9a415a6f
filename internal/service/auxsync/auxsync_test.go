package auxsync

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jgivc/modsync/internal/adapter/fetcher"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	httphandler "github.com/jgivc/modsync/internal/handler/http"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	dataDir    = "/data/tera-data"
	mirrorRoot = "/srv"
)

type dataMirror struct {
	srv  *httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newDataMirror(t *testing.T, files map[string]string) *dataMirror {
	t.Helper()

	remote := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(remote, mirrorRoot+"/"+name, []byte(content), 0644))
	}

	dm := &dataMirror{hits: map[string]int{}}
	h := httphandler.NewMirrorHandler(remote, mirrorRoot, "", discardLog())
	dm.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dm.mu.Lock()
		dm.hits[r.URL.Path]++
		dm.mu.Unlock()

		h.ServeHTTP(w, r)
	}))
	t.Cleanup(dm.srv.Close)

	return dm
}

func (dm *dataMirror) count(path string) int {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.hits[path]
}

func (dm *dataMirror) total() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	n := 0
	for _, c := range dm.hits {
		n += c
	}

	return n
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newService(fs afero.Fs, servers ...string) *AuxService {
	return NewAuxService(fs, fetcher.New(fs, nil, discardLog()), dataDir, servers, false, discardLog())
}

func TestResolveDependency(t *testing.T) {
	dep := entity.Dependency{Name: "S_LOGIN", Version: "13"}

	testCases := []struct {
		name         string
		remote       map[string]string
		local        map[string]string
		expectOK     bool
		expectFiles  []string
		expectNoHits bool
	}{
		{
			name:        "Generic definition",
			remote:      map[string]string{"protocol/S_LOGIN.13.def": "generic"},
			expectOK:    true,
			expectFiles: []string{"protocol/S_LOGIN.13.def"},
		},
		{
			name: "Platform pair",
			remote: map[string]string{
				"protocol/S_LOGIN.13.pc.def":  "pc",
				"protocol/S_LOGIN.13.con.def": "con",
			},
			expectOK:    true,
			expectFiles: []string{"protocol/S_LOGIN.13.pc.def", "protocol/S_LOGIN.13.con.def"},
		},
		{
			name:   "Only pc variant",
			remote: map[string]string{"protocol/S_LOGIN.13.pc.def": "pc"},
		},
		{
			name:   "Nothing published",
			remote: map[string]string{},
		},
		{
			name:         "Already present",
			local:        map[string]string{"protocol/S_LOGIN.13.def": "generic"},
			expectOK:     true,
			expectNoHits: true,
		},
		{
			name: "Pair already present",
			local: map[string]string{
				"protocol/S_LOGIN.13.pc.def":  "pc",
				"protocol/S_LOGIN.13.con.def": "con",
			},
			expectOK:     true,
			expectNoHits: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dm := newDataMirror(t, tc.remote)

			fs := afero.NewMemMapFs()
			for name, content := range tc.local {
				require.NoError(t, afero.WriteFile(fs, dataDir+"/"+name, []byte(content), 0644))
			}

			o := newService(fs, dm.srv.URL).ResolveDependency(context.Background(), dep)
			require.Equal(t, "S_LOGIN.13.def", o.ID)
			require.Equal(t, tc.expectOK, o.OK)
			if tc.expectOK {
				require.NoError(t, o.Err)
			} else {
				require.ErrorIs(t, o.Err, common.ErrMirrorsExhausted)
			}

			if tc.expectNoHits {
				require.Zero(t, dm.total())
			}

			for _, name := range tc.expectFiles {
				data, err := afero.ReadFile(fs, dataDir+"/"+name)
				require.NoError(t, err)
				require.Equal(t, tc.remote[name], string(data))
			}
		})
	}
}

func TestResolveDependencyFailover(t *testing.T) {
	empty := newDataMirror(t, nil)
	full := newDataMirror(t, map[string]string{"protocol/X.3.def": "x"})

	fs := afero.NewMemMapFs()
	o := newService(fs, empty.srv.URL, full.srv.URL).ResolveDependency(context.Background(), entity.Dependency{Name: "X", Version: "3"})
	require.True(t, o.OK)
	require.Equal(t, 1, empty.count("/protocol/X.3.def"))
	require.Equal(t, 1, full.count("/protocol/X.3.def"))
}

func TestResolveDependencies(t *testing.T) {
	dm := newDataMirror(t, map[string]string{
		"protocol/C_CHECK_VERSION.1.def": "check",
		"protocol/X.3.def":               "x",
	})

	set := entity.DependencySet{}
	set.Add(entity.Dependency{Name: "C_CHECK_VERSION", Version: "1"})
	set.Add(entity.Dependency{Name: "X", Version: "3"})
	set.Add(entity.Dependency{Name: "Y", Version: "1"})

	for _, sequential := range []bool{true, false} {
		fs := afero.NewMemMapFs()
		s := NewAuxService(fs, fetcher.New(fs, nil, discardLog()), dataDir, []string{dm.srv.URL}, sequential, discardLog())

		outcomes := s.ResolveDependencies(context.Background(), set)
		require.Len(t, outcomes, 3)
		require.Equal(t, "C_CHECK_VERSION.1.def", outcomes[0].ID)
		require.True(t, outcomes[0].OK)
		require.Equal(t, "X.3.def", outcomes[1].ID)
		require.True(t, outcomes[1].OK)
		require.Equal(t, "Y.1.def", outcomes[2].ID)
		require.False(t, outcomes[2].OK)
	}
}

func TestResolveRegionMaps(t *testing.T) {
	protoEU, sysEU := "proto 350000", "sys 350000"
	protoNA, sysNA := "proto 350001", "sys 350001"

	mappings := `{
	"EU": {"version": 350000, "major_patch": 92, "minor_patch": 4, "protocol_hash": "` + util.HashBytes([]byte(protoEU)) + `", "sysmsg_hash": "` + util.HashBytes([]byte(sysEU)) + `"},
	"NA": {"version": 350001, "major_patch": 92, "minor_patch": 3, "protocol_hash": "` + util.HashBytes([]byte(protoNA)) + `", "sysmsg_hash": ""},
	"RU": {"version": 350000, "major_patch": 92, "minor_patch": 4, "protocol_hash": "` + util.HashBytes([]byte(protoEU)) + `", "sysmsg_hash": "` + util.HashBytes([]byte(sysEU)) + `"}
}`

	dm := newDataMirror(t, map[string]string{
		"mappings.json":                mappings,
		"map_base/protocol.350000.map": protoEU,
		"map_base/sysmsg.350000.map":   sysEU,
		"map_base/protocol.350001.map": protoNA,
		"map_base/sysmsg.350001.map":   sysNA,
	})

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, dataDir+"/map_base/protocol.350000.map", []byte("stale"), 0644))
	require.NoError(t, afero.WriteFile(fs, dataDir+"/map_base/sysmsg.350001.map", []byte("customized"), 0644))
	require.NoError(t, afero.WriteFile(fs, dataDir+"/map/protocol.350000.map", []byte("custom layer"), 0644))

	table, outcomes, err := newService(fs, dm.srv.URL).ResolveRegionMaps(context.Background())
	require.NoError(t, err)

	require.Equal(t, entity.ProtocolTable{
		350000: {Region: "EU", MajorPatch: 92, MinorPatch: 4},
		350001: {Region: "NA", MajorPatch: 92, MinorPatch: 3},
	}, table)

	// sysmsg.350001.map has no published hash and exists, so it is left alone.
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		require.True(t, o.OK, o.ID)
	}
	require.Equal(t, 1, dm.count("/map_base/protocol.350000.map"))
	require.Zero(t, dm.count("/map_base/sysmsg.350001.map"))

	for name, expect := range map[string]string{
		"map_base/protocol.350000.map": protoEU,
		"map_base/sysmsg.350000.map":   sysEU,
		"map_base/protocol.350001.map": protoNA,
		"map_base/sysmsg.350001.map":   "customized",
		"map/protocol.350000.map":      "custom layer",
	} {
		data, err := afero.ReadFile(fs, dataDir+"/"+name)
		require.NoError(t, err)
		require.Equal(t, expect, string(data), name)
	}

	_, outcomes, err = newService(fs, dm.srv.URL).ResolveRegionMaps(context.Background())
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

func TestResolveRegionMapsErrors(t *testing.T) {
	testCases := []struct {
		name            string
		mappings        string
		expectMalformed bool
	}{
		{name: "Not json", mappings: "<html></html>", expectMalformed: true},
		{name: "Empty object", mappings: "{}", expectMalformed: true},
		{name: "Array", mappings: "[]", expectMalformed: true},
		{name: "Missing version", mappings: `{"EU": {"major_patch": 1}}`, expectMalformed: true},
		{name: "Not published"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			files := map[string]string{}
			if tc.mappings != "" {
				files["mappings.json"] = tc.mappings
			}
			dm := newDataMirror(t, files)

			table, outcomes, err := newService(afero.NewMemMapFs(), dm.srv.URL).ResolveRegionMaps(context.Background())
			if tc.expectMalformed {
				require.ErrorIs(t, err, common.ErrMalformedMappings)
				require.Nil(t, table)

				return
			}

			require.NoError(t, err)
			require.Empty(t, table)
			require.Len(t, outcomes, 1)
			require.Equal(t, MappingsFileName, outcomes[0].ID)
			require.False(t, outcomes[0].OK)
		})
	}
}
