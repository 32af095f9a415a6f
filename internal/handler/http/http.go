package httphandler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/spf13/afero"
)

const (
	authParamName = "drmKey"
	lastRunID     = "last"
)

type ReportService interface {
	LastRunID(ctx context.Context) (string, error)
	GetPage(ctx context.Context, id string) (string, error)
	GetStatuses(ctx context.Context, id string) (map[string]entity.UnitStatus, error)
	GetErrors(ctx context.Context, id string) (map[string]string, error)
	GetDependenciesOK(ctx context.Context, id string) (bool, error)
	RunIterator(ctx context.Context) iter.Seq2[string, error]
}

type runStatus struct {
	ID             string                       `json:"id"`
	DependenciesOK bool                         `json:"dependencies_ok"`
	Units          map[string]entity.UnitStatus `json:"units"`
	Errors         map[string]string            `json:"errors,omitempty"`
}

// NewMirrorHandler serves the tree under root the way a mirror publishes a unit:
// manifest.json next to the files it lists. When drmKey is set every request must
// carry it as the drmKey query parameter.
func NewMirrorHandler(fs afero.Fs, root, drmKey string, log *slog.Logger) http.Handler {
	log = log.With(slog.String("handler", "MirrorHandler"))
	files := http.FileServer(afero.NewHttpFs(fs).Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

			return
		}

		if drmKey != "" {
			key := r.URL.Query().Get(authParamName)
			if subtle.ConstantTimeCompare([]byte(key), []byte(drmKey)) != 1 {
				log.Warn("Rejected request", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
				http.Error(w, "Forbidden", http.StatusForbidden)

				return
			}
		}

		log.Debug("Serve file", slog.String("path", r.URL.Path))
		files.ServeHTTP(w, r)
	})
}

// NewReportPageHandler serves the rendered page of run {id}; "last" is the
// latest run.
func NewReportPageHandler(srv ReportService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ReportPageHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := resolveRunID(w, r, srv, log)
		if !ok {
			return
		}

		content, err := srv.GetPage(r.Context(), id)
		if err != nil {
			writeReportError(w, err, log)

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(content))
	}
}

// NewReportStatusHandler returns the unit statuses, errors and dependency
// state of run {id} as json.
func NewReportStatusHandler(srv ReportService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ReportStatusHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := resolveRunID(w, r, srv, log)
		if !ok {
			return
		}

		status := runStatus{ID: id}

		var err error
		if status.Units, err = srv.GetStatuses(r.Context(), id); err != nil {
			writeReportError(w, err, log)

			return
		}

		if status.DependenciesOK, err = srv.GetDependenciesOK(r.Context(), id); err != nil {
			writeReportError(w, err, log)

			return
		}

		if status.Errors, err = srv.GetErrors(r.Context(), id); err != nil {
			writeReportError(w, err, log)

			return
		}

		writeJSON(w, status)
	}
}

// NewRunListHandler returns the sorted ids of every stored run as json.
func NewRunListHandler(srv ReportService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "RunListHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		ids := []string{}
		for id, err := range srv.RunIterator(r.Context()) {
			if err != nil {
				writeReportError(w, err, log)

				return
			}

			ids = append(ids, id)
		}

		slices.Sort(ids)
		writeJSON(w, ids)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func resolveRunID(w http.ResponseWriter, r *http.Request, srv ReportService, log *slog.Logger) (string, bool) {
	id := r.PathValue("id")
	if id != lastRunID {
		if _, err := uuid.Parse(id); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return "", false
		}

		return id, true
	}

	id, err := srv.LastRunID(r.Context())
	if err != nil {
		writeReportError(w, err, log)

		return "", false
	}

	return id, true
}

func writeReportError(w http.ResponseWriter, err error, log *slog.Logger) {
	switch {
	case errors.Is(err, common.ErrReportNotFound):
		http.Error(w, "Report not found", http.StatusNotFound)
	default:
		log.Error("Cannot get report", slog.Any("error", err))
		http.Error(w, "Cannot get report", http.StatusInternalServerError)
	}
}
