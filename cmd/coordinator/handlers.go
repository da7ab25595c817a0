package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dreamware/drift/internal/cluster"
	"github.com/dreamware/drift/internal/coordinator"
	"github.com/dreamware/drift/internal/node"
	"github.com/dreamware/drift/internal/storage"
)

const requestIDHeader = "X-Request-ID"

type server struct {
	coord  *coordinator.Coordinator
	logger zerolog.Logger
}

func newServer(coord *coordinator.Coordinator, logger zerolog.Logger) *server {
	return &server{coord: coord, logger: logger}
}

func (s *server) routes() http.Handler {
	// Encoded matching keeps an escaped '/' inside {name} from splitting the
	// segment; fileName unescapes it.
	r := mux.NewRouter().UseEncodedPath()
	r.Use(s.requestID, s.accessLog)

	r.HandleFunc("/files/{name}", s.handleRead).Methods(http.MethodGet)
	r.HandleFunc("/files/{name}", s.handleWrite).Methods(http.MethodPut)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/filelocations", s.handleFileLocations).Methods(http.MethodGet)
	admin.HandleFunc("/files", s.handleFiles).Methods(http.MethodGet)
	admin.HandleFunc("/files/{name}", s.handleMembership).Methods(http.MethodGet)
	admin.HandleFunc("/nodes", s.handleNodes).Methods(http.MethodGet)
	admin.HandleFunc("/flush", s.handleFlush).Methods(http.MethodGet, http.MethodPost)
	admin.HandleFunc("/balance/read", s.handleReadBalance).Methods(http.MethodPost)
	admin.HandleFunc("/balance/server", s.handleServerBalance).Methods(http.MethodPost)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cluster.HealthResponse{Status: "ok", Nodes: s.coord.PoolSize()})
	}).Methods(http.MethodGet)
	return r
}

// requestID tags every request with an id, reusing the caller's if present.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("request_id", r.Header.Get(requestIDHeader)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrFileNotFound), errors.Is(err, node.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, node.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", r.Header.Get(requestIDHeader)).Msg("request failed")
	}
	writeJSON(w, status, cluster.ErrorResponse{Error: err.Error()})
}

func fileResponse(name string, vv storage.ValueVersion) cluster.FileResponse {
	return cluster.FileResponse{
		Name:     name,
		Value:    vv.Resolve(nil),
		Values:   vv.Values,
		Version:  vv.Version,
		Conflict: vv.Conflicted(),
	}
}

// fileName returns the unescaped {name} route variable.
func fileName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		return "", fmt.Errorf("%w: file name: %v", coordinator.ErrInvalidArgument, err)
	}
	return name, nil
}

func (s *server) handleRead(w http.ResponseWriter, r *http.Request) {
	name, err := fileName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vv, err := s.coord.Read(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse(name, vv))
}

func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	name, err := fileName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req cluster.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.ErrorResponse{Error: "bad json"})
		return
	}
	vv, err := s.coord.Write(r.Context(), name, req.Value, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse(name, vv))
}

func (s *server) handleFileLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.coord.FileLocations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := cluster.LocationsResponse{Files: make([]cluster.FileLocation, 0, len(locations))}
	for _, loc := range locations {
		fl := cluster.FileLocation{Name: loc.Name, Origin: loc.Origin}
		for _, rep := range loc.Replicas {
			fl.Replicas = append(fl.Replicas, cluster.ReplicaInfo{
				Error:   rep.Error,
				Value:   rep.Resolved,
				Values:  rep.Values,
				Node:    rep.Node,
				Version: rep.Version,
			})
		}
		resp.Files = append(resp.Files, fl)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.coord.Files(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.FilesResponse{Files: files})
}

// handleMembership reports placement metadata only; it reads no replica and
// records no access.
func (s *server) handleMembership(w http.ResponseWriter, r *http.Request) {
	name, err := fileName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	origin, err := s.coord.Origin(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.coord.Members(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.MembershipResponse{Name: name, Origin: origin, Members: members})
}

func (s *server) handleNodes(w http.ResponseWriter, r *http.Request) {
	infos := s.coord.Nodes()
	resp := cluster.NodesResponse{Nodes: make([]cluster.NodeInfo, 0, len(infos))}
	for _, info := range infos {
		resp.Nodes = append(resp.Nodes, cluster.NodeInfo{
			ID:        info.ID,
			Available: info.Available,
			Files:     info.Storage.Files,
			Conflicts: info.Storage.Conflicts,
			Reads:     info.Ops.Reads,
			Writes:    info.Ops.Writes,
			Replicas:  info.Ops.Replicas,
			Deletes:   info.Ops.Deletes,
			Dropped:   info.Ops.Dropped,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Reset(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReadBalance reports per-file failures in the body rather than as a
// status code, since the rest of the pass still ran.
func (s *server) handleReadBalance(w http.ResponseWriter, r *http.Request) {
	adjustments, err := s.coord.ReadBalance(r.Context())
	resp := cluster.ReadBalanceResponse{Adjustments: make([]cluster.Adjustment, 0, len(adjustments))}
	for _, a := range adjustments {
		resp.Adjustments = append(resp.Adjustments, cluster.Adjustment(a))
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleServerBalance(w http.ResponseWriter, r *http.Request) {
	m, err := s.coord.ServerBalance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.ServerBalanceResponse(m))
}
