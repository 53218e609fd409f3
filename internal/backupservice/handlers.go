package backupservice

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	rcdhttp "github.com/infra-structure/RAMCloud/internal/http"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

// Server wires a Store's operations to chi routes under /segments, the
// HTTP surface backup.Client dials.
type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Routes returns a mountable chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/segments/open", s.handleOpen)
	r.Post("/segments/write", s.handleWrite)
	r.Post("/segments/close", s.handleClose)
	r.Post("/segments/free", s.handleFree)
	r.Post("/segments/recovery-data", s.handleRecoveryData)
	r.Get("/health", s.handleHealth)
	return r
}

type segmentRequest struct {
	MasterID  uint64 `json:"master_id"`
	SegmentID uint64 `json:"segment_id"`
}

type writeRequest struct {
	MasterID  uint64 `json:"master_id"`
	SegmentID uint64 `json:"segment_id"`
	Offset    uint32 `json:"offset"`
	Data      string `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, resp rcdhttp.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("backupservice: failed to encode response", "err", err)
	}
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeJSON(w, http.StatusBadRequest, rcdhttp.NewErrorResponse("decode request: "+err.Error()))
		return v, false
	}
	return v, true
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[segmentRequest](w, r)
	if !ok {
		return
	}
	if err := s.store.Open(types.LogID(req.MasterID), types.SegmentID(req.SegmentID)); err != nil {
		writeJSON(w, http.StatusConflict, rcdhttp.NewErrorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rcdhttp.NewSuccessResponse())
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[writeRequest](w, r)
	if !ok {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rcdhttp.NewErrorResponse("decode payload: "+err.Error()))
		return
	}
	if err := s.store.Write(r.Context(), types.SegmentID(req.SegmentID), req.Offset, data); err != nil {
		writeJSON(w, http.StatusInternalServerError, rcdhttp.NewErrorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rcdhttp.NewSuccessResponse())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[segmentRequest](w, r)
	if !ok {
		return
	}
	if err := s.store.Close(types.SegmentID(req.SegmentID)); err != nil {
		writeJSON(w, http.StatusConflict, rcdhttp.NewErrorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rcdhttp.NewSuccessResponse())
}

func (s *Server) handleFree(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[segmentRequest](w, r)
	if !ok {
		return
	}
	if err := s.store.Free(types.SegmentID(req.SegmentID)); err != nil {
		writeJSON(w, http.StatusConflict, rcdhttp.NewErrorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rcdhttp.NewSuccessResponse())
}

func (s *Server) handleRecoveryData(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[segmentRequest](w, r)
	if !ok {
		return
	}
	data, err := s.store.GetRecoveryData(types.SegmentID(req.SegmentID))
	if err != nil {
		writeJSON(w, http.StatusNotFound, rcdhttp.NewErrorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rcdhttp.NewValueResponse(base64.StdEncoding.EncodeToString(data)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rcdhttp.NewOKResponse())
}
