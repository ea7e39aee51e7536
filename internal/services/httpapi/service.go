package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ankur-anand/kvbulk/internal/services"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/httpstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxRequestBodySize is the maximum size of request body (64MB).
const maxRequestBodySize = 64 << 20

// maxScanLimit caps the rows returned by one scan page; clients follow Next.
const maxScanLimit = 10 * kvstore.DefaultScanCaching

// Implements the store HTTP API over one kvstore connection. Byte fields
// travel base64 encoded, as encoding/json does for []byte.

// Service implements HTTP API handlers for a store.
type Service struct {
	conn           kvstore.Connection
	healthResponse []byte
}

// NewService creates a new HTTP API service serving conn.
func NewService(backend string, conn kvstore.Connection) *Service {
	healthJSON, _ := json.Marshal(httpstore.HealthResponse{Status: "ok", Backend: backend})
	return &Service{conn: conn, healthResponse: healthJSON}
}

// RegisterRoutes registers all HTTP API routes with the given router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)

	router.HandleFunc(httpstore.APIPrefix+"/{table}", s.handleCreateTable).Methods(http.MethodPut)
	router.HandleFunc(httpstore.APIPrefix+"/{table}", s.handleDescribeTable).Methods(http.MethodGet)

	api := router.PathPrefix(httpstore.APIPrefix + "/{table}").Subrouter()
	api.HandleFunc("/mutate", s.handleMutate).Methods(http.MethodPost)
	api.HandleFunc("/batch", s.handleBatch).Methods(http.MethodPost)
	api.HandleFunc("/check-and-mutate", s.handleCheckAndMutate).Methods(http.MethodPost)
	api.HandleFunc("/batch-get", s.handleBatchGet).Methods(http.MethodPost)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		err := json.NewEncoder(w).Encode(data)
		if err != nil {
			slog.Error("[kvbulk.httpapi] error encoding response", "err", err)
		}
	}
}

func respondError(w http.ResponseWriter, r *http.Request, method string, err error) {
	code, msg := services.ToHTTPStatus(mux.Vars(r)["table"], requestID(r), method, err)
	respondJSON(w, code, httpstore.ErrorResponse{Error: msg})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(httpstore.RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", services.ErrInvalidRequest, err)
	}
	return nil
}

// openTable resolves the {table} route variable. The caller closes the handle.
func (s *Service) openTable(r *http.Request) (kvstore.Table, error) {
	name := mux.Vars(r)["table"]
	if name == "" {
		return nil, services.ErrMissingTable
	}
	return s.conn.Table(r.Context(), name)
}

func (s *Service) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["table"]
	if err := s.conn.CreateTable(r.Context(), name); err != nil {
		respondError(w, r, "create_table", err)
		return
	}
	respondJSON(w, http.StatusCreated, httpstore.SuccessResponse{Success: true})
}

func (s *Service) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	tbl, err := s.openTable(r)
	if err != nil {
		respondError(w, r, "describe_table", err)
		return
	}
	defer tbl.Close()
	respondJSON(w, http.StatusOK, map[string]string{"name": tbl.Name()})
}

func (s *Service) handleMutate(w http.ResponseWriter, r *http.Request) {
	var req httpstore.MutateRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, "mutate", err)
		return
	}
	m, err := req.Mutation.Mutation()
	if err != nil {
		respondError(w, r, "mutate", err)
		return
	}

	tbl, err := s.openTable(r)
	if err != nil {
		respondError(w, r, "mutate", err)
		return
	}
	defer tbl.Close()

	if err := tbl.Mutate(r.Context(), m); err != nil {
		respondError(w, r, "mutate", err)
		return
	}
	respondJSON(w, http.StatusOK, httpstore.SuccessResponse{Success: true})
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req httpstore.BatchRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, "batch", err)
		return
	}
	if len(req.Mutations) == 0 {
		respondError(w, r, "batch", services.ErrEmptyRequest)
		return
	}

	ms := make([]record.Mutation, 0, len(req.Mutations))
	for i, env := range req.Mutations {
		m, err := env.Mutation()
		if err != nil {
			respondError(w, r, "batch", fmt.Errorf("mutation %d: %w", i, err))
			return
		}
		ms = append(ms, m)
	}

	tbl, err := s.openTable(r)
	if err != nil {
		respondError(w, r, "batch", err)
		return
	}
	defer tbl.Close()

	if err := tbl.Batch(r.Context(), ms); err != nil {
		respondError(w, r, "batch", err)
		return
	}
	respondJSON(w, http.StatusOK, httpstore.SuccessResponse{Success: true})
}

func (s *Service) handleCheckAndMutate(w http.ResponseWriter, r *http.Request) {
	var req httpstore.MutateRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, "check_and_mutate", err)
		return
	}
	cm, err := req.Mutation.Conditional()
	if err != nil {
		respondError(w, r, "check_and_mutate", err)
		return
	}

	tbl, err := s.openTable(r)
	if err != nil {
		respondError(w, r, "check_and_mutate", err)
		return
	}
	defer tbl.Close()

	applied, err := tbl.CheckAndMutate(r.Context(), cm)
	if err != nil {
		respondError(w, r, "check_and_mutate", err)
		return
	}
	respondJSON(w, http.StatusOK, httpstore.CheckAndMutateResponse{Applied: applied})
}

func (s *Service) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	var req httpstore.BatchGetRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, "batch_get", err)
		return
	}

	tbl, err := s.openTable(r)
	if err != nil {
		respondError(w, r, "batch_get", err)
		return
	}
	defer tbl.Close()

	results, err := tbl.BatchGet(r.Context(), req.Gets)
	if err != nil {
		respondError(w, r, "batch_get", err)
		return
	}
	if results == nil {
		results = []record.Result{}
	}
	respondJSON(w, http.StatusOK, httpstore.BatchGetResponse{Results: results})
}

func (s *Service) handleScan(w http.ResponseWriter, r *http.Request) {
	var req httpstore.ScanRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, "scan", err)
		return
	}

	tbl, err := s.openTable(r)
	if err != nil {
		respondError(w, r, "scan", err)
		return
	}
	defer tbl.Close()

	limit := min(req.Limit, maxScanLimit)
	page, err := tbl.ScanPage(r.Context(), req.Scan, req.From, limit)
	if err != nil {
		respondError(w, r, "scan", err)
		return
	}
	if page.Rows == nil {
		page.Rows = []record.Result{}
	}
	respondJSON(w, http.StatusOK, page)
}

// HandleHealth handles the /health endpoint for server health checks.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(s.healthResponse); err != nil {
		slog.Error("[kvbulk.httpapi] error writing health response", "err", err)
	}
}
