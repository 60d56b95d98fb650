// Package httpapi implements the four JSON/HTTP handlers the front door
// multiplexes onto the conversion and query workers, per the external
// interfaces section of the design: job creation, NL query, status
// polling, and context updates. Routing uses net/http.ServeMux's
// Go 1.22+ method+path patterns rather than introducing a router
// dependency, since no example repo in the pack demonstrates this exact
// HTTP-surface shape.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"parquetconv/internal/config"
	"parquetconv/internal/errs"
	"parquetconv/internal/jobmodel"
	"parquetconv/internal/jobstore"
	"parquetconv/internal/llm"
	"parquetconv/internal/objectstore"
	"parquetconv/internal/query"
	"parquetconv/internal/queue"
)

// Handler wires the job store, job queue, object store, LLM, and query
// engine into the HTTP surface.
type Handler struct {
	Jobs      *jobstore.Store
	Queue     *queue.Queue
	Objects   objectstore.GetObjecter
	Bucket    string
	Completer llm.Completer
	Config    *config.Config
	Log       zerolog.Logger

	// MaxQueryBytes bounds how much of a Parquet object generate-parquet-query
	// will buffer in memory; requests over this are rejected as QueryTooLarge.
	MaxQueryBytes int64
}

// Routes builds the ServeMux for all four endpoints.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /parquet-creation", h.handleCreate)
	mux.HandleFunc("POST /generate-parquet-query", h.handleQuery)
	mux.HandleFunc("GET /poll-parquet-status/{job_id}", h.handlePoll)
	mux.HandleFunc("POST /update-context", h.handleUpdateContext)
	return mux
}

type schemaItem struct {
	Column string `json:"column"`
	Type   string `json:"type"`
}

type createRequest struct {
	S3Key       string            `json:"s3_key"`
	JobID       string            `json:"job_id"`
	ContextText string            `json:"context_text"`
	Schema      map[string]string `json:"schema"`
	Payload     []schemaItem      `json:"payload"`
}

type createResponse struct {
	ParquetKey string `json:"parquet_key"`
}

// handleCreate creates a pending job record and enqueues a conversion
// job message. Idempotent on job_id: a repeat call for an already-known
// job returns the same parquet_key without creating a duplicate record
// or enqueueing a second message.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" || req.S3Key == "" {
		writeJSONError(w, http.StatusBadRequest, "job_id and s3_key are required")
		return
	}

	existing, err := h.Jobs.Get(r.Context(), req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusOK, createResponse{ParquetKey: existing.ParquetKey})
		return
	}

	rec, err := h.Jobs.CreatePending(r.Context(), req.JobID, req.S3Key)
	if err != nil {
		writeError(w, err)
		return
	}

	schema := make([]jobmodel.SchemaItem, 0, len(req.Payload))
	for _, c := range req.Payload {
		schema = append(schema, jobmodel.SchemaItem{Column: c.Column, Type: jobmodel.LogicalType(c.Type)})
	}

	if err := h.Queue.Enqueue(r.Context(), jobmodel.JobMessage{
		JobID:  req.JobID,
		S3Key:  req.S3Key,
		Schema: schema,
	}); err != nil {
		writeError(w, err)
		return
	}

	if req.ContextText != "" {
		_ = h.Jobs.UpdateContext(r.Context(), req.JobID, req.ContextText)
	}

	writeJSON(w, http.StatusOK, createResponse{ParquetKey: rec.ParquetKey})
}

type queryRequest struct {
	Message    string `json:"message"`
	ParquetKey string `json:"parquet_key"`
	JobID      string `json:"job_id"`
}

type queryResponse struct {
	ResponseMessage string `json:"response_message"`
}

// handleQuery answers one natural-language question about a completed
// dataset, per C5's protocol: require state=succeeded, fetch the
// Parquet bytes, run the two-pass LLM query, and return the rendered
// answer.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.Jobs.Get(r.Context(), req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil || rec.State != jobmodel.StateSucceeded {
		writeError(w, errs.New(errs.NotReady, "job is not ready for querying", nil))
		return
	}

	parquetBytes, err := h.fetchParquet(r.Context(), rec.ParquetKey)
	if err != nil {
		writeError(w, err)
		return
	}

	engine, err := query.Open(r.Context(), parquetBytes, h.Log)
	if err != nil {
		writeError(w, err)
		return
	}
	defer engine.Close()

	answer, err := query.Answer(r.Context(), engine, h.Config, h.Completer, rec.OrderedColumns(), rec.Context, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{ResponseMessage: answer.Message})
}

// fetchParquet reads the whole Parquet object into memory, bounded by
// MaxQueryBytes, using the same chunked reader C1 uses for ingestion.
func (h *Handler) fetchParquet(ctx context.Context, key string) ([]byte, error) {
	reader, err := objectstore.NewChunkedReader(ctx, h.Objects, h.Bucket, key, h.Config.ChunkBytes)
	if err != nil {
		return nil, err
	}
	if h.MaxQueryBytes > 0 && reader.Size() > h.MaxQueryBytes {
		return nil, errs.New(errs.QueryTooLarge, "parquet object exceeds query size cap", nil)
	}

	buf := make([]byte, 0, reader.Size())
	err = reader.ReadAllChunks(ctx, func(chunk []byte) error {
		buf = append(buf, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

type pollResponse struct {
	ParquetComplete bool                          `json:"parquet_complete"`
	Schema          map[string]jobmodel.LogicalType `json:"schema,omitempty"`
	Context         string                        `json:"context,omitempty"`
}

// handlePoll reports whether the job has reached state=succeeded.
func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	rec, err := h.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, pollResponse{ParquetComplete: false})
		return
	}

	resp := pollResponse{ParquetComplete: rec.State == jobmodel.StateSucceeded}
	if resp.ParquetComplete {
		resp.Schema = rec.Schema
		resp.Context = rec.Context
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateContextRequest struct {
	Context string `json:"context"`
	JobID   string `json:"job_id"`
}

// handleUpdateContext mutates only the job's free-text context.
func (h *Handler) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var req updateContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Jobs.UpdateContext(r.Context(), req.JobID, req.Context); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "reading request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorEnvelope{Error: msg})
}

// writeError maps a typed error to its HTTP status and an error
// envelope carrying its Kind, per §7's error table.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := errs.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: err.Error()})
		return
	}
	writeJSON(w, errs.HTTPStatus(kind), errorEnvelope{Error: err.Error(), Kind: string(kind)})
}
