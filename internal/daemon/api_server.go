package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"lathe/internal/api"
	"lathe/internal/config"
	"lathe/internal/logging"
	"lathe/internal/orchestrator"
	"lathe/internal/queue"
	"lathe/internal/services"
	"lathe/internal/staging"
)

const maxUploadBytes = 512 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/shutdown", srv.handleShutdown)
	mux.HandleFunc("/api/batches", srv.handleBatches)
	mux.HandleFunc("/api/batches/", srv.handleBatch)
	mux.HandleFunc("/api/tasks/", srv.handleTask)

	// No write timeout: the event endpoints hold the response open for the
	// life of the stream.
	srv.server = &http.Server{
		Handler:           srv.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workers:      status.Workers,
		Depths:       status.Depths,
		Health:       api.FromHealth(status.Health),
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	// Respond before tearing the server down.
	go s.daemon.RequestShutdown()
}

func (s *apiServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listBatches(w, r)
	case http.MethodPost:
		s.submitBatch(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

func (s *apiServer) listBatches(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.BatchStatus
	if value := strings.TrimSpace(r.URL.Query().Get("status")); value != "" {
		for _, part := range strings.Split(value, ",") {
			statuses = append(statuses, queue.BatchStatus(strings.TrimSpace(part)))
		}
	}
	batches, err := s.daemon.store.ListBatches(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	items := make([]api.Batch, 0, len(batches))
	for _, batch := range batches {
		items = append(items, api.FromBatch(batch))
	}
	s.writeJSON(w, http.StatusOK, api.BatchListResponse{Batches: items})
}

func (s *apiServer) submitBatch(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeSubmit(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	batch, tasks, err := s.daemon.orch.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	ids := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	s.writeJSON(w, http.StatusCreated, api.SubmitResponse{
		Batch:   api.FromBatch(batch),
		TaskIDs: ids,
	})
}

// decodeSubmit accepts either a JSON submission referencing existing inputs
// or a multipart upload whose files are staged locally first.
func (s *apiServer) decodeSubmit(r *http.Request) (orchestrator.SubmitRequest, error) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "multipart/form-data" {
		return s.decodeMultipartSubmit(r)
	}

	var body api.SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		return orchestrator.SubmitRequest{}, services.Wrap(services.ErrValidation, "api", "submit", "invalid request body", err)
	}
	req := orchestrator.SubmitRequest{Detail: body.Detail}
	for _, item := range body.Items {
		req.Items = append(req.Items, orchestrator.SubmitItem{InputRef: item.Input, Kind: item.Kind})
	}
	return req, nil
}

func (s *apiServer) decodeMultipartSubmit(r *http.Request) (orchestrator.SubmitRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return orchestrator.SubmitRequest{}, services.Wrap(services.ErrValidation, "api", "submit", "invalid multipart form", err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := orchestrator.SubmitRequest{
		Detail: r.FormValue("detail"),
	}
	kind := r.FormValue("kind")
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		return orchestrator.SubmitRequest{}, services.Wrap(services.ErrValidation, "api", "submit", "multipart submission carries no files", nil)
	}
	for _, header := range r.MultipartForm.File["files"] {
		staged, err := s.stageUpload(header.Filename, func() (io.ReadCloser, error) { return header.Open() })
		if err != nil {
			return orchestrator.SubmitRequest{}, err
		}
		req.Items = append(req.Items, orchestrator.SubmitItem{InputRef: staged, Kind: kind})
	}
	return req, nil
}

func (s *apiServer) stageUpload(name string, open func() (io.ReadCloser, error)) (string, error) {
	src, err := open()
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "api", "submit", "open uploaded file", err)
	}
	defer src.Close()

	staged, err := staging.Stage(s.daemon.cfg.Paths.StagingDir, name, src)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "api", "submit", "stage uploaded file", err)
	}
	return staged, nil
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	id, action, ok := splitResource(rest)
	if !ok {
		s.writeError(w, http.StatusNotFound, "batch not found", string(services.KindNotFound))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.describeBatch(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelBatch(w, r, id)
	case action == "events" && r.Method == http.MethodGet:
		s.streamBatch(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

func (s *apiServer) describeBatch(w http.ResponseWriter, r *http.Request, id string) {
	batch, tasks, err := s.daemon.orch.BatchStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	dto := api.BatchResponse{Batch: api.FromBatchSnapshot(*batch)}
	for _, task := range tasks {
		dto.Tasks = append(dto.Tasks, api.FromTaskSnapshot(task))
	}
	s.writeJSON(w, http.StatusOK, dto)
}

func (s *apiServer) cancelBatch(w http.ResponseWriter, r *http.Request, id string) {
	batch, err := s.daemon.orch.CancelBatch(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	tasks, err := s.daemon.store.TasksForBatch(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := api.CancelResponse{BatchID: batch.ID}
	for _, task := range tasks {
		if task.Status == queue.TaskCancelled {
			resp.Cancelled = append(resp.Cancelled, task.ID)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	idStr, action, ok := splitResource(rest)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found", string(services.KindNotFound))
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid task id", string(services.KindValidation))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.describeTask(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelTask(w, r, id)
	case action == "events" && r.Method == http.MethodGet:
		s.streamTask(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

func (s *apiServer) describeTask(w http.ResponseWriter, r *http.Request, id int64) {
	snap, err := s.daemon.orch.TaskStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTaskSnapshot(*snap)})
}

func (s *apiServer) cancelTask(w http.ResponseWriter, r *http.Request, id int64) {
	task, err := s.daemon.orch.CancelTask(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := api.CancelResponse{BatchID: task.BatchID}
	if task.Status == queue.TaskCancelled {
		resp.Cancelled = []int64{task.ID}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// splitResource parses "<id>" or "<id>/<action>" path remainders.
func splitResource(rest string) (id, action string, ok bool) {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
		if strings.Contains(action, "/") {
			return "", "", false
		}
	}
	return id, action, true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status, kind := api.StatusForError(err)
	s.writeError(w, status, err.Error(), kind)
}

// withRequestID tags every request context with a correlation identifier so
// downstream logs can be tied back to the originating call.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), uuid.NewString())
		logging.WithContext(ctx, s.log()).Debug("api request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
