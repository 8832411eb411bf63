package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/smallnest/tracker/internal/logger"
	"github.com/smallnest/tracker/tracker"
	"go.uber.org/zap"
)

// multipartOverhead 为 multipart 边界与头部预留的字节
const multipartOverhead = 64 << 10

// uploadField 附件上传的表单字段名
const uploadField = "file"

// registerREST 注册 REST 路由
func (s *Server) registerREST(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("POST /api/tasks/{id}/report", s.handleSubmitReport)
	mux.HandleFunc("GET /api/tasks/{id}/reports", s.handleListReports)
	mux.HandleFunc("POST /api/tasks/{id}/attachments", s.handleUploadAttachment)
	mux.HandleFunc("GET /api/tasks/{id}/attachments", s.handleListAttachments)
	mux.HandleFunc("GET /api/board/summary", s.handleSummary)

	if s.files != nil {
		mux.HandleFunc("GET "+s.files.PublicPrefix()+"/{id}/{filename}", s.handleServeAttachment)
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.svc.ListTasks(r.Context(), tracker.TaskFilter{
		Status:   tracker.Status(strings.TrimSpace(q.Get("status"))),
		Assignee: strings.TrimSpace(q.Get("assignee")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, s.maxMessageSize())
	if err != nil {
		writeError(w, err)
		return
	}
	patch, err := tracker.ParseTaskPatch(body)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.svc.CreateTask(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.svc.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := readBody(w, r, s.maxMessageSize())
	if err != nil {
		writeError(w, err)
		return
	}
	patch, err := tracker.ParseTaskPatch(body)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.svc.UpdateTask(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := readBody(w, r, s.maxMessageSize())
	if err != nil {
		writeError(w, err)
		return
	}
	input, err := tracker.ParseReportInput(body)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := s.svc.SubmitReport(r.Context(), id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	reports, err := s.svc.ListReports(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleUploadAttachment 流式读取 multipart 中的 file 字段，不在内存中缓存整个文件
func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.svc.GetTask(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	limit := s.maxUploadBytes()
	if r.ContentLength > limit+multipartOverhead {
		writeError(w, tracker.ErrPayloadTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, tracker.ErrNoFileProvided)
		return
	}

	part, err := nextFilePart(mr)
	if err != nil {
		writeError(w, uploadError(err))
		return
	}
	defer part.Close()

	att, err := s.svc.UploadAttachment(r.Context(), id, tracker.Upload{
		Reader:   part,
		Filename: path.Base(strings.ReplaceAll(part.FileName(), "\\", "/")),
		Size:     -1,
	})
	if err != nil {
		writeError(w, uploadError(err))
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	atts, err := s.svc.ListAttachments(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, atts)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Summary(r.Context(), tracker.TaskFilter{
		Assignee: strings.TrimSpace(r.URL.Query().Get("assignee")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleServeAttachment 返回已保存的附件内容
func (s *Server) handleServeAttachment(w http.ResponseWriter, r *http.Request) {
	f, err := s.files.Open(r.URL.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, tracker.ErrNotFound)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// nextFilePart skips non-file fields until the upload field is found.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, tracker.ErrNoFileProvided
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == uploadField && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// uploadError reports a body cut off by MaxBytesReader as PayloadTooLarge.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return tracker.ErrPayloadTooLarge
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, tracker.ErrStorage) {
			return err
		}
		return &tracker.Error{Kind: tracker.KindStorage, Message: "upload aborted", Err: err}
	}
	if tracker.KindOf(err) == tracker.KindStorage && !errors.Is(err, tracker.ErrStorage) {
		// multipart framing errors
		return &tracker.Error{Kind: tracker.KindValidation, Message: "malformed multipart body", Err: err}
	}
	return err
}

func pathID(r *http.Request) (int64, error) {
	id, err := parseID(r.PathValue("id"), "task id")
	if err != nil {
		return 0, &tracker.Error{Kind: tracker.KindValidation, Message: err.Error()}
	}
	return id, nil
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &tracker.Error{Kind: tracker.KindValidation, Message: "request body too large"}
		}
		return nil, &tracker.Error{Kind: tracker.KindValidation, Message: "failed to read request body", Err: err}
	}
	return body, nil
}

// httpStatus 错误分类到 HTTP 状态码
func httpStatus(err error) int {
	switch tracker.KindOf(err) {
	case tracker.KindNotFound:
		return http.StatusNotFound
	case tracker.KindValidation, tracker.KindInsufficientEvidence, tracker.KindPayloadTooLarge, tracker.KindNoFileProvided:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error":   string(tracker.KindOf(err)),
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}
