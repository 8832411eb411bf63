package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/tracker/internal/logger"
	"github.com/smallnest/tracker/tracker"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Handler JSON-RPC 方法处理器
type Handler struct {
	registry *MethodRegistry
	svc      *tracker.Service
}

// NewHandler 创建处理器
func NewHandler(svc *tracker.Service) *Handler {
	h := &Handler{
		registry: NewMethodRegistry(),
		svc:      svc,
	}

	// 注册系统方法
	h.registerSystemMethods()

	// 注册任务方法
	h.registerTaskMethods()

	// 注册报告与附件方法
	h.registerReportMethods()
	h.registerAttachmentMethods()

	return h
}

// HandleRequest 处理请求
func (h *Handler) HandleRequest(ctx context.Context, sessionID string, req *JSONRPCRequest) *JSONRPCResponse {
	if req == nil {
		return NewErrorResponse("", ErrorInvalidRequest, "nil request")
	}

	result, err := h.registry.Call(ctx, req.Method, sessionID, req.Params)
	if err != nil {
		code, kind := rpcErrorCode(err)
		if code == ErrorInternalError {
			logger.Error("Method execution failed",
				zap.String("method", req.Method),
				zap.String("session_id", sessionID),
				zap.Error(err))
		} else {
			logger.Debug("Method rejected",
				zap.String("method", req.Method),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		resp := NewErrorResponse(req.ID, code, err.Error())
		resp.Error.Data = kind
		return resp
	}

	return NewSuccessResponse(req.ID, result)
}

// rpcErrorCode maps an error to its JSON-RPC code and tracker error kind.
func rpcErrorCode(err error) (int, string) {
	var mnf *MethodNotFoundError
	if errors.As(err, &mnf) {
		return ErrorMethodNotFound, ""
	}
	var ip *InvalidParamsError
	if errors.As(err, &ip) {
		return ErrorInvalidParams, string(tracker.KindValidation)
	}

	kind := tracker.KindOf(err)
	switch kind {
	case tracker.KindNotFound:
		return ErrorNotFound, string(kind)
	case tracker.KindValidation, tracker.KindInsufficientEvidence, tracker.KindPayloadTooLarge, tracker.KindNoFileProvided:
		return ErrorInvalidParams, string(kind)
	default:
		return ErrorInternalError, string(kind)
	}
}

// registerSystemMethods 注册系统方法
func (h *Handler) registerSystemMethods() {
	// health - 健康检查
	h.registry.Register("health", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		return map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"version":   ProtocolVersion,
			"methods":   h.registry.Methods(),
		}, nil
	})
}

// registerTaskMethods 注册任务方法
func (h *Handler) registerTaskMethods() {
	// tasks.list - 按 status / assignee 过滤
	h.registry.Register("tasks.list", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		filter, err := filterParam(params)
		if err != nil {
			return nil, err
		}
		return h.svc.ListTasks(ctx, filter)
	})

	h.registry.Register("tasks.get", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		id, err := idParam(params, "id")
		if err != nil {
			return nil, err
		}
		return h.svc.GetTask(ctx, id)
	})

	h.registry.Register("tasks.create", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		patch, err := tracker.ParseTaskPatch(params)
		if err != nil {
			return nil, err
		}
		return h.svc.CreateTask(ctx, patch)
	})

	// tasks.update - id 之外的字段按合并语义更新
	h.registry.Register("tasks.update", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		id, err := idParam(params, "id")
		if err != nil {
			return nil, err
		}
		patch, err := tracker.ParseTaskPatch(params)
		if err != nil {
			return nil, err
		}
		return h.svc.UpdateTask(ctx, id, patch)
	})

	h.registry.Register("tasks.summary", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		filter, err := filterParam(params)
		if err != nil {
			return nil, err
		}
		return h.svc.Summary(ctx, filter)
	})
}

// registerReportMethods 注册报告方法
func (h *Handler) registerReportMethods() {
	h.registry.Register("reports.submit", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		taskID, err := idParam(params, "task_id")
		if err != nil {
			return nil, err
		}
		input, err := tracker.ParseReportInput(params)
		if err != nil {
			return nil, err
		}
		return h.svc.SubmitReport(ctx, taskID, input)
	})

	h.registry.Register("reports.list", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		taskID, err := idParam(params, "task_id")
		if err != nil {
			return nil, err
		}
		return h.svc.ListReports(ctx, taskID)
	})
}

// registerAttachmentMethods 注册附件方法，上传只走 HTTP multipart
func (h *Handler) registerAttachmentMethods() {
	h.registry.Register("attachments.list", func(ctx context.Context, sessionID string, params json.RawMessage) (interface{}, error) {
		taskID, err := idParam(params, "task_id")
		if err != nil {
			return nil, err
		}
		return h.svc.ListAttachments(ctx, taskID)
	})
}

// idParam reads a positive integer id given as a JSON number or numeric string.
func idParam(params json.RawMessage, key string) (int64, error) {
	v := gjson.GetBytes(params, key)
	switch v.Type {
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) || v.Num <= 0 {
			return 0, &InvalidParamsError{Message: key + " must be a positive integer"}
		}
		return v.Int(), nil
	case gjson.String:
		return parseID(v.String(), key)
	default:
		return 0, &InvalidParamsError{Message: key + " parameter is required"}
	}
}

func filterParam(params json.RawMessage) (tracker.TaskFilter, error) {
	var filter tracker.TaskFilter
	for key, dst := range map[string]*string{
		"status":   (*string)(&filter.Status),
		"assignee": &filter.Assignee,
	} {
		v := gjson.GetBytes(params, key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type != gjson.String {
			return filter, &InvalidParamsError{Message: key + " must be a string"}
		}
		*dst = strings.TrimSpace(v.String())
	}
	return filter, nil
}

func parseID(raw, key string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &InvalidParamsError{Message: "invalid " + key + ": " + raw}
	}
	return id, nil
}
