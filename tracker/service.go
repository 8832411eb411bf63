package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallnest/tracker/internal/logger"
	"go.uber.org/zap"
)

// Service 编排任务、报告与附件操作
type Service struct {
	tasks       TaskRepository
	reports     ReportRepository
	attachments AttachmentStore
	now         func() time.Time
}

// NewService 创建服务
func NewService(tasks TaskRepository, reports ReportRepository, attachments AttachmentStore) *Service {
	return &Service{
		tasks:       tasks,
		reports:     reports,
		attachments: attachments,
		now:         time.Now,
	}
}

// ListTasks 列出任务
func (s *Service) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	if filter.Status != "" {
		status, err := ParseStatus(string(filter.Status))
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	return s.tasks.ListTasks(ctx, filter)
}

// CreateTask 创建任务
func (s *Service) CreateTask(ctx context.Context, patch TaskPatch) (*Task, error) {
	task, err := s.tasks.CreateTask(ctx, patch)
	if err != nil {
		return nil, err
	}
	logger.Info("Task created",
		zap.Int64("task_id", task.ID),
		zap.String("title", task.Title),
		zap.String("status", string(task.Status)),
	)
	return task, nil
}

// GetTask 获取任务，不存在时返回 ErrTaskNotFound
func (s *Service) GetTask(ctx context.Context, id int64) (*Task, error) {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, taskNotFound(id)
	}
	return task, nil
}

// UpdateTask 合并更新任务
func (s *Service) UpdateTask(ctx context.Context, id int64, patch TaskPatch) (*Task, error) {
	task, err := s.tasks.UpdateTask(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	logger.Info("Task updated",
		zap.Int64("task_id", task.ID),
		zap.String("status", string(task.Status)),
		zap.Int("percent_complete", task.PercentComplete),
	)
	return task, nil
}

// Summary 看板统计
func (s *Service) Summary(ctx context.Context, filter TaskFilter) (*BoardSummary, error) {
	return s.tasks.TaskSummary(ctx, TaskFilter{Assignee: filter.Assignee})
}

// SubmitReport 提交完成报告，成功后任务进入 review
func (s *Service) SubmitReport(ctx context.Context, taskID int64, input ReportInput) (*Report, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	report, err := buildReport(taskID, input)
	if err != nil {
		return nil, err
	}
	if report.Attachments, err = s.resolveAttachments(ctx, taskID, report.Attachments); err != nil {
		return nil, err
	}
	report.ID = newShortID()
	report.CreatedAt = msTime(s.now())

	if err := s.reports.CreateReport(ctx, report); err != nil {
		return nil, err
	}
	logger.Info("Report submitted",
		zap.Int64("task_id", taskID),
		zap.String("report_id", report.ID),
		zap.Int("evidence_links", len(report.EvidenceLinks)),
		zap.Int("attachments", len(report.Attachments)),
	)
	return report, nil
}

// ListReports 列出任务报告
func (s *Service) ListReports(ctx context.Context, taskID int64) ([]*Report, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.reports.ListReports(ctx, taskID)
}

// UploadAttachment 上传附件
func (s *Service) UploadAttachment(ctx context.Context, taskID int64, upload Upload) (*Attachment, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	att, err := s.attachments.Store(ctx, taskID, upload)
	if err != nil {
		logger.Warn("Attachment upload rejected",
			zap.Int64("task_id", taskID),
			zap.String("filename", upload.Filename),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Info("Attachment stored",
		zap.Int64("task_id", taskID),
		zap.String("attachment_id", att.ID),
		zap.String("path", att.Path),
		zap.Int64("size", att.Size),
	)
	return att, nil
}

// ListAttachments 列出任务附件
func (s *Service) ListAttachments(ctx context.Context, taskID int64) ([]*Attachment, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.attachments.List(ctx, taskID)
}

// SeedRoadmap 在任务表为空时批量导入路线图，返回创建数量
func (s *Service) SeedRoadmap(ctx context.Context, items []TaskPatch) (int, error) {
	existing, err := s.tasks.ListTasks(ctx, TaskFilter{})
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		logger.Info("Roadmap seed skipped, tracker not empty", zap.Int("tasks", len(existing)))
		return 0, nil
	}

	for i, item := range items {
		if _, err := s.tasks.CreateTask(ctx, item); err != nil {
			return i, fmt.Errorf("seed item %d: %w", i+1, err)
		}
	}
	logger.Info("Roadmap seeded", zap.Int("tasks", len(items)))
	return len(items), nil
}

func buildReport(taskID int64, input ReportInput) (*Report, error) {
	summary := strings.TrimSpace(input.Summary)
	links := trimStringSlice(input.EvidenceLinks)
	if summary == "" || (len(links) == 0 && len(input.Attachments) == 0) {
		return nil, ErrInsufficientEvidence
	}
	if input.TimeSpentHours < 0 || math.IsNaN(input.TimeSpentHours) || math.IsInf(input.TimeSpentHours, 0) {
		return nil, validationf("time_spent_hours must be a non-negative number")
	}
	metrics, err := normalizeMetrics(input.Metrics)
	if err != nil {
		return nil, err
	}

	attachments := make([]Attachment, len(input.Attachments))
	copy(attachments, input.Attachments)

	return &Report{
		TaskID:         taskID,
		Author:         strings.TrimSpace(input.Author),
		Summary:        summary,
		Checklist:      trimStringSlice(input.Checklist),
		EvidenceLinks:  links,
		Attachments:    attachments,
		TimeSpentHours: input.TimeSpentHours,
		Metrics:        metrics,
	}, nil
}

// resolveAttachments 按 ID 把附件引用替换为任务已存储的元数据
func (s *Service) resolveAttachments(ctx context.Context, taskID int64, refs []Attachment) ([]Attachment, error) {
	if len(refs) == 0 {
		return refs, nil
	}
	stored, err := s.attachments.List(ctx, taskID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Attachment, len(stored))
	for _, att := range stored {
		byID[att.ID] = att
	}

	resolved := make([]Attachment, 0, len(refs))
	for _, ref := range refs {
		att, ok := byID[strings.TrimSpace(ref.ID)]
		if !ok {
			return nil, fmt.Errorf("%w: attachment %q is not stored on task %d", ErrInsufficientEvidence, ref.ID, taskID)
		}
		resolved = append(resolved, *att)
	}
	return resolved, nil
}

func normalizeMetrics(in map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out[key] = v
		case float64:
			out[key] = v
		case float32:
			out[key] = float64(v)
		case int:
			out[key] = float64(v)
		case int64:
			out[key] = float64(v)
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, validationf("metric %q must be a number or string", key)
			}
			out[key] = f
		default:
			return nil, validationf("metric %q must be a number or string", key)
		}
	}
	return out, nil
}
