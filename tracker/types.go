package tracker

import (
	"context"
	"io"
	"time"
)

// Status 任务状态
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// AllStatuses lists statuses in board order.
var AllStatuses = []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone}

// IsValid 检查状态是否合法
func (s Status) IsValid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	default:
		return false
	}
}

// Priority 任务优先级
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid 检查优先级是否合法
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Task 任务实体
type Task struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Epic            string    `json:"epic"`
	Priority        Priority  `json:"priority"`
	Status          Status    `json:"status"`
	PercentComplete int       `json:"percent_complete"`
	EstimateDays    int       `json:"estimate_days"`
	Assignee        string    `json:"assignee,omitempty"`
	Reporter        string    `json:"reporter,omitempty"`
	Tags            []string  `json:"tags"`
	GitBranch       string    `json:"git_branch,omitempty"`
	RelatedPR       string    `json:"related_pr,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TaskPatch carries a partial task payload. A nil field is left untouched.
type TaskPatch struct {
	Title           *string
	Description     *string
	Epic            *string
	Priority        *Priority
	Status          *Status
	PercentComplete *int
	EstimateDays    *int
	Assignee        *string
	Reporter        *string
	Tags            *[]string
	GitBranch       *string
	RelatedPR       *string
}

// TaskFilter 任务过滤条件，空字段不参与过滤，多个字段为 AND 关系
type TaskFilter struct {
	Status   Status
	Assignee string
}

// BoardSummary 看板统计
type BoardSummary struct {
	Assignee   string `json:"assignee,omitempty"`
	Total      int    `json:"total"`
	Backlog    int    `json:"backlog"`
	Todo       int    `json:"todo"`
	InProgress int    `json:"in_progress"`
	Review     int    `json:"review"`
	Done       int    `json:"done"`
}

// Attachment 附件元数据
type Attachment struct {
	ID        string    `json:"id"`
	TaskID    int64     `json:"task_id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Report 完成报告，创建后不可修改
type Report struct {
	ID             string                 `json:"id"`
	TaskID         int64                  `json:"task_id"`
	Author         string                 `json:"author,omitempty"`
	Summary        string                 `json:"summary"`
	Checklist      []string               `json:"checklist"`
	EvidenceLinks  []string               `json:"evidence_links"`
	Attachments    []Attachment           `json:"attachments"`
	TimeSpentHours float64                `json:"time_spent_hours"`
	Metrics        map[string]interface{} `json:"metrics"`
	CreatedAt      time.Time              `json:"created_at"`
}

// ReportInput 提交报告输入
type ReportInput struct {
	Author         string
	Summary        string
	Checklist      []string
	EvidenceLinks  []string
	Attachments    []Attachment
	TimeSpentHours float64
	Metrics        map[string]interface{}
}

// Upload is a single file handed to the attachment store.
// Size is the size declared by the caller, or -1 when unknown.
type Upload struct {
	Reader   io.Reader
	Filename string
	Size     int64
}

// TaskRepository 任务存储接口
type TaskRepository interface {
	CreateTask(ctx context.Context, patch TaskPatch) (*Task, error)
	// GetTask returns (nil, nil) when the task does not exist.
	GetTask(ctx context.Context, id int64) (*Task, error)
	UpdateTask(ctx context.Context, id int64, patch TaskPatch) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	TaskSummary(ctx context.Context, filter TaskFilter) (*BoardSummary, error)
}

// ReportRepository 报告存储接口
type ReportRepository interface {
	// CreateReport persists the report and moves its task to review atomically.
	CreateReport(ctx context.Context, report *Report) error
	ListReports(ctx context.Context, taskID int64) ([]*Report, error)
}

// AttachmentIndex records attachment metadata.
type AttachmentIndex interface {
	AddAttachment(ctx context.Context, att *Attachment) error
	ListAttachments(ctx context.Context, taskID int64) ([]*Attachment, error)
}

// AttachmentStore 附件存储接口
type AttachmentStore interface {
	Store(ctx context.Context, taskID int64, upload Upload) (*Attachment, error)
	List(ctx context.Context, taskID int64) ([]*Attachment, error)
}
