package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

const taskColumns = `id, title, description, epic, priority, status, percent_complete, estimate_days,
  assignee, reporter, tags_json, git_branch, related_pr, created_at, updated_at`

const reportColumns = `id, task_id, author, summary, checklist_json, evidence_links_json, attachments_json,
  time_spent_hours, metrics_json, created_at`

// SQLiteStore 使用 SQLite 持久化任务、报告与附件元数据
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var (
	_ TaskRepository   = (*SQLiteStore)(nil)
	_ ReportRepository = (*SQLiteStore)(nil)
	_ AttachmentIndex  = (*SQLiteStore)(nil)
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// NewSQLiteStore 创建存储，并初始化表结构
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create tracker db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker db: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  epic TEXT NOT NULL DEFAULT '',
  priority TEXT NOT NULL,
  status TEXT NOT NULL,
  percent_complete INTEGER NOT NULL DEFAULT 0,
  estimate_days INTEGER NOT NULL DEFAULT 0,
  assignee TEXT NOT NULL DEFAULT '',
  reporter TEXT NOT NULL DEFAULT '',
  tags_json TEXT NOT NULL DEFAULT '[]',
  git_branch TEXT NOT NULL DEFAULT '',
  related_pr TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee);

CREATE TABLE IF NOT EXISTS reports (
  id TEXT PRIMARY KEY,
  task_id INTEGER NOT NULL,
  author TEXT NOT NULL DEFAULT '',
  summary TEXT NOT NULL,
  checklist_json TEXT NOT NULL DEFAULT '[]',
  evidence_links_json TEXT NOT NULL DEFAULT '[]',
  attachments_json TEXT NOT NULL DEFAULT '[]',
  time_spent_hours REAL NOT NULL DEFAULT 0,
  metrics_json TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  FOREIGN KEY(task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_reports_task ON reports(task_id);

CREATE TABLE IF NOT EXISTS attachments (
  id TEXT PRIMARY KEY,
  task_id INTEGER NOT NULL,
  filename TEXT NOT NULL,
  path TEXT NOT NULL,
  size INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  FOREIGN KEY(task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_attachments_task ON attachments(task_id);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize tracker schema: %w", err)
	}
	return nil
}

// Close 关闭存储
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// CreateTask 创建任务，未提供的字段使用默认值
func (s *SQLiteStore) CreateTask(ctx context.Context, patch TaskPatch) (*Task, error) {
	task, err := newTaskFromPatch(patch)
	if err != nil {
		return nil, err
	}

	now := msTime(s.now())
	task.CreatedAt = now
	task.UpdatedAt = now

	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return nil, storageErr("failed to marshal tags", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(
      title, description, epic, priority, status, percent_complete, estimate_days,
      assignee, reporter, tags_json, git_branch, related_pr, created_at, updated_at
    ) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.Title,
		task.Description,
		task.Epic,
		string(task.Priority),
		string(task.Status),
		task.PercentComplete,
		task.EstimateDays,
		task.Assignee,
		task.Reporter,
		string(tagsJSON),
		task.GitBranch,
		task.RelatedPR,
		task.CreatedAt.UnixMilli(),
		task.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, storageErr("failed to create task", err)
	}
	if task.ID, err = result.LastInsertId(); err != nil {
		return nil, storageErr("failed to read task id", err)
	}
	return task, nil
}

// GetTask 获取任务，不存在时返回 nil, nil
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	return getTask(ctx, s.db, id)
}

// UpdateTask 合并更新任务，updated_at 严格递增
func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, patch TaskPatch) (*Task, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("failed to begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, taskNotFound(id)
	}

	patch.applyTo(task)
	task.UpdatedAt = s.nextUpdatedAt(task.UpdatedAt)

	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return nil, storageErr("failed to marshal tags", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET
      title = ?, description = ?, epic = ?, priority = ?, status = ?, percent_complete = ?,
      estimate_days = ?, assignee = ?, reporter = ?, tags_json = ?, git_branch = ?, related_pr = ?,
      updated_at = ?
    WHERE id = ?`,
		task.Title,
		task.Description,
		task.Epic,
		string(task.Priority),
		string(task.Status),
		task.PercentComplete,
		task.EstimateDays,
		task.Assignee,
		task.Reporter,
		string(tagsJSON),
		task.GitBranch,
		task.RelatedPR,
		task.UpdatedAt.UnixMilli(),
		task.ID,
	)
	if err != nil {
		return nil, storageErr("failed to update task", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("failed to commit task update", err)
	}
	return task, nil
}

// ListTasks 按过滤条件列出任务，按 id 升序
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	where, args := filter.clause()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, storageErr("failed to query tasks", err)
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate tasks", err)
	}
	return tasks, nil
}

// TaskSummary 获取看板统计
func (s *SQLiteStore) TaskSummary(ctx context.Context, filter TaskFilter) (*BoardSummary, error) {
	summary := &BoardSummary{
		Assignee: strings.TrimSpace(filter.Assignee),
	}

	where, args := filter.clause()
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, storageErr("failed to query board summary", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storageErr("failed to scan board summary", err)
		}
		summary.Total += count
		switch Status(status) {
		case StatusBacklog:
			summary.Backlog = count
		case StatusTodo:
			summary.Todo = count
		case StatusInProgress:
			summary.InProgress = count
		case StatusReview:
			summary.Review = count
		case StatusDone:
			summary.Done = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate board summary", err)
	}
	return summary, nil
}

// CountTasks returns the number of stored tasks.
func (s *SQLiteStore) CountTasks(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks`).Scan(&count); err != nil {
		return 0, storageErr("failed to count tasks", err)
	}
	return count, nil
}

// CreateReport 写入报告，并在同一事务内将任务置为 review
func (s *SQLiteStore) CreateReport(ctx context.Context, report *Report) error {
	if report == nil {
		return validationf("report is required")
	}

	checklistJSON, err := json.Marshal(nonNilStrings(report.Checklist))
	if err != nil {
		return storageErr("failed to marshal checklist", err)
	}
	linksJSON, err := json.Marshal(nonNilStrings(report.EvidenceLinks))
	if err != nil {
		return storageErr("failed to marshal evidence links", err)
	}
	attachments := report.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return storageErr("failed to marshal attachments", err)
	}
	metrics := report.Metrics
	if metrics == nil {
		metrics = map[string]interface{}{}
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return storageErr("failed to marshal metrics", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin report", err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := getTask(ctx, tx, report.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return taskNotFound(report.TaskID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports(`+reportColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		report.ID,
		report.TaskID,
		report.Author,
		report.Summary,
		string(checklistJSON),
		string(linksJSON),
		string(attachmentsJSON),
		report.TimeSpentHours,
		string(metricsJSON),
		report.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return storageErr("failed to create report", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(StatusReview),
		s.nextUpdatedAt(task.UpdatedAt).UnixMilli(),
		task.ID,
	)
	if err != nil {
		return storageErr("failed to move task to review", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit report", err)
	}
	return nil
}

// ListReports 列出任务的报告，按提交顺序
func (s *SQLiteStore) ListReports(ctx context.Context, taskID int64) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE task_id = ? ORDER BY rowid ASC`,
		taskID,
	)
	if err != nil {
		return nil, storageErr("failed to query reports", err)
	}
	defer rows.Close()

	reports := make([]*Report, 0)
	for rows.Next() {
		report, scanErr := scanReport(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate reports", err)
	}
	return reports, nil
}

// AddAttachment 记录附件元数据
func (s *SQLiteStore) AddAttachment(ctx context.Context, att *Attachment) error {
	if att == nil {
		return validationf("attachment is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments(id, task_id, filename, path, size, created_at) VALUES(?,?,?,?,?,?)`,
		att.ID,
		att.TaskID,
		att.Filename,
		att.Path,
		att.Size,
		att.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return storageErr("failed to record attachment", err)
	}
	return nil
}

// ListAttachments 列出任务附件，按上传顺序
func (s *SQLiteStore) ListAttachments(ctx context.Context, taskID int64) ([]*Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, filename, path, size, created_at FROM attachments WHERE task_id = ? ORDER BY rowid ASC`,
		taskID,
	)
	if err != nil {
		return nil, storageErr("failed to query attachments", err)
	}
	defer rows.Close()

	attachments := make([]*Attachment, 0)
	for rows.Next() {
		var (
			att         Attachment
			createdAtMS int64
		)
		if err := rows.Scan(&att.ID, &att.TaskID, &att.Filename, &att.Path, &att.Size, &createdAtMS); err != nil {
			return nil, storageErr("failed to scan attachment", err)
		}
		att.CreatedAt = time.UnixMilli(createdAtMS).UTC()
		attachments = append(attachments, &att)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate attachments", err)
	}
	return attachments, nil
}

// nextUpdatedAt returns now, or prev+1ms when the clock has not moved past prev.
func (s *SQLiteStore) nextUpdatedAt(prev time.Time) time.Time {
	now := msTime(s.now())
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func (f TaskFilter) clause() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if assignee := strings.TrimSpace(f.Assignee); assignee != "" {
		conds = append(conds, "assignee = ?")
		args = append(args, assignee)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func getTask(ctx context.Context, q queryer, id int64) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task        Task
		priority    string
		status      string
		tagsJSON    string
		createdAtMS int64
		updatedAtMS int64
	)

	if err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Epic,
		&priority,
		&status,
		&task.PercentComplete,
		&task.EstimateDays,
		&task.Assignee,
		&task.Reporter,
		&tagsJSON,
		&task.GitBranch,
		&task.RelatedPR,
		&createdAtMS,
		&updatedAtMS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storageErr("failed to scan task", err)
	}

	task.Priority = Priority(priority)
	task.Status = Status(status)
	task.CreatedAt = time.UnixMilli(createdAtMS).UTC()
	task.UpdatedAt = time.UnixMilli(updatedAtMS).UTC()

	if strings.TrimSpace(tagsJSON) != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
			return nil, storageErr("failed to decode tags", err)
		}
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}

	return &task, nil
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		report          Report
		checklistJSON   string
		linksJSON       string
		attachmentsJSON string
		metricsJSON     string
		createdAtMS     int64
	)

	if err := row.Scan(
		&report.ID,
		&report.TaskID,
		&report.Author,
		&report.Summary,
		&checklistJSON,
		&linksJSON,
		&attachmentsJSON,
		&report.TimeSpentHours,
		&metricsJSON,
		&createdAtMS,
	); err != nil {
		return nil, storageErr("failed to scan report", err)
	}
	report.CreatedAt = time.UnixMilli(createdAtMS).UTC()

	decode := []struct {
		name string
		raw  string
		dst  interface{}
	}{
		{"checklist", checklistJSON, &report.Checklist},
		{"evidence_links", linksJSON, &report.EvidenceLinks},
		{"attachments", attachmentsJSON, &report.Attachments},
		{"metrics", metricsJSON, &report.Metrics},
	}
	for _, d := range decode {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		if err := json.Unmarshal([]byte(d.raw), d.dst); err != nil {
			return nil, storageErr("failed to decode "+d.name, err)
		}
	}
	report.Checklist = nonNilStrings(report.Checklist)
	report.EvidenceLinks = nonNilStrings(report.EvidenceLinks)
	if report.Attachments == nil {
		report.Attachments = []Attachment{}
	}
	if report.Metrics == nil {
		report.Metrics = map[string]interface{}{}
	}

	return &report, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
