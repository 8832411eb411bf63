package tracker

import (
	"strings"
)

// ParseStatus normalizes a status string. Accepts "in_progress" and "doing"
// as aliases of in-progress.
func ParseStatus(raw string) (Status, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "_", "-")
	if value == "doing" {
		value = string(StatusInProgress)
	}
	status := Status(value)
	if !status.IsValid() {
		return "", validationf("invalid task status: %s (allowed: backlog|todo|in-progress|review|done)", raw)
	}
	return status, nil
}

// ParsePriority normalizes a priority string.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if !p.IsValid() {
		return "", validationf("invalid priority: %s (allowed: low|medium|high)", raw)
	}
	return p, nil
}

// ClampPercent bounds percent_complete to [0,100].
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// IsEmpty reports whether the patch carries no fields.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Epic == nil && p.Priority == nil &&
		p.Status == nil && p.PercentComplete == nil && p.EstimateDays == nil &&
		p.Assignee == nil && p.Reporter == nil && p.Tags == nil &&
		p.GitBranch == nil && p.RelatedPR == nil
}

func (p TaskPatch) validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return validationf("title must not be empty")
	}
	if p.Priority != nil && !p.Priority.IsValid() {
		return validationf("invalid priority: %s", *p.Priority)
	}
	if p.Status != nil && !p.Status.IsValid() {
		return validationf("invalid task status: %s", *p.Status)
	}
	if p.EstimateDays != nil && *p.EstimateDays < 0 {
		return validationf("estimate_days must be non-negative")
	}
	return nil
}

// applyTo merges the patch into t. Percent is clamped, strings trimmed,
// tags compacted.
func (p TaskPatch) applyTo(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Epic != nil {
		t.Epic = strings.TrimSpace(*p.Epic)
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.PercentComplete != nil {
		t.PercentComplete = ClampPercent(*p.PercentComplete)
	}
	if p.EstimateDays != nil {
		t.EstimateDays = *p.EstimateDays
	}
	if p.Assignee != nil {
		t.Assignee = strings.TrimSpace(*p.Assignee)
	}
	if p.Reporter != nil {
		t.Reporter = strings.TrimSpace(*p.Reporter)
	}
	if p.Tags != nil {
		t.Tags = compactStringSlice(*p.Tags)
	}
	if p.GitBranch != nil {
		t.GitBranch = strings.TrimSpace(*p.GitBranch)
	}
	if p.RelatedPR != nil {
		t.RelatedPR = strings.TrimSpace(*p.RelatedPR)
	}
}

// newTaskFromPatch applies creation defaults, then the patch.
func newTaskFromPatch(patch TaskPatch) (*Task, error) {
	if patch.Title == nil {
		return nil, validationf("title is required")
	}
	if err := patch.validate(); err != nil {
		return nil, err
	}
	task := &Task{
		Priority: PriorityMedium,
		Status:   StatusBacklog,
		Tags:     []string{},
	}
	patch.applyTo(task)
	return task, nil
}

// compactStringSlice trims entries and drops empties and duplicates, keeping order.
func compactStringSlice(values []string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0, len(values))
	for _, v := range values {
		item := strings.TrimSpace(v)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}

// trimStringSlice trims entries and drops empties; duplicates are kept.
func trimStringSlice(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if item := strings.TrimSpace(v); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StatusPtr returns a pointer to v.
func StatusPtr(v Status) *Status { return &v }

// PriorityPtr returns a pointer to v.
func PriorityPtr(v Priority) *Priority { return &v }

// TagsPtr returns a pointer to v.
func TagsPtr(v []string) *[]string { return &v }
