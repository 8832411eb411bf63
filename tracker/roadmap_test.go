package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const sampleRoadmap = `
tasks:
  - title: Set up CI
    epic: Foundations
    status: done
    priority: high
    percent: 100
    estimate_days: 3
    month: 1
    sprint: 1
  - title: Public beta
    epic: Launch
    month: 3
    tags: [launch]
`

func TestLoadRoadmapAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roadmap.yaml")
	if err := os.WriteFile(path, []byte(sampleRoadmap), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	items, err := LoadRoadmap(path)
	if err != nil {
		t.Fatalf("LoadRoadmap() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("LoadRoadmap() len = %d, want 2", len(items))
	}

	svc, _ := newTestService(t)
	ctx := context.Background()
	if n, err := svc.SeedRoadmap(ctx, items); err != nil || n != 2 {
		t.Fatalf("SeedRoadmap() = %d, %v", n, err)
	}

	tasks, err := svc.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	first := tasks[0]
	if first.Status != StatusDone || first.Priority != PriorityHigh || first.PercentComplete != 100 {
		t.Fatalf("first task = %+v", first)
	}
	if len(first.Tags) != 2 || first.Tags[0] != "month:1" || first.Tags[1] != "sprint:1" {
		t.Fatalf("first tags = %v", first.Tags)
	}
	second := tasks[1]
	if second.Status != StatusBacklog || len(second.Tags) != 2 || second.Tags[0] != "launch" || second.Tags[1] != "month:3" {
		t.Fatalf("second task = %+v", second)
	}
}

func TestParseRoadmapRejectsBadItems(t *testing.T) {
	bad := []string{
		"tasks: [{title: ''}]",
		"tasks: [{title: x, status: stuck}]",
		"tasks: {title: x}",
	}
	for _, doc := range bad {
		if _, err := ParseRoadmap([]byte(doc)); err == nil {
			t.Fatalf("ParseRoadmap(%q) expected error", doc)
		}
	}
}
