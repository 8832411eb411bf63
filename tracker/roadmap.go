package tracker

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Roadmap 路线图种子文件
type Roadmap struct {
	Tasks []RoadmapItem `yaml:"tasks"`
}

// RoadmapItem 路线图条目，month/sprint 会转为 month:N / sprint:N 标签
type RoadmapItem struct {
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Epic         string   `yaml:"epic"`
	Status       string   `yaml:"status"`
	Priority     string   `yaml:"priority"`
	Percent      int      `yaml:"percent"`
	EstimateDays int      `yaml:"estimate_days"`
	Assignee     string   `yaml:"assignee"`
	Month        int      `yaml:"month"`
	Sprint       int      `yaml:"sprint"`
	Tags         []string `yaml:"tags"`
}

// LoadRoadmap 读取 YAML 路线图并转换为创建任务用的 patch
func LoadRoadmap(path string) ([]TaskPatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roadmap: %w", err)
	}
	return ParseRoadmap(data)
}

// ParseRoadmap parses a YAML roadmap document.
func ParseRoadmap(data []byte) ([]TaskPatch, error) {
	var roadmap Roadmap
	if err := yaml.Unmarshal(data, &roadmap); err != nil {
		return nil, validationf("invalid roadmap yaml: %v", err)
	}

	patches := make([]TaskPatch, 0, len(roadmap.Tasks))
	for i, item := range roadmap.Tasks {
		patch, err := item.toPatch()
		if err != nil {
			return nil, fmt.Errorf("roadmap item %d: %w", i+1, err)
		}
		patches = append(patches, patch)
	}
	return patches, nil
}

func (item RoadmapItem) toPatch() (TaskPatch, error) {
	patch := TaskPatch{
		Title:           StringPtr(item.Title),
		Description:     StringPtr(item.Description),
		Epic:            StringPtr(item.Epic),
		PercentComplete: IntPtr(item.Percent),
		EstimateDays:    IntPtr(item.EstimateDays),
		Assignee:        StringPtr(item.Assignee),
	}
	if item.Status != "" {
		status, err := ParseStatus(item.Status)
		if err != nil {
			return patch, err
		}
		patch.Status = &status
	}
	if item.Priority != "" {
		priority, err := ParsePriority(item.Priority)
		if err != nil {
			return patch, err
		}
		patch.Priority = &priority
	}

	tags := append([]string{}, item.Tags...)
	if item.Month > 0 {
		tags = append(tags, "month:"+strconv.Itoa(item.Month))
	}
	if item.Sprint > 0 {
		tags = append(tags, "sprint:"+strconv.Itoa(item.Sprint))
	}
	patch.Tags = &tags

	if err := patch.validate(); err != nil {
		return patch, err
	}
	return patch, nil
}
