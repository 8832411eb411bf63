package tracker

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseTaskPatch decodes a partial task payload. Absent fields stay nil so that
// updates keep merge semantics; null clears optional string fields.
func ParseTaskPatch(data []byte) (TaskPatch, error) {
	var patch TaskPatch

	root, err := parseObject(data, "task")
	if err != nil {
		return patch, err
	}

	strFields := []struct {
		name     string
		dst      **string
		nullable bool
	}{
		{"title", &patch.Title, false},
		{"description", &patch.Description, true},
		{"epic", &patch.Epic, true},
		{"assignee", &patch.Assignee, true},
		{"reporter", &patch.Reporter, true},
		{"git_branch", &patch.GitBranch, true},
		{"related_pr", &patch.RelatedPR, true},
	}
	for _, f := range strFields {
		if err := stringField(root, f.name, f.nullable, f.dst); err != nil {
			return patch, err
		}
	}

	var raw *string
	if err := stringField(root, "priority", false, &raw); err != nil {
		return patch, err
	}
	if raw != nil {
		p, err := ParsePriority(*raw)
		if err != nil {
			return patch, err
		}
		patch.Priority = &p
	}

	raw = nil
	if err := stringField(root, "status", false, &raw); err != nil {
		return patch, err
	}
	if raw != nil {
		s, err := ParseStatus(*raw)
		if err != nil {
			return patch, err
		}
		patch.Status = &s
	}

	if err := intField(root, "percent_complete", true, &patch.PercentComplete); err != nil {
		return patch, err
	}
	if err := intField(root, "estimate_days", false, &patch.EstimateDays); err != nil {
		return patch, err
	}

	if v := root.Get("tags"); v.Exists() {
		tags, err := stringList(v, "tags", false)
		if err != nil {
			return patch, err
		}
		patch.Tags = &tags
	}

	return patch, nil
}

// ParseReportInput decodes a report submission. evidence_links may be a single
// string, which is treated as a one-element list.
func ParseReportInput(data []byte) (ReportInput, error) {
	var input ReportInput

	root, err := parseObject(data, "report")
	if err != nil {
		return input, err
	}

	var s *string
	if err := stringField(root, "summary", true, &s); err != nil {
		return input, err
	}
	if s != nil {
		input.Summary = *s
	}

	s = nil
	if err := stringField(root, "author", true, &s); err != nil {
		return input, err
	}
	if s != nil {
		input.Author = *s
	}

	if v := root.Get("checklist"); v.Exists() {
		if input.Checklist, err = stringList(v, "checklist", false); err != nil {
			return input, err
		}
	}
	if v := root.Get("evidence_links"); v.Exists() {
		if input.EvidenceLinks, err = stringList(v, "evidence_links", true); err != nil {
			return input, err
		}
	}

	if v := root.Get("attachments"); v.Exists() && v.Type != gjson.Null {
		if !v.IsArray() {
			return input, validationf("attachments must be an array")
		}
		for _, item := range v.Array() {
			if !item.IsObject() {
				return input, validationf("attachments must contain objects")
			}
			var att Attachment
			if err := json.Unmarshal([]byte(item.Raw), &att); err != nil {
				return input, validationf("invalid attachment reference: %v", err)
			}
			input.Attachments = append(input.Attachments, att)
		}
	}

	if v := root.Get("time_spent_hours"); v.Exists() && v.Type != gjson.Null {
		if v.Type != gjson.Number {
			return input, validationf("time_spent_hours must be a number")
		}
		input.TimeSpentHours = v.Float()
	}

	if v := root.Get("metrics"); v.Exists() && v.Type != gjson.Null {
		if !v.IsObject() {
			return input, validationf("metrics must be an object")
		}
		input.Metrics = make(map[string]interface{})
		var metricErr error
		v.ForEach(func(key, value gjson.Result) bool {
			switch value.Type {
			case gjson.Number:
				input.Metrics[key.String()] = value.Float()
			case gjson.String:
				input.Metrics[key.String()] = value.String()
			default:
				metricErr = validationf("metric %q must be a number or string", key.String())
				return false
			}
			return true
		})
		if metricErr != nil {
			return input, metricErr
		}
	}

	return input, nil
}

func parseObject(data []byte, what string) (gjson.Result, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return gjson.Result{}, validationf("%s payload is required", what)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, validationf("malformed JSON body")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return gjson.Result{}, validationf("%s payload must be a JSON object", what)
	}
	return root, nil
}

func stringField(root gjson.Result, name string, nullable bool, dst **string) error {
	v := root.Get(name)
	if !v.Exists() {
		return nil
	}
	switch v.Type {
	case gjson.String:
		s := v.String()
		*dst = &s
	case gjson.Null:
		if !nullable {
			return validationf("%s must be a string", name)
		}
		s := ""
		*dst = &s
	default:
		return validationf("%s must be a string", name)
	}
	return nil
}

// intField reads an integral number. Values outside the int32 range either
// saturate at the nearest bound or are rejected.
func intField(root gjson.Result, name string, saturate bool, dst **int) error {
	v := root.Get(name)
	if !v.Exists() {
		return nil
	}
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) {
		return validationf("%s must be an integer", name)
	}
	var n int
	switch {
	case v.Num > math.MaxInt32:
		if !saturate {
			return validationf("%s is out of range", name)
		}
		n = math.MaxInt32
	case v.Num < math.MinInt32:
		if !saturate {
			return validationf("%s is out of range", name)
		}
		n = math.MinInt32
	default:
		n = int(v.Num)
	}
	*dst = &n
	return nil
}

func stringList(v gjson.Result, name string, allowScalar bool) ([]string, error) {
	switch {
	case v.Type == gjson.Null:
		return []string{}, nil
	case v.Type == gjson.String && allowScalar:
		return []string{v.String()}, nil
	case v.IsArray():
		items := v.Array()
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item.Type != gjson.String {
				return nil, validationf("%s must contain only strings", name)
			}
			out = append(out, item.String())
		}
		return out, nil
	default:
		return nil, validationf("%s must be an array of strings", name)
	}
}
