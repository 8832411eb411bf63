package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallnest/tracker/tracker"
	"github.com/spf13/cobra"
)

var (
	reportSummary     string
	reportAuthor      string
	reportEvidence    string
	reportChecklist   string
	reportAttachments string
	reportHours       float64
	reportMetrics     []string
	reportListJSON    bool
)

// ReportCommand 完成报告命令
func ReportCommand() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Submit and list completion reports",
	}

	submitCmd := &cobra.Command{
		Use:   "submit <task-id>",
		Short: "Submit a completion report (moves the task to review)",
		Args:  cobra.ExactArgs(1),
		Run:   runReportSubmit,
	}
	submitCmd.Flags().StringVar(&reportSummary, "summary", "", "Report summary")
	submitCmd.Flags().StringVar(&reportAuthor, "author", "", "Report author")
	submitCmd.Flags().StringVar(&reportEvidence, "evidence", "", "Comma-separated evidence links")
	submitCmd.Flags().StringVar(&reportChecklist, "checklist", "", "Comma-separated checklist items")
	submitCmd.Flags().StringVar(&reportAttachments, "attachments", "", "Comma-separated attachment IDs of this task")
	submitCmd.Flags().Float64Var(&reportHours, "hours", 0, "Time spent in hours")
	submitCmd.Flags().StringArrayVar(&reportMetrics, "metric", nil, "Metric as key=value (repeatable)")
	_ = submitCmd.MarkFlagRequired("summary")

	listCmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List reports of a task",
		Args:  cobra.ExactArgs(1),
		Run:   runReportList,
	}
	listCmd.Flags().BoolVar(&reportListJSON, "json", false, "Print as JSON")

	reportCmd.AddCommand(submitCmd)
	reportCmd.AddCommand(listCmd)
	return reportCmd
}

func runReportSubmit(cmd *cobra.Command, args []string) {
	id := mustParseID(args[0])
	metrics, err := parseMetrics(reportMetrics)
	if err != nil {
		failf("%v", err)
	}

	a := mustOpenApp()
	defer a.Close()
	ctx := context.Background()

	report, err := a.svc.SubmitReport(ctx, id, tracker.ReportInput{
		Author:         reportAuthor,
		Summary:        reportSummary,
		Checklist:      splitCSV(reportChecklist),
		EvidenceLinks:  splitCSV(reportEvidence),
		Attachments:    attachmentRefs(splitCSV(reportAttachments)),
		TimeSpentHours: reportHours,
		Metrics:        metrics,
	})
	if err != nil {
		failf("Failed to submit report: %v", err)
	}

	fmt.Println("Report submitted, task moved to review")
	fmt.Printf("  Report ID: %s\n", report.ID)
	fmt.Printf("  Task ID: %d\n", report.TaskID)
	fmt.Printf("  Evidence: %s\n", formatSlice(report.EvidenceLinks))
	fmt.Printf("  Attachments: %d\n", len(report.Attachments))
}

func runReportList(cmd *cobra.Command, args []string) {
	id := mustParseID(args[0])

	a := mustOpenApp()
	defer a.Close()

	reports, err := a.svc.ListReports(context.Background(), id)
	if err != nil {
		failf("Failed to list reports: %v", err)
	}
	if reportListJSON {
		printJSON(reports)
		return
	}
	if len(reports) == 0 {
		fmt.Println("No reports.")
		return
	}
	for _, r := range reports {
		fmt.Printf("[%s] %s by %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.ID, emptyAs(r.Author, "-"))
		fmt.Printf("  %s\n", r.Summary)
		fmt.Printf("  Evidence: %s  Attachments: %d  Hours: %.1f\n", formatSlice(r.EvidenceLinks), len(r.Attachments), r.TimeSpentHours)
	}
}

// attachmentRefs 只带 ID 的附件引用，由服务端解析为已存储的元数据
func attachmentRefs(ids []string) []tracker.Attachment {
	refs := make([]tracker.Attachment, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, tracker.Attachment{ID: id})
	}
	return refs
}

// parseMetrics 解析 key=value，数值按数字保存
func parseMetrics(raw []string) (map[string]interface{}, error) {
	metrics := make(map[string]interface{}, len(raw))
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metric %q, expected key=value", item)
		}
		value = strings.TrimSpace(value)
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			metrics[key] = f
		} else {
			metrics[key] = value
		}
	}
	return metrics, nil
}
