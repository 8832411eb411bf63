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
	taskTitle       string
	taskDescription string
	taskEpic        string
	taskPriority    string
	taskStatus      string
	taskPercent     int
	taskEstimate    int
	taskAssignee    string
	taskReporter    string
	taskTags        string
	taskBranch      string
	taskPR          string

	taskListStatus   string
	taskListAssignee string
	taskListJSON     bool
	taskGetJSON      bool
)

// TaskCommand 任务管理命令
func TaskCommand() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tracker tasks",
		Long:  `Create, inspect, update and list tasks stored in the tracker database.`,
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Run:   runTaskCreate,
	}
	addTaskFieldFlags(createCmd)
	_ = createCmd.MarkFlagRequired("title")

	getCmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		Run:   runTaskGet,
	}
	getCmd.Flags().BoolVar(&taskGetJSON, "json", false, "Print as JSON")

	updateCmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields (only flags that are set are changed)",
		Args:  cobra.ExactArgs(1),
		Run:   runTaskUpdate,
	}
	addTaskFieldFlags(updateCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks and status summary",
		Run:   runTaskList,
	}
	listCmd.Flags().StringVar(&taskListStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&taskListAssignee, "assignee", "", "Filter by assignee")
	listCmd.Flags().BoolVar(&taskListJSON, "json", false, "Print as JSON")

	taskCmd.AddCommand(createCmd)
	taskCmd.AddCommand(getCmd)
	taskCmd.AddCommand(updateCmd)
	taskCmd.AddCommand(listCmd)

	return taskCmd
}

func addTaskFieldFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&taskTitle, "title", "", "Task title")
	cmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	cmd.Flags().StringVar(&taskEpic, "epic", "", "Epic label")
	cmd.Flags().StringVar(&taskPriority, "priority", "", "Priority: low|medium|high")
	cmd.Flags().StringVar(&taskStatus, "status", "", "Status: backlog|todo|in-progress|review|done")
	cmd.Flags().IntVar(&taskPercent, "percent", 0, "Percent complete (clamped to 0-100)")
	cmd.Flags().IntVar(&taskEstimate, "estimate-days", 0, "Estimate in days")
	cmd.Flags().StringVar(&taskAssignee, "assignee", "", "Assignee")
	cmd.Flags().StringVar(&taskReporter, "reporter", "", "Reporter")
	cmd.Flags().StringVar(&taskTags, "tags", "", "Comma-separated tags (e.g. month:1,sprint:2)")
	cmd.Flags().StringVar(&taskBranch, "git-branch", "", "Git branch")
	cmd.Flags().StringVar(&taskPR, "related-pr", "", "Related pull request")
}

// buildTaskPatch 只把显式设置过的 flag 放进 patch
func buildTaskPatch(cmd *cobra.Command) (tracker.TaskPatch, error) {
	var patch tracker.TaskPatch
	flags := cmd.Flags()

	strFields := []struct {
		name  string
		value *string
		dst   **string
	}{
		{"title", &taskTitle, &patch.Title},
		{"description", &taskDescription, &patch.Description},
		{"epic", &taskEpic, &patch.Epic},
		{"assignee", &taskAssignee, &patch.Assignee},
		{"reporter", &taskReporter, &patch.Reporter},
		{"git-branch", &taskBranch, &patch.GitBranch},
		{"related-pr", &taskPR, &patch.RelatedPR},
	}
	for _, f := range strFields {
		if flags.Changed(f.name) {
			*f.dst = tracker.StringPtr(*f.value)
		}
	}

	if flags.Changed("priority") {
		p, err := tracker.ParsePriority(taskPriority)
		if err != nil {
			return patch, err
		}
		patch.Priority = &p
	}
	if flags.Changed("status") {
		s, err := tracker.ParseStatus(taskStatus)
		if err != nil {
			return patch, err
		}
		patch.Status = &s
	}
	if flags.Changed("percent") {
		patch.PercentComplete = tracker.IntPtr(taskPercent)
	}
	if flags.Changed("estimate-days") {
		patch.EstimateDays = tracker.IntPtr(taskEstimate)
	}
	if flags.Changed("tags") {
		patch.Tags = tracker.TagsPtr(splitCSV(taskTags))
	}
	return patch, nil
}

func runTaskCreate(cmd *cobra.Command, args []string) {
	patch, err := buildTaskPatch(cmd)
	if err != nil {
		failf("%v", err)
	}

	a := mustOpenApp()
	defer a.Close()

	task, err := a.svc.CreateTask(context.Background(), patch)
	if err != nil {
		failf("Failed to create task: %v", err)
	}
	fmt.Println("Task created")
	printTask(task)
}

func runTaskGet(cmd *cobra.Command, args []string) {
	id := mustParseID(args[0])

	a := mustOpenApp()
	defer a.Close()

	task, err := a.svc.GetTask(context.Background(), id)
	if err != nil {
		failf("Failed to get task: %v", err)
	}
	if taskGetJSON {
		printJSON(task)
		return
	}
	printTask(task)
}

func runTaskUpdate(cmd *cobra.Command, args []string) {
	id := mustParseID(args[0])
	patch, err := buildTaskPatch(cmd)
	if err != nil {
		failf("%v", err)
	}
	if patch.IsEmpty() {
		failf("nothing to update: set at least one field flag")
	}

	a := mustOpenApp()
	defer a.Close()

	task, err := a.svc.UpdateTask(context.Background(), id, patch)
	if err != nil {
		failf("Failed to update task: %v", err)
	}
	fmt.Println("Task updated")
	printTask(task)
}

func runTaskList(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	ctx := context.Background()
	filter := tracker.TaskFilter{
		Status:   tracker.Status(strings.TrimSpace(taskListStatus)),
		Assignee: strings.TrimSpace(taskListAssignee),
	}
	list, err := a.svc.ListTasks(ctx, filter)
	if err != nil {
		failf("Failed to list tasks: %v", err)
	}
	if taskListJSON {
		printJSON(list)
		return
	}

	summary, err := a.svc.Summary(ctx, filter)
	if err != nil {
		failf("Failed to load board summary: %v", err)
	}

	fmt.Println("Task Summary")
	fmt.Println("============")
	fmt.Printf("Total: %d  Backlog: %d  Todo: %d  InProgress: %d  Review: %d  Done: %d\n",
		summary.Total, summary.Backlog, summary.Todo, summary.InProgress, summary.Review, summary.Done)
	if filter.Status != "" || filter.Assignee != "" {
		fmt.Printf("Filters: status=%s assignee=%s\n", emptyAs(string(filter.Status), "-"), emptyAs(filter.Assignee, "-"))
	}

	if len(list) == 0 {
		fmt.Println("\nNo tasks found.")
		return
	}

	fmt.Println()
	fmt.Printf("%-5s %-12s %-7s %4s  %-12s %s\n", "ID", "STATUS", "PRIO", "PCT", "ASSIGNEE", "TITLE")
	for _, t := range list {
		fmt.Printf("%-5d %-12s %-7s %3d%%  %-12s %s\n",
			t.ID, t.Status, t.Priority, t.PercentComplete, emptyAs(t.Assignee, "-"), t.Title)
	}
}

func printTask(t *tracker.Task) {
	fmt.Printf("  ID: %d\n", t.ID)
	fmt.Printf("  Title: %s\n", t.Title)
	fmt.Printf("  Status: %s\n", t.Status)
	fmt.Printf("  Priority: %s\n", t.Priority)
	fmt.Printf("  Progress: %d%%\n", t.PercentComplete)
	fmt.Printf("  Estimate: %d days\n", t.EstimateDays)
	fmt.Printf("  Epic: %s\n", emptyAs(t.Epic, "-"))
	fmt.Printf("  Assignee: %s\n", emptyAs(t.Assignee, "-"))
	fmt.Printf("  Reporter: %s\n", emptyAs(t.Reporter, "-"))
	fmt.Printf("  Tags: %s\n", formatSlice(t.Tags))
	if t.GitBranch != "" {
		fmt.Printf("  Branch: %s\n", t.GitBranch)
	}
	if t.RelatedPR != "" {
		fmt.Printf("  PR: %s\n", t.RelatedPR)
	}
	if t.Description != "" {
		fmt.Printf("  Description: %s\n", t.Description)
	}
	fmt.Printf("  Updated: %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func mustParseID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		failf("invalid task id: %s", raw)
	}
	return id
}
