package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallnest/tracker/tracker"
	"github.com/spf13/cobra"
)

var attachmentListJSON bool

// AttachmentCommand 附件命令
func AttachmentCommand() *cobra.Command {
	attachmentCmd := &cobra.Command{
		Use:   "attachment",
		Short: "Upload and list task attachments",
	}

	uploadCmd := &cobra.Command{
		Use:   "upload <task-id> <file>",
		Short: "Upload a file to a task",
		Args:  cobra.ExactArgs(2),
		Run:   runAttachmentUpload,
	}

	listCmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List attachments of a task",
		Args:  cobra.ExactArgs(1),
		Run:   runAttachmentList,
	}
	listCmd.Flags().BoolVar(&attachmentListJSON, "json", false, "Print as JSON")

	attachmentCmd.AddCommand(uploadCmd)
	attachmentCmd.AddCommand(listCmd)
	return attachmentCmd
}

func runAttachmentUpload(cmd *cobra.Command, args []string) {
	id := mustParseID(args[0])

	f, err := os.Open(args[1])
	if err != nil {
		failf("Failed to open file: %v", err)
	}
	defer f.Close()

	size := int64(-1)
	if info, statErr := f.Stat(); statErr == nil {
		size = info.Size()
	}

	a := mustOpenApp()
	defer a.Close()

	att, err := a.svc.UploadAttachment(context.Background(), id, tracker.Upload{
		Reader:   f,
		Filename: filepath.Base(args[1]),
		Size:     size,
	})
	if err != nil {
		failf("Failed to upload attachment: %v", err)
	}

	fmt.Println("Attachment stored")
	fmt.Printf("  ID: %s\n", att.ID)
	fmt.Printf("  Filename: %s\n", att.Filename)
	fmt.Printf("  Path: %s\n", att.Path)
	fmt.Printf("  Size: %d bytes\n", att.Size)
}

func runAttachmentList(cmd *cobra.Command, args []string) {
	id := mustParseID(args[0])

	a := mustOpenApp()
	defer a.Close()

	atts, err := a.svc.ListAttachments(context.Background(), id)
	if err != nil {
		failf("Failed to list attachments: %v", err)
	}
	if attachmentListJSON {
		printJSON(atts)
		return
	}
	if len(atts) == 0 {
		fmt.Println("No attachments.")
		return
	}
	fmt.Printf("%-12s %10s  %s\n", "ID", "SIZE", "PATH")
	for _, att := range atts {
		fmt.Printf("%-12s %10d  %s\n", att.ID, att.Size, att.Path)
	}
}
