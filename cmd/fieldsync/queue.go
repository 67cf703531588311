package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teamtrace/fieldsync/internal/model"
	"github.com/teamtrace/fieldsync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "queue",
	Short:   "Manage the local edit queue",
	Long: `Inspect and modify the durable local edit queue.

Edits queued here survive restarts and are merged into the remote project
store by the next reconciliation run.`,
}

var queueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a local task edit",
	Long: `Queue a task edit for later reconciliation.

Queuing the same task twice replaces the earlier pending edit, so the
queue never holds two entries for one task.

Examples:
  fieldsync queue add --project p1 --kind measurement --title "Beam depth" --value 3.2
  fieldsync queue add --project p1 --kind photo --title "Roof damage" \
      --media file:///sdcard/DCIM/roof1.jpg --media file:///sdcard/DCIM/roof2.jpg`,
	Run: func(cmd *cobra.Command, args []string) {
		projectID, _ := cmd.Flags().GetString("project")
		taskID, _ := cmd.Flags().GetString("id")
		kind, _ := cmd.Flags().GetString("kind")
		title, _ := cmd.Flags().GetString("title")
		value, _ := cmd.Flags().GetString("value")
		media, _ := cmd.Flags().GetStringArray("media")

		if taskID == "" {
			taskID = uuid.NewString()
		}

		task := &model.Task{
			ID:    taskID,
			Title: title,
			Kind:  model.Kind(kind),
			Value: value,
			Local: true,
		}
		switch task.Kind {
		case model.KindPhoto:
			task.Images = media
		case model.KindVideo:
			task.Videos = media
		}

		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.Enqueue(context.Background(), projectID, task); err != nil {
			fmt.Fprintf(os.Stderr, "Error queuing edit: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Queued edit for task %s in project %s\n",
			ui.RenderPass("✓"), taskID, projectID)
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list [project-id]",
	Short: "List queued edits",
	Long: `List queued edits for one project, or a per-project summary when no
project is given.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()

		if len(args) == 0 {
			projects, err := st.QueuedProjects(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
				os.Exit(1)
			}
			if len(projects) == 0 {
				fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
				return
			}
			fmt.Printf("\n%s\n\n", ui.RenderHeader("Projects with pending edits"))
			for _, projectID := range projects {
				edits, err := st.Queue(ctx, projectID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error reading queue for %s: %v\n", projectID, err)
					continue
				}
				fmt.Printf("  %s  %d pending\n", projectID, len(edits))
			}
			fmt.Println()
			return
		}

		edits, err := st.Queue(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}
		if len(edits) == 0 {
			fmt.Printf("%s No pending edits for project %s\n", ui.RenderPass("✓"), args[0])
			return
		}

		fmt.Printf("\n%s\n\n", ui.RenderHeader(fmt.Sprintf("Pending edits for %s", args[0])))
		for _, edit := range edits {
			line := fmt.Sprintf("  %-36s  %-12s  %s", edit.Task.ID, edit.Task.Kind, edit.Task.Title)
			if edit.RetryCount > 0 {
				line += "  " + ui.RenderWarn(fmt.Sprintf("(%d failed attempts)", edit.RetryCount))
			}
			fmt.Println(line)
		}
		fmt.Println()
	},
}

func init() {
	queueAddCmd.Flags().String("project", "", "project id (required)")
	queueAddCmd.Flags().String("id", "", "task id (default: new uuid)")
	queueAddCmd.Flags().String("kind", "text", "task kind: photo, video, measurement, text")
	queueAddCmd.Flags().String("title", "", "task title (required)")
	queueAddCmd.Flags().String("value", "", "measurement or note value")
	queueAddCmd.Flags().StringArray("media", nil, "media reference (repeatable)")
	_ = queueAddCmd.MarkFlagRequired("project")
	_ = queueAddCmd.MarkFlagRequired("title")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	rootCmd.AddCommand(queueCmd)
}
