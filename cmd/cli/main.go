package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/yourusername/episode-offline-go/internal/domain"
)

var (
	serverURL    string
	serverConfig string
	noAutoStart  bool
	rootCmd      = &cobra.Command{
		Use:   "episode-offline",
		Short: "Episode offline CLI - download HLS episodes for offline playback",
		Long:  `A command-line interface for queueing, watching and managing offline episode downloads.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "Server URL")
	rootCmd.PersistentFlags().StringVar(&serverConfig, "server-config", "", "Config file passed to an auto-started server")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cacheSizeCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := autoStart(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

var addCmd = &cobra.Command{
	Use:   "add [id] [manifest-url]",
	Short: "Queue an episode download",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		parent, _ := cmd.Flags().GetString("parent")
		ordinal, _ := cmd.Flags().GetInt("ordinal")
		label, _ := cmd.Flags().GetString("label")
		watch, _ := cmd.Flags().GetBool("watch")

		client := newAPIClient(serverURL)
		job, err := client.Add(domain.JobRequest{
			ID:        args[0],
			ParentID:  parent,
			Ordinal:   ordinal,
			Label:     label,
			SourceURL: args[1],
		})
		exitOnError(err)

		fmt.Printf("Download queued\n")
		fmt.Printf("ID: %s\n", job.ID)
		fmt.Printf("Status: %s\n", job.Status)

		if watch {
			exitOnError(watchDownload(client, job.ID, os.Stdout))
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloads",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		status, _ := cmd.Flags().GetString("status")
		parent, _ := cmd.Flags().GetString("parent")

		jobs, err := newAPIClient(serverURL).List(parent, status)
		exitOnError(err)
		printJobs(os.Stdout, jobs)
	},
}

func printJobs(out io.Writer, jobs []domain.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARENT\t#\tLABEL\tSTATUS\tPROGRESS\tSEGMENTS")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.0f%%\t%d/%d\n",
			truncate(j.ID, 16),
			truncate(j.ParentID, 16),
			j.Ordinal,
			truncate(j.Label, 30),
			j.Status,
			j.ProgressPercent,
			j.SegmentsDone,
			j.SegmentTotal)
	}
	w.Flush()
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		stats, err := newAPIClient(serverURL).Stats()
		exitOnError(err)

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:     %d\n", stats.Stats.Total)
		fmt.Printf("  Pending:   %d\n", stats.Stats.Pending)
		fmt.Printf("  Running:   %d\n", stats.Stats.Running)
		fmt.Printf("  Completed: %d\n", stats.Stats.Completed)
		fmt.Printf("  Failed:    %d\n", stats.Stats.Failed)
		fmt.Printf("  Cancelled: %d\n", stats.Stats.Cancelled)
		fmt.Printf("  Active slots: %d, waiting: %d\n", stats.Active, stats.Queued)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		detail, err := newAPIClient(serverURL).Get(args[0])
		exitOnError(err)
		printDetail(os.Stdout, detail)
	},
}

func printDetail(out io.Writer, detail *downloadDetail) {
	j := detail.Download
	fmt.Fprintf(out, "Download Details:\n")
	fmt.Fprintf(out, "  ID:       %s\n", j.ID)
	fmt.Fprintf(out, "  Parent:   %s (#%d)\n", j.ParentID, j.Ordinal)
	fmt.Fprintf(out, "  Label:    %s\n", j.Label)
	fmt.Fprintf(out, "  Source:   %s\n", j.SourceURL)
	fmt.Fprintf(out, "  Status:   %s\n", j.Status)
	fmt.Fprintf(out, "  Active:   %t\n", detail.Active)
	fmt.Fprintf(out, "  Progress: %.1f%% (%d/%d segments, %d skipped)\n",
		j.ProgressPercent, j.SegmentsDone, j.SegmentTotal, j.SegmentsFailed)
	fmt.Fprintf(out, "  Bytes:    %s\n", formatBytesProgress(j.BytesDone, j.BytesTotal))
	fmt.Fprintf(out, "  Started:  %s\n", j.StartedAt.Format("2006-01-02 15:04:05"))
	if j.CompletedAt != nil {
		fmt.Fprintf(out, "  Finished: %s\n", j.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if j.Error != "" {
		fmt.Fprintf(out, "  Error:    %s\n", j.Error)
	}
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		exitOnError(newAPIClient(serverURL).Cancel(args[0]))
		fmt.Println("Download cancelled successfully")
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a download and its cached segments",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		exitOnError(newAPIClient(serverURL).Delete(args[0]))
		fmt.Println("Download deleted")
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [id]",
	Short: "Stream progress of a download until it finishes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		exitOnError(watchDownload(newAPIClient(serverURL), args[0], os.Stdout))
	},
}

// watchDownload prints progress frames until the stream closes or the user interrupts
func watchDownload(client *apiClient, id string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := client.Watch(ctx, id, func(frame progressFrame) {
		fmt.Fprintln(out, formatFrame(frame))
	})
	if ctx.Err() != nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("download %s not found", id)
	}
	return err
}

func formatFrame(frame progressFrame) string {
	switch {
	case frame.Event != nil:
		e := frame.Event
		return fmt.Sprintf("%s %5.1f%%  %d/%d segments  %s",
			e.ID, e.ProgressPercent, e.SegmentsDone, e.SegmentTotal, formatBytesProgress(e.BytesDone, e.BytesTotal))
	case frame.Download != nil:
		j := frame.Download
		line := fmt.Sprintf("%s %s %5.1f%%  %d/%d segments", j.ID, j.Status, j.ProgressPercent, j.SegmentsDone, j.SegmentTotal)
		if j.Error != "" {
			line += "  (" + j.Error + ")"
		}
		return line
	default:
		return frame.Type
	}
}

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show lifecycle events of a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		days, _ := cmd.Flags().GetInt("days")

		entries, err := newAPIClient(serverURL).History(args[0], days)
		exitOnError(err)

		if len(entries) == 0 {
			fmt.Println("No events recorded")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  %s\n", e.Timestamp, e.Message)
		}
	},
}

var cacheSizeCmd = &cobra.Command{
	Use:   "cache-size [id]",
	Short: "Show how many bytes of a download are cached",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		size, err := newAPIClient(serverURL).CacheSize(args[0])
		exitOnError(err)
		fmt.Printf("%s: %s\n", args[0], formatBytes(size))
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop every cached segment",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		exitOnError(newAPIClient(serverURL).ClearCache())
		fmt.Println("Segment cache cleared")
	},
}

func init() {
	addCmd.Flags().StringP("parent", "p", "", "Collection (series) id")
	addCmd.Flags().IntP("ordinal", "n", 0, "Position within the collection")
	addCmd.Flags().StringP("label", "l", "", "Display label")
	addCmd.Flags().BoolP("watch", "w", false, "Stream progress after queueing")
	listCmd.Flags().StringP("status", "s", "", "Filter by status (comma separated)")
	listCmd.Flags().StringP("parent", "p", "", "Filter by collection id")
	historyCmd.Flags().IntP("days", "d", 7, "How many days of logs to search")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatBytesProgress(done int64, total *int64) string {
	if total == nil {
		return formatBytes(done)
	}
	return formatBytes(done) + " / ~" + formatBytes(*total)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
