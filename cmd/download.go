package cmd

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"creofinder/internal/auth"
	"creofinder/internal/downloader"
	"creofinder/internal/errors"
	"creofinder/internal/models"
	"creofinder/pkg/utils"
)

var downloadCmd = &cobra.Command{
	Use:   "download <product-id>...",
	Short: "Download products as zip archives over HTTPS",
	Long: `Download one or more products from the CreoDIAS download service.

A single product id is written to --destination, which may be a directory (the archive is
named <id>.zip) or a file path. Several ids are downloaded concurrently into the --destination
directory, using one access token for the whole batch. Every product is attempted; the command
exits non-zero when any of them failed.

Credentials are read from CREODIAS_USERNAME and CREODIAS_PASSWORD.`,
	Example: `  # Download a single product into the current directory
  creofinder download 2ac5fd8e-01b4-5a73-9a28-7d3e1f4f6c5a

  # Download to a specific file
  creofinder download 2ac5fd8e-01b4-5a73-9a28-7d3e1f4f6c5a --destination /data/scene.zip

  # Download several products with 5 parallel transfers and unpack them
  creofinder download id1 id2 id3 --destination /data --threads 5 --extract --remove-archive

  # Feed ids from a query
  creofinder query Sentinel2 --start 2021-06-01 --end 2021-06-02 --ids-only | xargs creofinder download`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(cmd, args)
	},
}

func runDownload(cmd *cobra.Command, args []string) error {
	destination, _ := cmd.Flags().GetString("destination")
	threads, _ := cmd.Flags().GetInt("threads")
	if threads == 0 {
		threads = cfg.Threads
	}

	creds, err := credentials()
	if err != nil {
		return reportError(cmd, err, "download")
	}

	rec, flush := newRecorder(cmd)
	defer flush()

	d := newDownloader(rec)

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if isVerbose(cmd) {
		cmd.Printf("Starting download operation...\n")
		cmd.Printf("  Products: %d\n", len(args))
		cmd.Printf("  Destination: %s\n", destination)
		cmd.Printf("  Threads: %d\n", threads)
	}

	startTime := time.Now()
	var paths map[string]string
	var downloadErr error

	if len(args) == 1 {
		paths, downloadErr = downloadSingle(ctx, cmd, d, args[0], creds, destination)
	} else {
		paths, downloadErr = downloadBatch(ctx, cmd, d, args, creds, destination, threads)
	}
	if paths == nil {
		return reportError(cmd, downloadErr, "download")
	}

	result := buildBatchResult(paths, downloadErr, destination, threads, startTime)
	if err := extractAll(ctx, cmd, result); err != nil && downloadErr == nil {
		downloadErr = err
	}

	if err := utils.PrintResult(result, outputFormat(cmd)); err != nil {
		return reportError(cmd, err, "download")
	}

	if isVerbose(cmd) {
		cmd.Printf("Download operation finished: %d succeeded, %d failed\n", len(result.Items), len(result.Failures))
	}

	return downloadErr
}

// downloadSingle returns a nil map when nothing could be attempted, for example on a token failure.
func downloadSingle(ctx context.Context, cmd *cobra.Command, d *downloader.Downloader, id string, creds auth.Credentials, destination string) (map[string]string, error) {
	pr := newProgress(cmd)
	bar := pr.bytesBar(id)

	var opts []downloader.DownloadOption
	if bar != nil {
		opts = append(opts, downloader.WithProgress(bar))
	}

	path, err := d.Download(ctx, id, creds, destination, opts...)
	finish(bar, err)
	pr.wait()

	if err != nil {
		if errors.IsAuth(err) || errors.IsValidation(err) {
			return nil, err
		}
		return map[string]string{}, &downloader.BatchError{Failures: map[string]error{id: err}}
	}
	return map[string]string{id: path}, nil
}

func downloadBatch(ctx context.Context, cmd *cobra.Command, d *downloader.Downloader, ids []string, creds auth.Credentials, destination string, threads int) (map[string]string, error) {
	pr := newProgress(cmd)
	bar := pr.filesBar(len(ids))

	var counter downloader.Counter
	if bar != nil {
		counter = bar
	}

	paths, err := d.DownloadAll(ctx, ids, creds, destination, threads, counter)
	if paths == nil {
		finish(bar, err)
	} else {
		finish(bar, nil)
	}
	pr.wait()

	return paths, err
}

func buildBatchResult(paths map[string]string, downloadErr error, destination string, threads int, startTime time.Time) *models.BatchDownloadResult {
	result := &models.BatchDownloadResult{
		Destination:   destination,
		Concurrency:   threads,
		Items:         []models.ProductDownload{},
		OperationTime: utils.FormatTime(startTime),
	}

	ids := make([]string, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		item := models.ProductDownload{ID: id, Path: paths[id]}
		if info, err := os.Stat(item.Path); err == nil {
			item.Size = info.Size()
		}
		item.SizeHuman = utils.FormatBytes(item.Size)
		result.Items = append(result.Items, item)
		result.TotalSizeBytes += item.Size
	}

	var batchErr *downloader.BatchError
	if errors.As(downloadErr, &batchErr) {
		for _, id := range batchErr.IDs() {
			result.Failures = append(result.Failures, models.DownloadFailure{ID: id, Error: batchErr.Failures[id].Error()})
		}
	}

	result.TotalFiles = len(result.Items)
	result.TotalSizeHuman = utils.FormatBytes(result.TotalSizeBytes)
	result.DownloadDuration = time.Since(startTime).String()
	return result
}

// extractAll unpacks every downloaded archive when --extract is set. Failures are recorded on the
// item they belong to and the first one is returned.
func extractAll(ctx context.Context, cmd *cobra.Command, result *models.BatchDownloadResult) error {
	extract, _ := cmd.Flags().GetBool("extract")
	if !extract {
		return nil
	}
	removeArchive, _ := cmd.Flags().GetBool("remove-archive")

	var firstErr error
	for i := range result.Items {
		item := &result.Items[i]
		dir := utils.ArchiveDirName(item.Path)

		if _, err := utils.ExtractArchive(ctx, item.Path, dir); err != nil {
			item.ExtractError = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		item.ExtractedTo = dir

		if removeArchive {
			if err := utils.RemoveFile(item.Path); err != nil {
				item.ExtractError = err.Error()
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func init() {
	downloadCmd.Flags().StringP("destination", "d", "", "Output directory, or output file for a single product (default: current directory)")
	downloadCmd.Flags().IntP("threads", "t", 0, "Number of parallel downloads (default: THREADS from config)")
	downloadCmd.Flags().Bool("extract", false, "Unpack each archive into a directory named after it")
	downloadCmd.Flags().Bool("remove-archive", false, "Delete the archive after a successful --extract")
	downloadCmd.Flags().Bool("no-progress", false, "Do not draw progress bars")
	downloadCmd.Flags().Int("timeout", 0, "Timeout in seconds for the whole operation (0: no limit)")

	downloadCmd.SetUsageTemplate(`Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)
}
