package cmd

import (
	"regexp"

	"github.com/spf13/cobra"

	"creofinder/internal/errors"
	"creofinder/internal/s3client"
	"creofinder/pkg/utils"
)

var fetchS3Cmd = &cobra.Command{
	Use:   "fetch-s3 <product-key>",
	Short: "Copy a product file by file from the eodata object store",
	Long: `Copy every object stored under a product key in the eodata bucket to a local directory,
keeping the layout below the key. Directory markers are skipped.

This path only works from inside the provider's network, where the object store is reachable.
The product key may be given as the catalog's productIdentifier (/eodata/...); the bucket part
is stripped. Set ACCESS_KEY and SECRET_KEY unless the store accepts anonymous requests.`,
	Example: `  # Copy a whole product
  creofinder fetch-s3 /eodata/Sentinel-2/MSI/L1C/2021/06/01/S2B_MSIL1C_20210601T095029_N0300_R079_T34UDC_20210601T110240.SAFE -d ./scene

  # Copy only the band images
  creofinder fetch-s3 Sentinel-2/MSI/L1C/2021/06/01/S2B_MSIL1C.SAFE -d ./scene --filter 'IMG_DATA/.*\.jp2$'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetchS3(cmd, args[0])
	},
}

func runFetchS3(cmd *cobra.Command, productKey string) error {
	destination, _ := cmd.Flags().GetString("destination")
	pattern, _ := cmd.Flags().GetString("filter")

	var keyFilter *regexp.Regexp
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return reportError(cmd, errors.NewValidationError("fetch-s3", "invalid --filter: %w", err), "fetch-s3")
		}
		keyFilter = re
	}

	rec, flush := newRecorder(cmd)
	defer flush()

	pr := newProgress(cmd)
	bar := pr.bytesBar("eodata")

	opts := []s3client.Option{s3client.WithMetrics(rec)}
	if bar != nil {
		opts = append(opts, s3client.WithProgress(bar))
	}

	client, err := s3client.New(cfg, opts...)
	if err != nil {
		finish(bar, err)
		pr.wait()
		return reportError(cmd, err, "fetch-s3")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	bucket := getBucketName(cmd)
	key := s3client.TrimBucket(productKey, bucket)

	if isVerbose(cmd) {
		cmd.Printf("Starting object store download...\n")
		cmd.Printf("  Bucket: %s\n", bucket)
		cmd.Printf("  Key: %s\n", key)
		cmd.Printf("  Destination: %s\n", destination)
	}

	result, err := client.DownloadProduct(ctx, bucket, key, destination, keyFilter)
	finish(bar, err)
	pr.wait()
	if err != nil {
		return reportError(cmd, err, "fetch-s3")
	}

	if err := utils.PrintResult(result, outputFormat(cmd)); err != nil {
		return reportError(cmd, err, "fetch-s3")
	}

	if isVerbose(cmd) {
		cmd.Printf("Downloaded %d files (%s), skipped %d\n", result.TotalFiles, result.TotalSizeHuman, result.Skipped)
	}
	return nil
}

func init() {
	fetchS3Cmd.Flags().StringP("destination", "d", ".", "Local directory to copy the product into")
	fetchS3Cmd.Flags().String("filter", "", "Only copy objects whose path below the key matches this regular expression")
	fetchS3Cmd.Flags().Bool("no-progress", false, "Do not draw progress bars")
	fetchS3Cmd.Flags().Int("timeout", 0, "Timeout in seconds for the whole operation (0: no limit)")
}
