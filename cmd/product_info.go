package cmd

import (
	"github.com/spf13/cobra"

	"creofinder/internal/s3client"
	"creofinder/pkg/utils"
)

var productInfoCmd = &cobra.Command{
	Use:   "product-info <product-key>",
	Short: "Summarize a product stored in the object store",
	Long: `Count the objects stored under a product key in the eodata bucket and report their total size.
The bucket name is taken from the configuration unless overridden with --bucket flag.`,
	Example: `  # Inspect a Sentinel-2 product
  creofinder product-info /eodata/Sentinel-2/MSI/L1C/2021/06/01/S2B_MSIL1C_20210601T095029_N0300_R079_T34UDC_20210601T110240.SAFE

  # Use another bucket
  creofinder product-info Sentinel-1/SAR/GRD/2021/06/01/S1A_IW_GRDH.SAFE --bucket my-bucket --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProductInfo(cmd, args[0])
	},
}

func runProductInfo(cmd *cobra.Command, productKey string) error {
	client, err := s3client.New(cfg)
	if err != nil {
		return reportError(cmd, err, "product-info")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	bucket := getBucketName(cmd)
	key := s3client.TrimBucket(productKey, bucket)

	if isVerbose(cmd) {
		cmd.Printf("Getting product information for: %s/%s\n", bucket, key)
	}

	info, err := client.GetProductInfo(ctx, bucket, key)
	if err != nil {
		return reportError(cmd, err, "product-info")
	}

	if err := utils.PrintResult(info, outputFormat(cmd)); err != nil {
		return reportError(cmd, err, "product-info")
	}

	if isVerbose(cmd) {
		cmd.Printf("Product info retrieved successfully\n")
	}
	return nil
}

func init() {
	productInfoCmd.Flags().Int("timeout", 0, "Timeout in seconds for the operation (0: no limit)")
}
