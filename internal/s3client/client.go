// Package s3client copies products out of the eodata object store.
package s3client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appConfig "creofinder/config"
	"creofinder/internal/errors"
	"creofinder/internal/metrics"
	"creofinder/internal/models"
	"creofinder/internal/transfer"
	"creofinder/pkg/utils"
)

const (
	DefaultPartSize = 4 << 20

	listPageSize = 1000
)

// ObjectAPI is the part of the S3 API the client uses. *s3.Client implements it.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
}

type Client struct {
	api      ObjectAPI
	config   *appConfig.Config
	partSize int64
	progress transfer.Sink
	logger   *slog.Logger
	metrics  metrics.Recorder
}

type Option func(*Client)

func WithPartSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.partSize = n
		}
	}
}

// WithProgress reports every byte written to disk to sink. The sink is called concurrently.
func WithProgress(sink transfer.Sink) Option {
	return func(c *Client) {
		c.progress = sink
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func New(cfg *appConfig.Config, opts ...Option) (*Client, error) {
	var provider aws.CredentialsProvider = aws.AnonymousCredentials{}
	if cfg.AccessKey != "" {
		provider = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Client *s3.Client
	if cfg.ApiURL != "" {
		s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.ApiURL)
			o.UsePathStyle = true
		})
	} else {
		s3Client = s3.NewFromConfig(awsConfig)
	}

	return NewWithAPI(s3Client, cfg, opts...), nil
}

// NewWithAPI builds a client on top of an existing ObjectAPI.
func NewWithAPI(api ObjectAPI, cfg *appConfig.Config, opts ...Option) *Client {
	c := &Client{
		api:      api,
		config:   cfg,
		partSize: DefaultPartSize,
		logger:   slog.Default(),
		metrics:  metrics.Noop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Find lists every object under prefix, following continuation tokens until the listing is exhausted.
func (c *Client) Find(ctx context.Context, bucket, prefix string) ([]types.Object, error) {
	if bucket == "" {
		return nil, errors.NewValidationError("list objects", "bucket name must not be empty")
	}

	var objects []types.Object

	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(o *s3.ListObjectsV2PaginatorOptions) {
		o.Limit = listPageSize
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewStorageError(err, "list objects", bucket+"/"+prefix)
		}
		objects = append(objects, page.Contents...)
	}

	c.logger.Debug("Listed objects", "bucket", bucket, "prefix", prefix, "count", len(objects))

	return objects, nil
}

// TrimBucket turns a catalog product path such as /eodata/Sentinel-2/... into a key inside bucket.
func TrimBucket(productPath, bucket string) string {
	key := strings.TrimLeft(productPath, "/")
	if bucket != "" {
		key = strings.TrimPrefix(key, bucket+"/")
	}
	return key
}

// planned is one object selected for download.
type planned struct {
	key       string
	size      int64
	modified  time.Time
	localPath string
}

// DownloadProduct copies every object under keyPrefix into destinationDir, keeping the key layout
// below the prefix. Directory markers are skipped, as are objects whose relative path does not
// match keyFilter when it is set.
func (c *Client) DownloadProduct(ctx context.Context, bucket, keyPrefix, destinationDir string, keyFilter *regexp.Regexp) (*models.DownloadResult, error) {
	startTime := time.Now()

	if keyPrefix == "" {
		return nil, errors.NewValidationError("download product", "product key must not be empty")
	}
	if destinationDir == "" {
		destinationDir = "."
	}

	objects, err := c.Find(ctx, bucket, keyPrefix)
	if err != nil {
		return nil, err
	}

	plan, skipped, err := c.plan(objects, keyPrefix, destinationDir, keyFilter)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destinationDir, 0o755); err != nil {
		return nil, errors.NewFilesystemError(err, "create directory", destinationDir)
	}

	if ts, ok := c.progress.(interface{ SetTotal(int64, bool) }); ok {
		var total int64
		for _, p := range plan {
			total += p.size
		}
		ts.SetTotal(total, false)
	}

	downloader := manager.NewDownloader(c.api, func(d *manager.Downloader) {
		d.PartSize = c.partSize
	})

	var items []models.DownloadItem
	var totalSize int64

	for _, p := range plan {
		n, err := c.downloadObject(ctx, downloader, bucket, p)
		if err != nil {
			return nil, err
		}

		items = append(items, models.DownloadItem{
			Key:          p.key,
			LocalPath:    p.localPath,
			Size:         n,
			LastModified: utils.FormatTime(p.modified),
		})
		totalSize += n
	}

	duration := time.Since(startTime)

	c.logger.Info("Product downloaded", "bucket", bucket, "key", keyPrefix, "files", len(items), "skipped", skipped, "bytes", totalSize)

	result := &models.DownloadResult{
		BucketName:       bucket,
		KeyPrefix:        keyPrefix,
		Destination:      destinationDir,
		Items:            items,
		Skipped:          skipped,
		TotalFiles:       len(items),
		TotalSizeBytes:   totalSize,
		TotalSizeHuman:   utils.FormatBytes(totalSize),
		OperationTime:    utils.FormatTime(startTime),
		DownloadDuration: duration.String(),
	}
	if keyFilter != nil {
		result.Filter = keyFilter.String()
	}
	return result, nil
}

func (c *Client) plan(objects []types.Object, keyPrefix, destinationDir string, keyFilter *regexp.Regexp) ([]planned, int, error) {
	var plan []planned
	skipped := 0

	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		rel := strings.TrimPrefix(key, keyPrefix)

		// directory marker
		if rel == "" || strings.HasSuffix(rel, "/") {
			skipped++
			continue
		}
		rel = strings.TrimLeft(rel, "/")

		if keyFilter != nil && !keyFilter.MatchString(rel) {
			skipped++
			continue
		}

		local := filepath.FromSlash(rel)
		if !filepath.IsLocal(local) {
			return nil, 0, errors.NewValidationError("download product", "object key %q escapes the destination directory", key)
		}

		p := planned{
			key:       key,
			size:      aws.ToInt64(obj.Size),
			localPath: filepath.Join(destinationDir, local),
		}
		if obj.LastModified != nil {
			p.modified = *obj.LastModified
		}
		plan = append(plan, p)
	}

	return plan, skipped, nil
}

func (c *Client) downloadObject(ctx context.Context, downloader *manager.Downloader, bucket string, p planned) (int64, error) {
	start := time.Now()
	c.metrics.StartDownload(metrics.SourceS3)

	n, err := c.fetchObject(ctx, downloader, bucket, p)
	c.metrics.FinishDownload(metrics.SourceS3, n, time.Since(start), err)
	if err != nil {
		return 0, err
	}

	c.logger.Debug("Object downloaded", "key", p.key, "path", p.localPath, "bytes", n)

	return n, nil
}

func (c *Client) fetchObject(ctx context.Context, downloader *manager.Downloader, bucket string, p planned) (int64, error) {
	out, err := transfer.CreateAtomic(p.localPath)
	if err != nil {
		return 0, err
	}
	defer out.Abort()

	var w io.WriterAt = out
	if c.progress != nil {
		w = &progressWriterAt{w: out, sink: c.progress}
	}

	n, err := downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(p.key),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return n, err
		}
		return n, errors.NewStorageError(err, "download object", bucket+"/"+p.key)
	}

	if err := out.Commit(); err != nil {
		return n, err
	}
	return n, nil
}

// GetProductInfo summarizes the objects stored under prefix.
func (c *Client) GetProductInfo(ctx context.Context, bucket, prefix string) (*models.ProductInfo, error) {
	objects, err := c.Find(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	var objectCount int64
	var totalSize int64
	var lastModified time.Time

	for _, obj := range objects {
		objectCount++
		totalSize += aws.ToInt64(obj.Size)
		if obj.LastModified != nil && obj.LastModified.After(lastModified) {
			lastModified = *obj.LastModified
		}
	}

	info := &models.ProductInfo{
		BucketName:     bucket,
		Prefix:         prefix,
		ObjectCount:    objectCount,
		TotalSizeBytes: totalSize,
		TotalSizeHuman: utils.FormatBytes(totalSize),
		LastModified:   lastModified,
	}
	if c.config != nil {
		info.APIEndpoint = c.config.ApiURL
	}
	return info, nil
}

type progressWriterAt struct {
	w    io.WriterAt
	sink transfer.Sink
}

func (p *progressWriterAt) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.w.WriteAt(b, off)
	if n > 0 {
		p.sink.IncrInt64(int64(n))
	}
	return n, err
}
