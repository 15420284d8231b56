package models

// DownloadItem is one object copied from the object store.
type DownloadItem struct {
	Key          string `json:"key" yaml:"key"`
	LocalPath    string `json:"local_path" yaml:"local_path"`
	Size         int64  `json:"size" yaml:"size"`
	LastModified string `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
}

type DownloadResult struct {
	BucketName       string         `json:"bucket_name" yaml:"bucket_name"`
	KeyPrefix        string         `json:"key_prefix" yaml:"key_prefix"`
	Destination      string         `json:"destination" yaml:"destination"`
	Filter           string         `json:"filter,omitempty" yaml:"filter,omitempty"`
	Items            []DownloadItem `json:"items" yaml:"items"`
	Skipped          int            `json:"skipped" yaml:"skipped"`
	TotalFiles       int            `json:"total_files" yaml:"total_files"`
	TotalSizeBytes   int64          `json:"total_size_bytes" yaml:"total_size_bytes"`
	TotalSizeHuman   string         `json:"total_size_human" yaml:"total_size_human"`
	OperationTime    string         `json:"operation_time" yaml:"operation_time"`
	DownloadDuration string         `json:"download_duration" yaml:"download_duration"`
}

// ProductDownload is one product archive fetched over HTTPS.
type ProductDownload struct {
	ID           string `json:"id" yaml:"id"`
	Path         string `json:"path" yaml:"path"`
	Size         int64  `json:"size" yaml:"size"`
	SizeHuman    string `json:"size_human" yaml:"size_human"`
	ExtractedTo  string `json:"extracted_to,omitempty" yaml:"extracted_to,omitempty"`
	ExtractError string `json:"extract_error,omitempty" yaml:"extract_error,omitempty"`
}

type DownloadFailure struct {
	ID    string `json:"id" yaml:"id"`
	Error string `json:"error" yaml:"error"`
}

type BatchDownloadResult struct {
	Destination      string            `json:"destination" yaml:"destination"`
	Concurrency      int               `json:"concurrency" yaml:"concurrency"`
	Items            []ProductDownload `json:"items" yaml:"items"`
	Failures         []DownloadFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	TotalFiles       int               `json:"total_files" yaml:"total_files"`
	TotalSizeBytes   int64             `json:"total_size_bytes" yaml:"total_size_bytes"`
	TotalSizeHuman   string            `json:"total_size_human" yaml:"total_size_human"`
	OperationTime    string            `json:"operation_time" yaml:"operation_time"`
	DownloadDuration string            `json:"download_duration" yaml:"download_duration"`
}
