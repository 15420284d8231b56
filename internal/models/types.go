package models

import "time"

// ProductInfo summarizes the objects stored under one product prefix.
type ProductInfo struct {
	BucketName     string    `json:"bucket_name" yaml:"bucket_name"`
	Prefix         string    `json:"prefix" yaml:"prefix"`
	ObjectCount    int64     `json:"object_count" yaml:"object_count"`
	TotalSizeBytes int64     `json:"total_size_bytes" yaml:"total_size_bytes"`
	TotalSizeHuman string    `json:"total_size_human" yaml:"total_size_human"`
	LastModified   time.Time `json:"last_modified" yaml:"last_modified"`
	APIEndpoint    string    `json:"api_endpoint,omitempty" yaml:"api_endpoint,omitempty"`
}

type Product struct {
	ID         string         `json:"id" yaml:"id"`
	Title      string         `json:"title,omitempty" yaml:"title,omitempty"`
	Geometry   map[string]any `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type QueryResult struct {
	Collection    string    `json:"collection" yaml:"collection"`
	URL           string    `json:"url" yaml:"url"`
	Count         int       `json:"count" yaml:"count"`
	Products      []Product `json:"products" yaml:"products"`
	OperationTime string    `json:"operation_time" yaml:"operation_time"`
}

type ErrorResponse struct {
	Error      string `json:"error" yaml:"error"`
	Kind       string `json:"kind,omitempty" yaml:"kind,omitempty"`
	StatusCode int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Timestamp  string `json:"timestamp" yaml:"timestamp"`
	Command    string `json:"command" yaml:"command"`
}
