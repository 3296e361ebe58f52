// Package objectstore defines the object store contract the plugin host
// consumes and a filesystem-backed implementation of it.
package objectstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidKey is returned for empty, absolute or escaping keys
	ErrInvalidKey = errors.New("invalid object key")

	// ErrUploadNotFound is returned when a multipart upload id is unknown
	ErrUploadNotFound = errors.New("multipart upload not found")

	// ErrPartNotFound is returned when completing with a part that was never uploaded
	ErrPartNotFound = errors.New("multipart part not found")
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key            string            `json:"key"`
	Size           int64             `json:"size"`
	ETag           string            `json:"etag"`
	Uploaded       time.Time         `json:"uploaded"`
	ContentType    string            `json:"contentType,omitempty"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
}

// Object is an object with its body
type Object struct {
	ObjectInfo
	Body []byte
}

// Text returns the body as a string
func (o *Object) Text() string {
	return string(o.Body)
}

// PutOptions carries metadata stored with an object
type PutOptions struct {
	ContentType    string
	CustomMetadata map[string]string
}

// ListOptions filters and pages a listing
type ListOptions struct {
	Prefix    string
	Delimiter string
	Cursor    string
	Limit     int
}

// ListResult is one page of a listing
type ListResult struct {
	Objects           []ObjectInfo
	DelimitedPrefixes []string
	Truncated         bool
	Cursor            string
}

// UploadedPart identifies a part of a multipart upload
type UploadedPart struct {
	PartNumber int
	ETag       string
}

// MultipartUpload is an in-progress multipart upload
type MultipartUpload interface {
	Key() string
	UploadID() string
	UploadPart(ctx context.Context, partNumber int, data []byte) (UploadedPart, error)
	Complete(ctx context.Context, parts []UploadedPart) (*ObjectInfo, error)
	Abort(ctx context.Context) error
}

// Bucket is the object store handle. Get and Head return nil without error
// when the key does not exist.
type Bucket interface {
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	List(ctx context.Context, opts *ListOptions) (*ListResult, error)
	Put(ctx context.Context, key string, body []byte, opts *PutOptions) (*ObjectInfo, error)
	Delete(ctx context.Context, keys ...string) error
	CreateMultipartUpload(ctx context.Context, key string, opts *PutOptions) (MultipartUpload, error)
	ResumeMultipartUpload(ctx context.Context, key, uploadID string) (MultipartUpload, error)
}
