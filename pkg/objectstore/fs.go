package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	objectsDir = "objects"
	metaDir    = "meta"
	uploadsDir = "uploads"

	defaultListLimit = 1000
)

// FSBucket stores objects as files on an afero filesystem.
// Metadata lives in JSON sidecars outside the object tree.
type FSBucket struct {
	fs     afero.Fs
	root   string
	logger zerolog.Logger
	mu     sync.RWMutex
}

var _ Bucket = (*FSBucket)(nil)

// NewFSBucket creates a bucket rooted at root on fs
func NewFSBucket(fs afero.Fs, root string, logger zerolog.Logger) (*FSBucket, error) {
	if root == "" {
		root = "/"
	}
	for _, dir := range []string{objectsDir, metaDir, uploadsDir} {
		if err := fs.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create bucket directory %s: %w", dir, err)
		}
	}
	return &FSBucket{
		fs:     fs,
		root:   root,
		logger: logger.With().Str("component", "objectstore").Logger(),
	}, nil
}

// NewMemoryBucket creates a bucket on an in-memory filesystem
func NewMemoryBucket(logger zerolog.Logger) *FSBucket {
	bucket, _ := NewFSBucket(afero.NewMemMapFs(), "/", logger)
	return bucket
}

// NewDiskBucket creates a bucket in a directory on the local disk
func NewDiskBucket(dir string, logger zerolog.Logger) (*FSBucket, error) {
	return NewFSBucket(afero.NewOsFs(), dir, logger)
}

func (b *FSBucket) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := b.head(key)
	if err != nil || info == nil {
		return nil, err
	}
	body, err := afero.ReadFile(b.fs, b.objectPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return &Object{ObjectInfo: *info, Body: body}, nil
}

func (b *FSBucket) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.head(key)
}

func (b *FSBucket) head(key string) (*ObjectInfo, error) {
	stat, err := b.fs.Stat(b.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	if stat.IsDir() {
		return nil, nil
	}

	info := ObjectInfo{Key: key, Size: stat.Size(), Uploaded: stat.ModTime()}
	if data, err := afero.ReadFile(b.fs, b.metaPath(key)); err == nil {
		if err := json.Unmarshal(data, &info); err != nil {
			b.logger.Warn().Err(err).Str("key", key).Msg("Ignoring unreadable object metadata")
		}
	}
	return &info, nil
}

func (b *FSBucket) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &ListOptions{}
	}
	limit := opts.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	base := filepath.Join(b.root, objectsDir)
	var keys []string
	err := afero.Walk(b.fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	sort.Strings(keys)

	result := &ListResult{Objects: []ObjectInfo{}}
	seenPrefixes := make(map[string]bool)
	count := 0
	for _, key := range keys {
		if opts.Cursor != "" && key <= opts.Cursor {
			continue
		}
		if count == limit {
			result.Truncated = true
			break
		}

		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(key, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				prefix := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				if !seenPrefixes[prefix] {
					seenPrefixes[prefix] = true
					result.DelimitedPrefixes = append(result.DelimitedPrefixes, prefix)
				}
				result.Cursor = key
				continue
			}
		}

		info, err := b.head(key)
		if err != nil {
			return nil, err
		}
		if info == nil {
			continue
		}
		result.Objects = append(result.Objects, *info)
		result.Cursor = key
		count++
	}
	if !result.Truncated {
		result.Cursor = ""
	}
	return result, nil
}

func (b *FSBucket) Put(ctx context.Context, key string, body []byte, opts *PutOptions) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.put(key, body, opts)
}

func (b *FSBucket) put(key string, body []byte, opts *PutOptions) (*ObjectInfo, error) {
	objectPath := b.objectPath(key)
	if err := b.fs.MkdirAll(filepath.Dir(objectPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := afero.WriteFile(b.fs, objectPath, body, 0644); err != nil {
		return nil, fmt.Errorf("failed to write object %s: %w", key, err)
	}

	info := ObjectInfo{
		Key:      key,
		Size:     int64(len(body)),
		ETag:     etag(body),
		Uploaded: time.Now().UTC(),
	}
	if opts != nil {
		info.ContentType = opts.ContentType
		info.CustomMetadata = opts.CustomMetadata
	}

	meta, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object metadata: %w", err)
	}
	metaPath := b.metaPath(key)
	if err := b.fs.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := afero.WriteFile(b.fs, metaPath, meta, 0644); err != nil {
		return nil, fmt.Errorf("failed to write object metadata %s: %w", key, err)
	}

	b.logger.Debug().Str("key", key).Int64("size", info.Size).Msg("Stored object")
	return &info, nil
}

func (b *FSBucket) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, raw := range keys {
		key, err := cleanKey(raw)
		if err != nil {
			return err
		}
		for _, p := range []string{b.objectPath(key), b.metaPath(key)} {
			if err := b.fs.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete object %s: %w", key, err)
			}
		}
	}
	return nil
}

func (b *FSBucket) CreateMultipartUpload(ctx context.Context, key string, opts *PutOptions) (MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	uploadID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload id: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dir := b.uploadPath(uploadID)
	if err := b.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	state, err := json.Marshal(uploadState{Key: key, Options: opts})
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(b.fs, filepath.Join(dir, "upload.json"), state, 0644); err != nil {
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	return &fsUpload{bucket: b, key: key, uploadID: uploadID, opts: opts}, nil
}

func (b *FSBucket) ResumeMultipartUpload(ctx context.Context, key, uploadID string) (MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if uploadID == "" || strings.ContainsAny(uploadID, `/\.`) {
		return nil, ErrUploadNotFound
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := afero.ReadFile(b.fs, filepath.Join(b.uploadPath(uploadID), "upload.json"))
	if err != nil {
		return nil, ErrUploadNotFound
	}
	var state uploadState
	if err := json.Unmarshal(data, &state); err != nil || state.Key != key {
		return nil, ErrUploadNotFound
	}

	return &fsUpload{bucket: b, key: key, uploadID: uploadID, opts: state.Options}, nil
}

func (b *FSBucket) objectPath(key string) string {
	return filepath.Join(b.root, objectsDir, filepath.FromSlash(key))
}

func (b *FSBucket) metaPath(key string) string {
	return filepath.Join(b.root, metaDir, filepath.FromSlash(key)+".json")
}

func (b *FSBucket) uploadPath(uploadID string) string {
	return filepath.Join(b.root, uploadsDir, uploadID)
}

type uploadState struct {
	Key     string      `json:"key"`
	Options *PutOptions `json:"options,omitempty"`
}

type fsUpload struct {
	bucket   *FSBucket
	key      string
	uploadID string
	opts     *PutOptions
}

func (u *fsUpload) Key() string      { return u.key }
func (u *fsUpload) UploadID() string { return u.uploadID }

func (u *fsUpload) UploadPart(ctx context.Context, partNumber int, data []byte) (UploadedPart, error) {
	if err := ctx.Err(); err != nil {
		return UploadedPart{}, err
	}
	if partNumber < 1 {
		return UploadedPart{}, fmt.Errorf("part number must be >= 1, got %d", partNumber)
	}

	u.bucket.mu.Lock()
	defer u.bucket.mu.Unlock()

	dir := u.bucket.uploadPath(u.uploadID)
	if exists, _ := afero.DirExists(u.bucket.fs, dir); !exists {
		return UploadedPart{}, ErrUploadNotFound
	}
	if err := afero.WriteFile(u.bucket.fs, filepath.Join(dir, partName(partNumber)), data, 0644); err != nil {
		return UploadedPart{}, fmt.Errorf("failed to write part %d: %w", partNumber, err)
	}
	return UploadedPart{PartNumber: partNumber, ETag: etag(data)}, nil
}

func (u *fsUpload) Complete(ctx context.Context, parts []UploadedPart) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u.bucket.mu.Lock()
	defer u.bucket.mu.Unlock()

	dir := u.bucket.uploadPath(u.uploadID)
	if exists, _ := afero.DirExists(u.bucket.fs, dir); !exists {
		return nil, ErrUploadNotFound
	}

	var body []byte
	for _, part := range parts {
		data, err := afero.ReadFile(u.bucket.fs, filepath.Join(dir, partName(part.PartNumber)))
		if err != nil {
			return nil, fmt.Errorf("%w: %d", ErrPartNotFound, part.PartNumber)
		}
		if part.ETag != "" && part.ETag != etag(data) {
			return nil, fmt.Errorf("part %d etag mismatch", part.PartNumber)
		}
		body = append(body, data...)
	}

	info, err := u.bucket.put(u.key, body, u.opts)
	if err != nil {
		return nil, err
	}
	if err := u.bucket.fs.RemoveAll(dir); err != nil {
		u.bucket.logger.Warn().Err(err).Str("upload_id", u.uploadID).Msg("Failed to clean up completed upload")
	}
	return info, nil
}

func (u *fsUpload) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.bucket.mu.Lock()
	defer u.bucket.mu.Unlock()
	return u.bucket.fs.RemoveAll(u.bucket.uploadPath(u.uploadID))
}

func partName(partNumber int) string {
	return "part-" + strconv.Itoa(partNumber)
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
