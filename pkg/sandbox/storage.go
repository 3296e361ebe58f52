package sandbox

import (
	"context"

	"github.com/harun/hookhost/internal/observability"
	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/rs/zerolog"
)

// Storage is an objectstore.Bucket scoped to one plugin
type Storage struct {
	pluginID string
	inner    objectstore.Bucket
	gate     Gate
	hooks    HookExecutor
	logger   zerolog.Logger
}

var _ objectstore.Bucket = (*Storage)(nil)

// NewStorage wraps bucket for pluginID. hooks may be nil.
func NewStorage(pluginID string, bucket objectstore.Bucket, gate Gate, hooks HookExecutor, logger zerolog.Logger) *Storage {
	return &Storage{
		pluginID: pluginID,
		inner:    bucket,
		gate:     gate,
		hooks:    hooks,
		logger:   logger.With().Str("component", "sandbox.storage").Str("plugin_id", pluginID).Logger(),
	}
}

func (s *Storage) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	if err := s.require(ctx, plugin.PermissionStorageRead); err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("storage", "get")
	return s.inner.Get(ctx, key)
}

func (s *Storage) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	if err := s.require(ctx, plugin.PermissionStorageRead); err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("storage", "head")
	return s.inner.Head(ctx, key)
}

func (s *Storage) List(ctx context.Context, opts *objectstore.ListOptions) (*objectstore.ListResult, error) {
	if err := s.require(ctx, plugin.PermissionStorageRead); err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("storage", "list")
	return s.inner.List(ctx, opts)
}

// Put stores an object and fires onR2FileUploaded. Hook failures do not
// affect the result.
func (s *Storage) Put(ctx context.Context, key string, body []byte, opts *objectstore.PutOptions) (*objectstore.ObjectInfo, error) {
	if err := s.require(ctx, plugin.PermissionStorageWrite); err != nil {
		return nil, err
	}
	info, err := s.inner.Put(ctx, key, body, opts)
	if err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("storage", "put")
	s.notifyUploaded(ctx, info)
	return info, nil
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if err := s.require(ctx, plugin.PermissionStorageWrite); err != nil {
		return err
	}
	observability.RecordProxyOperation("storage", "delete")
	return s.inner.Delete(ctx, keys...)
}

func (s *Storage) CreateMultipartUpload(ctx context.Context, key string, opts *objectstore.PutOptions) (objectstore.MultipartUpload, error) {
	if err := s.require(ctx, plugin.PermissionStorageWrite); err != nil {
		return nil, err
	}
	upload, err := s.inner.CreateMultipartUpload(ctx, key, opts)
	if err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("storage", "create_multipart")
	return &Upload{storage: s, inner: upload}, nil
}

func (s *Storage) ResumeMultipartUpload(ctx context.Context, key, uploadID string) (objectstore.MultipartUpload, error) {
	if err := s.require(ctx, plugin.PermissionStorageWrite); err != nil {
		return nil, err
	}
	upload, err := s.inner.ResumeMultipartUpload(ctx, key, uploadID)
	if err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("storage", "resume_multipart")
	return &Upload{storage: s, inner: upload}, nil
}

func (s *Storage) require(ctx context.Context, permission plugin.Permission) error {
	return requirePermission(ctx, s.gate, s.pluginID, permission, "storage")
}

func (s *Storage) notifyUploaded(ctx context.Context, info *objectstore.ObjectInfo) {
	if s.hooks == nil || info == nil {
		return
	}
	s.hooks.ExecuteHook(ctx, HookFileUploaded, UploadEvent{
		Key:         info.Key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
		PluginID:    s.pluginID,
	})
}

// Upload is a multipart upload that re-checks write permission on every part
type Upload struct {
	storage *Storage
	inner   objectstore.MultipartUpload
}

func (u *Upload) Key() string      { return u.inner.Key() }
func (u *Upload) UploadID() string { return u.inner.UploadID() }

func (u *Upload) UploadPart(ctx context.Context, partNumber int, data []byte) (objectstore.UploadedPart, error) {
	if err := u.storage.require(ctx, plugin.PermissionStorageWrite); err != nil {
		return objectstore.UploadedPart{}, err
	}
	return u.inner.UploadPart(ctx, partNumber, data)
}

// Complete assembles the parts and fires onR2FileUploaded for the final object
func (u *Upload) Complete(ctx context.Context, parts []objectstore.UploadedPart) (*objectstore.ObjectInfo, error) {
	if err := u.storage.require(ctx, plugin.PermissionStorageWrite); err != nil {
		return nil, err
	}
	info, err := u.inner.Complete(ctx, parts)
	if err != nil {
		return nil, err
	}
	u.storage.notifyUploaded(ctx, info)
	return info, nil
}

func (u *Upload) Abort(ctx context.Context) error {
	if err := u.storage.require(ctx, plugin.PermissionStorageWrite); err != nil {
		return err
	}
	return u.inner.Abort(ctx)
}
