package sandbox

import (
	"context"
	"sync"

	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/store"
)

type staticGate map[string]*plugin.Permissions

func (g staticGate) HasPermission(pluginID string, permission plugin.Permission) bool {
	if permission == plugin.PermissionNone {
		return true
	}
	perms, ok := g[pluginID]
	if !ok {
		return false
	}
	return perms.Allows(permission)
}

type hookCall struct {
	name  string
	value any
}

type recordingHooks struct {
	mu      sync.Mutex
	calls   []hookCall
	rewrite func(name string, value any) any
}

func (h *recordingHooks) ExecuteHook(ctx context.Context, name string, initial any, args ...any) any {
	h.mu.Lock()
	h.calls = append(h.calls, hookCall{name: name, value: initial})
	h.mu.Unlock()
	if h.rewrite != nil {
		return h.rewrite(name, initial)
	}
	return initial
}

func (h *recordingHooks) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.calls))
	for i, c := range h.calls {
		names[i] = c.name
	}
	return names
}

type fakeDB struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDB) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDB) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDB) Prepare(query string) (store.Statement, error) {
	f.record("prepare:" + query)
	return &fakeStatement{db: f, query: query}, nil
}

func (f *fakeDB) Exec(ctx context.Context, query string) (*store.ExecResult, error) {
	f.record("exec:" + query)
	return &store.ExecResult{Count: 1}, nil
}

func (f *fakeDB) Batch(ctx context.Context, statements []store.Statement) ([]*store.Result, error) {
	f.record("batch")
	results := make([]*store.Result, len(statements))
	for i, s := range statements {
		if _, ok := s.(*fakeStatement); !ok {
			panic("batch received a wrapped statement")
		}
		results[i] = &store.Result{Success: true}
	}
	return results, nil
}

func (f *fakeDB) Dump(ctx context.Context) ([]byte, error) {
	f.record("dump")
	return []byte("dump"), nil
}

type fakeStatement struct {
	db    *fakeDB
	query string
	args  []any
}

func (s *fakeStatement) Query() string { return s.query }

func (s *fakeStatement) Bind(args ...any) (store.Statement, error) {
	s.db.record("bind")
	return &fakeStatement{db: s.db, query: s.query, args: args}, nil
}

func (s *fakeStatement) First(ctx context.Context) (store.Row, error) {
	s.db.record("first")
	return store.Row{"ok": true}, nil
}

func (s *fakeStatement) All(ctx context.Context) (*store.Result, error) {
	s.db.record("all")
	return &store.Result{Success: true}, nil
}

func (s *fakeStatement) Run(ctx context.Context) (*store.Result, error) {
	s.db.record("run")
	return &store.Result{Success: true, Meta: store.Meta{Changes: 1}}, nil
}

func (s *fakeStatement) Raw(ctx context.Context, withColumns bool) ([][]any, error) {
	s.db.record("raw")
	return [][]any{{1}}, nil
}

type fakeBucket struct {
	mu    sync.Mutex
	calls []string
}

func (b *fakeBucket) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBucket) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBucket) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	b.record("get")
	return &objectstore.Object{ObjectInfo: objectstore.ObjectInfo{Key: key}, Body: []byte("body")}, nil
}

func (b *fakeBucket) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	b.record("head")
	return &objectstore.ObjectInfo{Key: key}, nil
}

func (b *fakeBucket) List(ctx context.Context, opts *objectstore.ListOptions) (*objectstore.ListResult, error) {
	b.record("list")
	return &objectstore.ListResult{}, nil
}

func (b *fakeBucket) Put(ctx context.Context, key string, body []byte, opts *objectstore.PutOptions) (*objectstore.ObjectInfo, error) {
	b.record("put")
	return &objectstore.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (b *fakeBucket) Delete(ctx context.Context, keys ...string) error {
	b.record("delete")
	return nil
}

func (b *fakeBucket) CreateMultipartUpload(ctx context.Context, key string, opts *objectstore.PutOptions) (objectstore.MultipartUpload, error) {
	b.record("create_multipart")
	return &fakeUpload{bucket: b, key: key}, nil
}

func (b *fakeBucket) ResumeMultipartUpload(ctx context.Context, key, uploadID string) (objectstore.MultipartUpload, error) {
	b.record("resume_multipart")
	return &fakeUpload{bucket: b, key: key}, nil
}

type fakeUpload struct {
	bucket *fakeBucket
	key    string
}

func (u *fakeUpload) Key() string      { return u.key }
func (u *fakeUpload) UploadID() string { return "upload-1" }

func (u *fakeUpload) UploadPart(ctx context.Context, partNumber int, data []byte) (objectstore.UploadedPart, error) {
	u.bucket.record("upload_part")
	return objectstore.UploadedPart{PartNumber: partNumber}, nil
}

func (u *fakeUpload) Complete(ctx context.Context, parts []objectstore.UploadedPart) (*objectstore.ObjectInfo, error) {
	u.bucket.record("complete")
	return &objectstore.ObjectInfo{Key: u.key}, nil
}

func (u *fakeUpload) Abort(ctx context.Context) error {
	u.bucket.record("abort")
	return nil
}
