package couch

import (
	"context"
	"sync"
)

// Future is the handle to an in-flight asynchronous operation. It resolves
// exactly once, to either a value or an error, and never both; a request
// failing at the transport level resolves with an error rather than being
// dropped. There is no cancellation: once issued, a request runs to
// completion or transport failure (the context passed to the operation is
// still honored by the transport, and expiry resolves the Future with the
// resulting transport error).
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	resolved  bool
	callbacks []func(T, error)

	val T
	err error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve delivers the outcome. Calls after the first are ignored.
func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		f.mu.Lock()
		f.resolved = true
		callbacks := f.callbacks
		f.callbacks = nil
		f.mu.Unlock()
		close(f.done)
		for _, fn := range callbacks {
			fn(val, err)
		}
	})
}

// Done returns a channel that is closed once the operation has resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation has resolved and returns its outcome.
// Wait may be called any number of times, from any goroutine, and always
// reports the same outcome.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Then registers a callback invoked with the outcome once the operation
// resolves, or immediately if it already has. Callbacks run on the
// goroutine that resolved the operation, exactly once each, and observe
// the same outcome Wait reports.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f.val, f.err)
}

// submit runs fn concurrently and resolves the returned Future with its
// outcome. Every async operation funnels through here, so the decode and
// classify path is exactly the one the blocking operations use.
func submit[T any](fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		f.resolve(fn())
	}()
	return f
}

// AsyncDatabase offers the same operations as Database without blocking
// the caller: each method issues the request concurrently and returns a
// Future. Two operations issued back-to-back have no guaranteed completion
// order; sequence explicitly by issuing the second from the first's
// resolution if order matters. Given identical inputs and database state,
// an async operation resolves with the same value or the same error
// classification its blocking counterpart returns.
type AsyncDatabase struct {
	db *Database
}

// Async returns the non-blocking face of the database handle.
func (db *Database) Async() *AsyncDatabase {
	return &AsyncDatabase{db: db}
}

// Database returns the underlying blocking handle.
func (a *AsyncDatabase) Database() *Database {
	return a.db
}

func (a *AsyncDatabase) Create(ctx context.Context) *Future[struct{}] {
	return submit(func() (struct{}, error) {
		return struct{}{}, a.db.Create(ctx)
	})
}

func (a *AsyncDatabase) DropDatabase(ctx context.Context) *Future[struct{}] {
	return submit(func() (struct{}, error) {
		return struct{}{}, a.db.DropDatabase(ctx)
	})
}

func (a *AsyncDatabase) Info(ctx context.Context) *Future[DynamicDoc] {
	return submit(func() (DynamicDoc, error) {
		return a.db.Info(ctx)
	})
}

func (a *AsyncDatabase) Pull(ctx context.Context, source string, createTarget bool) *Future[struct{}] {
	return submit(func() (struct{}, error) {
		return struct{}{}, a.db.Pull(ctx, source, createTarget)
	})
}

func (a *AsyncDatabase) GetDoc(ctx context.Context, id string, opts ...RequestOption) *Future[DynamicDoc] {
	return submit(func() (DynamicDoc, error) {
		return a.db.GetDoc(ctx, id, opts...)
	})
}

func (a *AsyncDatabase) GetDocRev(ctx context.Context, id, rev string) *Future[DynamicDoc] {
	return submit(func() (DynamicDoc, error) {
		return a.db.GetDocRev(ctx, id, rev)
	})
}

func (a *AsyncDatabase) GetDocs(ctx context.Context, ids []string) *Future[[]DynamicDoc] {
	return submit(func() ([]DynamicDoc, error) {
		return a.db.GetDocs(ctx, ids)
	})
}

func (a *AsyncDatabase) HasDoc(ctx context.Context, id string) *Future[bool] {
	return submit(func() (bool, error) {
		return a.db.HasDoc(ctx, id)
	})
}

func (a *AsyncDatabase) SaveDoc(ctx context.Context, doc Identifiable) *Future[DocRef] {
	return submit(func() (DocRef, error) {
		return a.db.SaveDoc(ctx, doc)
	})
}

func (a *AsyncDatabase) SaveDocs(ctx context.Context, docs []Identifiable, allOrNothing bool) *Future[BulkResult] {
	return submit(func() (BulkResult, error) {
		return a.db.SaveDocs(ctx, docs, allOrNothing)
	})
}

func (a *AsyncDatabase) DeleteDoc(ctx context.Context, doc Identifiable) *Future[DocRef] {
	return submit(func() (DocRef, error) {
		return a.db.DeleteDoc(ctx, doc)
	})
}

func (a *AsyncDatabase) DeleteDocs(ctx context.Context, docs []Identifiable, allOrNothing bool) *Future[BulkResult] {
	return submit(func() (BulkResult, error) {
		return a.db.DeleteDocs(ctx, docs, allOrNothing)
	})
}

func (a *AsyncDatabase) GetAttachment(ctx context.Context, doc Identifiable, name, mimetype string) *Future[*Attachment] {
	return submit(func() (*Attachment, error) {
		return a.db.GetAttachment(ctx, doc, name, mimetype)
	})
}

func (a *AsyncDatabase) SaveAttachment(ctx context.Context, doc Identifiable, att *Attachment) *Future[DocRef] {
	return submit(func() (DocRef, error) {
		return a.db.SaveAttachment(ctx, doc, att)
	})
}

func (a *AsyncDatabase) DeleteAttachment(ctx context.Context, doc Identifiable, name string) *Future[DocRef] {
	return submit(func() (DocRef, error) {
		return a.db.DeleteAttachment(ctx, doc, name)
	})
}

func (a *AsyncDatabase) View(ctx context.Context, designID, viewID string, q *ViewQuery) *Future[*ViewResult] {
	return submit(func() (*ViewResult, error) {
		return a.db.View(ctx, designID, viewID, q)
	})
}

func (a *AsyncDatabase) AllDocs(ctx context.Context, q *ViewQuery) *Future[*ViewResult] {
	return submit(func() (*ViewResult, error) {
		return a.db.AllDocs(ctx, q)
	})
}

func (a *AsyncDatabase) TempView(ctx context.Context, def ViewDef, q *ViewQuery) *Future[*ViewResult] {
	return submit(func() (*ViewResult, error) {
		return a.db.TempView(ctx, def, q)
	})
}

// AsyncServer offers the server-level operations without blocking.
type AsyncServer struct {
	s *Server
}

// Async returns the non-blocking face of the server handle.
func (s *Server) Async() *AsyncServer {
	return &AsyncServer{s: s}
}

func (a *AsyncServer) ListDBs(ctx context.Context) *Future[[]string] {
	return submit(func() ([]string, error) {
		return a.s.ListDBs(ctx)
	})
}

func (a *AsyncServer) UUIDs(ctx context.Context, count int) *Future[[]string] {
	return submit(func() ([]string, error) {
		return a.s.UUIDs(ctx, count)
	})
}

func (a *AsyncServer) ActiveTasks(ctx context.Context) *Future[[]Task] {
	return submit(func() ([]Task, error) {
		return a.s.ActiveTasks(ctx)
	})
}
