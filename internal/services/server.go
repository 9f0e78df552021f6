// File: internal/services/server.go
package services

import (
	"context"
	"errors"
	"sync"

	"github.com/liamnaddell/indexfs/internal/types"
)

// errServerClosed is returned for requests submitted after Shutdown.
var errServerClosed = errors.New("request server shut down")

// request is one queued operation. serve runs it against the dispatcher
// and delivers the reply on the request's own channel, so concurrent
// requests never share reply state.
type request interface {
	serve(dp *Dispatcher)
}

// Server feeds requests from a single queue to a bounded pool of workers.
// Workers hold no state across requests; every operation names its inode
// by handle, so any worker can serve any request. Long enumerations are
// naturally broken into bounded READ requests by the wire protocol, and
// the queue interleaves other clients' work between them.
type Server struct {
	dp   *Dispatcher
	reqs chan request

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// ServerConfig sizes the worker pool and the request queue.
type ServerConfig struct {
	Workers int
	Queue   int
}

// DefaultServerConfig returns the stock pool sizing.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Workers: 4, Queue: 64}
}

// NewServer starts the worker pool over a mounted volume's dispatcher.
func NewServer(dp *Dispatcher, cfg ServerConfig) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultServerConfig().Workers
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultServerConfig().Queue
	}
	srv := &Server{
		dp:   dp,
		reqs: make(chan request, cfg.Queue),
	}
	srv.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go srv.worker()
	}
	return srv
}

func (srv *Server) worker() {
	defer srv.wg.Done()
	for req := range srv.reqs {
		req.serve(srv.dp)
	}
}

// submit enqueues a request, honoring context cancellation while the
// queue is full.
func (srv *Server) submit(ctx context.Context, req request) error {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		return errServerClosed
	}
	srv.mu.Unlock()

	select {
	case srv.reqs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting requests, drains the queue and releases every
// open handle.
func (srv *Server) Shutdown() error {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		return nil
	}
	srv.closed = true
	close(srv.reqs)
	srv.mu.Unlock()

	srv.wg.Wait()
	return srv.dp.CloseAll()
}

type openRootReq struct {
	reply chan openReply
}

type openReply struct {
	handle uint64
	stat   Stat
	err    error
}

func (r *openRootReq) serve(dp *Dispatcher) {
	h, st, err := dp.OpenRoot()
	r.reply <- openReply{handle: h, stat: st, err: err}
}

// OpenRoot opens a handle on the root directory.
func (srv *Server) OpenRoot(ctx context.Context) (uint64, Stat, error) {
	req := &openRootReq{reply: make(chan openReply, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return 0, Stat{}, err
	}
	rep := <-req.reply
	return rep.handle, rep.stat, rep.err
}

type openAtReq struct {
	handle  uint64
	relpath string
	reply   chan openReply
}

func (r *openAtReq) serve(dp *Dispatcher) {
	h, st, err := dp.OpenAt(r.handle, r.relpath)
	r.reply <- openReply{handle: h, stat: st, err: err}
}

// OpenAt resolves relpath relative to an open directory handle.
func (srv *Server) OpenAt(ctx context.Context, handle uint64, relpath string) (uint64, Stat, error) {
	req := &openAtReq{handle: handle, relpath: relpath, reply: make(chan openReply, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return 0, Stat{}, err
	}
	rep := <-req.reply
	return rep.handle, rep.stat, rep.err
}

type closeReq struct {
	handle uint64
	reply  chan error
}

func (r *closeReq) serve(dp *Dispatcher) {
	r.reply <- dp.Close(r.handle)
}

// Close drops an open handle.
func (srv *Server) Close(ctx context.Context, handle uint64) error {
	req := &closeReq{handle: handle, reply: make(chan error, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return err
	}
	return <-req.reply
}

type statReq struct {
	handle uint64
	reply  chan statReply
}

type statReply struct {
	stat Stat
	err  error
}

func (r *statReq) serve(dp *Dispatcher) {
	st, err := dp.Stat(r.handle)
	r.reply <- statReply{stat: st, err: err}
}

// Stat returns the cached inode fields behind a handle.
func (srv *Server) Stat(ctx context.Context, handle uint64) (Stat, error) {
	req := &statReq{handle: handle, reply: make(chan statReply, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return Stat{}, err
	}
	rep := <-req.reply
	return rep.stat, rep.err
}

type readReq struct {
	handle uint64
	offset uint64
	size   int
	reply  chan readReply
}

type readReply struct {
	res ReadResult
	err error
}

func (r *readReq) serve(dp *Dispatcher) {
	res, err := dp.Read(r.handle, r.offset, r.size)
	r.reply <- readReply{res: res, err: err}
}

// Read serves one bounded read of file data or directory entries.
func (srv *Server) Read(ctx context.Context, handle uint64, offset uint64, size int) (ReadResult, error) {
	req := &readReq{handle: handle, offset: offset, size: size, reply: make(chan readReply, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return ReadResult{}, err
	}
	rep := <-req.reply
	return rep.res, rep.err
}

type writeReq struct {
	handle uint64
	offset uint64
	data   []byte
	reply  chan writeReply
}

type writeReply struct {
	n   int
	err error
}

func (r *writeReq) serve(dp *Dispatcher) {
	n, err := dp.Write(r.handle, r.offset, r.data)
	r.reply <- writeReply{n: n, err: err}
}

// Write writes file data at an offset, extending the file as needed.
func (srv *Server) Write(ctx context.Context, handle uint64, offset uint64, data []byte) (int, error) {
	req := &writeReq{handle: handle, offset: offset, data: data, reply: make(chan writeReply, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return 0, err
	}
	rep := <-req.reply
	return rep.n, rep.err
}

type createReq struct {
	handle uint64
	name   string
	typ    types.InodeType
	reply  chan openReply
}

func (r *createReq) serve(dp *Dispatcher) {
	h, st, err := dp.Create(r.handle, r.name, r.typ)
	r.reply <- openReply{handle: h, stat: st, err: err}
}

// Create makes a new file or directory under an open directory handle.
func (srv *Server) Create(ctx context.Context, handle uint64, name string, typ types.InodeType) (uint64, Stat, error) {
	req := &createReq{handle: handle, name: name, typ: typ, reply: make(chan openReply, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return 0, Stat{}, err
	}
	rep := <-req.reply
	return rep.handle, rep.stat, rep.err
}

type linkReq struct {
	handle uint64
	name   string
	target uint64
	reply  chan error
}

func (r *linkReq) serve(dp *Dispatcher) {
	r.reply <- dp.Link(r.handle, r.name, r.target)
}

// Link adds another name for an open file under an open directory handle.
func (srv *Server) Link(ctx context.Context, handle uint64, name string, target uint64) error {
	req := &linkReq{handle: handle, name: name, target: target, reply: make(chan error, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return err
	}
	return <-req.reply
}

type unlinkReq struct {
	handle uint64
	name   string
	reply  chan error
}

func (r *unlinkReq) serve(dp *Dispatcher) {
	r.reply <- dp.Unlink(r.handle, r.name)
}

// Unlink removes a named entry under an open directory handle.
func (srv *Server) Unlink(ctx context.Context, handle uint64, name string) error {
	req := &unlinkReq{handle: handle, name: name, reply: make(chan error, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return err
	}
	return <-req.reply
}

type flushReq struct {
	reply chan error
}

func (r *flushReq) serve(dp *Dispatcher) {
	r.reply <- dp.Flush()
}

// Flush forces dirty state to the device.
func (srv *Server) Flush(ctx context.Context) error {
	req := &flushReq{reply: make(chan error, 1)}
	if err := srv.submit(ctx, req); err != nil {
		return err
	}
	return <-req.reply
}
