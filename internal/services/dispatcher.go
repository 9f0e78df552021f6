// File: internal/services/dispatcher.go
package services

import (
	"fmt"
	"strings"
	"sync"

	"github.com/liamnaddell/indexfs/internal/types"
)

// Stat is the set of inode fields returned to clients. Served from the
// cached inode; no device I/O.
type Stat struct {
	Inum   types.Inum
	Type   types.InodeType
	Nlink  uint16
	Size   uint64
	Blocks uint32
	Parent types.Inum
}

// Dispatcher serves the driver's operations over an explicit
// inode-reference table. Every operation carries the full context it
// needs (a handle plus arguments) and holds no lock across calls, so
// one client's long enumeration cannot starve others beyond a single
// bounded unit of work.
type Dispatcher struct {
	vol *Volume

	mu      sync.Mutex
	handles map[uint64]*Inode
	next    uint64
}

// NewDispatcher creates a dispatcher with an empty handle table.
func NewDispatcher(vol *Volume) *Dispatcher {
	return &Dispatcher{
		vol:     vol,
		handles: make(map[uint64]*Inode),
		next:    1,
	}
}

// register enters a referenced inode into the handle table.
func (dp *Dispatcher) register(ip *Inode) uint64 {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	h := dp.next
	dp.next++
	dp.handles[h] = ip
	return h
}

// lookup resolves a handle to its inode without transferring the
// reference.
func (dp *Dispatcher) lookup(h uint64) (*Inode, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	ip, ok := dp.handles[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, types.ErrInvalidHandle)
	}
	return ip, nil
}

// statOf snapshots the stat fields of a cached inode.
func (dp *Dispatcher) statOf(ip *Inode) Stat {
	di := ip.Disk()
	return Stat{
		Inum:   ip.Num(),
		Type:   di.Type,
		Nlink:  di.Nlink,
		Size:   di.Size(dp.vol.sb.BlockSize),
		Blocks: di.NBlocks(),
		Parent: di.Parent,
	}
}

// OpenRoot opens a handle on the volume's root directory. This is the
// entry point handed to the routing collaborator at mount time.
func (dp *Dispatcher) OpenRoot() (uint64, Stat, error) {
	h, err := dp.vol.Inodes.Get(dp.vol.sb.Root)
	if err != nil {
		return 0, Stat{}, err
	}
	ip := h.(*Inode)
	return dp.register(ip), dp.statOf(ip), nil
}

// resolve descends from start through each segment of an already
// normalized relative path ("." and ".." are stripped upstream) and
// returns a referenced inode for the final segment. One directory scan
// per segment; an already-resolved directory is never re-walked.
func (dp *Dispatcher) resolve(start *Inode, relpath string) (*Inode, error) {
	cur := start
	owned := false
	release := func() {
		if owned {
			dp.vol.Inodes.Put(cur)
		}
	}

	for _, seg := range strings.Split(relpath, "/") {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			release()
			return nil, fmt.Errorf("segment %q not normalized: %w", seg, types.ErrNameTooLong)
		}
		if !cur.Disk().IsDirectory() {
			release()
			return nil, fmt.Errorf("segment %q: %w", seg, types.ErrNotADirectory)
		}

		de, err := dp.vol.Dirs.Scan(cur, seg)
		if err != nil {
			release()
			return nil, err
		}
		child, err := dp.vol.Inodes.Get(de.Inum)
		if err != nil {
			release()
			return nil, err
		}
		release()
		cur = child.(*Inode)
		owned = true
	}

	if !owned {
		// Empty path: hand back a fresh reference on the start inode.
		h, err := dp.vol.Inodes.Get(start.Num())
		if err != nil {
			return nil, err
		}
		cur = h.(*Inode)
	}
	return cur, nil
}

// OpenAt resolves relpath from the inode behind h and returns a new handle
// with its stat fields.
func (dp *Dispatcher) OpenAt(h uint64, relpath string) (uint64, Stat, error) {
	start, err := dp.lookup(h)
	if err != nil {
		return 0, Stat{}, err
	}
	ip, err := dp.resolve(start, relpath)
	if err != nil {
		return 0, Stat{}, err
	}
	return dp.register(ip), dp.statOf(ip), nil
}

// Close drops a handle. The inode persists until its last handle closes;
// an unlinked inode is reclaimed at that point.
func (dp *Dispatcher) Close(h uint64) error {
	dp.mu.Lock()
	ip, ok := dp.handles[h]
	delete(dp.handles, h)
	dp.mu.Unlock()
	if !ok {
		return fmt.Errorf("handle %d: %w", h, types.ErrInvalidHandle)
	}
	return dp.vol.Inodes.Put(ip)
}

// Stat returns the cached inode fields for a handle.
func (dp *Dispatcher) Stat(h uint64) (Stat, error) {
	ip, err := dp.lookup(h)
	if err != nil {
		return Stat{}, err
	}
	return dp.statOf(ip), nil
}

// ReadResult is one READ reply. For directories, Data is the entry wire
// encoding and NextOffset resumes the enumeration; End marks exhaustion.
type ReadResult struct {
	Data       []byte
	NextOffset uint64
	End        bool
}

// Read serves a byte-range read. Files return raw data; directories
// return the bulk entry encoding, never split mid-record.
func (dp *Dispatcher) Read(h uint64, offset uint64, size int) (ReadResult, error) {
	ip, err := dp.lookup(h)
	if err != nil {
		return ReadResult{}, err
	}

	if ip.Disk().IsDirectory() {
		bulk, err := dp.vol.Dirs.BulkRead(ip, offset, size)
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Data: bulk.Payload, NextOffset: bulk.NextOffset, End: bulk.End}, nil
	}

	data, err := dp.vol.Inodes.ReadAt(ip, offset, size)
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{
		Data:       data,
		NextOffset: offset + uint64(len(data)),
		End:        len(data) == 0,
	}, nil
}

// Write writes file data at the given offset, extending the file as
// needed. Directories reject writes; their content changes only through
// Create/Unlink.
func (dp *Dispatcher) Write(h uint64, offset uint64, data []byte) (int, error) {
	ip, err := dp.lookup(h)
	if err != nil {
		return 0, err
	}
	if ip.Disk().IsDirectory() {
		return 0, fmt.Errorf("inode %d is a directory: %w", ip.Num(), types.ErrNotADirectory)
	}
	return dp.vol.Inodes.WriteAt(ip, offset, data)
}

// Create allocates a new inode of the given type and links it under the
// directory behind h. Returns a handle on the new inode.
func (dp *Dispatcher) Create(h uint64, name string, typ types.InodeType) (uint64, Stat, error) {
	dir, err := dp.lookup(h)
	if err != nil {
		return 0, Stat{}, err
	}

	child, err := dp.vol.Inodes.Allocate(typ, dir.Num())
	if err != nil {
		return 0, Stat{}, err
	}
	ip := child.(*Inode)

	if err := dp.vol.Dirs.Insert(dir, name, ip.Num(), typ); err != nil {
		// Undo the allocation: dropping the link count and the
		// reference reclaims the inode.
		ip.mu.Lock()
		ip.disk.Nlink = 0
		ip.mu.Unlock()
		dp.vol.Inodes.Put(ip)
		return 0, Stat{}, err
	}
	return dp.register(ip), dp.statOf(ip), nil
}

// Link adds a second name for the file behind target under the directory
// behind h. Directories cannot be multiply linked; their parent pointer
// would be ambiguous.
func (dp *Dispatcher) Link(h uint64, name string, target uint64) error {
	dir, err := dp.lookup(h)
	if err != nil {
		return err
	}
	ip, err := dp.lookup(target)
	if err != nil {
		return err
	}
	if ip.Disk().IsDirectory() {
		return fmt.Errorf("cannot link directory %d twice: %w", ip.Num(), types.ErrNotADirectory)
	}

	if err := dp.vol.Dirs.Insert(dir, name, ip.Num(), ip.Disk().Type); err != nil {
		return err
	}
	ip.mu.Lock()
	ip.disk.Nlink++
	ip.dirty = true
	ip.mu.Unlock()
	return dp.vol.Inodes.Flush(ip)
}

// Unlink tombstones the named entry under the directory behind h and drops
// the target's link count. The target's storage survives until its last
// open handle closes. An unlinked directory must be empty.
func (dp *Dispatcher) Unlink(h uint64, name string) error {
	dir, err := dp.lookup(h)
	if err != nil {
		return err
	}

	// Peek at the target first so a populated directory is refused
	// before its entry is tombstoned.
	de, err := dp.vol.Dirs.Scan(dir, name)
	if err != nil {
		return err
	}
	target, err := dp.vol.Inodes.Get(de.Inum)
	if err != nil {
		return err
	}
	ip := target.(*Inode)

	if ip.Disk().IsDirectory() {
		// Hold the target's mutation lock across the emptiness check and
		// the parent-entry removal, so nothing can be inserted into the
		// directory after it was seen empty; such entries would be
		// orphaned, unreachable from the root.
		if !ip.dirMu.TryLock() {
			dp.vol.Inodes.Put(ip)
			return fmt.Errorf("directory %q busy: %w", name, types.ErrBusy)
		}
		defer ip.dirMu.Unlock()

		empty, err := dp.vol.Dirs.Empty(ip)
		if err != nil {
			dp.vol.Inodes.Put(ip)
			return err
		}
		if !empty {
			dp.vol.Inodes.Put(ip)
			return fmt.Errorf("directory %q: %w", name, types.ErrNotEmpty)
		}
	}

	// A concurrent unlink may have tombstoned the entry between the scan
	// and here; Remove reports that as ErrNotFound and the link count is
	// left alone.
	if _, err := dp.vol.Dirs.Remove(dir, name); err != nil {
		dp.vol.Inodes.Put(ip)
		return err
	}

	ip.mu.Lock()
	if ip.disk.Nlink > 0 {
		ip.disk.Nlink--
	}
	ip.dirty = true
	ip.mu.Unlock()
	return dp.vol.Inodes.Put(ip)
}

// Flush forces everything dirty to the device.
func (dp *Dispatcher) Flush() error {
	return dp.vol.Sync()
}

// OpenHandles returns the number of live entries in the handle table.
func (dp *Dispatcher) OpenHandles() int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return len(dp.handles)
}

// CloseAll drops every handle, putting the underlying references. Used at
// unmount.
func (dp *Dispatcher) CloseAll() error {
	dp.mu.Lock()
	handles := dp.handles
	dp.handles = make(map[uint64]*Inode)
	dp.mu.Unlock()

	var firstErr error
	for _, ip := range handles {
		if err := dp.vol.Inodes.Put(ip); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
