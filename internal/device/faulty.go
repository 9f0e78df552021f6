// File: internal/device/faulty.go
package device

import (
	"fmt"
	"sync"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/types"
)

// FaultyDevice wraps another block device and fails a configurable number
// of write transfers before letting them through again. Tests use it to
// drive the cache's bounded write-back retry and the read-only transition.
type FaultyDevice struct {
	interfaces.BlockDevice

	mu           sync.Mutex
	failWrites   int
	writesSeen   int
	writesFailed int
}

// NewFaultyDevice wraps dev; the next failWrites write transfers will
// return an IOError.
func NewFaultyDevice(dev interfaces.BlockDevice, failWrites int) *FaultyDevice {
	return &FaultyDevice{BlockDevice: dev, failWrites: failWrites}
}

// WriteBlocks fails while the injected fault budget lasts, then delegates.
func (d *FaultyDevice) WriteBlocks(start types.Pblk, data []byte) error {
	d.mu.Lock()
	d.writesSeen++
	if d.failWrites > 0 {
		d.failWrites--
		d.writesFailed++
		d.mu.Unlock()
		return fmt.Errorf("injected write fault at block %d: %w", start, types.ErrIO)
	}
	d.mu.Unlock()
	return d.BlockDevice.WriteBlocks(start, data)
}

// FailNextWrites arms the fault injector again.
func (d *FaultyDevice) FailNextWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrites = n
}

// WriteAttempts returns how many write transfers were attempted and how
// many of those were failed by injection.
func (d *FaultyDevice) WriteAttempts() (seen, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writesSeen, d.writesFailed
}
