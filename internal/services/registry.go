// File: internal/services/registry.go
package services

import (
	"fmt"
	"sort"
	"sync"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/parsers/volume"
)

// Mount is one registered volume with its serving stack.
type Mount struct {
	Name       string
	Volume     *Volume
	Dispatcher *Dispatcher
	Server     *Server
}

// Registry tracks mounted volumes by name. It is plain instance state
// handed to whoever needs it; there is no package-level registry, so
// tests and embedders can run several side by side.
type Registry struct {
	mu     sync.Mutex
	mounts map[string]*Mount
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mounts: make(map[string]*Mount)}
}

// Mount probes the device, and if its first block is recognized, mounts
// it and starts a request server over it. A device whose first block
// belongs to some other format is declined cleanly; a recognized but
// unparsable superblock fails the mount.
func (r *Registry) Mount(name string, dev interfaces.BlockDevice, volCfg VolumeConfig, srvCfg ServerConfig) (*Mount, error) {
	r.mu.Lock()
	if _, ok := r.mounts[name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("mount %q already registered", name)
	}
	r.mu.Unlock()

	res, err := ProbeDevice(dev)
	if err != nil {
		return nil, err
	}
	if res == volume.ProbeNotMine {
		return nil, fmt.Errorf("device for mount %q: %s", name, res)
	}

	vol, err := MountVolume(dev, volCfg)
	if err != nil {
		return nil, err
	}
	dp := NewDispatcher(vol)
	m := &Mount{
		Name:       name,
		Volume:     vol,
		Dispatcher: dp,
		Server:     NewServer(dp, srvCfg),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mounts[name]; ok {
		// Lost a race to another Mount with the same name.
		m.Server.Shutdown()
		vol.Close()
		return nil, fmt.Errorf("mount %q already registered", name)
	}
	r.mounts[name] = m
	return m, nil
}

// Lookup returns a registered mount by name.
func (r *Registry) Lookup(name string) (*Mount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mounts[name]
	return m, ok
}

// Names lists registered mounts in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.mounts))
	for name := range r.mounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unmount shuts down a mount's server, flushes the volume and closes its
// device.
func (r *Registry) Unmount(name string) error {
	r.mu.Lock()
	m, ok := r.mounts[name]
	delete(r.mounts, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("mount %q not registered", name)
	}

	srvErr := m.Server.Shutdown()
	closeErr := m.Volume.Close()
	if srvErr != nil {
		return srvErr
	}
	return closeErr
}

// CloseAll unmounts everything, returning the first error seen.
func (r *Registry) CloseAll() error {
	var firstErr error
	for _, name := range r.Names() {
		if err := r.Unmount(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
