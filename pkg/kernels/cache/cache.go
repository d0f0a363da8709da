// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cache implements the device-keyed compilation cache: compiled kernels are kept per device,
// keyed by their operation signature, and compiled at most once per (device, signature).
//
// Lookups that hit never block each other, nor do they block on compilations of other signatures.
// Concurrent misses for the same (device, signature) are collapsed into one compilation, whose
// result is shared by all waiting callers. A failed compilation leaves the cache unchanged, so the
// next caller retries.
package cache

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelcache/backends"
	"github.com/gomlx/kernelcache/pkg/core/kerrors"
	"github.com/gomlx/kernelcache/pkg/kernels/signature"
)

// Artifact is a compiled program and the kernel entry point extracted from it, for one device.
// It is owned by the Cache: callers must not release it.
type Artifact struct {
	ID        uuid.UUID
	Device    backends.DeviceID
	Signature signature.Signature
	Program   backends.Program
	Kernel    backends.Kernel

	CompiledAt  time.Time
	BuildTime   time.Duration
	SourceBytes int
}

// Supplier returns the program source and entry point name to compile on a cache miss.
// It is only called on a miss, and at most once per concurrent group of callers.
type Supplier func() (src backends.ProgramSource, entry string, err error)

// ErrShutdown is returned by Acquire after Shutdown.
var ErrShutdown = errors.New("kernel cache was shut down")

// Cache of compiled kernels. Create it with New.
type Cache struct {
	name string

	mu       sync.RWMutex
	segments map[backends.DeviceID]*segment
	closed   bool

	compiles, hits, failures atomic.Int64
	buildTime, sourceBytes   atomic.Int64
}

// segment holds the artifacts of one device.
type segment struct {
	mu          sync.RWMutex
	entries     map[signature.Signature]*Artifact
	flights     singleflight.Group
	invalidated bool
}

// Option configures a Cache.
type Option func(c *Cache)

// WithName sets the name of the cache, used in logs.
func WithName(name string) Option {
	return func(c *Cache) { c.name = name }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		name:     "kernels",
		segments: make(map[backends.DeviceID]*segment),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// segment returns the segment for the device, creating it if needed.
func (c *Cache) segment(dev backends.DeviceID) (*segment, error) {
	c.mu.RLock()
	seg, found := c.segments[dev]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrShutdown
	}
	if found {
		return seg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	if seg, found = c.segments[dev]; !found {
		seg = &segment{entries: make(map[signature.Signature]*Artifact)}
		c.segments[dev] = seg
	}
	return seg, nil
}

func (s *segment) lookup(sig signature.Signature) *Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[sig]
}

// Acquire returns the artifact for the signature on the device, compiling it with the source
// provided by supply if it is not cached yet.
//
// Compilation failures are returned as kerrors.CompilationFailure and nothing is cached.
func (c *Cache) Acquire(dev backends.Device, sig signature.Signature, supply Supplier) (*Artifact, error) {
	seg, err := c.segment(dev.ID())
	if err != nil {
		return nil, err
	}
	if artifact := seg.lookup(sig); artifact != nil {
		c.hits.Add(1)
		return artifact, nil
	}

	leader := false
	v, err, _ := seg.flights.Do(string(sig), func() (any, error) {
		leader = true
		// Another flight may have inserted it between our lookup and now.
		if artifact := seg.lookup(sig); artifact != nil {
			c.hits.Add(1)
			return artifact, nil
		}
		artifact, err := c.compile(dev, sig, supply)
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}
		return c.insert(seg, artifact)
	})
	if err != nil {
		return nil, err
	}
	if !leader {
		c.hits.Add(1)
	}
	return v.(*Artifact), nil
}

// compile builds the program and extracts the entry point.
func (c *Cache) compile(dev backends.Device, sig signature.Signature, supply Supplier) (*Artifact, error) {
	src, entry, err := supply()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	program, err := dev.Build(src)
	if err != nil {
		if kerrors.KindOf(err) != kerrors.CompilationFailure {
			err = kerrors.Wrapf(kerrors.CompilationFailure, err, "building %q for device %s", sig, dev.Name())
		}
		klog.V(1).Infof("%s cache: compilation of %q on %s failed: %v", c.name, sig, dev.Name(), err)
		return nil, err
	}
	kernel, err := program.Kernel(entry)
	if err != nil {
		if releaseErr := program.Release(); releaseErr != nil {
			klog.Warningf("%s cache: releasing program %q: %v", c.name, sig, releaseErr)
		}
		return nil, kerrors.Wrapf(kerrors.CompilationFailure, err, "entry point %q of %q", entry, sig)
	}
	artifact := &Artifact{
		ID:         uuid.New(),
		Device:     dev.ID(),
		Signature:  sig,
		Program:    program,
		Kernel:     kernel,
		CompiledAt: start,
		BuildTime:  time.Since(start),
	}
	for _, text := range src.Sources {
		artifact.SourceBytes += len(text)
	}
	c.compiles.Add(1)
	c.buildTime.Add(int64(artifact.BuildTime))
	c.sourceBytes.Add(int64(artifact.SourceBytes))
	klog.V(1).Infof("%s cache: compiled %q on %s in %s", c.name, sig, dev.Name(), artifact.BuildTime)
	return artifact, nil
}

// insert the artifact if absent. If present (or the segment was dropped meanwhile) the new artifact is
// released.
func (c *Cache) insert(seg *segment, artifact *Artifact) (*Artifact, error) {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.invalidated {
		c.release(artifact)
		return nil, kerrors.Errorf(kerrors.CompilationFailure,
			"device %d was invalidated while compiling %q", artifact.Device, artifact.Signature)
	}
	if existing, found := seg.entries[artifact.Signature]; found {
		c.release(artifact)
		return existing, nil
	}
	seg.entries[artifact.Signature] = artifact
	return artifact, nil
}

func (c *Cache) release(artifact *Artifact) {
	if err := artifact.Program.Release(); err != nil {
		klog.Warningf("%s cache: releasing %q on device %d: %v", c.name, artifact.Signature, artifact.Device, err)
	}
}

// Lookup returns the cached artifact, if any, without compiling.
func (c *Cache) Lookup(dev backends.DeviceID, sig signature.Signature) (*Artifact, bool) {
	c.mu.RLock()
	seg := c.segments[dev]
	c.mu.RUnlock()
	if seg == nil {
		return nil, false
	}
	artifact := seg.lookup(sig)
	return artifact, artifact != nil
}

// Signatures returns the sorted signatures cached for the device.
func (c *Cache) Signatures(dev backends.DeviceID) []signature.Signature {
	c.mu.RLock()
	seg := c.segments[dev]
	c.mu.RUnlock()
	if seg == nil {
		return nil
	}
	seg.mu.RLock()
	defer seg.mu.RUnlock()
	sigs := make([]signature.Signature, 0, len(seg.entries))
	for sig := range seg.entries {
		sigs = append(sigs, sig)
	}
	slices.Sort(sigs)
	return sigs
}

// releaseSegment marks the segment as invalidated and releases all its programs.
func releaseSegment(seg *segment) (count int, err error) {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.invalidated = true
	for sig, artifact := range seg.entries {
		err = multierr.Append(err, errors.WithMessagef(artifact.Program.Release(), "releasing %q", sig))
	}
	count = len(seg.entries)
	seg.entries = nil
	return
}

// Invalidate drops all artifacts of the device, releasing their programs, and returns how many were dropped.
// It must be called when the device context is torn down. Other devices are not affected.
func (c *Cache) Invalidate(dev backends.DeviceID) int {
	c.mu.Lock()
	seg := c.segments[dev]
	delete(c.segments, dev)
	c.mu.Unlock()
	if seg == nil {
		return 0
	}
	count, err := releaseSegment(seg)
	if err != nil {
		klog.Warningf("%s cache: invalidating device %d: %v", c.name, dev, err)
	}
	klog.V(1).Infof("%s cache: invalidated %d artifacts of device %d", c.name, count, dev)
	return count
}

// Shutdown releases every artifact of every device. Afterward, Acquire returns ErrShutdown.
// Release errors of all programs are combined in the returned error.
func (c *Cache) Shutdown() error {
	c.mu.Lock()
	segments := c.segments
	c.segments = make(map[backends.DeviceID]*segment)
	c.closed = true
	c.mu.Unlock()

	var err error
	for dev, seg := range segments {
		_, segErr := releaseSegment(seg)
		err = multierr.Append(err, errors.WithMessagef(segErr, "device %d", dev))
	}
	return err
}
