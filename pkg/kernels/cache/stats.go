// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats is a snapshot of the cache counters.
type Stats struct {
	Name string `json:"name"`

	// Compiles is the number of successful compilations; Failures the failed ones.
	Compiles int64 `json:"compiles"`
	Failures int64 `json:"failures"`

	// Hits counts the calls to Acquire served without compiling, including callers that waited on
	// someone else's compilation.
	Hits int64 `json:"hits"`

	Devices     int           `json:"devices"`
	Entries     int           `json:"entries"`
	BuildTime   time.Duration `json:"build_time"`
	SourceBytes int64         `json:"source_bytes"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Name:        c.name,
		Compiles:    c.compiles.Load(),
		Failures:    c.failures.Load(),
		Hits:        c.hits.Load(),
		BuildTime:   time.Duration(c.buildTime.Load()),
		SourceBytes: c.sourceBytes.Load(),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s.Devices = len(c.segments)
	for _, seg := range c.segments {
		seg.mu.RLock()
		s.Entries += len(seg.entries)
		seg.mu.RUnlock()
	}
	return s
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%s cache: %d entries on %d devices, %s compiles (%s failed), %s hits, %s of source built in %s",
		s.Name, s.Entries, s.Devices,
		humanize.Comma(s.Compiles), humanize.Comma(s.Failures), humanize.Comma(s.Hits),
		humanize.Bytes(uint64(s.SourceBytes)), s.BuildTime)
}
