package vfs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// wbEntry is one queued write: the payload plus where it lands.
type wbEntry struct {
	ino    uint64
	offset uint64
	data   []byte
	queued time.Time
}

// writeback is the ordered queue the flusher drains. cond is signalled after
// every drain so fsync and backpressure waiters can re-check.
type writeback struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []wbEntry
	bytes   int64
}

func newWriteback() *writeback {
	wb := &writeback{}
	wb.cond = sync.NewCond(&wb.mu)
	return wb
}

func (wb *writeback) append(ino, offset uint64, data []byte) int64 {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.entries = append(wb.entries, wbEntry{
		ino:    ino,
		offset: offset,
		data:   append([]byte(nil), data...),
		queued: time.Now(),
	})
	wb.bytes += int64(len(data))
	return wb.bytes
}

// take removes and returns the whole queue.
func (wb *writeback) take() []wbEntry {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	entries := wb.entries
	wb.entries = nil
	wb.bytes = 0
	return entries
}

// requeue puts entries back at the front after a failed drain attempt,
// preserving per-inode order ahead of anything queued meanwhile.
func (wb *writeback) requeue(entries []wbEntry) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.entries = append(entries, wb.entries...)
	for _, e := range entries {
		wb.bytes += int64(len(e.data))
	}
}

// pendingFor reports whether any queued entry belongs to ino. Caller does
// not hold the lock.
func (wb *writeback) pendingFor(ino uint64) bool {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	for _, e := range wb.entries {
		if e.ino == ino {
			return true
		}
	}
	return false
}

// dropFor discards queued writes for an inode that is being freed.
func (wb *writeback) dropFor(ino uint64) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	kept := wb.entries[:0]
	for _, e := range wb.entries {
		if e.ino == ino {
			wb.bytes -= int64(len(e.data))
			continue
		}
		kept = append(kept, e)
	}
	wb.entries = kept
}

// overlay applies queued writes for ino onto buf, which represents the byte
// range [offset, offset+len(buf)) of the file, in queue order.
func (wb *writeback) overlay(ino uint64, offset uint64, buf []byte) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	end := offset + uint64(len(buf))
	for _, e := range wb.entries {
		if e.ino != ino {
			continue
		}
		eEnd := e.offset + uint64(len(e.data))
		if eEnd <= offset || e.offset >= end {
			continue
		}
		from := offset
		if e.offset > from {
			from = e.offset
		}
		to := end
		if eEnd < to {
			to = eEnd
		}
		copy(buf[from-offset:to-offset], e.data[from-e.offset:to-e.offset])
	}
}

// coalesce groups the drained entries by inode, merging runs that continue
// exactly where the previous write ended. Relative order per inode is
// preserved.
type flushRun struct {
	ino    uint64
	offset uint64
	data   []byte
}

func coalesce(entries []wbEntry) []flushRun {
	var runs []flushRun
	last := make(map[uint64]int)
	for _, e := range entries {
		if i, ok := last[e.ino]; ok {
			run := &runs[i]
			if run.offset+uint64(len(run.data)) == e.offset {
				run.data = append(run.data, e.data...)
				continue
			}
		}
		runs = append(runs, flushRun{ino: e.ino, offset: e.offset, data: e.data})
		last[e.ino] = len(runs) - 1
	}
	return runs
}

// runFlusher is the background task draining the queue. Deferred flushes
// arrive on flushSoon; the short delay lets the requesting callback release
// its locks before the drain takes them.
func (e *Engine) runFlusher() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopped:
			return
		case <-ticker.C:
			e.flushWrites()
		case <-e.flushSoon:
			time.Sleep(e.cfg.DeferredFlushDelay)
			e.flushWrites()
		}
	}
}

// requestFlush schedules a deferred flush; duplicate requests collapse into
// the one already pending.
func (e *Engine) requestFlush() {
	select {
	case e.flushSoon <- struct{}{}:
	default:
	}
}

// flushWrites drains the queue and persists dirty metadata. Idempotent and
// never concurrent: an atomic flag turns overlapping calls into no-ops.
func (e *Engine) flushWrites() {
	if !e.flushing.CompareAndSwap(false, true) {
		return
	}
	// Broadcast runs after the flag clears so waiters re-checking the flag
	// see the flush as finished.
	defer e.wb.cond.Broadcast()
	defer e.flushing.Store(false)

	if e.readOnly.Load() {
		e.wb.take()
		return
	}

	var err error
	backoff := e.cfg.FlushRetryBackoff
	for attempt := 1; ; attempt++ {
		err = e.flushOnce()
		if err == nil {
			return
		}
		if attempt >= e.cfg.FlushRetries {
			break
		}
		slog.Warn("flush attempt failed, retrying", "attempt", attempt, "err", err)
		time.Sleep(backoff)
		backoff *= 2
	}

	// The device would not take our writes; latch read-only so mutations
	// surface EROFS instead of silently piling up.
	slog.Error("flush failed permanently, filesystem is now read-only", "err", err)
	e.readOnly.Store(true)
	e.wb.take()
}

func (e *Engine) flushOnce() error {
	entries := e.wb.take()
	// The data drain holds the cache lock: inode records are read-modify-
	// written on disk, and operations on the same inodes must not interleave
	// with that. Waiters never sleep on the flusher while holding this lock.
	e.mu.Lock()
	err := e.flushEntries(entries)
	e.mu.Unlock()
	if err != nil {
		e.wb.requeue(entries)
		return err
	}
	if err := e.flushDirtyAttrs(); err != nil {
		return err
	}
	if err := e.disk.Sync(); err != nil {
		return fmt.Errorf("sync device: %w", err)
	}
	return nil
}

func (e *Engine) flushEntries(entries []wbEntry) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	runs := coalesce(entries)
	for i := range runs {
		run := &runs[i]
		din, err := e.disk.ReadInode(run.ino)
		if err != nil {
			return fmt.Errorf("flush inode %d: %w", run.ino, err)
		}
		if err := e.disk.WriteFileData(run.ino, din, run.offset, run.data); err != nil {
			return fmt.Errorf("flush inode %d at %d: %w", run.ino, run.offset, err)
		}
	}
	slog.Debug("drained write-back queue",
		"entries", len(entries), "runs", len(runs), "took", time.Since(start))
	return nil
}

// flushDirtyAttrs writes the metadata of every dirty cached inode over its
// on-disk record. The on-disk block pointers and allocation counters win;
// the cache wins for everything it owns.
func (e *Engine) flushDirtyAttrs() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ino, ci := range e.inodes {
		if !ci.dirty || ci.pendingFree {
			continue
		}
		din, err := e.disk.ReadInode(ino)
		if err != nil {
			return err
		}
		din.Mode = ci.attr.Mode
		din.UID = ci.attr.UID
		din.GID = ci.attr.GID
		din.Atime = ci.attr.Atime
		din.Mtime = ci.attr.Mtime
		din.Ctime = ci.attr.Ctime
		din.Links = ci.attr.Links
		din.Flags = ci.attr.Flags
		if ci.attr.Size > din.Size {
			din.Size = ci.attr.Size
		}
		if err := e.disk.WriteInode(ino, din); err != nil {
			return err
		}
		ci.attr.Blocks = din.Blocks
		ci.attr.Size = din.Size
		ci.dirty = false
	}
	return nil
}

// waitDurable blocks until no queued writes remain for ino, a flush worked
// through them, or the engine latched read-only.
func (e *Engine) waitDurable(ino uint64) error {
	e.requestFlush()
	e.wb.mu.Lock()
	for {
		if e.readOnly.Load() {
			e.wb.mu.Unlock()
			return ErrReadOnlyFS
		}
		pending := false
		for _, ent := range e.wb.entries {
			if ent.ino == ino {
				pending = true
				break
			}
		}
		if !pending && !e.flushing.Load() {
			e.wb.mu.Unlock()
			return nil
		}
		e.wb.cond.Wait()
	}
}

// waitBelowHighWater blocks a writer while the queue holds more resident
// bytes than the configured ceiling.
func (e *Engine) waitBelowHighWater() error {
	e.requestFlush()
	e.wb.mu.Lock()
	defer e.wb.mu.Unlock()
	for e.wb.bytes > e.cfg.WritebackHighWater {
		if e.readOnly.Load() {
			return ErrReadOnlyFS
		}
		e.wb.cond.Wait()
	}
	return nil
}
