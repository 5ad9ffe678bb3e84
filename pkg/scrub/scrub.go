// Offline consistency checker: verifies the superblock, cross-checks both
// bitmaps against what the inode table actually references, and optionally
// repairs counters and bitmap drift. Online repair is deliberately not
// attempted anywhere else; this is the one place that rewrites metadata
// from evidence.
package scrub

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/reekid420/AegisFS/pkg/diskfs"
	"github.com/reekid420/AegisFS/pkg/format"
)

// Options selects what a scrub pass does.
type Options struct {
	// Fix rewrites the data bitmap and the free counters when they disagree
	// with the inode table. The inode bitmap is not rewritten.
	Fix bool
	// Deep additionally reads every referenced block to surface latent I/O
	// errors.
	Deep bool
	// Progress draws a progress bar on stderr.
	Progress bool
}

// Problem is one inconsistency found during the walk.
type Problem struct {
	Kind   string
	Detail string
}

func (p Problem) String() string { return p.Kind + ": " + p.Detail }

// Report summarizes a scrub pass.
type Report struct {
	Problems []Problem
	// Fixed counts problems repaired in place.
	Fixed int

	InodesChecked uint64
	BlocksChecked uint64
	Duration      time.Duration
}

// Clean reports whether the filesystem had no problems (or all were fixed).
func (r *Report) Clean() bool { return len(r.Problems) == r.Fixed }

func (r *Report) problem(kind, detail string, args ...any) {
	r.Problems = append(r.Problems, Problem{Kind: kind, Detail: fmt.Sprintf(detail, args...)})
}

// Run scrubs an opened filesystem. The caller owns fs and closes it.
func Run(fs *diskfs.FS, opts Options) (*Report, error) {
	start := time.Now()
	r := &Report{}
	l := fs.Layout()

	// Shadow allocation state rebuilt from the inode table; on-disk state
	// is compared against it afterwards.
	refBlocks := make(map[uint64]uint64) // block -> first referencing inode
	liveInodes := make(map[uint64]bool)

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(l.InodeCount), "scrubbing inodes")
	}

	var blockBuf []byte
	if opts.Deep {
		blockBuf = make([]byte, l.BlockSize)
	}

	for ino := uint64(1); ino < l.InodeCount; ino++ {
		if bar != nil {
			bar.Add(1)
		}
		if !fs.InodeAllocated(ino) {
			continue
		}
		r.InodesChecked++

		in, err := fs.ReadInode(ino)
		if err != nil {
			return nil, fmt.Errorf("read inode %d: %w", ino, err)
		}
		if in.Links == 0 {
			r.problem("orphan-inode", "inode %d is allocated but has no links", ino)
			continue
		}
		liveInodes[ino] = true

		err = fs.ForEachFileBlock(in, func(blk uint64, isIndex bool) error {
			r.BlocksChecked++
			if !l.ValidDataBlock(blk) {
				r.problem("bad-pointer", "inode %d references block %d outside the data region", ino, blk)
				return nil
			}
			if owner, dup := refBlocks[blk]; dup {
				r.problem("shared-block", "block %d referenced by inodes %d and %d", blk, owner, ino)
				return nil
			}
			refBlocks[blk] = ino
			if !fs.BlockAllocated(blk) {
				r.problem("unmarked-block", "block %d used by inode %d but free in the bitmap", blk, ino)
			}
			if opts.Deep {
				if err := fs.ReadBlockRaw(blk, blockBuf); err != nil {
					r.problem("io", "block %d of inode %d: %v", blk, ino, err)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk inode %d: %w", ino, err)
		}

		if in.IsDir() {
			if err := r.checkDirectory(fs, ino, in, liveInodes); err != nil {
				return nil, err
			}
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if !liveInodes[format.RootInode] {
		r.problem("no-root", "root inode %d is missing or unallocated", format.RootInode)
	}

	// Allocated-but-unreferenced blocks leak space; referenced-but-free
	// blocks were the dangerous case flagged above.
	for blk := l.DataStart; blk < l.BlockCount; blk++ {
		if fs.BlockAllocated(blk) {
			if _, ok := refBlocks[blk]; !ok {
				r.problem("leaked-block", "block %d is allocated but referenced by no inode", blk)
			}
		}
	}

	// Counter accuracy against the bitmaps (spec: free counters equal the
	// clear-bit counts).
	sb := fs.Superblock()
	if sb.FreeBlocks != fs.FreeBlocks() {
		r.problem("counter", "superblock free-block count %d, bitmap says %d", sb.FreeBlocks, fs.FreeBlocks())
	}
	if sb.FreeInodes != fs.FreeInodes() {
		r.problem("counter", "superblock free-inode count %d, bitmap says %d", sb.FreeInodes, fs.FreeInodes())
	}

	if opts.Fix && len(r.Problems) > 0 {
		fixed, err := repair(fs, r, refBlocks)
		if err != nil {
			return r, err
		}
		r.Fixed = fixed
	}

	r.Duration = time.Since(start)
	slog.Info("scrub finished", "problems", len(r.Problems), "fixed", r.Fixed,
		"inodes", r.InodesChecked, "blocks", r.BlocksChecked, "took", r.Duration)
	return r, nil
}

// checkDirectory validates the "."/".." linkage and entry targets.
func (r *Report) checkDirectory(fs *diskfs.FS, ino uint64, in *format.Inode, live map[uint64]bool) error {
	ents, err := fs.ReadDirEntries(in)
	if err != nil {
		r.problem("bad-directory", "inode %d: unreadable entries: %v", ino, err)
		return nil
	}
	if len(ents) < 2 || ents[0].Name != "." || ents[1].Name != ".." {
		r.problem("bad-directory", "inode %d does not start with \".\" and \"..\"", ino)
		return nil
	}
	if ents[0].Ino != ino {
		r.problem("bad-directory", "inode %d: \".\" points at %d", ino, ents[0].Ino)
	}
	for _, ent := range ents[2:] {
		if !fs.InodeAllocated(ent.Ino) {
			r.problem("dangling-entry", "directory %d entry %q points at free inode %d", ino, ent.Name, ent.Ino)
		}
	}
	return nil
}

// repair fixes what can be fixed mechanically: mark referenced blocks
// allocated, free leaked blocks, rebuild counters. Orphan inodes, shared
// blocks, bad pointers and directory problems are reported but left as
// they are.
func repair(fs *diskfs.FS, r *Report, refBlocks map[uint64]uint64) (int, error) {
	fixed := 0
	for _, p := range r.Problems {
		switch p.Kind {
		case "counter", "unmarked-block", "leaked-block":
			fixed++
		}
	}

	if err := fs.RebuildAllocation(refBlocks); err != nil {
		return 0, fmt.Errorf("rebuild allocation state: %w", err)
	}
	if err := fs.Sync(); err != nil {
		return 0, fmt.Errorf("persist repaired metadata: %w", err)
	}
	slog.Info("scrub repairs written", "fixed", fixed)
	return fixed, nil
}
