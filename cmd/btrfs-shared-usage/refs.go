// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"git.lukeshu.com/btrfs-shared-usage/cmd/btrfs-shared-usage/report"
	"git.lukeshu.com/btrfs-shared-usage/lib/btrfsioctl"
	"git.lukeshu.com/btrfs-shared-usage/lib/containers"
	"git.lukeshu.com/btrfs-shared-usage/lib/extentscan"
	"git.lukeshu.com/btrfs-shared-usage/lib/sharedextents"
)

// sourceFlags says where references come from: a live scan of a
// mounted filesystem, or a previous `dump-refs`.
type sourceFlags struct {
	roots    objIDListFlag
	owner    extentscan.OwnerMode
	fromJSON string
}

func newSourceFlags() *sourceFlags {
	return &sourceFlags{
		roots: objIDListFlag{IDs: []btrfsioctl.ObjID{btrfsioctl.FS_TREE_OBJECTID}},
		owner: extentscan.OwnerFile,
	}
}

func (f *sourceFlags) addFlags(flags *pflag.FlagSet, withJSON bool) {
	flags.Var(&f.roots, "root", "scan the subvolume tree `ID` (may be given multiple times with --owner=subvolume)")
	flags.Var(&f.owner, "owner", "account ownership per `file` or per `subvolume`")
	if withJSON {
		flags.StringVar(&f.fromJSON, "from-json", "", "read references from `refs.json` (written by dump-refs) instead of scanning")
		_ = cobra.MarkFlagFilename(flags, "from-json")
	}
}

// openFS opens the mountpoint positional argument, if there is one.
func openFS(args []string) (*btrfsioctl.FS, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return btrfsioctl.Open(args[0])
}

// forEachReference calls fn for every reference.  When scanning
// several trees, they are scanned concurrently, so fn must be safe
// for concurrent use.
func (f *sourceFlags) forEachReference(ctx context.Context, fs *btrfsioctl.FS, fn func(extentscan.Reference) error) error {
	if f.fromJSON != "" {
		ctx := dlog.WithField(ctx, "btrfs-shared-usage.step", "read-refs")
		refs, err := readJSONFile[[]extentscan.Reference](ctx, f.fromJSON)
		if err != nil {
			return err
		}
		dlog.Infof(ctx, "read %v references", len(refs))
		for _, ref := range refs {
			if err := fn(ref); err != nil {
				return err
			}
		}
		return nil
	}

	if fs == nil {
		return errors.New("must give a MOUNTPOINT to scan, or --from-json")
	}
	if err := f.owner.CheckTrees(f.roots.IDs); err != nil {
		return err
	}
	ctx = dlog.WithField(ctx, "btrfs-shared-usage.step", "scan")
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	for _, treeID := range f.roots.IDs {
		treeID := treeID
		grp.Go(fmt.Sprintf("scan-%v", treeID), func(ctx context.Context) error {
			_, err := extentscan.ScanTree(ctx, fs, treeID, f.owner, fn)
			return err
		})
	}
	return grp.Wait()
}

type recordStats struct {
	Recorded int
	Skipped  int
}

// recorder feeds references into an Engine, remembering how many
// logical bytes each owner references.
type recorder struct {
	engine *sharedextents.Engine[btrfsioctl.ObjID]

	mu         sync.Mutex
	stats      recordStats
	referenced map[btrfsioctl.ObjID]uint64
	trees      containers.Multiset[btrfsioctl.ObjID]
}

func newRecorder(cfg sharedextents.EngineConfig) *recorder {
	return &recorder{
		engine:     sharedextents.NewEngine[btrfsioctl.ObjID](cfg),
		referenced: make(map[btrfsioctl.ObjID]uint64),
		trees:      make(containers.Multiset[btrfsioctl.ObjID]),
	}
}

func (r *recorder) record(ctx context.Context) func(extentscan.Reference) error {
	return func(ref extentscan.Reference) error {
		err := r.engine.Record(ref.PhysOffset, ref.PhysLength, ref.Start, ref.Stop, ref.Owner)
		r.mu.Lock()
		defer r.mu.Unlock()
		if ref.Tree != 0 {
			r.trees.Insert(ref.Tree)
		}
		switch {
		case err == nil:
			r.stats.Recorded++
			r.referenced[ref.Owner] += ref.Stop - ref.Start
			return nil
		case errors.Is(err, sharedextents.ErrInvalidRange):
			dlog.Warnf(ctx, "owner %v: skipping reference: %v", ref.Owner, err)
			r.stats.Skipped++
			return nil
		default:
			return err
		}
	}
}

// fileTree returns the subvolume that per-file owners (inode
// numbers) belong to.  It is the tree the references were found in;
// roots is only consulted for references that do not say, such as
// those from an older dump.
func (r *recorder) fileTree(roots objIDListFlag) (btrfsioctl.ObjID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.trees.Len() {
	case 0:
		if err := extentscan.OwnerFile.CheckTrees(roots.IDs); err != nil {
			return 0, err
		}
		return roots.IDs[0], nil
	case 1:
		tree := r.trees.Members()[0]
		if roots.changed && (len(roots.IDs) != 1 || roots.IDs[0] != tree) {
			return 0, fmt.Errorf("--root=%v, but the references are from tree %v", roots.String(), tree)
		}
		return tree, nil
	default:
		return 0, fmt.Errorf("%w: references are from trees %v", extentscan.ErrTooManyTrees, r.trees.Members())
	}
}

// ownerResolver returns a report.OwnerResolver appropriate for the
// owner mode.
func (r *recorder) ownerResolver(mode extentscan.OwnerMode, fs *btrfsioctl.FS, tree btrfsioctl.ObjID) report.OwnerResolver[btrfsioctl.ObjID] {
	if mode == extentscan.OwnerSubvolume {
		return report.OwnerResolverFunc[btrfsioctl.ObjID](func(_ context.Context, treeID btrfsioctl.ObjID) (report.OwnerInfo, error) {
			return report.OwnerInfo{
				Name: fmt.Sprintf("subvolume %d", uint64(treeID)),
				Size: r.referenced[treeID],
			}, nil
		})
	}
	return report.OwnerResolverFunc[btrfsioctl.ObjID](func(_ context.Context, inode btrfsioctl.ObjID) (report.OwnerInfo, error) {
		filename, err := fs.InodePath(tree, inode)
		if err != nil {
			return report.OwnerInfo{}, err
		}
		fi, err := os.Stat(filename)
		if err != nil {
			return report.OwnerInfo{}, err
		}
		return report.OwnerInfo{
			Name: filename,
			Size: uint64(fi.Size()),
		}, nil
	})
}
