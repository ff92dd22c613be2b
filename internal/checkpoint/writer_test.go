///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package checkpoint

import (
	"context"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"os"
	"path"
	"testing"
)

func TestFsWriter_WriteShard(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewFsWriterOn(fs, 16)

	plan := Plan{Rank: 3, ModelBytes: 100, OptimizerBytes: 7}
	if err := w.WriteShard(context.Background(), 12, plan); err != nil {
		t.Fatalf("WriteShard failed: %+v", err)
	}

	expected := map[string]int64{
		"global_step12/rank3/model_states.pt": 100,
		"global_step12/rank3/optim_states.pt": 7,
	}
	for name, size := range expected {
		info, err := fs.Stat(name)
		if err != nil {
			t.Errorf("Shard file %s missing: %+v", name, err)
			continue
		}
		if info.Size() != size {
			t.Errorf("Shard file %s has %d bytes, expected %d", name,
				info.Size(), size)
		}
	}
}

func TestFsWriter_WriteShard_Empty(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewFsWriterOn(fs, 0)

	if err := w.WriteShard(context.Background(), 1,
		Plan{Rank: 1}); err != nil {
		t.Fatalf("WriteShard of an empty plan failed: %+v", err)
	}
	if exists, _ := afero.DirExists(fs, ShardDir(1, 1)); exists {
		t.Errorf("Empty plan should not create a shard directory")
	}
}

// Tests that write errors are classified as write failures.
func TestFsWriter_WriteShard_ReadOnly(t *testing.T) {
	w := NewFsWriterOn(afero.NewReadOnlyFs(afero.NewMemMapFs()), 16)

	err := w.WriteShard(context.Background(), 1,
		Plan{Rank: 0, ModelBytes: 10})
	if !errors.Is(err, cluster.ErrWriteFailure) {
		t.Errorf("Write to a read only filesystem should return %v, "+
			"received %v", cluster.ErrWriteFailure, err)
	}
}

func TestFsWriter_WriteShard_Cancelled(t *testing.T) {
	w := NewFsWriterOn(afero.NewMemMapFs(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteShard(ctx, 1, Plan{Rank: 0, ModelBytes: 10})
	if !errors.Is(err, cluster.ErrWriteFailure) {
		t.Errorf("Cancelled write should return %v, received %v",
			cluster.ErrWriteFailure, err)
	}
}

func TestNewFsWriter(t *testing.T) {
	w, err := NewFsWriter(MemoryLocation)
	if err != nil {
		t.Fatalf("NewFsWriter(%s) failed: %+v", MemoryLocation, err)
	}
	if _, ok := w.Fs().(*afero.MemMapFs); !ok {
		t.Errorf("Memory location should use a MemMapFs, uses %T", w.Fs())
	}

	dir := path.Join(t.TempDir(), "ckpt")
	w, err = NewFsWriter(dir)
	if err != nil {
		t.Fatalf("NewFsWriter(%s) failed: %+v", dir, err)
	}
	if err = w.WriteShard(context.Background(), 1,
		Plan{Rank: 0, ModelBytes: 8}); err != nil {
		t.Fatalf("WriteShard failed: %+v", err)
	}
	if _, err = os.Stat(path.Join(dir, ShardDir(1, 0),
		modelStatesFile)); err != nil {
		t.Errorf("Shard not written under the location: %+v", err)
	}

	if _, err = NewFsWriter(""); err == nil {
		t.Errorf("Empty location should be refused")
	}
}
