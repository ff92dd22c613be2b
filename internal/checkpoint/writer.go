///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package checkpoint

// writer.go writes checkpoint shards of synthetic data

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ckptbench/internal/cluster"
	"math/rand"
	"path"
	"strings"
)

// MemoryLocation is the checkpoint location that keeps shards in memory
const MemoryLocation = "mem://"

const (
	modelStatesFile = "model_states.pt"
	optimStatesFile = "optim_states.pt"
	// DefaultChunkSize is the size of a single write call
	DefaultChunkSize = 4 << 20
)

// Writer puts the shard of a rank on storage.
type Writer interface {
	WriteShard(ctx context.Context, step uint64, plan Plan) error
}

// FsWriter writes shards of random bytes to a filesystem as
// global_step<step>/rank<rank>/{model_states,optim_states}.pt
type FsWriter struct {
	fs    afero.Fs
	chunk []byte
}

// NewFsWriter creates a writer for a checkpoint location, either a directory
// or MemoryLocation.
func NewFsWriter(location string) (*FsWriter, error) {
	if strings.HasPrefix(location, MemoryLocation) {
		return NewFsWriterOn(afero.NewMemMapFs(), DefaultChunkSize), nil
	}

	if location == "" {
		return nil, errors.New("no checkpoint location set")
	}

	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(location, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create checkpoint "+
			"location %s", location)
	}

	return NewFsWriterOn(afero.NewBasePathFs(osFs, location),
		DefaultChunkSize), nil
}

// NewFsWriterOn creates a writer on an existing filesystem. Shards are
// written chunkSize bytes at a time.
func NewFsWriterOn(fs afero.Fs, chunkSize int) *FsWriter {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	chunk := make([]byte, chunkSize)
	// the content only has to be incompressible
	rand.Read(chunk)

	return &FsWriter{
		fs:    fs,
		chunk: chunk,
	}
}

// Fs returns the filesystem shards are written to.
func (w *FsWriter) Fs() afero.Fs {
	return w.fs
}

// ShardDir returns the directory of the shard of rank for step.
func ShardDir(step uint64, rank int) string {
	return path.Join(fmt.Sprintf("global_step%d", step),
		fmt.Sprintf("rank%d", rank))
}

// WriteShard writes the model and optimizer states of the plan. Every error
// wraps cluster.ErrWriteFailure.
func (w *FsWriter) WriteShard(ctx context.Context, step uint64,
	plan Plan) error {
	if plan.Empty() {
		return nil
	}

	dir := ShardDir(step, plan.Rank)
	if err := w.fs.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(cluster.ErrWriteFailure,
			"could not create %s: %v", dir, err)
	}

	if err := w.writeFile(ctx, path.Join(dir, modelStatesFile),
		plan.ModelBytes); err != nil {
		return err
	}

	return w.writeFile(ctx, path.Join(dir, optimStatesFile),
		plan.OptimizerBytes)
}

func (w *FsWriter) writeFile(ctx context.Context, name string,
	size int64) (err error) {
	if size == 0 {
		return nil
	}

	f, err := w.fs.Create(name)
	if err != nil {
		return errors.Wrapf(cluster.ErrWriteFailure,
			"could not create %s: %v", name, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(cluster.ErrWriteFailure,
				"could not close %s: %v", name, closeErr)
		}
	}()

	for written := int64(0); written < size; {
		if ctx.Err() != nil {
			return errors.Wrapf(cluster.ErrWriteFailure,
				"write of %s interrupted after %d bytes: %v", name, written,
				ctx.Err())
		}

		n := int64(len(w.chunk))
		if size-written < n {
			n = size - written
		}
		if _, err = f.Write(w.chunk[:n]); err != nil {
			return errors.Wrapf(cluster.ErrWriteFailure,
				"could not write %s: %v", name, err)
		}
		written += n
	}

	if err = f.Sync(); err != nil {
		return errors.Wrapf(cluster.ErrWriteFailure,
			"could not sync %s: %v", name, err)
	}

	jww.TRACE.Printf("Wrote %d bytes to %s", size, name)
	return nil
}
