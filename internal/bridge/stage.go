package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"framecut/internal/artifact"
	"framecut/internal/fileutil"
	"framecut/internal/protocol"
	"framecut/internal/services"
	"framecut/internal/textutil"
	"framecut/internal/workerctx"
)

// stage moves the command's inputs into the context's inputs directory and
// builds the execute payload. Merge clips are staged in parallel.
func (c *Client) stage(ctx context.Context, wc *workerctx.Context, id string, cmd Command) (protocol.Execute, error) {
	exec := protocol.Execute{Kind: cmd.Kind}
	if cmd.Kind != protocol.KindMerge {
		path, err := stageInput(wc, id, &cmd.Input)
		if err != nil {
			return exec, stageError(cmd.Kind, cmd.Input, err)
		}
		exec.Input = path
		return exec, nil
	}

	clips := make([]protocol.Clip, len(cmd.Clips))
	g, gctx := errgroup.WithContext(ctx)
	for i := range cmd.Clips {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			clip := &cmd.Clips[i]
			path, err := stageInput(wc, fmt.Sprintf("%s-clip%02d", id, i+1), &clip.Input)
			if err != nil {
				return stageError(cmd.Kind, clip.Input, err)
			}
			clips[i] = protocol.Clip{Path: path, Start: clip.Start, End: clip.End}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return exec, err
	}
	exec.Clips = clips
	return exec, nil
}

// stageInput hands in over to the context and drops the bridge's reference
// to its bytes.
func stageInput(wc *workerctx.Context, base string, in *Input) (string, error) {
	dst := wc.InputPath(base + inputExt(in))
	var err error
	if len(in.Data) > 0 {
		err = fileutil.WriteNew(dst, bytes.NewReader(in.Data))
		in.Data = nil
	} else {
		err = fileutil.CopyFile(in.Path, dst)
	}
	if err != nil {
		return "", err
	}
	return dst, nil
}

func stageError(kind protocol.Kind, in Input, err error) error {
	name := in.Name
	if name == "" {
		name = filepath.Base(in.Path)
	}
	marker := services.ErrExecutionFailure
	if errors.Is(err, os.ErrNotExist) {
		marker = services.ErrValidation
	}
	return services.Wrap(marker, "bridge", string(kind), "stage input "+name, err)
}

// inputExt keeps a short alphanumeric extension so the engine can use it as a
// demuxer hint.
func inputExt(in *Input) string {
	name := in.Name
	if name == "" {
		name = in.Path
	}
	return textutil.Extension(name, "")
}

// collect reads the outputs of a completed command back out of the context
// and materializes them. The request's output directory is removed
// afterwards.
func (c *Client) collect(wc *workerctx.Context, op *Operation, out *protocol.Output) (*artifact.Result, error) {
	scratch := wc.ScratchDir()
	defer func() { _ = os.RemoveAll(protocol.OutputDir(scratch, op.id)) }()

	fail := func(message string, err error) error {
		return services.Wrap(services.ErrExecutionFailure, "bridge", string(op.kind), message, err)
	}
	if out == nil {
		return nil, fail("engine reported no output", nil)
	}

	raw := artifact.Output{Format: op.format}
	if op.kind == protocol.KindFrames {
		if len(out.Frames) == 0 {
			return nil, fail("engine produced no frames", nil)
		}
		raw.Frames = make([]artifact.NamedBytes, 0, len(out.Frames))
		for _, frame := range out.Frames {
			data, err := fileutil.ReadWithin(scratch, frame.Path)
			if err != nil {
				return nil, fail("read frame "+frame.Name, err)
			}
			raw.Frames = append(raw.Frames, artifact.NamedBytes{Name: frame.Name, Data: data})
		}
	} else {
		if out.Path == "" {
			return nil, fail("engine reported no output file", nil)
		}
		data, err := fileutil.ReadWithin(scratch, out.Path)
		if err != nil {
			return nil, fail("read output", err)
		}
		raw.Data = data
	}

	result, err := c.materializer.Materialize(op.kind, raw)
	if err != nil {
		return nil, fail("materialize", err)
	}
	return result, nil
}
