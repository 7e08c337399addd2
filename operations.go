package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"cropview/internal/geometry"
	"cropview/internal/probe"
	"cropview/internal/session"
)

type Operations = []Operation

type Operation struct {
	Crop *CropOperation
}

func (o Operation) MarshalJSON() ([]byte, error) {
	if o.Crop == nil {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		*CropOperation
	}{Type: "crop", CropOperation: o.Crop})
}

// unmarshal
func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	switch op.Type {
	case "crop":
		var crop CropOperation
		if err := json.Unmarshal(data, &crop); err != nil {
			return fmt.Errorf("failed to unmarshal crop operation: %w", err)
		}
		o.Crop = &crop
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

// CropOperation is a committed view of one file. When SessionID is set the
// web app fills in the view from that session before execution.
type CropOperation struct {
	Filename    string             `json:"filename"`
	SessionID   string             `json:"session,omitempty"`
	Params      session.CropParams `json:"params"`
	Viewport    geometry.Size      `json:"viewport"`
	DisplaySize geometry.Size      `json:"display_size"`
	// Rect is filled in once the operation has been resolved.
	Rect *geometry.CropRect `json:"rect,omitempty"`
}

func (op CropOperation) Request() session.CropRequest {
	return session.CropRequest{
		PositionX:         op.Params.PositionX,
		PositionY:         op.Params.PositionY,
		Scale:             op.Params.Scale,
		FittedSize:        op.Params.FittedSize,
		URI:               op.Filename,
		RequestedCropSize: op.DisplaySize,
		ViewportSize:      op.Viewport,
	}
}

// sourceBase is the file name of a local path or of the path of a URL.
func sourceBase(name string) string {
	if probe.IsRemote(name) {
		if u, err := url.Parse(name); err == nil {
			return path.Base(u.Path)
		}
	}
	return filepath.Base(name)
}

// cropID is a short stable name for a resolved rectangle.
func cropID(rect geometry.CropRect) string {
	sum := md5.Sum([]byte(rect.String()))
	return fmt.Sprintf("%x", sum[:8])
}

type Cropper interface {
	Crop(ctx context.Context, r io.Reader, w io.Writer, rect geometry.CropRect) error
}

// ImageSource probes images and opens them for cropping from the same place.
type ImageSource interface {
	probe.Prober
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

type OperationExecutor struct {
	OutputDir string
	Images    ImageSource
	Cropper   Cropper
	Workers   int
}

func (r OperationExecutor) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.NumCPU()
}

// Resolve computes the crop rectangle of every operation, re-probing each
// source file.
func (r OperationExecutor) Resolve(ctx context.Context, ops []Operation) error {
	for i := range ops {
		if ops[i].Crop == nil {
			continue
		}
		rect, err := session.ComputeCropRect(ctx, r.Images, ops[i].Crop.Request())
		if err != nil {
			return err
		}
		ops[i].Crop.Rect = &rect
	}
	return nil
}

func (r OperationExecutor) Exec(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil
	}

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(r.workers())

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
	}
	for _, op := range ops {
		pooler.Go(func(ctx context.Context) error {
			if err := r.executeOperation(ctx, op); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Interface("op", op).
					Msg("failed to execute operation")
				return err
			}
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return err
	}

	return nil
}

func (r OperationExecutor) executeOperation(ctx context.Context, op Operation) error {
	if op.Crop != nil {
		return r.executeCrop(ctx, *op.Crop)
	}
	return nil
}

func (r OperationExecutor) executeCrop(ctx context.Context, op CropOperation) error {
	rect, err := session.ComputeCropRect(ctx, r.Images, op.Request())
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("filename", op.Filename).Stringer("rect", rect).Msg("cropping")

	f, err := r.Images.Open(ctx, op.Filename)
	if err != nil {
		return err
	}
	defer f.Close()
	var b bytes.Buffer
	if err := r.Cropper.Crop(ctx, f, &b, rect); err != nil {
		return err
	}

	base := sourceBase(op.Filename)
	newName := fmt.Sprintf("%s-%s.jpg", strings.TrimSuffix(base, filepath.Ext(base)), cropID(rect))
	croppedPath := filepath.Join(r.OutputDir, newName)
	wf, err := os.Create(croppedPath)
	if err != nil {
		return fmt.Errorf("failed to create cropped file %s: %w", newName, err)
	}
	defer wf.Close()
	if _, err := b.WriteTo(wf); err != nil {
		return fmt.Errorf("failed to write cropped data to file %s: %w", newName, err)
	}
	return nil
}
