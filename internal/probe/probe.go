// Package probe reads the intrinsic size and display rotation of images.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"cropview/internal/geometry"
)

// ErrProbe marks every failure to determine an image's size or rotation.
var ErrProbe = errors.New("cannot probe image")

const defaultTimeout = 10 * time.Second

// DefaultMaxBodySize caps the size of remote images.
const DefaultMaxBodySize = 64 << 20

type Prober interface {
	Probe(ctx context.Context, uri string) (geometry.SourceImageInfo, error)
}

// ImageProber probes local files and http(s) URLs. Local names are resolved
// with Path.
type ImageProber struct {
	Root    string
	Client  *fasthttp.Client
	Timeout time.Duration
}

func NewImageProber(root string) *ImageProber {
	return &ImageProber{
		Root:    root,
		Client:  &fasthttp.Client{Name: "cropview", MaxResponseBodySize: DefaultMaxBodySize},
		Timeout: defaultTimeout,
	}
}

func (p *ImageProber) Probe(ctx context.Context, uri string) (geometry.SourceImageInfo, error) {
	if err := ctx.Err(); err != nil {
		return geometry.SourceImageInfo{}, fmt.Errorf("%w %q: %w", ErrProbe, uri, err)
	}

	var (
		info geometry.SourceImageInfo
		err  error
	)
	if IsRemote(uri) {
		info, err = p.probeRemote(ctx, uri)
	} else {
		info, err = p.probeFile(uri)
	}
	if err != nil {
		return geometry.SourceImageInfo{}, fmt.Errorf("%w %q: %w", ErrProbe, uri, err)
	}

	log.Ctx(ctx).Debug().
		Str("uri", uri).
		Int("width", info.Width).
		Int("height", info.Height).
		Int("rotation", info.Rotation).
		Msg("probed image")
	return info, nil
}

// Open returns the bytes of the image named by uri, read from the same place
// Probe reads it from.
func (p *ImageProber) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if IsRemote(uri) {
		body, err := p.fetch(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", uri, err)
		}
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	path, err := p.Path(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return f, nil
}

// Path maps a local image name to the file it is read from. With a Root set,
// names are relative to it and absolute names or names escaping Root are
// rejected. Without a Root, names are used as given.
func (p *ImageProber) Path(name string) (string, error) {
	if IsRemote(name) {
		return "", fmt.Errorf("%q is not a local file", name)
	}
	if p.Root == "" {
		return name, nil
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute path %q is outside root", name)
	}
	path := filepath.Join(p.Root, name)
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root", name)
	}
	return path, nil
}

func (p *ImageProber) probeFile(name string) (geometry.SourceImageInfo, error) {
	path, err := p.Path(name)
	if err != nil {
		return geometry.SourceImageInfo{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return geometry.SourceImageInfo{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func (p *ImageProber) probeRemote(ctx context.Context, uri string) (geometry.SourceImageInfo, error) {
	body, err := p.fetch(ctx, uri)
	if err != nil {
		return geometry.SourceImageInfo{}, err
	}
	return Decode(bytes.NewReader(body))
}

// fetch downloads uri. Bodies larger than the client's MaxResponseBodySize
// fail with fasthttp.ErrBodyTooLarge.
func (p *ImageProber) fetch(ctx context.Context, uri string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)

	client := p.Client
	if client == nil {
		client = &fasthttp.Client{MaxResponseBodySize: DefaultMaxBodySize}
	}
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = client.DoDeadline(req, resp, deadline)
	} else {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		err = client.DoTimeout(req, resp, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", code)
	}
	return append([]byte(nil), resp.Body()...), nil
}

// Decode reads the image header for its size and, for JPEG, the EXIF
// orientation. The returned size is as stored, not rotation corrected.
func Decode(r io.ReadSeeker) (geometry.SourceImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return geometry.SourceImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	info := geometry.SourceImageInfo{Width: cfg.Width, Height: cfg.Height}
	if format != "jpeg" {
		return info, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return geometry.SourceImageInfo{}, fmt.Errorf("failed to rewind: %w", err)
	}
	info.Rotation = readOrientation(r).Rotation()
	return info, nil
}

// IsRemote reports whether uri is fetched over HTTP rather than read from disk.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}
