package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/iter"

	"cropview/internal/geometry"
	"cropview/internal/probe"
	"cropview/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("cropview"),
		kong.Description("Pan and zoom images in a fixed viewport and crop what you see."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

func setupLogging(verbose bool) context.Context {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger.WithContext(context.Background())
}

type viewportFlags struct {
	ScreenWidth    float64       `help:"Reference edge the shorter image side is fitted to" default:"390" env:"CROPVIEW_SCREEN_WIDTH"`
	ViewportWidth  float64       `help:"Crop viewport width, defaults to the screen width" env:"CROPVIEW_VIEWPORT_WIDTH"`
	ViewportHeight float64       `help:"Crop viewport height, defaults to the screen width" env:"CROPVIEW_VIEWPORT_HEIGHT"`
	ProbeTimeout   time.Duration `help:"Timeout for probing remote images" default:"10s"`
}

func (f viewportFlags) viewport() geometry.Size {
	vp := geometry.Size{Width: f.ViewportWidth, Height: f.ViewportHeight}
	if vp.Width <= 0 {
		vp.Width = f.ScreenWidth
	}
	if vp.Height <= 0 {
		vp.Height = f.ScreenWidth
	}
	return vp
}

func (f viewportFlags) prober(root string) *probe.ImageProber {
	p := probe.NewImageProber(root)
	p.Timeout = f.ProbeTimeout
	return p
}

type serveCmd struct {
	RootDir        string        `arg:"" help:"Root directory to serve files from"`
	Open           bool          `help:"Open the browser automatically when the server starts" default:"true"`
	JSON           bool          `help:"Output resolved operations in JSON format without executing"`
	Once           bool          `help:"Run the server once and exit after save" default:"true"`
	Verbose        bool          `help:"Enable verbose logging" default:"false"`
	Workers        int           `help:"Number of crops to run in parallel, defaults to the number of CPUs"`
	Quality        int           `help:"JPEG quality of cropped images" default:"90"`
	ContainerColor string        `help:"Background color around the crop area" default:"black"`
	AreaColor      string        `help:"Backdrop color of the crop area" default:"black"`
	Overlay        string        `help:"URL of an image drawn above the crop area"`
	Viewport       viewportFlags `embed:""`
}

func (cmd *serveCmd) Run() error {
	ctx := setupLogging(cmd.Verbose)
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	prober := cmd.Viewport.prober(cmd.RootDir)
	store := session.NewStore(prober, cmd.Viewport.ScreenWidth, func(id string, p session.CropParams) {
		log.Ctx(ctx).Debug().
			Str("session", id).
			Float64("x", p.PositionX).
			Float64("y", p.PositionY).
			Float64("scale", p.Scale).
			Msg("crop params changed")
	})

	executor := &OperationExecutor{
		OutputDir: filepath.Join(cmd.RootDir, "output"),
		Images:    prober,
		Cropper:   NewImagingCropper(cmd.Quality),
		Workers:   cmd.Workers,
	}

	app := NewWebApp(Config{
		RootDir:  cmd.RootDir,
		Store:    store,
		Viewport: cmd.Viewport.viewport(),
		Appearance: Appearance{
			ContainerColor: cmd.ContainerColor,
			AreaColor:      cmd.AreaColor,
			OverlayURL:     cmd.Overlay,
		},
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := browser.OpenURL(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
		OnSave: func(ops Operations) {
			if cmd.JSON {
				if err := executor.Resolve(ctx, ops); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("Failed to resolve operations")
				}
				printJSONL(ops)
			} else {
				if err := executor.Exec(ctx, ops); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("Failed to execute operations")
				}
			}

			if cmd.Once {
				cancel()
			}
		},
	})

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type cropCmd struct {
	File      string        `arg:"" help:"Image file or http(s) URL"`
	X         float64       `help:"Committed horizontal pan in fitted image units"`
	Y         float64       `help:"Committed vertical pan in fitted image units"`
	Scale     float64       `help:"Committed zoom, defaults to the minimum scale"`
	Width     float64       `help:"Output width in pixels, defaults to the viewport width"`
	Height    float64       `help:"Output height in pixels, defaults to the viewport height"`
	Out       string        `help:"Write the cropped JPEG to this path" type:"path"`
	Quality   int           `help:"JPEG quality of the cropped image" default:"90"`
	Verbose   bool          `help:"Enable verbose logging" default:"false"`
	Viewport  viewportFlags `embed:""`
}

func (cmd *cropCmd) Run() error {
	ctx := setupLogging(cmd.Verbose)
	prober := cmd.Viewport.prober("")
	viewport := cmd.Viewport.viewport()

	src, err := prober.Probe(ctx, cmd.File)
	if err != nil {
		return err
	}
	layout, err := geometry.NewLayout(src, cmd.Viewport.ScreenWidth, viewport)
	if err != nil {
		return err
	}

	scale := cmd.Scale
	if scale <= 0 {
		scale = layout.MinScale
	}
	requested := geometry.Size{Width: cmd.Width, Height: cmd.Height}
	if requested.Empty() {
		requested = viewport
	}

	rect, err := session.ComputeCropRect(ctx, prober, session.CropRequest{
		PositionX:         cmd.X,
		PositionY:         cmd.Y,
		Scale:             scale,
		FittedSize:        layout.Fitted,
		URI:               cmd.File,
		RequestedCropSize: requested,
		ViewportSize:      viewport,
	})
	if err != nil {
		return err
	}
	printJSONL([]geometry.CropRect{rect})

	if cmd.Out == "" {
		return nil
	}
	in, err := prober.Open(ctx, cmd.File)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(cmd.Out)
	if err != nil {
		return fmt.Errorf("failed to create cropped file %s: %w", cmd.Out, err)
	}
	defer out.Close()
	if err := NewImagingCropper(cmd.Quality).Crop(ctx, in, out, rect); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("path", cmd.Out).Stringer("rect", rect).Msg("crop written")
	return nil
}

type probeCmd struct {
	Files    []string      `arg:"" help:"Image files or http(s) URLs"`
	Verbose  bool          `help:"Enable verbose logging" default:"false"`
	Viewport viewportFlags `embed:""`
}

type probeRecord struct {
	File   string           `json:"file"`
	Layout *geometry.Layout `json:"layout,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (cmd *probeCmd) Run() error {
	ctx := setupLogging(cmd.Verbose)
	prober := cmd.Viewport.prober("")
	viewport := cmd.Viewport.viewport()

	records := iter.Map(cmd.Files, func(file *string) probeRecord {
		rec := probeRecord{File: *file}
		src, err := prober.Probe(ctx, *file)
		if err != nil {
			rec.Error = err.Error()
			return rec
		}
		layout, err := geometry.NewLayout(src, cmd.Viewport.ScreenWidth, viewport)
		if err != nil {
			rec.Error = err.Error()
			return rec
		}
		rec.Layout = &layout
		return rec
	})
	printJSONL(records)
	return nil
}

type cliArgs struct {
	Serve serveCmd `cmd:"" default:"withargs" help:"Serve the crop UI for a directory of images"`
	Crop  cropCmd  `cmd:"" help:"Resolve one view of an image to a crop rectangle"`
	Probe probeCmd `cmd:"" help:"Print size, rotation and layout of images"`
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
