package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"

	"cropview/internal/geometry"
	"cropview/internal/probe"
	"cropview/internal/session"
	"cropview/internal/viewer"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

// Appearance is passed through to the client untouched. It has no effect on
// crop geometry.
type Appearance struct {
	ContainerColor string `json:"container_color"`
	AreaColor      string `json:"area_color"`
	OverlayURL     string `json:"overlay_url,omitempty"`
}

type Config struct {
	RootDir          string
	Store            *session.Store
	Viewport         geometry.Size
	Appearance       Appearance
	OnBeforeShutdown func()
	OnReady          func(addr string)
	OnSave           func(ops Operations)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

type sessionRequest struct {
	File       string         `json:"file"`
	Viewport   *geometry.Size `json:"viewport"`
	Appearance *Appearance    `json:"appearance"`
}

type sessionResponse struct {
	ID         string             `json:"id"`
	File       string             `json:"file"`
	ImageURL   string             `json:"image_url"`
	Layout     geometry.Layout    `json:"layout"`
	Params     session.CropParams `json:"params"`
	Appearance Appearance         `json:"appearance"`
}

type eventsRequest struct {
	Events []viewer.Event `json:"events"`
}

type eventsResponse struct {
	Params []session.CropParams `json:"params"`
	Latest session.CropParams   `json:"latest"`
}

type cropQuery struct {
	Width  float64 `query:"width"`
	Height float64 `query:"height"`
}

func statusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, probe.ErrProbe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, geometry.ErrUninitialized):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func imageURL(file string) string {
	if probe.IsRemote(file) {
		return file
	}
	return "/api/view?file=" + url.QueryEscape(file)
}

func (a *WebApp) sessionKey(req sessionRequest) (session.Key, error) {
	if req.File == "" {
		return session.Key{}, fiber.NewError(http.StatusBadRequest, "file is required")
	}
	viewport := a.config.Viewport
	if req.Viewport != nil {
		viewport = *req.Viewport
	}
	return session.Key{URI: req.File, Viewport: viewport}, nil
}

func (a *WebApp) appearance(req sessionRequest) Appearance {
	out := a.config.Appearance
	if p := req.Appearance; p != nil {
		if p.ContainerColor != "" {
			out.ContainerColor = p.ContainerColor
		}
		if p.AreaColor != "" {
			out.AreaColor = p.AreaColor
		}
		if p.OverlayURL != "" {
			out.OverlayURL = p.OverlayURL
		}
	}
	return out
}

func newSessionResponse(sess *session.Session, appearance Appearance) sessionResponse {
	return sessionResponse{
		ID:         sess.ID(),
		File:       sess.Key().URI,
		ImageURL:   imageURL(sess.Key().URI),
		Layout:     sess.Layout(),
		Params:     sess.Latest(),
		Appearance: appearance,
	}
}

// resolveSessions fills crop operations that reference a session with that
// session's file, viewport and latest params.
func (a *WebApp) resolveSessions(ops Operations) error {
	for _, op := range ops {
		if op.Crop == nil || op.Crop.SessionID == "" {
			continue
		}
		sess, err := a.config.Store.Get(op.Crop.SessionID)
		if err != nil {
			return err
		}
		op.Crop.Filename = sess.Key().URI
		op.Crop.Viewport = sess.Key().Viewport
		op.Crop.Params = sess.Latest()
		if op.Crop.DisplaySize.Empty() {
			op.Crop.DisplaySize = sess.Key().Viewport
		}
	}
	return nil
}

func (a *WebApp) newServer(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := statusFor(err)
			log.Ctx(ctx).Error().
				Err(err).
				Int("status", code).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			if code == http.StatusNotFound && c.Path() == "/favicon.ico" {
				return nil
			}
			if code == http.StatusInternalServerError {
				return c.Status(code).JSON(fiber.Map{"error": "Internal Server Error"})
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	store := a.config.Store
	filesRoot := http.Dir(a.config.RootDir)
	webapp.Get("/api/view", func(c *fiber.Ctx) error {
		filePath := c.Query("file")
		return filesystem.SendFile(c, filesRoot, filePath)
	})

	webapp.Get("/api/ls", func(c *fiber.Ctx) error {
		dir, err := walkImages(ctx, a.config.RootDir, store.Prober())
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}

		for i := range dir.Files {
			dir.Files[i].URL = imageURL(dir.Files[i].Name)
		}

		var response struct {
			Name     string        `json:"name"`
			Files    []FileInfo    `json:"files"`
			Viewport geometry.Size `json:"viewport"`
		}
		response.Name = dir.Name
		response.Files = dir.Files
		response.Viewport = a.config.Viewport

		return c.JSON(response)
	})

	webapp.Post("/api/sessions", func(c *fiber.Ctx) error {
		var request sessionRequest
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		key, err := a.sessionKey(request)
		if err != nil {
			return err
		}
		sess, err := store.Create(ctx, key)
		if err != nil {
			return err
		}
		return c.Status(http.StatusCreated).JSON(newSessionResponse(sess, a.appearance(request)))
	})

	webapp.Put("/api/sessions/:id", func(c *fiber.Ctx) error {
		var request sessionRequest
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		key, err := a.sessionKey(request)
		if err != nil {
			return err
		}
		sess, _, err := store.Reinitialize(ctx, c.Params("id"), key)
		if err != nil {
			return err
		}
		return c.JSON(newSessionResponse(sess, a.appearance(request)))
	})

	webapp.Get("/api/sessions/:id", func(c *fiber.Ctx) error {
		sess, err := store.Get(c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(newSessionResponse(sess, a.config.Appearance))
	})

	webapp.Post("/api/sessions/:id/events", func(c *fiber.Ctx) error {
		var request eventsRequest
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		for i, ev := range request.Events {
			if !ev.Valid() {
				return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("invalid event %d: %s %s", i, ev.Phase, ev.Kind))
			}
		}
		sess, err := store.Get(c.Params("id"))
		if err != nil {
			return err
		}
		params, err := sess.Submit(c.Context(), request.Events)
		if err != nil {
			return err
		}
		return c.JSON(eventsResponse{Params: params, Latest: sess.Latest()})
	})

	webapp.Get("/api/sessions/:id/crop", func(c *fiber.Ctx) error {
		var query cropQuery
		if err := c.QueryParser(&query); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		sess, err := store.Get(c.Params("id"))
		if err != nil {
			return err
		}
		requested := geometry.Size{Width: query.Width, Height: query.Height}
		if requested.Empty() {
			requested = sess.Key().Viewport
		}
		rect, err := sess.CropRect(ctx, store.Prober(), requested)
		if err != nil {
			return err
		}
		return c.JSON(rect)
	})

	webapp.Delete("/api/sessions/:id", func(c *fiber.Ctx) error {
		if err := store.Close(c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	})

	webapp.Post("/api/save", func(c *fiber.Ctx) error {
		var request struct {
			Operations []Operation `json:"operations"`
		}

		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err := a.resolveSessions(request.Operations); err != nil {
			return err
		}

		if fn := a.config.OnSave; fn != nil {
			fn(request.Operations)
		}

		return c.SendStatus(http.StatusNoContent)
	})
	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newServer(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
		a.config.Store.CloseAll()
	}()

	// Let the OS assign a random available port
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", 0))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Use the listener that was already created
	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
