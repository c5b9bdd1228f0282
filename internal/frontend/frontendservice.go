package frontend

import (
	"errors"
	"log/slog"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/gallerysync/internal/core"
)

const (
	MainPageName = "index.html"
	SocketPath   = "/ws"
	UploadPath   = "/upload"
	ProbePath    = "/probe"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

type indexData struct {
	StaticPrefix string
	SocketPath   string
	UploadPath   string
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = newTemplate()

	e.GET("/", service.indexHandler)
	e.GET("/"+MainPageName, service.indexHandler)
	e.GET(ProbePath, service.probeHandler)
	e.GET(SocketPath, service.socketHandler)
	e.POST(UploadPath, service.uploadHandler)

	e.Static(service.config.StaticPrefix, service.coreService.OutputRoot())
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	return ctx.Render(http.StatusOK, MainPageName, indexData{
		StaticPrefix: service.config.StaticPrefix,
		SocketPath:   SocketPath,
		UploadPath:   UploadPath,
	})
}

func (service *FrontendService) probeHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "gallery sync is running")
}

func (service *FrontendService) uploadHandler(ctx echo.Context) error {
	file, err := ctx.FormFile("image")
	if err != nil {
		slog.Error("uploadHandler: failed to get uploaded file",
			"status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, "Failed to get uploaded file")
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("uploadHandler: failed to open uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, "Failed to open uploaded file")
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("uploadHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	ref, err := service.coreService.StoreUpload(file.Filename, src)
	if errors.Is(err, core.ErrInvalidFilename) {
		slog.Warn("uploadHandler: rejected filename",
			"status", http.StatusBadRequest, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusBadRequest, "Invalid filename")
	}
	if err != nil {
		slog.Error("uploadHandler: failed to store uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, "Failed to store uploaded file")
	}

	return ctx.String(http.StatusOK, "Uploaded file: "+path.Base(ref))
}
