package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/appforge"
	"github.com/totegamma/appforge/internal/config"
	"github.com/totegamma/appforge/internal/domain"
	"github.com/totegamma/appforge/internal/present/rest/presenter"
	"github.com/totegamma/appforge/internal/service"
	"github.com/totegamma/appforge/internal/usecase"
)

type Handler struct {
	config      config.NodeInfo
	application *usecase.ApplicationUsecase
	signal      *service.SignalService
}

// NewHandler builds the REST handler. signal may be nil, which disables the
// realtime endpoint.
func NewHandler(
	config config.NodeInfo,
	application *usecase.ApplicationUsecase,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		config:      config,
		application: application,
		signal:      signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/appforge", h.handleWellKnown)

	g := e.Group("/api/v1/applications")
	g.POST("", h.handleCreate)
	g.GET("", h.handleList)
	g.GET("/:id", h.handleGet)
	g.DELETE("/:id", h.handleDelete)
	g.PUT("/:id/name", h.handleRename)
	g.PUT("/:id/dsl", h.handleUpdateDSL)
	g.POST("/:id/publish", h.handlePublish)
	g.PUT("/:id/visibility", h.handleVisibility)
	g.POST("/:id/recycle", h.handleRecycle)
	g.POST("/:id/restore", h.handleRestore)
	g.GET("/:id/queries", h.handleQueries)
	g.GET("/:id/queries/:queryId", h.handleQuery)
	g.GET("/:id/modules", h.handleModules)
	g.GET("/:id/container-size", h.handleContainerSize)
	g.GET("/:id/snapshots", h.handleSnapshots)

	if h.signal != nil {
		e.GET("/realtime", h.handleRealtime)
	}
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	wellknown := appforge.WellKnown{
		Version: h.config.Version,
		Domain:  h.config.FQDN,
		Endpoints: map[string]string{
			"applications":   "/api/v1/applications",
			"application":    "/api/v1/applications/{id}",
			"queries":        "/api/v1/applications/{id}/queries",
			"modules":        "/api/v1/applications/{id}/modules",
			"container-size": "/api/v1/applications/{id}/container-size",
			"snapshots":      "/api/v1/applications/{id}/snapshots",
		},
	}
	if h.signal != nil {
		wellknown.Endpoints["realtime"] = "/realtime"
	}
	return presenter.OK(c, wellknown)
}

func (h *Handler) handleCreate(c echo.Context) error {
	ctx := c.Request().Context()

	var req appforge.CreateApplicationRequest
	err := c.Bind(&req)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	app, err := h.application.Create(ctx, req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, applicationView(app, appforge.ViewModeEditing))
}

func (h *Handler) handleList(c echo.Context) error {
	ctx := c.Request().Context()

	orgID := c.QueryParam(domain.OrganizationQuery)
	if orgID == "" {
		return presenter.BadRequestMessage(c, "orgId parameter is required")
	}

	apps, err := h.application.List(ctx, orgID)
	if err != nil {
		return presenter.Error(c, err)
	}

	views := make([]appforge.ApplicationView, 0, len(apps))
	for _, app := range apps {
		views = append(views, applicationView(app, appforge.ViewModeEditing))
	}
	return presenter.OK(c, views)
}

func (h *Handler) handleGet(c echo.Context) error {
	ctx := c.Request().Context()

	mode, err := appforge.ParseViewMode(c.QueryParam("mode"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	app, _, err := h.application.GetDSL(ctx, c.Param("id"), mode)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OKWithETag(c, applicationView(app, mode))
}

func (h *Handler) handleDelete(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.application.Delete(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) handleRename(c echo.Context) error {
	ctx := c.Request().Context()

	var req appforge.RenameRequest
	err := c.Bind(&req)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	app, err := h.application.Rename(ctx, c.Param("id"), req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, applicationView(app, appforge.ViewModeEditing))
}

func (h *Handler) handleUpdateDSL(c echo.Context) error {
	ctx := c.Request().Context()

	var req appforge.UpdateDSLRequest
	err := c.Bind(&req)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	app, err := h.application.UpdateEditingDSL(ctx, c.Param("id"), req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, applicationView(app, appforge.ViewModeEditing))
}

func (h *Handler) handlePublish(c echo.Context) error {
	ctx := c.Request().Context()

	app, err := h.application.Publish(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, applicationView(app, appforge.ViewModeLive))
}

func (h *Handler) handleVisibility(c echo.Context) error {
	ctx := c.Request().Context()

	var req appforge.VisibilityRequest
	err := c.Bind(&req)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	app, err := h.application.UpdateVisibility(ctx, c.Param("id"), req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, applicationView(app, appforge.ViewModeEditing))
}

func (h *Handler) handleRecycle(c echo.Context) error {
	ctx := c.Request().Context()

	app, err := h.application.Recycle(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, applicationView(app, appforge.ViewModeEditing))
}

func (h *Handler) handleRestore(c echo.Context) error {
	ctx := c.Request().Context()

	app, err := h.application.Restore(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, applicationView(app, appforge.ViewModeEditing))
}

func (h *Handler) handleQueries(c echo.Context) error {
	ctx := c.Request().Context()

	mode, err := appforge.ParseViewMode(c.QueryParam("mode"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	queries, err := h.application.GetQueries(ctx, c.Param("id"), mode)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OKWithETag(c, queries)
}

func (h *Handler) handleQuery(c echo.Context) error {
	ctx := c.Request().Context()

	mode, err := appforge.ParseViewMode(c.QueryParam("mode"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	query, err := h.application.FindQuery(ctx, c.Param("id"), mode, c.Param("queryId"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, query)
}

func (h *Handler) handleModules(c echo.Context) error {
	ctx := c.Request().Context()

	mode, err := appforge.ParseViewMode(c.QueryParam("mode"))
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	resolve := false
	if s := c.QueryParam("resolve"); s != "" {
		resolve, err = strconv.ParseBool(s)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid resolve parameter")
		}
	}

	if resolve {
		view, err := h.application.ResolveModuleDSLs(ctx, c.Param("id"), mode)
		if err != nil {
			return presenter.Error(c, err)
		}
		return presenter.OK(c, view)
	}

	modules, err := h.application.GetModules(ctx, c.Param("id"), mode)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OKWithETag(c, appforge.ModulesView{Modules: modules})
}

func (h *Handler) handleContainerSize(c echo.Context) error {
	ctx := c.Request().Context()

	size, err := h.application.GetLiveContainerSize(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"containerSize": size})
}

func (h *Handler) handleSnapshots(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 0
	limitStr := c.QueryParam("limit")
	if limitStr != "" {
		limitInt, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = limitInt
	}

	snapshots, err := h.application.ListSnapshots(ctx, c.Param("id"), limit)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snapshots)
}

func applicationView(app *domain.Application, mode appforge.ViewMode) appforge.ApplicationView {
	return appforge.ApplicationView{
		ID:                  app.ID(),
		OrganizationID:      app.OrganizationID(),
		Name:                app.Name(),
		ApplicationType:     int(app.Type()),
		ApplicationStatus:   string(app.Status()),
		Mode:                mode,
		DSL:                 app.DSL(mode),
		Published:           app.IsPublished(),
		PublicToAll:         app.IsPublicToAll(),
		PublicToMarketplace: app.IsPublicToMarketplace(),
		AgencyProfile:       app.IsAgencyProfile(),
		CreatedAt:           app.CreatedAt(),
		UpdatedAt:           app.UpdatedAt(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Request struct {
	Type         string   `json:"type"`
	Applications []string `json:"applications"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Str("module", "socket").Msg("failed to upgrade websocket")
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []string)
	output := make(chan appforge.Event)

	go h.signal.Realtime(ctx, input, output)

	quit := make(chan struct{})

	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						log.Debug().Err(wsErr).Str("module", "socket").Msg("websocket closed")
					}
				} else {
					log.Error().Err(err).Str("module", "socket").Msg("error reading message")
				}
				return
			}

			switch req.Type {
			case "listen":
				select {
				case input <- req.Applications:
				case <-ctx.Done():
					return
				}
				log.Debug().Strs("applications", req.Applications).Str("module", "socket").Msg("socket subscribe")
			case "h": // heartbeat
			default:
				log.Info().Str("type", req.Type).Str("module", "socket").Msg("unknown request type")
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			err := ws.WriteJSON(event)
			if err != nil {
				log.Error().Err(err).Str("module", "socket").Msg("error writing message")
				return nil
			}
		}
	}
}
