// this file contains implementation of HTTP handlers - REST API and ws upgrade
package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
)

type httpHandlers struct {
	reg     *SessionRegistry
	catalog MediaCatalog
	hub     *Hub
}

func NewHTTPRouter(reg *SessionRegistry, catalog MediaCatalog, hub *Hub) *echo.Echo {
	h := &httpHandlers{reg: reg, catalog: catalog, hub: hub}

	r := echo.New()
	r.HideBanner = true
	r.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}\n",
	}))

	router := r.Group("/api")
	router.GET("/health", h.healthCheckHandler)
	router.GET("/search", h.searchHandler)
	router.GET("/sessions/:id", h.sessionSnapshotHandler)

	r.GET("/ws", h.websocketHandler)

	return r
}

func (h *httpHandlers) healthCheckHandler(c echo.Context) error {
	return c.String(http.StatusOK, "I am up and running!")
}

// sessionSnapshotHandler is the polling read path. It answers from the same
// worker the live connections go through, so both surfaces always agree.
func (h *httpHandlers) sessionSnapshotHandler(c echo.Context) error {
	sessionID := c.Param("id")
	snap, stats, ok := h.reg.Snapshot(sessionID)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{
			"message": "no such session",
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"session":     snap,
		"queue":       snap.Queue,
		"currentSong": snap.CurrentSong,
		"stats":       stats,
	})
}

func (h *httpHandlers) searchHandler(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "query is required",
		})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	items, err := h.catalog.Search(c.Request().Context(), query, limit, offset)
	if err != nil {
		if errors.Is(err, ErrCatalogUnavailable) {
			return c.JSON(http.StatusBadGateway, echo.Map{
				"message": err.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items": items,
	})
}

func (h *httpHandlers) websocketHandler(c echo.Context) error {
	h.hub.HandleConn(c.Response(), c.Request())
	return nil
}
