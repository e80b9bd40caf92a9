package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/mcp"
	"github.com/assessor-platform/legistrack/internal/scheduler"
	"github.com/assessor-platform/legistrack/internal/store"
	"github.com/assessor-platform/legistrack/internal/telemetry"
)

// BillStore is the read-only slice of the store the HTTP layer needs.
type BillStore interface {
	GetByKey(ctx context.Context, key string) (*bills.Record, error)
	List(ctx context.Context, opts store.ListOptions) ([]bills.Record, error)
	Search(ctx context.Context, query string, limit int) ([]bills.Record, error)
}

// Poller is the slice of the scheduler exposed over HTTP.
type Poller interface {
	Trigger(ctx context.Context, sourceID string) (scheduler.PollReport, error)
	Status() []scheduler.SourceStatus
}

// Handlers binds the HTTP routes to the dispatch core.
type Handlers struct {
	Router    *mcp.Router
	Bills     BillStore
	Sched     Poller
	Telemetry *telemetry.Telemetry
}

func (h *Handlers) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/mcp/dispatch", h.dispatch)
	api.GET("/mcp/status", h.status)
	api.GET("/bills", h.listBills)
	api.GET("/bills/:key", h.getBill)
	api.GET("/sources", h.sources)
	api.POST("/sources/:id/poll", h.triggerPoll)
}

// dispatch routes one request envelope through the capability router. Handler
// failures come back as a structured envelope with HTTP 200; only transport
// level problems map to HTTP errors.
func (h *Handlers) dispatch(c echo.Context) error {
	var env mcp.RequestEnvelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result := h.Router.Dispatch(c.Request().Context(), env)
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) status(c echo.Context) error {
	st := h.Router.Status()
	resp := map[string]interface{}{
		"initialized":           st.Initialized,
		"capabilities":          st.Capabilities,
		"missing_required":      st.MissingRequired,
		"provider_availability": st.ProviderAvailability,
	}
	if h.Telemetry != nil {
		resp["metrics"] = h.Telemetry.GetMetrics()
	}
	if h.Sched != nil {
		resp["sources"] = h.Sched.Status()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handlers) listBills(c echo.Context) error {
	ctx := c.Request().Context()

	if q := c.QueryParam("q"); q != "" {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		items, err := h.Bills.Search(ctx, q, limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"bills": items, "count": len(items)})
	}

	opts := store.ListOptions{
		Jurisdiction: c.QueryParam("jurisdiction"),
		Source:       c.QueryParam("source"),
	}
	if sc := c.QueryParam("status_class"); sc != "" {
		opts.StatusClass = bills.StatusClass(sc)
	}
	if since := c.QueryParam("updated_since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "updated_since must be RFC3339")
		}
		opts.UpdatedSince = t
	}
	opts.Limit, _ = strconv.Atoi(c.QueryParam("limit"))
	opts.Offset, _ = strconv.Atoi(c.QueryParam("offset"))

	items, err := h.Bills.List(ctx, opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"bills": items, "count": len(items)})
}

func (h *Handlers) getBill(c echo.Context) error {
	rec, err := h.Bills.GetByKey(c.Request().Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, bills.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "bill not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handlers) sources(c echo.Context) error {
	if h.Sched == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler not running")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sources": h.Sched.Status()})
}

// triggerPoll runs a manual poll of one source. It also clears a suspended
// source; operators use it after fixing credentials.
func (h *Handlers) triggerPoll(c echo.Context) error {
	if h.Sched == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler not running")
	}
	report, err := h.Sched.Trigger(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownSource) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
