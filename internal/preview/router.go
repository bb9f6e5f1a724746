// Package preview serves a built site for local development with live
// reload, a page index and health checks.
package preview

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/kiln/internal/apperr"
	"github.com/starford/kiln/internal/site"
)

// Reserved paths.
const (
	EventsPath = "/__kiln/events"
	PagesPath  = "/__kiln/pages"
	RenderPath = "/__kiln/render"
)

// Pages is the site view the preview server reads from.
type Pages interface {
	ListPages(ctx context.Context) ([]site.Page, error)
	RenderPage(ctx context.Context, name string) (string, error)
}

// Options configure the router.
type Options struct {
	// OutputRoot is the directory served as the site.
	OutputRoot string
	LiveReload bool
	// Events, if non-nil, is mounted at EventsPath.
	Events http.Handler
}

// NewRouter creates a chi router serving the output directory.
func NewRouter(pages Pages, opts Options) chi.Router {
	h := &handler{pages: pages}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", health)
	r.Get("/health/ready", health)

	r.Get(PagesPath, h.listPages)
	r.With(LiveReload(opts.LiveReload)).Get(RenderPath+"/*", h.renderPage)
	if opts.Events != nil {
		r.Get(EventsPath, opts.Events.ServeHTTP)
	}

	files := http.FileServer(http.Dir(opts.OutputRoot))
	r.With(LiveReload(opts.LiveReload)).Get("/*", files.ServeHTTP)
	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type handler struct {
	pages Pages
}

func (h *handler) listPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.pages.ListPages(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if pages == nil {
		pages = []site.Page{}
	}
	writeJSON(w, http.StatusOK, pages)
}

// renderPage composes a page in memory, bypassing the output directory.
func (h *handler) renderPage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("page name is required"))
		return
	}
	html, err := h.pages.RenderPage(r.Context(), name)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, apperr.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}
