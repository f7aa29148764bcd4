// Package rest implements the http server exposing extraction, download and
// rule management APIs
package rest

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth_chi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	um "github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/slidepick/slidepick/datastore"
	"github.com/slidepick/slidepick/downloader"
	"github.com/slidepick/slidepick/extractor"
)

// Server is a basic rest server providing access to the extractor, the
// download pipeline and the locator rule store
type Server struct {
	Gallery     *extractor.Gallery
	Downloader  *downloader.Downloader
	Rules       *datastore.RulesDAO // nil when mongo is not configured
	DownloadDir string
	Version     string
	Credentials map[string]string
}

// JSON is a map alias, just for convenience
type JSON map[string]any

// Run the listener and request router, activate rest server
func (s *Server) Run(ctx context.Context, address string, port int) {
	log.Printf("[INFO] activate rest server on %s:%d", address, port)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", address, port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		// shutdown on context cancellation
		<-ctx.Done()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("[DEBUG] http shutdown error, %s", err)
		}
		log.Print("[DEBUG] http server shutdown completed")
	}()

	log.Printf("[WARN] http server terminated, %s", httpServer.ListenAndServe())
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID, middleware.RealIP, um.Recoverer(log.Default()))
	router.Use(middleware.Throttle(1000), middleware.Timeout(60*time.Second))
	router.Use(um.AppInfo("slidepick", "slidepick", s.Version), um.Ping)
	router.Use(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(50, nil)))

	router.Use(logger.New(logger.Log(log.Default()), logger.WithBody, logger.Prefix("[INFO]")).Handler)

	router.Route("/api", func(r chi.Router) {
		r.Post("/extract", s.extractImages)
		r.Get("/v1/extract", s.extractImagesGet)
		r.Post("/download", s.downloadImages)

		r.Get("/rules", s.getAllRules)
		r.Get("/rule", s.getRule)

		r.Group(func(protected chi.Router) {
			protected.Use(basicAuth("slidepick", s.Credentials))
			protected.Post("/rule", s.saveRule)
			protected.Post("/toggle-rule/{id}", s.toggleRule)
		})
	})

	return router
}

// extractRequest is the payload for extract and download calls. An empty
// locator falls back to the stored rule for the page's domain, then to the
// server default.
type extractRequest struct {
	URL            string   `json:"url"`
	Tag            string   `json:"tag,omitempty"`
	Kind           string   `json:"kind,omitempty"`
	Value          string   `json:"value,omitempty"`
	CollectBoth    bool     `json:"collect_both,omitempty"`
	IncludeAnchors bool     `json:"include_anchors,omitempty"`
	LazyAttrs      []string `json:"lazy_attrs,omitempty"`
	Slug           string   `json:"slug,omitempty"` // download only, filename prefix
}

func (s *Server) extractImages(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExtractRequest(w, r)
	if !ok {
		return
	}
	res, err := s.runExtract(r.Context(), req)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, JSON{"error": err.Error()})
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) extractImagesGet(w http.ResponseWriter, r *http.Request) {
	extractURL := r.URL.Query().Get("url")
	if extractURL == "" {
		render.Status(r, http.StatusExpectationFailed)
		render.JSON(w, r, JSON{"error": "no url passed"})
		return
	}

	res, err := s.Gallery.Extract(r.Context(), extractURL)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, JSON{"error": err.Error()})
		return
	}
	render.JSON(w, r, res)
}

// downloadImages extracts and runs the fetch-and-verify pipeline, returning
// per-image outcomes. Individual failures are reported, not fatal.
func (s *Server) downloadImages(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExtractRequest(w, r)
	if !ok {
		return
	}
	res, err := s.runExtract(r.Context(), req)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, JSON{"error": err.Error()})
		return
	}

	outcomes, err := s.Downloader.Download(r.Context(), res.URL, s.DownloadDir, req.Slug, res.Images)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, JSON{"error": err.Error()})
		return
	}
	render.JSON(w, r, JSON{"page": res.URL, "found": res.Found, "images": res.Images, "outcomes": outcomes})
}

func (s *Server) decodeExtractRequest(w http.ResponseWriter, r *http.Request) (extractRequest, bool) {
	req := extractRequest{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, JSON{"error": err.Error()})
		return req, false
	}
	if req.URL == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, JSON{"error": "url parameter is required"})
		return req, false
	}
	return req, true
}

func (s *Server) runExtract(ctx context.Context, req extractRequest) (*extractor.Response, error) {
	if req.Value == "" { // no explicit locator, use rule store or default
		return s.Gallery.Extract(ctx, req.URL)
	}
	loc := extractor.Locator{Tag: req.Tag, Kind: req.Kind, Value: req.Value}
	opts := extractor.Options{CollectBoth: req.CollectBoth, IncludeAnchors: req.IncludeAnchors, LazyAttrs: req.LazyAttrs}
	return s.Gallery.ExtractWithLocator(ctx, req.URL, loc, opts)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	if s.Rules == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, JSON{"error": "rule store is not configured"})
		return
	}
	ruleURL := r.URL.Query().Get("url")
	if ruleURL == "" {
		render.Status(r, http.StatusExpectationFailed)
		render.JSON(w, r, JSON{"error": "no url passed"})
		return
	}
	rule, found := s.Rules.Get(r.Context(), ruleURL)
	if !found {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, JSON{"error": "not found"})
		return
	}
	render.JSON(w, r, &rule)
}

func (s *Server) getAllRules(w http.ResponseWriter, r *http.Request) {
	if s.Rules == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, JSON{"error": "rule store is not configured"})
		return
	}
	render.JSON(w, r, s.Rules.All(r.Context()))
}

// saveRule upserts rule, forcing enabled=true
func (s *Server) saveRule(w http.ResponseWriter, r *http.Request) {
	if s.Rules == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, JSON{"error": "rule store is not configured"})
		return
	}
	rule := datastore.Rule{}
	if err := render.DecodeJSON(r.Body, &rule); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, JSON{"error": err.Error()})
		return
	}
	if rule.Domain == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, JSON{"error": "domain is required"})
		return
	}
	rule.Enabled = true

	srule, err := s.Rules.Save(r.Context(), rule)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, JSON{"error": err.Error()})
		return
	}
	render.JSON(w, r, &srule)
}

func (s *Server) toggleRule(w http.ResponseWriter, r *http.Request) {
	if s.Rules == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, JSON{"error": "rule store is not configured"})
		return
	}
	id := getBid(chi.URLParam(r, "id"))
	rule, found := s.Rules.GetByID(r.Context(), id)
	if !found {
		log.Printf("[WARN] rule not found for id: %s", id.Hex())
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, JSON{"error": "rule not found"})
		return
	}

	rule.Enabled = !rule.Enabled
	var err error
	if rule.Enabled {
		_, err = s.Rules.Save(r.Context(), rule)
	} else {
		err = s.Rules.Disable(r.Context(), id)
	}
	if err != nil {
		log.Printf("[ERROR] failed to toggle rule: %v", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, JSON{"error": err.Error()})
		return
	}
	render.JSON(w, r, &rule)
}

func getBid(id string) primitive.ObjectID {
	bid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID
	}
	return bid
}

// basicAuth returns a piece of middleware that will allow access only
// if the provided credentials match within the given service,
// otherwise it returns 401 and does not call the next handler
func basicAuth(realm string, credentials map[string]string) func(http.Handler) http.Handler {
	unauthorized := func(w http.ResponseWriter, realm string) {
		w.Header().Add("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
		w.WriteHeader(http.StatusUnauthorized)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, realm)
				return
			}

			validPassword, userFound := credentials[username]
			validPasswordBytes := []byte(validPassword)
			if !userFound {
				unauthorized(w, realm)
				return
			}
			// take the same amount of time if the lengths are different,
			// ConstantTimeCompare returns immediately on different lengths
			if len(password) != len(validPassword) {
				subtle.ConstantTimeCompare(validPasswordBytes, validPasswordBytes)
			}
			if subtle.ConstantTimeCompare([]byte(password), validPasswordBytes) == 0 {
				unauthorized(w, realm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
