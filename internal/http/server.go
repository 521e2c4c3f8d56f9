// Package httpapi is the thin operator surface over the outreach engine:
// trigger matching runs, inspect milestones, dispatch outreach. Auth is an
// external concern; the account comes in as a header set by the gateway.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mkarev/realtor-outreach/internal/domain"
	"github.com/mkarev/realtor-outreach/internal/metrics"
	"github.com/mkarev/realtor-outreach/internal/outreach"
	"github.com/mkarev/realtor-outreach/internal/platform/logger"
	"github.com/mkarev/realtor-outreach/internal/storage"
)

const accountHeader = "X-Account-ID"

type Server struct {
	svc     *outreach.Service
	store   *storage.Store
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewServer(svc *outreach.Service, store *storage.Store, log *logger.Logger, m *metrics.Metrics) *Server {
	return &Server{svc: svc, store: store, log: log, metrics: m}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api", s.requireAccount)
	{
		api.GET("/clients", s.listClients)
		api.POST("/clients", s.createClient)
		api.GET("/clients/:id", s.getClient)
		api.GET("/clients/:id/matches", s.listMatches)
		api.POST("/clients/:id/matches", s.generateMatches)

		api.GET("/listings", s.listListings)
		api.POST("/listings", s.createListing)
		api.POST("/listings/:id/status", s.setListingStatus)

		api.GET("/milestones", s.milestoneOverview)
		api.POST("/milestones", s.createMilestone)
		api.POST("/milestones/sweep", s.sweepMilestones)

		api.POST("/matches/dispatch", s.dispatchMatches)
		api.POST("/matches/:id/deactivate", s.deactivateMatch)
	}
	return r
}

func (s *Server) requireAccount(c *gin.Context) {
	if c.GetHeader(accountHeader) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + accountHeader + " header"})
		return
	}
	c.Next()
}

func account(c *gin.Context) string { return c.GetHeader(accountHeader) }

// todayParam reads an optional ?today=YYYY-MM-DD override, used by sweeps
// and overviews in tests and backfills. Defaults to the current date.
func todayParam(c *gin.Context) (domain.Date, bool) {
	v := c.Query("today")
	if v == "" {
		return domain.Today(), true
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.Date{}, false
	}
	return d, true
}

func (s *Server) listClients(c *gin.Context) {
	clients, err := s.store.ListClients(c.Request.Context(), account(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": clients})
}

func (s *Server) createClient(c *gin.Context) {
	var client domain.Client
	if err := c.ShouldBindJSON(&client); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	client.AccountID = account(c)
	created, err := s.store.CreateClient(c.Request.Context(), client)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getClient(c *gin.Context) {
	client, err := s.store.GetClient(c.Request.Context(), account(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

func (s *Server) listListings(c *gin.Context) {
	status := domain.ListingStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	listings, err := s.store.ListListings(c.Request.Context(), account(c), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": listings})
}

func (s *Server) createListing(c *gin.Context) {
	var l domain.Listing
	if err := c.ShouldBindJSON(&l); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	l.AccountID = account(c)
	if l.Status == "" {
		l.Status = domain.ListingActive
	}
	created, err := s.store.CreateListing(c.Request.Context(), l)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) setListingStatus(c *gin.Context) {
	var req struct {
		Status domain.ListingStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	if err := s.store.SetListingStatus(c.Request.Context(), account(c), c.Param("id"), req.Status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) listMatches(c *gin.Context) {
	activeOnly := c.DefaultQuery("active", "true") != "false"
	matches, err := s.store.ListMatches(c.Request.Context(), account(c), c.Param("id"), activeOnly)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": matches})
}

func (s *Server) generateMatches(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	matches, err := s.svc.GenerateMatches(c.Request.Context(), account(c), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": matches})
}

func (s *Server) milestoneOverview(c *gin.Context) {
	today, ok := todayParam(c)
	if !ok {
		return
	}
	overview, err := s.svc.MilestoneOverview(c.Request.Context(), account(c), today)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": overview})
}

func (s *Server) createMilestone(c *gin.Context) {
	var m domain.Milestone
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	m.AccountID = account(c)
	m.Active = true
	created, err := s.store.CreateMilestone(c.Request.Context(), m)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) sweepMilestones(c *gin.Context) {
	today, ok := todayParam(c)
	if !ok {
		return
	}
	res, err := s.svc.SweepMilestones(c.Request.Context(), today)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) dispatchMatches(c *gin.Context) {
	var req struct {
		MatchIDs []string `json:"match_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	if len(req.MatchIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match_ids is required"})
		return
	}
	res, err := s.svc.DispatchMatches(c.Request.Context(), account(c), req.MatchIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// deactivateMatch retires one match by operator choice, for example after a
// client asks not to hear about a listing again. The row stays as history.
func (s *Server) deactivateMatch(c *gin.Context) {
	if err := s.store.DeactivateMatch(c.Request.Context(), account(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.log.Error("request failed", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
