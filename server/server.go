// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes region lookup, the backfill controls and the audit
// log over HTTP.
package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/guntherweissenbaeck/fbfregion/backfill"
	"github.com/guntherweissenbaeck/fbfregion/region"
	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

type Server struct {
	lookup   *region.Service
	repo     region.Repository
	backfill *backfill.Manager
}

func NewServer(lookup *region.Service, repo region.Repository, manager *backfill.Manager) *Server {
	return &Server{lookup: lookup, repo: repo, backfill: manager}
}

// Router registers every route on a new gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/api/geocode", s.geocode)
	r.Match([]string{http.MethodGet, http.MethodPost}, "/api/backfill/start", s.startBackfill)
	r.GET("/api/backfill/progress", s.backfillProgress)
	r.Match([]string{http.MethodGet, http.MethodPost}, "/api/backfill/abort", s.abortBackfill)
	r.GET("/api/attempts", s.listAttempts)
	r.GET("/api/regions", s.listRegions)
	r.GET("/api/reference-center", s.getReferenceCenter)
	r.PUT("/api/reference-center", s.putReferenceCenter)

	return r
}

func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

// lookupStatus maps a lookup outcome onto an HTTP status.
func lookupStatus(res *region.LookupResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Error == region.ReasonEmptyQuery:
		return http.StatusBadRequest
	case res.Outcome == region.OutcomeRateLimited:
		return http.StatusTooManyRequests
	case res.Outcome == region.OutcomeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusNotFound
	}
}

func (s *Server) geocode(ctx *gin.Context) {
	debug := ctx.Query("debug")
	wantDebug := debug == "1" || strings.EqualFold(debug, "true")

	res, err := s.lookup.Lookup(ctx.Request.Context(), ctx.Query("q"), wantDebug)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})

		return
	}

	ctx.JSON(lookupStatus(res), res)
}

func (s *Server) startBackfill(ctx *gin.Context) {
	res, err := s.backfill.Start(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"started": false, "error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, res)
}

func (s *Server) backfillProgress(ctx *gin.Context) {
	p, err := s.backfill.Progress(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, p)
}

func (s *Server) abortBackfill(ctx *gin.Context) {
	res, err := s.backfill.Abort(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"aborted": false, "error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, res)
}

func (s *Server) listAttempts(ctx *gin.Context) {
	page := 1
	perPage := defaultPerPage

	if n, err := strconv.Atoi(ctx.Query("page")); err == nil && n >= 1 {
		page = n
	}

	if n, err := strconv.Atoi(ctx.Query("per_page")); err == nil && n >= 1 {
		perPage = n
	}

	perPage = min(perPage, maxPerPage)
	offset := (page - 1) * perPage

	attempts, err := s.repo.ListAttempts(ctx.Request.Context(), perPage, offset)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	total, err := s.repo.CountAttempts(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if attempts == nil {
		attempts = []*region.Attempt{}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"attempts": attempts,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (s *Server) listRegions(ctx *gin.Context) {
	regions, err := s.repo.ListRegions(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if regions == nil {
		regions = []*region.Region{}
	}

	ctx.JSON(http.StatusOK, gin.H{"regions": regions})
}

func (s *Server) getReferenceCenter(ctx *gin.Context) {
	center, err := s.repo.ActiveReferenceCenter(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if center == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no reference center configured"})

		return
	}

	ctx.JSON(http.StatusOK, center)
}

type ReferenceCenterRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
}

func (s *Server) putReferenceCenter(ctx *gin.Context) {
	var req ReferenceCenterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	if req.Latitude == nil || req.Longitude == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude are required"})

		return
	}

	pt := spatial.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	if err := pt.Validate(); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	center := &region.ReferenceCenter{Point: pt, Address: strings.TrimSpace(req.Address)}
	if err := s.repo.SetReferenceCenter(ctx.Request.Context(), center); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, center)
}
