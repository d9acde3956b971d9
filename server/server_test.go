// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guntherweissenbaeck/fbfregion/backfill"
	"github.com/guntherweissenbaeck/fbfregion/geocoding"
	"github.com/guntherweissenbaeck/fbfregion/region"
)

type testServer struct {
	router  *gin.Engine
	repo    region.Repository
	manager *backfill.Manager
}

// setupServerTest wires the full stack against a fake Nominatim answering
// by query text.
func setupServerTest(t *testing.T, provider http.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := region.NewRepository(db)
	require.NoError(t, repo.CreateSchema())

	tasks := backfill.NewRepository(db)
	require.NoError(t, tasks.CreateSchema())

	upstream := httptest.NewServer(provider)
	t.Cleanup(upstream.Close)

	retrying := geocoding.NewRetryingClient(geocoding.NewNominatimClient(&geocoding.ClientOptions{
		Endpoint: upstream.URL,
		Timeout:  2 * time.Second,
	}))
	retrying.Sleep = func(context.Context, time.Duration) error { return nil }

	resolver := region.NewResolver(retrying, repo)
	service := region.NewService(resolver, repo, region.NewCache(time.Minute))
	manager := backfill.NewManager(tasks, repo, resolver, backfill.Options{Pause: -1})

	return &testServer{
		router:  NewServer(service, repo, manager).Router(),
		repo:    repo,
		manager: manager,
	}
}

func fakeNominatim(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	switch {
	case strings.Contains(q, "Erfurt"):
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat": "50.9777", "lon": "11.0289",
			"address": {"city": "Erfurt", "state": "Thüringen"}}]`))
	case strings.Contains(q, "Busy"):
		w.WriteHeader(http.StatusTooManyRequests)
	case strings.Contains(q, "Broken"):
		// Hijack and drop the connection to produce a transport error.
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	default:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())

	return w, out
}

func TestGeocodeAPI(t *testing.T) {
	ts := setupServerTest(t, fakeNominatim)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "resolved",
			query:      "Erfurt%2C+Alte+Synagoge",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["success"])
				assert.Equal(t, "Erfurt", body["region_name"])
				assert.Equal(t, "Erfurt", body["city"])
				assert.Equal(t, "Thüringen", body["state"])
				assert.Equal(t, true, body["region_created"])
				assert.NotContains(t, body, "attempted_queries")
			},
		},
		{
			name:       "debug",
			query:      "Erfurt&debug=1",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, []any{"Erfurt"}, body["attempted_queries"])
				assert.InDelta(t, 50.9777, body["latitude"], 1e-9)
			},
		},
		{
			name:       "empty",
			query:      "+",
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, region.ReasonEmptyQuery, body["error"])
			},
		},
		{
			name:       "no result",
			query:      "Atlantis",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "rate limited",
			query:      "Busy",
			wantStatus: http.StatusTooManyRequests,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["rate_limited"])
			},
		},
		{
			name:       "network error",
			query:      "Broken",
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := ts.do(t, http.MethodGet, "/api/geocode?q="+tt.query, nil)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}

	w, body := ts.do(t, http.MethodGet, "/api/attempts?per_page=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 6, body["total"], 0, "every lookup writes one attempt")
	assert.Len(t, body["attempts"], 2)
	assert.InDelta(t, 2, body["per_page"], 0)

	w, body = ts.do(t, http.MethodGet, "/api/regions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["regions"], 1)
}

func TestBackfillAPI(t *testing.T) {
	ts := setupServerTest(t, fakeNominatim)
	ctx := context.Background()

	_, err := ts.repo.SavePatients(ctx, []*region.Patient{
		{ID: "1", Place: "Erfurt", CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "2", Place: "Atlantis", CreatedAt: time.Now().Add(-time.Hour)},
	})
	require.NoError(t, err)

	w, body := ts.do(t, http.MethodPost, "/api/backfill/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["started"])

	taskID := body["task_id"]

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = ts.manager.Wait(waitCtx)
	require.NoError(t, err)

	w, body = ts.do(t, http.MethodGet, "/api/backfill/progress", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, taskID, body["task_id"])
	assert.Equal(t, false, body["active"])
	assert.Equal(t, true, body["finished"])
	assert.InDelta(t, 2, body["processed"], 0)
	assert.InDelta(t, 1, body["success"], 0)
	assert.InDelta(t, 1, body["errors"], 0)
	assert.InDelta(t, 100, body["percent"], 0)
	assert.Equal(t, false, body["aborted"])

	w, body = ts.do(t, http.MethodGet, "/api/backfill/abort", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["aborted"])
	assert.NotEmpty(t, body["reason"])
}

func TestReferenceCenterAPI(t *testing.T) {
	ts := setupServerTest(t, fakeNominatim)

	w, _ := ts.do(t, http.MethodGet, "/api/reference-center", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/reference-center", []byte(`{"latitude": 95, "longitude": 11}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/reference-center", []byte(`{"address": "Erfurt"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := ts.do(t, http.MethodPut, "/api/reference-center",
		[]byte(`{"latitude": 50.9787, "longitude": 11.0328, "address": " Wildvogelhilfe Erfurt "}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Wildvogelhilfe Erfurt", body["address"])

	w, body = ts.do(t, http.MethodGet, "/api/reference-center", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["active"])

	point, ok := body["point"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 50.9787, point["lat"], 1e-9)
}

func TestAttemptsPagination(t *testing.T) {
	ts := setupServerTest(t, fakeNominatim)
	ctx := context.Background()

	for _, q := range []string{"Erfurt", "Jena", "Weimar"} {
		require.NoError(t, ts.repo.SaveAttempt(ctx, &region.Attempt{Query: q, AttemptedQueries: []string{q}}))
	}

	tests := []struct {
		target      string
		wantPage    float64
		wantPerPage float64
		wantLen     int
	}{
		{"/api/attempts", 1, 50, 3},
		{"/api/attempts?page=2&per_page=2", 2, 2, 1},
		{"/api/attempts?page=12abc&per_page=2", 1, 2, 2},
		{"/api/attempts?page=1&per_page=2x", 1, 50, 3},
		{"/api/attempts?page=-1&per_page=0", 1, 50, 3},
		{"/api/attempts?per_page=9999", 1, 500, 3},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w, body := ts.do(t, http.MethodGet, tt.target, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.InDelta(t, tt.wantPage, body["page"], 0)
			assert.InDelta(t, tt.wantPerPage, body["per_page"], 0)
			assert.InDelta(t, 3, body["total"], 0)
			assert.Len(t, body["attempts"], tt.wantLen)
		})
	}
}
