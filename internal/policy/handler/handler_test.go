package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentvault/internal/policy/models"
	"consentvault/internal/policy/service"
	"consentvault/internal/policy/store"
)

type PolicyHandlerSuite struct {
	suite.Suite
	svc    *service.Service
	router chi.Router
}

func TestPolicyHandlerSuite(t *testing.T) {
	suite.Run(t, new(PolicyHandlerSuite))
}

func (s *PolicyHandlerSuite) SetupTest() {
	s.svc = service.New(store.NewInMemoryStore())
	s.router = chi.NewRouter()
	New(s.svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *PolicyHandlerSuite) do(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *PolicyHandlerSuite) publish(version string, year int, hash string) *models.Policy {
	p, err := s.svc.Publish(context.Background(), models.Policy{
		Version:         version,
		PublishedAt:     time.Date(year, 3, 1, 0, 0, 0, 0, time.UTC),
		Description:     "policy",
		StorageLocation: "s3://bucket/" + version,
		ContentHash:     strings.Repeat(hash, 64),
	})
	require.NoError(s.T(), err)
	return p
}

func (s *PolicyHandlerSuite) TestEmptyCatalog() {
	w := s.do("/policies")
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`[]`, w.Body.String())

	w = s.do("/policies/latest")
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *PolicyHandlerSuite) TestListAndGet() {
	s.publish("1.0.0", 2024, "1")
	newer := s.publish("2.0.0", 2025, "2")

	w := s.do("/policies")
	s.Require().Equal(http.StatusOK, w.Code)
	var list []models.PolicyResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &list))
	s.Require().Len(list, 2)
	s.Equal("2.0.0", list[0].Version)

	w = s.do("/policies/latest")
	s.Require().Equal(http.StatusOK, w.Code)
	var latest map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(s.T(), float64(newer.ID), latest["id"])
	assert.Equal(s.T(), "2025-03-01T00:00:00Z", latest["published_at"])
	assert.Equal(s.T(), strings.Repeat("2", 64), latest["content_hash"])
}

func (s *PolicyHandlerSuite) TestGetErrors() {
	s.Equal(http.StatusNotFound, s.do("/policies/9").Code)
	s.Equal(http.StatusBadRequest, s.do("/policies/abc").Code)
	s.Equal(http.StatusBadRequest, s.do("/policies/0").Code)
}
