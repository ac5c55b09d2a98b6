//go:build integration

package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentvault/internal/consent/models"
	"consentvault/internal/platform/postgres"
	policymodels "consentvault/internal/policy/models"
	policystore "consentvault/internal/policy/store"
	"consentvault/pkg/domain"
	"consentvault/pkg/platform/sentinel"
	"consentvault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	store  *PostgresStore
	policy domain.PolicyID
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgresStore(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.pg.TruncateTables(ctx, "consents", "policies"))
	p, err := policystore.NewPostgresStore(s.pg.DB).Create(ctx, policymodels.Policy{
		Version:     "1.0.0",
		PublishedAt: base,
		ContentHash: strings.Repeat("a", 64),
	})
	s.Require().NoError(err)
	s.policy = p.ID
}

func (s *PostgresStoreSuite) TestAppendRoundTripsHash() {
	ctx := context.Background()
	rec := models.NewConsentRecord("alice", s.policy, "web", domain.ConsentStatusGiven, time.Now())
	s.Require().NoError(s.store.Append(ctx, &rec))
	s.NotZero(rec.ID)

	got, err := s.store.ListByPseudonym(ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.True(rec.CreatedAt.Equal(got[0].CreatedAt))
	s.True(got[0].Verify())
}

func (s *PostgresStoreSuite) TestOrdering() {
	ctx := context.Background()
	first := record("alice", s.policy, 0, domain.ConsentStatusGiven)
	second := record("alice", s.policy, time.Hour, domain.ConsentStatusRefused)
	s.Require().NoError(s.store.Append(ctx, first))
	s.Require().NoError(s.store.Append(ctx, second))

	got, err := s.store.ListByPolicy(ctx, s.policy)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(second.ID, got[0].ID)
}

func (s *PostgresStoreSuite) TestUnknownPolicy() {
	err := s.store.Append(context.Background(), record("alice", s.policy+100, 0, domain.ConsentStatusGiven))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentDuplicates() {
	ctx := context.Background()
	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.store.Append(ctx, record("alice", s.policy, 0, domain.ConsentStatusGiven))
		}()
	}
	wg.Wait()
	close(results)

	var ok, dupes int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, sentinel.ErrConflict):
			dupes++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(racers-1, dupes)
}

func (s *PostgresStoreSuite) TestAppendInsideRolledBackTx() {
	ctx := context.Background()
	runner := postgres.NewTxRunner(s.pg.DB, 5*time.Second)
	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Append(ctx, record("alice", s.policy, 0, domain.ConsentStatusGiven)); err != nil {
			return err
		}
		return errors.New("audit sink down")
	})
	s.Require().Error(err)

	got, err := s.store.ListByPseudonym(ctx, "alice")
	s.Require().NoError(err)
	s.Empty(got)
}
