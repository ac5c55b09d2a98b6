package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentvault/internal/consent/models"
	"consentvault/internal/consent/store"
	"consentvault/internal/keystore"
	policymodels "consentvault/internal/policy/models"
	"consentvault/internal/policy/reference"
	policystore "consentvault/internal/policy/store"
	"consentvault/pkg/domain"
	dErrors "consentvault/pkg/domain-errors"
	audit "consentvault/pkg/platform/audit"
	"consentvault/pkg/platform/audit/publishers/compliance"
	auditmemory "consentvault/pkg/platform/audit/store/memory"
	"consentvault/pkg/platform/tx"
	"consentvault/pkg/requestcontext"
)

var now = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	policy   domain.PolicyID
	ledger   *store.InMemoryStore
	audit    *auditmemory.InMemoryStore
	keys     *keystore.Service
	policies *policystore.InMemoryStore
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ledger = store.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.policies = policystore.NewInMemoryStore()

	p, err := s.policies.Create(s.ctx, policymodels.Policy{
		Version:     "1.0.0",
		PublishedAt: now.Add(-24 * time.Hour),
		ContentHash: strings.Repeat("a", 64),
	})
	s.Require().NoError(err)
	s.policy = p.ID

	s.service = s.build(compliance.New(s.audit))
}

func (s *ServiceSuite) build(publisher AuditPublisher) *Service {
	wrapper, err := keystore.NewWrapper(bytes.Repeat([]byte{7}, 32))
	s.Require().NoError(err)
	runner := tx.NewShardedRunner(time.Second)
	s.keys = keystore.NewService(keystore.NewInMemoryStore(), wrapper, runner,
		keystore.WithAuditPublisher(publisher))
	ref := reference.NewBoundedReference(s.policies, time.Second, nil)
	return New(s.ledger, s.keys, ref, runner, WithAuditPublisher(publisher))
}

func (s *ServiceSuite) asSubject(id domain.SubjectID) context.Context {
	return requestcontext.WithSubjectID(s.ctx, id)
}

func (s *ServiceSuite) cmd(subject domain.SubjectID, status domain.ConsentStatus) models.RecordCommand {
	return models.RecordCommand{Subject: subject, Policy: s.policy, Channel: "web", Status: status}
}

func (s *ServiceSuite) events(action audit.Action) []audit.Event {
	events, err := s.audit.ListByAction(s.ctx, action)
	s.Require().NoError(err)
	return events
}

func (s *ServiceSuite) TestRecord() {
	view, err := s.service.Record(s.asSubject(42), s.cmd(42, domain.ConsentStatusGiven))
	s.Require().NoError(err)

	s.NotZero(view.Record.ID)
	s.Len(view.Record.SubjectPseudonym, 64)
	s.True(view.Record.Verify())
	s.True(now.Equal(view.Record.CreatedAt))
	s.Require().NotNil(view.Policy)
	s.Equal("1.0.0", view.Policy.Version)

	recorded := s.events(audit.ActionConsentRecorded)
	s.Require().Len(recorded, 1)
	s.Equal(view.Record.SubjectPseudonym, recorded[0].Subject)
	s.NotContains(recorded[0].Detail, "subject_id")

	created := s.events(audit.ActionSubjectKeyCreated)
	s.Require().Len(created, 1)
	s.Equal("42", created[0].Subject)
}

func (s *ServiceSuite) TestRecord_SamePseudonymAcrossWrites() {
	first, err := s.service.Record(s.asSubject(5), s.cmd(5, domain.ConsentStatusGiven))
	s.Require().NoError(err)
	later := requestcontext.WithTime(s.asSubject(5), now.Add(time.Minute))
	second, err := s.service.Record(later, s.cmd(5, domain.ConsentStatusRefused))
	s.Require().NoError(err)

	s.Equal(first.Record.SubjectPseudonym, second.Record.SubjectPseudonym)
	s.Len(s.events(audit.ActionSubjectKeyCreated), 1)
}

func (s *ServiceSuite) TestRecord_UnknownPolicyKeepsKey() {
	cmd := s.cmd(9, domain.ConsentStatusGiven)
	cmd.Policy = 999
	_, err := s.service.Record(s.asSubject(9), cmd)
	s.ErrorIs(err, policymodels.ErrPolicyNotFound)

	_, err = s.keys.LookupPseudonym(s.ctx, 9)
	s.NoError(err)
}

func (s *ServiceSuite) TestRecord_Duplicate() {
	_, err := s.service.Record(s.asSubject(42), s.cmd(42, domain.ConsentStatusGiven))
	s.Require().NoError(err)

	_, err = s.service.Record(s.asSubject(42), s.cmd(42, domain.ConsentStatusGiven))
	s.ErrorIs(err, models.ErrDuplicateConsentEvent)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Len(s.events(audit.ActionConsentRecorded), 1)
}

func (s *ServiceSuite) TestRecord_ConcurrentIdentical() {
	const racers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, dupes int
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Record(s.asSubject(77), s.cmd(77, domain.ConsentStatusGiven))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrDuplicateConsentEvent):
				dupes++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, ok)
	s.Equal(racers-1, dupes)
	s.Len(s.events(audit.ActionSubjectKeyCreated), 1)
}

func (s *ServiceSuite) TestRecord_ErasedSubject() {
	_, err := s.service.Record(s.asSubject(3), s.cmd(3, domain.ConsentStatusGiven))
	s.Require().NoError(err)
	erased, err := s.keys.Erase(s.asSubject(3), 3)
	s.Require().NoError(err)
	s.Require().True(erased)

	later := requestcontext.WithTime(s.asSubject(3), now.Add(time.Hour))
	_, err = s.service.Record(later, s.cmd(3, domain.ConsentStatusGiven))
	s.ErrorIs(err, keystore.ErrSubjectErased)
	s.True(dErrors.HasCode(err, dErrors.CodeSubjectErased))
}

func (s *ServiceSuite) TestRecord_AuditFailureRollsBackAppend() {
	svc := s.build(compliance.New(failOn{action: audit.ActionConsentRecorded, next: s.audit}))

	_, err := svc.Record(s.asSubject(11), s.cmd(11, domain.ConsentStatusGiven))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	policyTrail, err := s.ledger.ListByPolicy(s.ctx, s.policy)
	s.Require().NoError(err)
	s.Empty(policyTrail)

	// The key survives for the retry.
	_, err = s.keys.LookupPseudonym(s.ctx, 11)
	s.NoError(err)
}

func (s *ServiceSuite) TestRecord_PolicyLookupFailure() {
	wrapper, err := keystore.NewWrapper(bytes.Repeat([]byte{7}, 32))
	s.Require().NoError(err)
	runner := tx.NewShardedRunner(time.Second)
	keys := keystore.NewService(keystore.NewInMemoryStore(), wrapper, runner)
	svc := New(s.ledger, keys, reference.NewBoundedReference(brokenReference{}, time.Second, nil), runner)

	_, err = svc.Record(s.asSubject(1), s.cmd(1, domain.ConsentStatusGiven))
	s.ErrorIs(err, policymodels.ErrPolicyLookupFailed)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestListBySubject() {
	_, err := s.service.ListBySubject(s.ctx, 42)
	s.ErrorIs(err, models.ErrNoConsents)

	first, err := s.service.Record(s.asSubject(42), s.cmd(42, domain.ConsentStatusGiven))
	s.Require().NoError(err)
	later := requestcontext.WithTime(s.asSubject(42), now.Add(time.Minute))
	second, err := s.service.Record(later, s.cmd(42, domain.ConsentStatusRefused))
	s.Require().NoError(err)
	_, err = s.service.Record(s.asSubject(43), s.cmd(43, domain.ConsentStatusGiven))
	s.Require().NoError(err)

	views, err := s.service.ListBySubject(s.ctx, 42)
	s.Require().NoError(err)
	s.Require().Len(views, 2)
	s.Equal(second.Record.ID, views[0].Record.ID)
	s.Equal(first.Record.ID, views[1].Record.ID)
	s.Require().NotNil(views[0].Policy)
	s.Equal(s.policy, views[0].Policy.ID)
}

func (s *ServiceSuite) TestListBySubject_KnownWithoutConsents() {
	cmd := s.cmd(8, domain.ConsentStatusGiven)
	cmd.Policy = 404
	_, err := s.service.Record(s.asSubject(8), cmd)
	s.Require().Error(err)

	_, err = s.service.ListBySubject(s.ctx, 8)
	s.ErrorIs(err, models.ErrNoConsents)
}

func (s *ServiceSuite) TestForgetPreservesPolicyTrail() {
	view, err := s.service.Record(s.asSubject(42), s.cmd(42, domain.ConsentStatusGiven))
	s.Require().NoError(err)

	_, err = s.keys.Erase(s.asSubject(42), 42)
	s.Require().NoError(err)

	_, err = s.service.ListBySubject(s.ctx, 42)
	s.ErrorIs(err, models.ErrNoConsents)

	trail, err := s.service.ListByPolicy(s.ctx, s.policy)
	s.Require().NoError(err)
	s.Require().Len(trail, 1)
	s.Equal(view.Record.SubjectPseudonym, trail[0].SubjectPseudonym)
	s.True(trail[0].Verify())
}

func (s *ServiceSuite) TestListByPolicy() {
	trail, err := s.service.ListByPolicy(s.ctx, s.policy)
	s.Require().NoError(err)
	s.NotNil(trail)
	s.Empty(trail)

	_, err = s.service.ListByPolicy(s.ctx, 404)
	s.ErrorIs(err, policymodels.ErrPolicyNotFound)
}

// failOn fails appends for one action and forwards the rest.
type failOn struct {
	action audit.Action
	next   audit.Store
}

func (f failOn) Append(ctx context.Context, e audit.Event) error {
	if e.Action == f.action {
		return errors.New("audit sink down")
	}
	return f.next.Append(ctx, e)
}

type brokenReference struct{}

func (brokenReference) Brief(context.Context, domain.PolicyID) (policymodels.Brief, error) {
	return policymodels.Brief{}, errors.New("connection refused")
}

func (brokenReference) Briefs(context.Context, []domain.PolicyID) (map[domain.PolicyID]policymodels.Brief, error) {
	return nil, errors.New("connection refused")
}
