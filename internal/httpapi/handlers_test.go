package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racelock/veloengine/internal/domain/governance"
)

type memProposals struct {
	byID        map[string]governance.Proposal
	byFingerprint map[string]string
}

func newMemProposals() *memProposals {
	return &memProposals{byID: map[string]governance.Proposal{}, byFingerprint: map[string]string{}}
}

func (m *memProposals) FindByFingerprint(_ context.Context, fp string) (*governance.Proposal, error) {
	if id, ok := m.byFingerprint[fp]; ok {
		p := m.byID[id]
		return &p, nil
	}
	return nil, nil
}
func (m *memProposals) Insert(_ context.Context, p governance.Proposal) error {
	m.byID[p.ID] = p
	m.byFingerprint[p.Fingerprint] = p.ID
	return nil
}
func (m *memProposals) LinkEpisode(_ context.Context, proposalID, episodeID string) error {
	p := m.byID[proposalID]
	p.EpisodeIDs = append(p.EpisodeIDs, episodeID)
	m.byID[proposalID] = p
	return nil
}
func (m *memProposals) Get(_ context.Context, id string) (*governance.Proposal, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, errNotFound{}
	}
	return &p, nil
}
func (m *memProposals) List(_ context.Context, status *governance.Status, criticType *governance.CriticType, limit, offset int) ([]governance.Proposal, error) {
	var out []governance.Proposal
	for _, p := range m.byID {
		if status != nil && p.Status != *status {
			continue
		}
		if criticType != nil && p.CriticType != *criticType {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
func (m *memProposals) UpdateStatus(_ context.Context, id string, expected, newStatus governance.Status, fields governance.ProposalReviewFields) error {
	p, ok := m.byID[id]
	if !ok || p.Status != expected {
		return errConflict{}
	}
	p.Status = newStatus
	p.ReviewedAt = &fields.ReviewedAt
	p.ReviewerID = &fields.ReviewerID
	p.ReviewRationale = &fields.ReviewRationale
	p.DoctrineVersionAfter = fields.DoctrineVersionAfter
	m.byID[id] = p
	return nil
}
func (m *memProposals) TransitionDraftToPending(_ context.Context, episodeID string) (int64, error) {
	return 0, nil
}
func (m *memProposals) EpisodesSharingFingerprint(_ context.Context, fp string) ([]string, error) {
	return nil, nil
}
func (m *memProposals) CountByStatus(_ context.Context) (map[governance.Status]int64, error) {
	counts := map[governance.Status]int64{}
	for _, p := range m.byID {
		counts[p.Status]++
	}
	return counts, nil
}

type memLedger struct{ entries []governance.LedgerEntry }

func (m *memLedger) Write(_ context.Context, e governance.LedgerEntry) error {
	m.entries = append(m.entries, e)
	return nil
}
func (m *memLedger) ByProposal(_ context.Context, proposalID string) ([]governance.LedgerEntry, error) {
	var out []governance.LedgerEntry
	for _, e := range m.entries {
		if e.ProposalID == proposalID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memLedger) Recent(_ context.Context, limit int) ([]governance.LedgerEntry, error) {
	return m.entries, nil
}
func (m *memLedger) CountByAction(_ context.Context, action governance.Action) (int64, error) {
	var n int64
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n, nil
}
func (m *memLedger) FinalizedEpisodeCount(_ context.Context) (int64, error) { return 0, nil }

type memDoctrine struct {
	versions map[string]governance.DoctrineVersion
	active   string
}

func newMemDoctrine() *memDoctrine {
	return &memDoctrine{versions: map[string]governance.DoctrineVersion{}}
}
func (m *memDoctrine) ActiveVersion(_ context.Context) (*governance.DoctrineVersion, error) {
	if m.active == "" {
		return nil, nil
	}
	v := m.versions[m.active]
	return &v, nil
}
func (m *memDoctrine) Initialize(_ context.Context, version, description string) error {
	m.versions[version] = governance.DoctrineVersion{Version: version, Description: description, Active: true}
	m.active = version
	return nil
}
func (m *memDoctrine) Insert(_ context.Context, v governance.DoctrineVersion) error {
	m.versions[v.Version] = v
	if v.Active {
		m.active = v.Version
	}
	return nil
}
func (m *memDoctrine) Deactivate(_ context.Context, version string) error {
	v := m.versions[version]
	v.Active = false
	m.versions[version] = v
	return nil
}
func (m *memDoctrine) Activate(_ context.Context, version string) error {
	v := m.versions[version]
	v.Active = true
	m.versions[version] = v
	m.active = version
	return nil
}
func (m *memDoctrine) Get(_ context.Context, version string) (*governance.DoctrineVersion, error) {
	v, ok := m.versions[version]
	if !ok {
		return nil, errNotFound{}
	}
	return &v, nil
}
func (m *memDoctrine) History(_ context.Context, limit int) ([]governance.DoctrineVersion, error) {
	var out []governance.DoctrineVersion
	for _, v := range m.versions {
		out = append(out, v)
	}
	return out, nil
}
func (m *memDoctrine) Count(_ context.Context) (int64, error) { return int64(len(m.versions)), nil }

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errConflict struct{}

func (errConflict) Error() string { return "invalid state transition" }

func newTestServer(t *testing.T) (*Server, *memProposals) {
	t.Helper()
	proposals := newMemProposals()
	gov := governance.NewService(proposals, &memLedger{}, newMemDoctrine())
	return NewServer(gov, DefaultServerConfig()), proposals
}

func seedPendingProposal(gov *governance.Service, proposals *memProposals, id string) {
	now := time.Now()
	proposals.byID[id] = governance.Proposal{
		ID: id, CriticType: governance.CriticFeature, Severity: governance.SeverityLow,
		FindingType: "threshold_nudge:chaos_threshold", Fingerprint: "fp-" + id,
		Status: governance.StatusPending, CreatedAt: now,
	}
	proposals.byFingerprint["fp-"+id] = id
}

func TestListProposals_ReturnsJSONArray(t *testing.T) {
	s, proposals := newTestServer(t)
	seedPendingProposal(s.gov, proposals, "p1")

	req := httptest.NewRequest(http.MethodGet, "/proposals?status=PENDING", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["count"])
}

func TestGetProposal_NotFoundReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/proposals/missing", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcceptProposal_TransitionsPendingToAccepted(t *testing.T) {
	s, proposals := newTestServer(t)
	seedPendingProposal(s.gov, proposals, "p1")

	body := strings.NewReader(`{"reviewer":"ops","rationale":"looks safe"}`)
	req := httptest.NewRequest(http.MethodPost, "/proposals/p1/accept", body)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, governance.StatusAccepted, proposals.byID["p1"].Status)
}

func TestAcceptProposal_AlreadyAcceptedReturnsConflict(t *testing.T) {
	s, proposals := newTestServer(t)
	proposals.byID["p1"] = governance.Proposal{ID: "p1", Status: governance.StatusAccepted, Fingerprint: "fp1"}

	req := httptest.NewRequest(http.MethodPost, "/proposals/p1/accept", strings.NewReader(`{"reviewer":"ops","rationale":"x"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetStats_ReturnsCountsAndActiveVersion(t *testing.T) {
	s, proposals := newTestServer(t)
	seedPendingProposal(s.gov, proposals, "p1")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
