package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory ProposalStore + LedgerStore + DoctrineStore,
// sufficient to exercise the state machine without a database.
type fakeStore struct {
	proposals map[string]*Proposal
	byFP      map[string]string // fingerprint -> proposal id
	links     map[string][]string
	ledger    []LedgerEntry
	versions  map[string]*DoctrineVersion
	active    string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		proposals: map[string]*Proposal{},
		byFP:      map[string]string{},
		links:     map[string][]string{},
		versions:  map[string]*DoctrineVersion{},
	}
}

func (f *fakeStore) FindByFingerprint(_ context.Context, fp string) (*Proposal, error) {
	id, ok := f.byFP[fp]
	if !ok {
		return nil, nil
	}
	cp := *f.proposals[id]
	return &cp, nil
}

func (f *fakeStore) Insert(_ context.Context, p Proposal) error {
	cp := p
	f.proposals[p.ID] = &cp
	f.byFP[p.Fingerprint] = p.ID
	f.links[p.ID] = append(f.links[p.ID], p.EpisodeID)
	return nil
}

func (f *fakeStore) LinkEpisode(_ context.Context, proposalID, episodeID string) error {
	f.links[proposalID] = append(f.links[proposalID], episodeID)
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, status *Status, criticType *CriticType, limit, offset int) ([]Proposal, error) {
	var out []Proposal
	for _, p := range f.proposals {
		if status != nil && p.Status != *status {
			continue
		}
		if criticType != nil && p.CriticType != *criticType {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, expected, newStatus Status, fields ProposalReviewFields) error {
	p, ok := f.proposals[id]
	if !ok || p.Status != expected {
		return assertableErr{}
	}
	p.Status = newStatus
	reviewedAt := fields.ReviewedAt
	reviewerID := fields.ReviewerID
	rationale := fields.ReviewRationale
	p.ReviewedAt = &reviewedAt
	p.ReviewerID = &reviewerID
	p.ReviewRationale = &rationale
	if fields.DoctrineVersionAfter != nil {
		p.DoctrineVersionAfter = fields.DoctrineVersionAfter
	}
	return nil
}

type assertableErr struct{}

func (assertableErr) Error() string { return "invalid state transition" }

func (f *fakeStore) TransitionDraftToPending(_ context.Context, episodeID string) (int64, error) {
	var count int64
	for id, p := range f.proposals {
		if p.Status != StatusDraft {
			continue
		}
		for _, ep := range f.links[id] {
			if ep == episodeID {
				p.Status = StatusPending
				count++
				break
			}
		}
	}
	return count, nil
}

func (f *fakeStore) EpisodesSharingFingerprint(_ context.Context, fp string) ([]string, error) {
	id, ok := f.byFP[fp]
	if !ok {
		return nil, nil
	}
	return f.links[id], nil
}

func (f *fakeStore) CountByStatus(_ context.Context) (map[Status]int64, error) {
	out := map[Status]int64{}
	for _, p := range f.proposals {
		out[p.Status]++
	}
	return out, nil
}

func (f *fakeStore) Write(_ context.Context, entry LedgerEntry) error {
	f.ledger = append(f.ledger, entry)
	return nil
}

func (f *fakeStore) ByProposal(_ context.Context, proposalID string) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range f.ledger {
		if e.ProposalID == proposalID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Recent(_ context.Context, limit int) ([]LedgerEntry, error) {
	if limit > 0 && limit < len(f.ledger) {
		return f.ledger[len(f.ledger)-limit:], nil
	}
	return f.ledger, nil
}

func (f *fakeStore) CountByAction(_ context.Context, action Action) (int64, error) {
	var n int64
	for _, e := range f.ledger {
		if e.Action == action {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) FinalizedEpisodeCount(_ context.Context) (int64, error) {
	return int64(len(f.ledger)), nil
}

func (f *fakeStore) ActiveVersion(_ context.Context) (*DoctrineVersion, error) {
	for _, v := range f.versions {
		if v.Active {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Initialize(_ context.Context, version, description string) error {
	if _, exists := f.versions[version]; exists {
		return nil
	}
	f.versions[version] = &DoctrineVersion{Version: version, Description: description, Active: true}
	return nil
}

func (f *fakeStore) Insert2(v DoctrineVersion) { f.versions[v.Version] = &v }

func (f *fakeStore) Deactivate(_ context.Context, version string) error {
	if v, ok := f.versions[version]; ok {
		v.Active = false
	}
	return nil
}

func (f *fakeStore) Activate(_ context.Context, version string) error {
	if v, ok := f.versions[version]; ok {
		v.Active = true
		f.active = version
	}
	return nil
}

func (f *fakeStore) Get2(version string) *DoctrineVersion { return f.versions[version] }

func (f *fakeStore) GetVersion(_ context.Context, version string) (*DoctrineVersion, error) {
	return f.versions[version], nil
}

func (f *fakeStore) History(_ context.Context, limit int) ([]DoctrineVersion, error) {
	var out []DoctrineVersion
	for _, v := range f.versions {
		out = append(out, *v)
	}
	return out, nil
}

func (f *fakeStore) Count(_ context.Context) (int64, error) {
	return int64(len(f.versions)), nil
}

// doctrineAdapter satisfies DoctrineStore by delegating to fakeStore, since
// DoctrineStore.Insert/Get collide in name with ProposalStore's.
type doctrineAdapter struct{ *fakeStore }

func (d doctrineAdapter) Insert(_ context.Context, v DoctrineVersion) error {
	d.fakeStore.Insert2(v)
	return nil
}

func (d doctrineAdapter) Get(ctx context.Context, version string) (*DoctrineVersion, error) {
	return d.fakeStore.GetVersion(ctx, version)
}

func newService() (*Service, *fakeStore) {
	fs := newFakeStore()
	svc := NewService(fs, fs, doctrineAdapter{fs})
	fixedNow := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return fixedNow }
	return svc, fs
}

func TestPersistProposals_DedupsByFingerprint(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	draft := []ProposalDraft{{FindingType: "FUTURE_MARKET", ProposedChange: map[string]any{"rule": "reject_future"}}}

	first, err := svc.PersistProposals(ctx, "ep1", CriticLeakage, draft)
	require.NoError(t, err)
	second, err := svc.PersistProposals(ctx, "ep2", CriticLeakage, draft)
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)

	detail, err := svc.GetProposal(ctx, first[0].ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ep1", "ep2"}, detail.SimilarEpisodes)
}

func TestAccept_RequiresPending(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	drafts, _ := svc.PersistProposals(ctx, "ep1", CriticFeature, []ProposalDraft{{FindingType: "THRESHOLD_NUDGE", ProposedChange: map[string]any{}}})
	pid := drafts[0].ID

	_, err := svc.Accept(ctx, pid, "reviewer1", "looks good", ChangeMinor, nil)
	require.Error(t, err, "DRAFT proposals cannot be accepted directly")

	_, err = svc.TransitionToPending(ctx, "ep1")
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, pid, "reviewer1", "looks good", ChangeMinor, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.DoctrineVersionAfter)
	assert.Equal(t, "13.1.0", *accepted.DoctrineVersionAfter)
}

func TestAccept_RejectedCannotBeAcceptedAgain(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	drafts, _ := svc.PersistProposals(ctx, "ep1", CriticBias, []ProposalDraft{{FindingType: "X", ProposedChange: map[string]any{}}})
	pid := drafts[0].ID
	_, _ = svc.TransitionToPending(ctx, "ep1")

	_, err := svc.Reject(ctx, pid, "reviewer1", "no")
	require.NoError(t, err)

	_, err = svc.Accept(ctx, pid, "reviewer1", "changed my mind", ChangeMinor, nil)
	require.Error(t, err, "P11: REJECTED cannot transition to ACCEPTED")
}

func TestRollback_RequiresAccepted(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	drafts, _ := svc.PersistProposals(ctx, "ep1", CriticDecision, []ProposalDraft{{FindingType: "X", ProposedChange: map[string]any{}}})
	pid := drafts[0].ID

	_, err := svc.Rollback(ctx, pid, "reviewer1", "undo")
	require.Error(t, err)

	_, _ = svc.TransitionToPending(ctx, "ep1")
	_, err = svc.Accept(ctx, pid, "reviewer1", "ok", ChangeMinor, nil)
	require.NoError(t, err)

	rolled, err := svc.Rollback(ctx, pid, "reviewer1", "undo")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
}

func TestBumpDoctrineVersion_SemVerRules(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	v, err := svc.BumpDoctrineVersion(ctx, ChangeMajor, "breaking", "tester", nil)
	require.NoError(t, err)
	assert.Equal(t, "14.0.0", v)

	v, err = svc.BumpDoctrineVersion(ctx, ChangeMinor, "new rule", "tester", nil)
	require.NoError(t, err)
	assert.Equal(t, "14.1.0", v)

	v, err = svc.BumpDoctrineVersion(ctx, ChangePatch, "fix", "tester", nil)
	require.NoError(t, err)
	assert.Equal(t, "14.1.1", v)
}

func TestGetStats_ComputesAcceptanceRate(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	d1, _ := svc.PersistProposals(ctx, "ep1", CriticLeakage, []ProposalDraft{{FindingType: "A", ProposedChange: map[string]any{}}})
	d2, _ := svc.PersistProposals(ctx, "ep1", CriticLeakage, []ProposalDraft{{FindingType: "B", ProposedChange: map[string]any{}}})
	_, _ = svc.TransitionToPending(ctx, "ep1")

	_, err := svc.Accept(ctx, d1[0].ID, "r", "ok", ChangeMinor, nil)
	require.NoError(t, err)
	_, err = svc.Reject(ctx, d2[0].ID, "r", "no")
	require.NoError(t, err)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, stats.AcceptanceRate)
	assert.Equal(t, "13.1.0", stats.ActiveVersion)
}
