package cascade

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/impute"
	"github.com/dubedad/jobforge/internal/inherit"
	"github.com/dubedad/jobforge/internal/merge"
	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/resolve"
	"github.com/dubedad/jobforge/internal/taxonomy"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeLookup struct {
	mu    sync.Mutex
	calls [][]string
	out   []model.AttributeCandidate
	err   error
}

func (f *fakeLookup) Lookup(_ context.Context, unitID string, attrs []string) ([]model.AttributeCandidate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, attrs)
	f.mu.Unlock()
	var out []model.AttributeCandidate
	for _, c := range f.out {
		if slices.Contains(attrs, c.Attribute) {
			out = append(out, c)
		}
	}
	return out, f.err
}

type fakeImputer struct {
	mu       sync.Mutex
	requests []impute.Request
	values   map[string]float64
	err      error
}

func (f *fakeImputer) Impute(_ context.Context, req impute.Request) ([]model.AttributeCandidate, []model.UnfilledAttribute, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		unfilled := make([]model.UnfilledAttribute, len(req.Attributes))
		for i, a := range req.Attributes {
			unfilled[i] = model.UnfilledAttribute{Attribute: a, Reason: "generative call failed"}
		}
		return nil, unfilled, f.err
	}
	var (
		out      []model.AttributeCandidate
		unfilled []model.UnfilledAttribute
	)
	for _, a := range req.Attributes {
		conf, ok := f.values[a]
		if !ok {
			unfilled = append(unfilled, model.UnfilledAttribute{Attribute: a, Reason: "absent from generative response"})
			continue
		}
		out = append(out, model.AttributeCandidate{
			Entity: req.Target, Attribute: a, Value: "generated " + a,
			Tier: model.TierGenerative, Confidence: conf, SourceIdentifier: "test-model", Timestamp: fixedNow,
			Generative: &model.GenerativeDetail{ModelID: "test-model"},
		})
	}
	return out, unfilled, nil
}

func testStore(t *testing.T) *taxonomy.MemoryStore {
	t.Helper()
	s, err := taxonomy.NewMemoryStore("v1", taxonomy.Snapshot{
		Units: []model.CoarseUnit{
			{ID: "X", Code: "31301", Title: "Registered nurses", Definition: "Provide nursing care.", Family: "Health"},
			{ID: "21231", Code: "21231", Title: "Software engineers"},
		},
		Labels: []model.Label{
			{ID: "X-1", UnitID: "X", Text: "Nurse Practitioner"},
			{ID: "X-2", UnitID: "X", Text: "Registered Nurse"},
			{ID: "21231-1", UnitID: "21231", Text: "Software engineers and designers"},
		},
	})
	require.NoError(t, err)
	return s
}

func skillsTable() *inherit.AttributeTable {
	t := inherit.NewAttributeTable("skills", "unit_id", "skills")
	t.Add("X", map[string]string{"skills": "Patient assessment"})
	return t
}

func crosswalkTasks() model.AttributeCandidate {
	return model.AttributeCandidate{
		Entity:    model.EntityRef{Level: model.LevelUnit, ID: "X"},
		Attribute: "tasks", Value: "Administer medication",
		Tier: model.TierExternalCrosswalk, Confidence: 0.5, SourceIdentifier: "29-1141.00", Timestamp: fixedNow,
		Crosswalk: &model.CrosswalkDetail{ExternalCode: "29-1141.00", Category: "tasks"},
	}
}

func newCascade(t *testing.T, catalog *Catalog, opts ...Option) *Cascade {
	t.Helper()
	store := testStore(t)
	engine := resolve.NewEngine(resolve.NewIndex(store))
	base := []Option{
		WithInheritance(inherit.NewEngine(inherit.WithNow(clock)), skillsTable()),
		WithNow(clock),
	}
	return New(engine, store, catalog, append(base, opts...)...)
}

func valueFor(r model.EntityResult, attr string) (model.AttributeValue, bool) {
	for _, v := range r.Attributes {
		if v.Attribute == attr {
			return v, true
		}
	}
	return model.AttributeValue{}, false
}

func TestProcess_AllTiers(t *testing.T) {
	lookup := &fakeLookup{out: []model.AttributeCandidate{crosswalkTasks()}}
	imp := &fakeImputer{values: map[string]float64{"work_context": 0.10}}
	c := newCascade(t, NewCatalog("skills", "tasks", "work_context"),
		WithExternalLookup(lookup), WithImputer(imp))

	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "registered nurse", UnitID: "X"})
	require.Equal(t, model.StatusResolved, r.Status, r.Error)
	require.NotNil(t, r.Resolution)
	assert.Equal(t, model.MethodDirectMatch, r.Resolution.Method)
	require.Len(t, r.Attributes, 3)

	target := model.EntityRef{Level: model.LevelLabel, ID: "X-2"}

	skills, ok := valueFor(r, "skills")
	require.True(t, ok)
	assert.Equal(t, model.TierAuthoritative, skills.Provenance.Tier)
	assert.Equal(t, 1.0, skills.Provenance.Confidence)
	assert.Equal(t, target, skills.Entity)

	tasks, ok := valueFor(r, "tasks")
	require.True(t, ok)
	assert.Equal(t, model.TierExternalCrosswalk, tasks.Provenance.Tier)
	assert.Equal(t, target, tasks.Entity)

	wc, ok := valueFor(r, "work_context")
	require.True(t, ok)
	assert.Equal(t, model.TierGenerative, wc.Provenance.Tier)
	assert.InDelta(t, 0.10, wc.Provenance.Confidence, 1e-9)

	// Each later tier is asked only for what is still missing.
	require.Len(t, lookup.calls, 1)
	assert.Equal(t, []string{"tasks", "work_context"}, lookup.calls[0])
	require.Len(t, imp.requests, 1)
	req := imp.requests[0]
	assert.Equal(t, []string{"work_context"}, req.Attributes)
	assert.Equal(t, "Provide nursing care.", req.Unit.Definition)
	assert.Equal(t, "Health", req.Family)
	assert.Equal(t, "Patient assessment", req.Known["skills"])
	assert.Equal(t, "Administer medication", req.Known["tasks"])

	assert.Len(t, r.Inherited, 1)
	assert.Empty(t, r.Unfilled)
	assert.Equal(t, fixedNow, r.StartedAt)
	assert.Equal(t, fixedNow, r.CompletedAt)
}

func TestProcess_GenerativeOnlyLowConfidenceStored(t *testing.T) {
	imp := &fakeImputer{values: map[string]float64{"work_context": 0.10}}
	c := newCascade(t, NewCatalog("work_context"), WithImputer(imp))

	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "anything", UnitID: "21231"})
	require.Equal(t, model.StatusResolved, r.Status)
	assert.Equal(t, model.MethodUGDominant, r.Resolution.Method)
	v, ok := valueFor(r, "work_context")
	require.True(t, ok)
	assert.InDelta(t, 0.10, v.Provenance.Confidence, 1e-9)
	require.NoError(t, v.Validate())
}

func TestProcess_UnknownUnitFails(t *testing.T) {
	c := newCascade(t, NewCatalog("skills"))
	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "nurse", UnitID: "does-not-exist"})
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.NotEmpty(t, r.Error)
	assert.Nil(t, r.Resolution)
}

func TestProcess_ExternalFailureIsPartial(t *testing.T) {
	lookup := &fakeLookup{err: model.ErrExternalUnavailable}
	imp := &fakeImputer{values: map[string]float64{"tasks": 0.7}}
	c := newCascade(t, NewCatalog("skills", "tasks"), WithExternalLookup(lookup), WithImputer(imp))

	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "registered nurse", UnitID: "X"})
	assert.Equal(t, model.StatusPartial, r.Status)
	require.Len(t, r.TierErrors, 1)
	assert.Equal(t, model.TierExternalCrosswalk, r.TierErrors[0].Tier)

	// The generative tier still fills the gap.
	v, ok := valueFor(r, "tasks")
	require.True(t, ok)
	assert.Equal(t, model.TierGenerative, v.Provenance.Tier)
}

func TestProcess_UnfilledFlagged(t *testing.T) {
	imp := &fakeImputer{err: errors.New("quota exceeded")}
	c := newCascade(t, NewCatalog("skills", "tasks"), WithImputer(imp))

	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "registered nurse", UnitID: "X"})
	assert.Equal(t, model.StatusPartial, r.Status)
	require.Len(t, r.Unfilled, 1)
	assert.Equal(t, "tasks", r.Unfilled[0].Attribute)
	assert.Equal(t, "generative call failed", r.Unfilled[0].Reason)
	_, ok := valueFor(r, "tasks")
	assert.False(t, ok)
}

func TestProcess_TierPolicy(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
catalog:
  attributes:
    - name: skills
    - name: licence
      tiers: [authoritative]
`))
	require.NoError(t, err)
	lookup := &fakeLookup{}
	imp := &fakeImputer{values: map[string]float64{"licence": 0.9}}
	c := newCascade(t, catalog, WithExternalLookup(lookup), WithImputer(imp))

	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "registered nurse", UnitID: "X"})
	assert.Equal(t, model.StatusPartial, r.Status)
	assert.Empty(t, lookup.calls)
	assert.Empty(t, imp.requests)
	require.Len(t, r.Unfilled, 1)
	assert.Equal(t, "licence", r.Unfilled[0].Attribute)
	assert.Equal(t, "no tier supplied a value", r.Unfilled[0].Reason)
}

func TestProcess_SkipsFilledAttributes(t *testing.T) {
	other := crosswalkTasks()
	other.Attribute = "skills"
	lookup := &fakeLookup{out: []model.AttributeCandidate{other}}
	c := newCascade(t, NewCatalog("skills"), WithExternalLookup(lookup), WithMerger(merge.New(true)))

	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "registered nurse", UnitID: "X"})
	require.Equal(t, model.StatusResolved, r.Status)
	// skills already has an authoritative value so crosswalk is not asked.
	assert.Empty(t, lookup.calls)
	v, _ := valueFor(r, "skills")
	assert.Empty(t, v.Superseded)
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newCascade(t, NewCatalog("skills"))
	r := c.Process(ctx, model.EntityInput{ID: "e1", Title: "registered nurse", UnitID: "X"})
	assert.Equal(t, model.StatusIncomplete, r.Status)
}

func TestProcess_EmptyCatalogKeepsInherited(t *testing.T) {
	c := newCascade(t, NewCatalog())
	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "registered nurse", UnitID: "X"})
	assert.Equal(t, model.StatusResolved, r.Status)
	require.Len(t, r.Attributes, 1)
	assert.Equal(t, "skills", r.Attributes[0].Attribute)
}

func TestProcess_EmptyCatalogRunsExternalTiers(t *testing.T) {
	lookup := &fakeLookup{}
	imp := &fakeImputer{values: map[string]float64{"skills": 0.3}}
	c := newCascade(t, NewCatalog(), WithExternalLookup(lookup), WithImputer(imp))

	// Unit 21231 has no skills row, so both later tiers are asked for it.
	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "anything", UnitID: "21231"})

	require.Len(t, lookup.calls, 1)
	assert.Equal(t, []string{"skills"}, lookup.calls[0])
	require.Len(t, imp.requests, 1)
	assert.Equal(t, []string{"skills"}, imp.requests[0].Attributes)

	assert.Equal(t, model.StatusResolved, r.Status)
	v, ok := valueFor(r, "skills")
	require.True(t, ok)
	assert.Equal(t, model.TierGenerative, v.Provenance.Tier)
}

func TestProcess_EmptyCatalogUnfilledColumn(t *testing.T) {
	c := newCascade(t, NewCatalog())
	r := c.Process(context.Background(), model.EntityInput{ID: "e1", Title: "anything", UnitID: "21231"})
	assert.Equal(t, model.StatusPartial, r.Status)
	require.Len(t, r.Unfilled, 1)
	assert.Equal(t, "skills", r.Unfilled[0].Attribute)
}

func TestRunBatch_OrderAndStatuses(t *testing.T) {
	imp := &fakeImputer{values: map[string]float64{"tasks": 0.5}}
	c := newCascade(t, NewCatalog("skills", "tasks"), WithImputer(imp))

	inputs := []model.EntityInput{
		{ID: "a", Title: "registered nurse", UnitID: "X"},
		{ID: "b", Title: "anything", UnitID: "nope"},
		{ID: "c", Title: "Nurse Practitioner", UnitID: "X"},
		{ID: "d", Title: "anything", UnitID: "21231"},
	}
	results := c.RunBatch(context.Background(), inputs, 2)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, inputs[i].ID, r.Input.ID)
	}
	assert.Equal(t, model.StatusResolved, results[0].Status)
	assert.Equal(t, model.StatusFailed, results[1].Status)
	assert.Equal(t, model.StatusResolved, results[2].Status)
	// Unit 21231 has no skills row.
	assert.Equal(t, model.StatusPartial, results[3].Status)

	s := model.Summarize(results)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Resolved)
	assert.Equal(t, 1, s.Partial)
	assert.Equal(t, 1, s.Failed)
}

func TestRunBatch_CancelledMarksIncomplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newCascade(t, NewCatalog("skills"))
	results := c.RunBatch(ctx, []model.EntityInput{
		{ID: "a", Title: "registered nurse", UnitID: "X"},
		{ID: "b", Title: "registered nurse", UnitID: "X"},
	}, 0)
	for _, r := range results {
		assert.Equal(t, model.StatusIncomplete, r.Status)
	}
}

// cancellingImputer cancels the batch context on its first call.
type cancellingImputer struct {
	cancel context.CancelFunc
	calls  int
}

func (f *cancellingImputer) Impute(ctx context.Context, req impute.Request) ([]model.AttributeCandidate, []model.UnfilledAttribute, error) {
	f.calls++
	f.cancel()
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func TestRunBatch_CancelledMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	imp := &cancellingImputer{cancel: cancel}
	c := newCascade(t, NewCatalog("skills"), WithImputer(imp))

	// One slot runs entities in input order: "a" finishes from inheritance,
	// "b" needs the imputer, which cancels the batch.
	results := c.RunBatch(ctx, []model.EntityInput{
		{ID: "a", Title: "registered nurse", UnitID: "X"},
		{ID: "b", Title: "anything", UnitID: "21231"},
		{ID: "c", Title: "registered nurse", UnitID: "X"},
		{ID: "d", Title: "Nurse Practitioner", UnitID: "X"},
	}, 1)
	require.Len(t, results, 4)

	assert.Equal(t, model.StatusResolved, results[0].Status)
	require.Len(t, results[0].Attributes, 1)
	for _, r := range results[1:] {
		assert.Equal(t, model.StatusIncomplete, r.Status, r.Input.ID)
		assert.Equal(t, context.Canceled.Error(), r.Error)
	}
	assert.Equal(t, 1, imp.calls)

	s := model.Summarize(results)
	assert.Equal(t, 1, s.Resolved)
	assert.Equal(t, 3, s.Incomplete)
}

func TestReadInputsCSV(t *testing.T) {
	in := "entity_id,title,unit_id,family\n" +
		"e1,Registered Nurse,X,Health\n" +
		",Software dev,21231,\n"
	got, err := ReadInputsCSV(context.Background(), "titles.csv", strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.EntityInput{ID: "e1", Title: "Registered Nurse", UnitID: "X", Family: "Health"}, got[0])
	assert.Equal(t, "row-1", got[1].ID)
	assert.Equal(t, "21231", got[1].UnitID)
}

func TestReadInputsCSV_Errors(t *testing.T) {
	_, err := ReadInputsCSV(context.Background(), "titles.csv", strings.NewReader("entity_id,title\ne1,Nurse\n"))
	assert.Error(t, err)

	_, err = ReadInputsCSV(context.Background(), "titles.csv", strings.NewReader("entity_id,title,unit_id\ne1,Nurse,\n"))
	assert.Error(t, err)
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, []model.EntityResult{
		{Input: model.EntityInput{ID: "a"}, Status: model.StatusResolved},
		{Input: model.EntityInput{ID: "b"}, Status: model.StatusFailed, Error: "not found"},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"status":"resolved"`)
	assert.Contains(t, lines[1], `"error":"not found"`)
}
