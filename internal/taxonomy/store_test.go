package taxonomy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		Units: []model.CoarseUnit{
			{ID: "21232", Code: "21232", Title: "Software developers and programmers"},
			{ID: "41200", Code: "41200", Title: "University professors and lecturers"},
		},
		Labels: []model.Label{
			{ID: "L1", UnitID: "21232", Text: "Software developers"},
			{ID: "L2", UnitID: "21232", Text: "Programmers"},
			{ID: "L3", UnitID: "41200", Text: "University professors and lecturers"},
		},
		Examples: []model.ExampleTitle{
			{ID: "E1", UnitID: "21232", Text: "Senior Data Analyst"},
		},
	}
}

func TestNewMemoryStore_Lookups(t *testing.T) {
	s, err := NewMemoryStore("", sampleSnapshot())
	require.NoError(t, err)
	ctx := context.Background()

	assert.NotEmpty(t, s.Version())

	u, err := s.Unit(ctx, "41200")
	require.NoError(t, err)
	assert.Equal(t, "University professors and lecturers", u.Title)

	labels, err := s.Labels(ctx, "21232")
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "L1", labels[0].ID)
	assert.Equal(t, "L2", labels[1].ID)

	examples, err := s.Examples(ctx, "41200")
	require.NoError(t, err)
	assert.Empty(t, examples)

	units, err := s.Units(ctx)
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestNewMemoryStore_UnknownUnit(t *testing.T) {
	s, err := NewMemoryStore("v1", sampleSnapshot())
	require.NoError(t, err)

	_, err = s.Unit(context.Background(), "99999")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = s.Labels(context.Background(), "99999")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = s.Examples(context.Background(), "99999")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestNewMemoryStore_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"duplicate unit", func(s *Snapshot) { s.Units = append(s.Units, s.Units[0]) }},
		{"empty unit id", func(s *Snapshot) { s.Units[0].ID = "" }},
		{"duplicate label", func(s *Snapshot) { s.Labels[1].ID = "L1" }},
		{"orphan label", func(s *Snapshot) { s.Labels[0].UnitID = "00000" }},
		{"orphan example", func(s *Snapshot) { s.Examples[0].UnitID = "00000" }},
		{"empty example id", func(s *Snapshot) { s.Examples[0].ID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := sampleSnapshot()
			tt.mutate(&snap)
			_, err := NewMemoryStore("", snap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrDataUnavailable))
		})
	}
}

func TestSnapshotDigest_ChangesWithContent(t *testing.T) {
	a := sampleSnapshot()
	b := sampleSnapshot()
	assert.Equal(t, snapshotDigest(a), snapshotDigest(b))

	b.Labels[0].Text = "Software engineers"
	assert.NotEqual(t, snapshotDigest(a), snapshotDigest(b))
}

func TestStats(t *testing.T) {
	snap := sampleSnapshot()
	snap.Units = append(snap.Units, model.CoarseUnit{ID: "00010", Code: "00010", Title: "Legislators"})
	s, err := NewMemoryStore("v", snap)
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 3, st.Units)
	assert.Equal(t, 3, st.Labels)
	assert.Equal(t, 1, st.Examples)
	assert.Equal(t, 1, st.SingleLabelUnits)
	assert.Equal(t, 1, st.UnlabeledUnits)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	src := FileSources{
		Units:    writeFile(t, dir, "units.csv", "unit_id,code,title,definition\n21232,21232,Software developers,Writes code\n"),
		Labels:   writeFile(t, dir, "labels.csv", "label_id,unit_id,text\nL1,21232,Software developers\n"),
		Examples: writeFile(t, dir, "examples.csv", "example_id,unit_id,text\nE1,21232,Web developer\n"),
	}

	s, err := LoadFiles(context.Background(), src)
	require.NoError(t, err)
	assert.Contains(t, s.Version(), "files:")

	u, err := s.Unit(context.Background(), "21232")
	require.NoError(t, err)
	assert.Equal(t, "Writes code", u.Definition)

	// Changing a file changes the version.
	writeFile(t, dir, "labels.csv", "label_id,unit_id,text\nL1,21232,Programmers\n")
	s2, err := LoadFiles(context.Background(), src)
	require.NoError(t, err)
	assert.NotEqual(t, s.Version(), s2.Version())
}

func TestLoadFiles_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	src := FileSources{
		Units:    writeFile(t, dir, "units.csv", "unit_id,title\n21232,Software developers\n"),
		Labels:   writeFile(t, dir, "labels.csv", "label_id,unit_id,text\n"),
		Examples: writeFile(t, dir, "examples.csv", "example_id,unit_id,text\n"),
	}
	_, err := LoadFiles(context.Background(), src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDataUnavailable))
	assert.Contains(t, err.Error(), "code")
}

func TestLoadFiles_MissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFiles(context.Background(), FileSources{
		Units:    filepath.Join(dir, "nope.csv"),
		Labels:   filepath.Join(dir, "nope.csv"),
		Examples: filepath.Join(dir, "nope.csv"),
	})
	assert.True(t, errors.Is(err, model.ErrDataUnavailable))

	_, err = LoadFiles(context.Background(), FileSources{})
	assert.True(t, errors.Is(err, model.ErrDataUnavailable))
}

func TestLoadPostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM taxonomy.units").
		WillReturnRows(pgxmock.NewRows([]string{"unit_id", "code", "title", "definition", "family"}).
			AddRow("21232", "21232", "Software developers", "", "IT"))
	mock.ExpectQuery("FROM taxonomy.labels").
		WillReturnRows(pgxmock.NewRows([]string{"label_id", "unit_id", "text"}).
			AddRow("L1", "21232", "Software developers").
			AddRow("L2", "21232", "Programmers"))
	mock.ExpectQuery("FROM taxonomy.example_titles").
		WillReturnRows(pgxmock.NewRows([]string{"example_id", "unit_id", "text"}))

	s, err := LoadPostgres(context.Background(), mock)
	require.NoError(t, err)
	assert.Contains(t, s.Version(), "pg:")

	labels, err := s.Labels(context.Background(), "21232")
	require.NoError(t, err)
	assert.Len(t, labels, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPostgres_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM taxonomy.units").WillReturnError(errors.New("relation does not exist"))

	_, err = LoadPostgres(context.Background(), mock)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDataUnavailable))
}

func TestLoadPostgres_OrphanLabel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM taxonomy.units").
		WillReturnRows(pgxmock.NewRows([]string{"unit_id", "code", "title", "definition", "family"}))
	mock.ExpectQuery("FROM taxonomy.labels").
		WillReturnRows(pgxmock.NewRows([]string{"label_id", "unit_id", "text"}).AddRow("L1", "21232", "x"))
	mock.ExpectQuery("FROM taxonomy.example_titles").
		WillReturnRows(pgxmock.NewRows([]string{"example_id", "unit_id", "text"}))

	_, err = LoadPostgres(context.Background(), mock)
	assert.True(t, errors.Is(err, model.ErrDataUnavailable))
}
