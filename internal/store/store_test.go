package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"overture-lists/internal/logger"
	"overture-lists/internal/migrate"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger.Set(logger.Discard())
	s, err := Open(filepath.Join(t.TempDir(), "lists.db"))
	require.NoError(t, err)
	require.NoError(t, migrate.EnsureSchema(s.DB()))
	t.Cleanup(func() { _ = s.Close() })
	base := time.Date(2024, 12, 18, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return s
}

// seedUSCA：US 国家级与 CA 区域级两条缓存记录
func seedUSCA(t *testing.T, s *Store) (us, ca int64) {
	t.Helper()
	ctx := context.Background()
	var err error
	us, err = s.SaveOrGetDivision(ctx, DivisionInput{SystemID: "c-us", Name: "United States", Subtype: "country", Country: "US"})
	require.NoError(t, err)
	ca, err = s.SaveOrGetDivision(ctx, DivisionInput{SystemID: "c-ca", Name: "California", Subtype: "region", Country: "US"})
	require.NoError(t, err)
	return us, ca
}

func count(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(1) FROM "+table).Scan(&n))
	return n
}

func TestForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)
	var on int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&on))
	assert.Equal(t, 1, on)
}

func TestSaveOrGetDivisionReturnsSameRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.SaveOrGetDivision(ctx, DivisionInput{SystemID: "c-ca", Name: "California", Subtype: "region", Country: "us"})
	require.NoError(t, err)
	id2, err := s.SaveOrGetDivision(ctx, DivisionInput{SystemID: "c-ca", Name: "Renamed", Subtype: "county", Country: "CA"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	d, err := s.GetDivision(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "California", d.Name)
	assert.Equal(t, "region", d.Subtype)
	assert.Equal(t, "US", d.Country)
	assert.False(t, d.HasGeometry())
	assert.Equal(t, 1, count(t, s, "divisions"))
}

func TestSaveOrGetDivisionValidation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveOrGetDivision(context.Background(), DivisionInput{Name: "x"})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, "system_id", FieldOf(err))

	_, err = s.SaveOrGetDivision(context.Background(), DivisionInput{SystemID: "x", Name: "x", Geometry: json.RawMessage(`{bad`)})
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, "geometry_json", FieldOf(err))
}

func TestUpdateGeometryBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)

	geom := json.RawMessage(`{"type":"Point","coordinates":[-119.4,36.7]}`)
	require.NoError(t, s.UpdateGeometry(ctx, ca, geom))
	require.NoError(t, s.UpdateGeometry(ctx, ca, geom))

	d, err := s.GetDivisionBySystemID(ctx, "c-ca")
	require.NoError(t, err)
	assert.JSONEq(t, string(geom), string(d.Geometry()))
	assert.Equal(t, "California", d.Name)

	err = s.UpdateGeometry(ctx, 9999, geom)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.UpdateGeometry(ctx, ca, nil), ErrInvalid)
}

func TestListDivisionsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)
	require.NoError(t, s.UpdateGeometry(ctx, ca, json.RawMessage(`{"type":"Point","coordinates":[0,0]}`)))

	all, err := s.ListDivisions(ctx, DivisionFilter{Country: "us"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "California", all[0].Name)

	withGeom, err := s.ListDivisions(ctx, DivisionFilter{WithGeometry: true})
	require.NoError(t, err)
	require.Len(t, withGeom, 1)
	assert.Equal(t, "c-ca", withGeom[0].SystemID)

	regions, err := s.ListDivisions(ctx, DivisionFilter{Subtype: "country"})
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "c-us", regions[0].SystemID)
}

func TestCreateListEmptyLeavesNoRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateList(ctx, NewList{Name: "Empty", Type: ListTypeDivision})
	require.ErrorIs(t, err, ErrEmptyList)
	_, err = s.CreateList(ctx, NewList{Name: "Empty", Type: ListTypeClient, ClientIDs: []string{" ", ""}})
	require.ErrorIs(t, err, ErrEmptyList)

	assert.Zero(t, count(t, s, "lists"))
	assert.Zero(t, count(t, s, "list_divisions"))
	assert.Zero(t, count(t, s, "list_clients"))
}

func TestCreateListDuplicateScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)

	west, err := s.CreateList(ctx, NewList{Name: "West", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.NoError(t, err)
	assert.Equal(t, 1, west.MemberCount)
	assert.Equal(t, ListHash("West", ListTypeDivision), west.Hash)
	assert.NotEmpty(t, west.PublicID)

	_, err = s.CreateList(ctx, NewList{Name: "West", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.ErrorIs(t, err, ErrDuplicateList)
	assert.Equal(t, "name", FieldOf(err))

	clients, err := s.CreateList(ctx, NewList{Name: "West", Type: ListTypeClient, ClientIDs: []string{"ACC-1"}})
	require.NoError(t, err)
	assert.Equal(t, ListTypeClient, clients.Type)

	members, err := s.ListClientMembers(ctx, clients.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACC-1"}, members)
	assert.Equal(t, 2, count(t, s, "lists"))
}

func TestCreateListRejectsMixedAndInvalidType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)

	_, err := s.CreateList(ctx, NewList{Name: "Mixed", Type: ListTypeDivision, DivisionIDs: []int64{ca}, ClientIDs: []string{"ACC-1"}})
	require.ErrorIs(t, err, ErrMixedMembers)
	_, err = s.CreateList(ctx, NewList{Name: "Mixed", Type: ListTypeClient, DivisionIDs: []int64{ca}, ClientIDs: []string{"ACC-1"}})
	require.ErrorIs(t, err, ErrMixedMembers)
	_, err = s.CreateList(ctx, NewList{Name: "Bad", Type: "region", DivisionIDs: []int64{ca}})
	require.ErrorIs(t, err, ErrInvalidListType)
	assert.Zero(t, count(t, s, "lists"))
}

func TestCreateListUnknownDivisionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, _ := seedUSCA(t, s)

	_, err := s.CreateList(ctx, NewList{Name: "Broken", Type: ListTypeDivision, DivisionIDs: []int64{us, 4242}})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, count(t, s, "lists"))
	assert.Zero(t, count(t, s, "list_divisions"))
}

func TestCreateListKeepsOrderAndDedups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, ca := seedUSCA(t, s)

	l, err := s.CreateList(ctx, NewList{Name: "Ordered", Type: ListTypeDivision, DivisionIDs: []int64{ca, us, ca}})
	require.NoError(t, err)
	assert.Equal(t, 2, l.MemberCount)

	members, err := s.ListDivisionMembers(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "c-ca", members[0].SystemID)
	assert.Equal(t, "c-us", members[1].SystemID)

	byPublic, err := s.GetListByPublicID(ctx, l.PublicID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, byPublic.ID)
}

func TestListListsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)

	_, err := s.CreateList(ctx, NewList{Name: "First", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.NoError(t, err)
	_, err = s.CreateList(ctx, NewList{Name: "Second", Type: ListTypeClient, ClientIDs: []string{"ACC-1", "ACC-2"}})
	require.NoError(t, err)

	all, err := s.ListLists(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Second", all[0].Name)
	assert.Equal(t, 2, all[0].MemberCount)

	onlyDiv, err := s.ListLists(ctx, ListTypeDivision)
	require.NoError(t, err)
	require.Len(t, onlyDiv, 1)
	assert.Equal(t, "First", onlyDiv[0].Name)

	ok, err := s.ListExists(ctx, " First ", ListTypeDivision)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateListRename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)

	a, err := s.CreateList(ctx, NewList{Name: "A", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.NoError(t, err)
	_, err = s.CreateList(ctx, NewList{Name: "B", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.NoError(t, err)

	taken := "B"
	_, err = s.UpdateList(ctx, a.ID, ListUpdate{Name: &taken})
	require.ErrorIs(t, err, ErrDuplicateList)

	name, notes := "C", "pacific coast"
	got, err := s.UpdateList(ctx, a.ID, ListUpdate{Name: &name, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "C", got.Name)
	assert.Equal(t, "pacific coast", got.Notes)
	assert.Equal(t, ListHash("C", ListTypeDivision), got.Hash)
	assert.Equal(t, 1, got.MemberCount)

	same := "C"
	_, err = s.UpdateList(ctx, a.ID, ListUpdate{Name: &same})
	require.NoError(t, err)

	_, err = s.UpdateList(ctx, 999, ListUpdate{Notes: &notes})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceListItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, ca := seedUSCA(t, s)

	l, err := s.CreateList(ctx, NewList{Name: "West", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.NoError(t, err)

	got, err := s.ReplaceListItems(ctx, l.ID, []int64{us, ca}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)

	_, err = s.ReplaceListItems(ctx, l.ID, nil, nil)
	require.ErrorIs(t, err, ErrEmptyList)
	_, err = s.ReplaceListItems(ctx, l.ID, nil, []string{"ACC-1"})
	require.ErrorIs(t, err, ErrMixedMembers)

	members, err := s.ListDivisionMembers(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestDeleteListCascadesMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)

	l, err := s.CreateList(ctx, NewList{Name: "West", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.NoError(t, err)
	require.NoError(t, s.DeleteList(ctx, l.ID))
	assert.Zero(t, count(t, s, "list_divisions"))
	assert.Equal(t, 2, count(t, s, "divisions"))
	require.ErrorIs(t, s.DeleteList(ctx, l.ID), ErrNotFound)
}

func TestListsContaining(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, ca := seedUSCA(t, s)

	a, err := s.CreateList(ctx, NewList{Name: "West", Type: ListTypeDivision, DivisionIDs: []int64{ca}})
	require.NoError(t, err)
	b, err := s.CreateList(ctx, NewList{Name: "All", Type: ListTypeDivision, DivisionIDs: []int64{us, ca}})
	require.NoError(t, err)

	got, err := s.ListsContaining(ctx, ca)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, got)

	got, err = s.ListsContaining(ctx, us)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, got)

	require.NoError(t, s.DeleteDivision(ctx, ca))
	got, err = s.ListsContaining(ctx, ca)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMappingScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, ca := seedUSCA(t, s)

	m, err := s.UpsertMapping(ctx, MappingInput{SystemID: "ACC-1", DivisionID: ca, AccountName: "Acme West"})
	require.NoError(t, err)
	assert.Equal(t, "c-ca", m.DivisionSystemID)
	assert.Equal(t, "California", m.DivisionName)

	_, err = s.UpsertMapping(ctx, MappingInput{SystemID: "ACC-2", DivisionID: ca, AccountName: "Other"})
	require.ErrorIs(t, err, ErrMappingConflict)
	assert.Equal(t, "division_id", FieldOf(err))

	_, err = s.UpsertMapping(ctx, MappingInput{SystemID: "ACC-1", DivisionID: us, AccountName: "Acme West"})
	require.ErrorIs(t, err, ErrMappingConflict)
	assert.Equal(t, "system_id", FieldOf(err))

	kept, err := s.GetMappingByAccount(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, ca, kept.DivisionID)

	require.NoError(t, s.DeleteMappingByDivision(ctx, ca))
	m2, err := s.UpsertMapping(ctx, MappingInput{SystemID: "ACC-2", DivisionID: ca, AccountName: "Other"})
	require.NoError(t, err)
	assert.Equal(t, "ACC-2", m2.SystemID)
	assert.Equal(t, 1, count(t, s, "crm_mappings"))
}

func TestUpsertMappingUpdatesInPlaceAndMirrorsGeometry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ca := seedUSCA(t, s)
	geom := json.RawMessage(`{"type":"Point","coordinates":[1,2]}`)
	require.NoError(t, s.UpdateGeometry(ctx, ca, geom))

	first, err := s.UpsertMapping(ctx, MappingInput{SystemID: "ACC-1", DivisionID: ca, AccountName: "Acme", CustomAdminLevel: "Territory"})
	require.NoError(t, err)
	second, err := s.UpsertMapping(ctx, MappingInput{SystemID: "ACC-1", DivisionID: ca, AccountName: "Acme Corp", CustomAdminLevel: "Region"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Acme Corp", second.AccountName)
	assert.Equal(t, "Region", second.CustomAdminLevel)
	require.True(t, second.GeometryJSON.Valid)
	assert.JSONEq(t, string(geom), second.GeometryJSON.String)

	byDiv, err := s.GetMappingByDivision(ctx, ca)
	require.NoError(t, err)
	assert.Equal(t, "ACC-1", byDiv.SystemID)

	all, err := s.ListMappings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertMappingUnknownDivision(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertMapping(context.Background(), MappingInput{SystemID: "ACC-1", DivisionID: 77, AccountName: "Acme"})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteMappingByAccount(context.Background(), "ACC-1"), ErrNotFound)
}

func TestRelationshipScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, ca := seedUSCA(t, s)

	r1, err := s.AddRelationship(ctx, RelationshipInput{ParentID: us, ChildID: ca, Type: ReportsTo})
	require.NoError(t, err)
	assert.Equal(t, "c-us", r1.ParentSystemID)
	assert.Equal(t, "California", r1.ChildName)
	_, err = s.AddRelationship(ctx, RelationshipInput{ParentID: us, ChildID: ca, Type: CollaboratesWith})
	require.NoError(t, err)

	_, err = s.AddRelationship(ctx, RelationshipInput{ParentID: us, ChildID: ca, Type: ReportsTo})
	require.ErrorIs(t, err, ErrDuplicateRelationship)
	assert.Equal(t, 2, count(t, s, "relationships"))

	children, err := s.Children(ctx, us, ReportsTo)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "c-ca", children[0].SystemID)

	anyType, err := s.Children(ctx, us, "")
	require.NoError(t, err)
	assert.Len(t, anyType, 1)

	parents, err := s.Parents(ctx, ca, CollaboratesWith)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "c-us", parents[0].SystemID)

	rels, err := s.ListRelationships(ctx, ca)
	require.NoError(t, err)
	assert.Len(t, rels, 2)

	require.NoError(t, s.DeleteRelationship(ctx, r1.ID))
	require.ErrorIs(t, s.DeleteRelationship(ctx, r1.ID), ErrNotFound)
}

func TestRelationshipRejectsSelfAndBadType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, _ := seedUSCA(t, s)

	for _, typ := range []RelationshipType{ReportsTo, CollaboratesWith} {
		_, err := s.AddRelationship(ctx, RelationshipInput{ParentID: us, ChildID: us, Type: typ})
		require.ErrorIs(t, err, ErrSelfRelationship)
	}
	_, err := s.AddRelationship(ctx, RelationshipInput{ParentID: us, ChildID: us + 1, Type: "owns"})
	require.ErrorIs(t, err, ErrInvalidRelationshipType)
	_, err = s.AddRelationship(ctx, RelationshipInput{ParentID: us, ChildID: 555, Type: ReportsTo})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, count(t, s, "relationships"))
}

func TestSelfRelationshipCheckConstraintIsClassified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, _ := seedUSCA(t, s)

	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO relationships (parent_division_id, child_division_id, relationship_type) VALUES (?, ?, 'reports_to')`, us, us)
	require.Error(t, err)
	err = classify(err)
	require.ErrorIs(t, err, ErrSelfRelationship)
	assert.Equal(t, "child_division_id", FieldOf(err))
}

func TestDeleteDivisionCascadesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	us, ca := seedUSCA(t, s)

	l, err := s.CreateList(ctx, NewList{Name: "West", Type: ListTypeDivision, DivisionIDs: []int64{ca, us}})
	require.NoError(t, err)
	_, err = s.UpsertMapping(ctx, MappingInput{SystemID: "ACC-1", DivisionID: ca, AccountName: "Acme"})
	require.NoError(t, err)
	_, err = s.AddRelationship(ctx, RelationshipInput{ParentID: us, ChildID: ca, Type: ReportsTo})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDivision(ctx, ca))

	_, err = s.GetDivision(ctx, ca)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMappingByDivision(ctx, ca)
	require.ErrorIs(t, err, ErrNotFound)
	c, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Divisions: 1, Lists: 1, Mappings: 0, Relationships: 0, Memberships: 1}, c)

	left, err := s.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, left.MemberCount)

	require.ErrorIs(t, s.DeleteDivision(ctx, ca), ErrNotFound)
}

func TestWithTxCommitAndRollback(t *testing.T) {
	logger.Set(logger.Discard())
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := AttachDB(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE lists").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, s.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE lists SET notes = ''")
		return err
	}))

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)

	mock.ExpectBegin()
	mock.ExpectRollback()
	require.PanicsWithValue(t, "kaboom", func() {
		_ = s.WithTx(ctx, func(tx *sqlx.Tx) error { panic("kaboom") })
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHashDistinguishesType(t *testing.T) {
	assert.NotEqual(t, ListHash("West", ListTypeDivision), ListHash("West", ListTypeClient))
	assert.Len(t, ListHash("West", ListTypeDivision), 32)
}
