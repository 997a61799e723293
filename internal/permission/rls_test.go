package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rlsSet(access AccessLevel, rules ...SharingRule) *Set {
	return &Set{
		Name:          "deal-base",
		Object:        "deal",
		DefaultAccess: access,
		Profiles: map[string]ObjectPermission{
			"sales": {AllowRead: true, AllowEdit: true},
		},
		SharingRules: rules,
	}
}

func TestRecordFiltersPrivateIsOwnerScoped(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(AccessPrivate))
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	filters, err := e.RecordFilters(context.Background(), uctx, "deal")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ownerId": "u1"}, filters)
}

func TestRecordFiltersPrivateWithSharingRules(t *testing.T) {
	rule := SharingRule{
		Name:    "team-deals",
		Access:  SharingAccessRead,
		Filters: map[string]interface{}{"teamId": "{{ team }}"},
	}
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(AccessPrivate, rule))
	uctx := Context{
		UserID:   "u1",
		Profiles: []string{"sales"},
		Metadata: map[string]interface{}{"team": "t9"},
	}

	filters, err := e.RecordFilters(context.Background(), uctx, "deal")
	require.NoError(t, err)

	alternatives, ok := filters["$or"].([]interface{})
	require.True(t, ok, "expected $or, got %v", filters)
	require.Len(t, alternatives, 2)
	assert.Equal(t, map[string]interface{}{"ownerId": "u1"}, alternatives[0])
	assert.Equal(t, map[string]interface{}{"teamId": "t9"}, alternatives[1])
}

func TestRecordFiltersPublicLevelsAreUnrestricted(t *testing.T) {
	for _, access := range []AccessLevel{AccessPublicReadOnly, AccessPublicReadWrite} {
		e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(access))
		uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

		filters, err := e.RecordFilters(context.Background(), uctx, "deal")
		require.NoError(t, err)
		assert.Nil(t, filters, "access %s must not add read filters", access)
	}
}

func TestRecordFiltersControlledByParentBehavesLikePrivate(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(AccessControlledByParent))
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	filters, err := e.RecordFilters(context.Background(), uctx, "deal")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ownerId": "u1"}, filters)
}

func TestRecordFiltersCustomOwnerField(t *testing.T) {
	set := rlsSet(AccessPrivate)
	set.OwnerField = "assignedTo"
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, set)
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	filters, err := e.RecordFilters(context.Background(), uctx, "deal")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"assignedTo": "u1"}, filters)
}

func TestRecordFiltersTenantIsolation(t *testing.T) {
	cfg := Config{Enabled: true, DefaultDeny: true, TenantIsolation: true}
	e := newTestEngine(t, cfg, rlsSet(AccessPublicReadWrite))
	uctx := Context{UserID: "u1", OrganizationID: "org7", Profiles: []string{"sales"}}

	// Unrestricted base still gains the tenant filter.
	filters, err := e.RecordFilters(context.Background(), uctx, "deal")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"organizationId": "org7"}, filters)

	// Without an organization the filter stays away.
	filters, err = e.RecordFilters(context.Background(), Context{UserID: "u1", Profiles: []string{"sales"}}, "deal")
	require.NoError(t, err)
	assert.Nil(t, filters)
}

func TestRecordFiltersTenantIsolationMergesWithOwnerFilter(t *testing.T) {
	cfg := Config{Enabled: true, DefaultDeny: true, TenantIsolation: true, TenantField: "orgId"}
	e := newTestEngine(t, cfg, rlsSet(AccessPrivate))
	uctx := Context{UserID: "u1", OrganizationID: "org7", Profiles: []string{"sales"}}

	filters, err := e.RecordFilters(context.Background(), uctx, "deal")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ownerId": "u1", "orgId": "org7"}, filters)
}

func TestCanWriteRecordOwner(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(AccessPrivate))
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	assert.True(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{"ownerId": "u1"}))
	assert.False(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{"ownerId": "u2"}))
	assert.False(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{}))
}

func TestCanWriteRecordPublicReadWrite(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(AccessPublicReadWrite))
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	assert.True(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{"ownerId": "u2"}))
}

func TestCanWriteRecordPublicReadOnlyIsOwnerOnly(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(AccessPublicReadOnly))
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	assert.True(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{"ownerId": "u1"}))
	assert.False(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{"ownerId": "u2"}))
}

func TestCanWriteRecordSharingRuleGrants(t *testing.T) {
	rw := SharingRule{
		Name:    "team-write",
		Access:  SharingAccessReadWrite,
		Filters: map[string]interface{}{"teamId": "{{ team }}"},
	}
	ro := SharingRule{
		Name:    "region-read",
		Access:  SharingAccessRead,
		Filters: map[string]interface{}{"region": "emea"},
	}
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, rlsSet(AccessPrivate, rw, ro))
	uctx := Context{
		UserID:   "u1",
		Profiles: []string{"sales"},
		Metadata: map[string]interface{}{"team": "t9"},
	}

	// read_write rule matching the record grants the write.
	assert.True(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{
		"ownerId": "u2",
		"teamId":  "t9",
	}))

	// A rule that does not match leaves the record owner-only.
	assert.False(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{
		"ownerId": "u2",
		"teamId":  "t4",
	}))

	// read-only rules never grant writes, even when they match.
	assert.False(t, e.CanWriteRecord(uctx, "deal", map[string]interface{}{
		"ownerId": "u2",
		"region":  "emea",
	}))
}

func TestCanWriteRecordUnknownObject(t *testing.T) {
	deny := newTestEngine(t, Config{Enabled: true, DefaultDeny: true})
	assert.False(t, deny.CanWriteRecord(Context{UserID: "u1"}, "invoice", map[string]interface{}{"ownerId": "u1"}))

	allow := newTestEngine(t, Config{Enabled: true, DefaultDeny: false})
	assert.True(t, allow.CanWriteRecord(Context{UserID: "u1"}, "invoice", map[string]interface{}{}))
}

func TestCanWriteRecordDisabledEngine(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: false, DefaultDeny: true})
	assert.True(t, e.CanWriteRecord(Context{UserID: "u1"}, "deal", map[string]interface{}{"ownerId": "u2"}))
}
