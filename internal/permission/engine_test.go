package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/cache"
)

func salesSet() *Set {
	return &Set{
		Name:   "account-sales",
		Object: "account",
		Profiles: map[string]ObjectPermission{
			"sales": {
				AllowRead: true,
				ViewFilters: map[string]interface{}{
					"ownerId": "{{ userId }}",
				},
			},
			"admin": {
				AllowCreate: true,
				AllowRead:   true,
				AllowEdit:   true,
				AllowDelete: true,
			},
		},
		Fields: map[string]FieldPermission{
			"revenue": {
				VisibleTo:  []string{"admin", "sales"},
				EditableBy: []string{"admin"},
			},
			"internalNote": {
				VisibleTo: []string{"admin"},
			},
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, sets ...*Set) *Engine {
	t.Helper()
	e := New(cfg, nil)
	if len(sets) > 0 {
		require.NoError(t, e.RegisterSets(context.Background(), sets...))
	}
	return e
}

func TestCheckGrantWithFilters(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, salesSet())
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	result, err := e.Check(context.Background(), uctx, "account", ActionRead)
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Equal(t, map[string]interface{}{"ownerId": "u1"}, result.Filters)
}

func TestCheckDenyReason(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, salesSet())
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	result, err := e.Check(context.Background(), uctx, "account", ActionDelete)
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	assert.Equal(t, "No permission for action 'delete' on object 'account'", result.Reason)
}

func TestCheckNoGrantingProfileDenies(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, salesSet())
	uctx := Context{UserID: "u1", Profiles: []string{"support", "marketing"}}

	for _, action := range []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete} {
		result, err := e.Check(context.Background(), uctx, "account", action)
		require.NoError(t, err)
		assert.False(t, result.Allowed, "action %s must be denied", action)
	}
}

func TestCheckUnknownObjectDefaultDeny(t *testing.T) {
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	deny := newTestEngine(t, Config{Enabled: true, DefaultDeny: true})
	result, err := deny.Check(context.Background(), uctx, "invoice", ActionRead)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "No permission set defined for object 'invoice'", result.Reason)

	allow := newTestEngine(t, Config{Enabled: true, DefaultDeny: false})
	result, err = allow.Check(context.Background(), uctx, "invoice", ActionRead)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckUnrestrictedProfileWinsOverFilters(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, salesSet())
	// admin has no filters, sales has filters; together the grant is
	// unrestricted.
	uctx := Context{UserID: "u1", Profiles: []string{"sales", "admin"}}

	result, err := e.Check(context.Background(), uctx, "account", ActionRead)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Nil(t, result.Filters)
}

func TestCheckMultipleFiltersCombineUnderOr(t *testing.T) {
	set := salesSet()
	set.Profiles["support"] = ObjectPermission{
		AllowRead:   true,
		ViewFilters: map[string]interface{}{"region": "{{ region }}"},
	}
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, set)
	uctx := Context{
		UserID:   "u1",
		Profiles: []string{"sales", "support"},
		Metadata: map[string]interface{}{"region": "emea"},
	}

	result, err := e.Check(context.Background(), uctx, "account", ActionRead)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	alternatives, ok := result.Filters["$or"].([]interface{})
	require.True(t, ok, "expected $or combination, got %v", result.Filters)
	require.Len(t, alternatives, 2)
	assert.Contains(t, alternatives, map[string]interface{}{"ownerId": "u1"})
	assert.Contains(t, alternatives, map[string]interface{}{"region": "emea"})
}

func TestCheckDisabledEngineAllows(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: false, DefaultDeny: true})
	uctx := Context{UserID: "u1"}

	result, err := e.Check(context.Background(), uctx, "anything", ActionDelete)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckUnknownAction(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true})
	_, err := e.Check(context.Background(), Context{UserID: "u1"}, "account", "drop")
	assert.Error(t, err)
}

func TestFilterSubstitutionIdempotent(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, salesSet())
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	result, err := e.Check(context.Background(), uctx, "account", ActionRead)
	require.NoError(t, err)

	// Substituting the already substituted filters changes nothing.
	again, err := e.tmpl.ReplaceLenient(result.Filters, e.templateContext(uctx))
	require.NoError(t, err)
	assert.Equal(t, result.Filters, again)
}

func TestCheckFieldMatrix(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, salesSet())

	tests := []struct {
		name    string
		profile string
		field   string
		action  string
		want    bool
	}{
		{"sales reads revenue", "sales", "revenue", FieldActionRead, true},
		{"sales cannot edit revenue", "sales", "revenue", FieldActionEdit, false},
		{"admin edits revenue", "admin", "revenue", FieldActionEdit, true},
		{"sales cannot read internalNote", "sales", "internalNote", FieldActionRead, false},
		{"undeclared field is unrestricted", "sales", "name", FieldActionRead, true},
		{"undeclared field is editable", "sales", "name", FieldActionEdit, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uctx := Context{UserID: "u1", Profiles: []string{tt.profile}}
			got, err := e.CheckField(uctx, "account", tt.field, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckFieldUnknownObjectFollowsDefaultDeny(t *testing.T) {
	deny := newTestEngine(t, Config{Enabled: true, DefaultDeny: true})
	got, err := deny.CheckField(Context{Profiles: []string{"sales"}}, "invoice", "amount", FieldActionRead)
	require.NoError(t, err)
	assert.False(t, got)

	allow := newTestEngine(t, Config{Enabled: true, DefaultDeny: false})
	got, err = allow.CheckField(Context{Profiles: []string{"sales"}}, "invoice", "amount", FieldActionRead)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCheckFieldUnknownAction(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true})
	_, err := e.CheckField(Context{}, "account", "revenue", "delete")
	assert.Error(t, err)
}

func TestApplyFieldSecurity(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true, DefaultDeny: true}, salesSet())
	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}

	record := map[string]interface{}{
		"name":         "ACME",
		"revenue":      1000,
		"internalNote": "call back",
	}
	filtered := e.ApplyFieldSecurity(uctx, "account", record)

	assert.Equal(t, map[string]interface{}{"name": "ACME", "revenue": 1000}, filtered)
	// The original record is untouched.
	assert.Contains(t, record, "internalNote")
}

func TestCheckResultCaching(t *testing.T) {
	mem := NewMemoryForTest(t)
	e := New(Config{Enabled: true, DefaultDeny: true, CachePermissions: true, CacheTTLSeconds: 60}, mem)
	require.NoError(t, e.RegisterSets(context.Background(), salesSet()))

	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}
	ctx := context.Background()

	first, err := e.Check(ctx, uctx, "account", ActionRead)
	require.NoError(t, err)
	second, err := e.Check(ctx, uctx, "account", ActionRead)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats["cacheHits"])
	assert.Equal(t, int64(1), stats["cacheMisses"])
}

func TestClearUserCacheIsUserScoped(t *testing.T) {
	mem := NewMemoryForTest(t)
	e := New(Config{Enabled: true, DefaultDeny: true, CachePermissions: true, CacheTTLSeconds: 60}, mem)
	require.NoError(t, e.RegisterSets(context.Background(), salesSet()))
	ctx := context.Background()

	u1 := Context{UserID: "u1", Profiles: []string{"sales"}}
	u2 := Context{UserID: "u2", Profiles: []string{"sales"}}
	_, err := e.Check(ctx, u1, "account", ActionRead)
	require.NoError(t, err)
	_, err = e.Check(ctx, u2, "account", ActionRead)
	require.NoError(t, err)

	require.NoError(t, e.ClearUserCache(ctx, "u1"))

	_, ok, err := mem.Get(ctx, cacheKey("u1", "account", ActionRead))
	require.NoError(t, err)
	assert.False(t, ok, "u1 entries must be purged")
	_, ok, err = mem.Get(ctx, cacheKey("u2", "account", ActionRead))
	require.NoError(t, err)
	assert.True(t, ok, "u2 entries must survive")
}

func TestRegisterSetsInvalidatesCache(t *testing.T) {
	mem := NewMemoryForTest(t)
	e := New(Config{Enabled: true, DefaultDeny: true, CachePermissions: true, CacheTTLSeconds: 60}, mem)
	require.NoError(t, e.RegisterSets(context.Background(), salesSet()))
	ctx := context.Background()

	uctx := Context{UserID: "u1", Profiles: []string{"sales"}}
	result, err := e.Check(ctx, uctx, "account", ActionDelete)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// A later set grants delete to sales; the stale denial must not be
	// served from cache.
	require.NoError(t, e.RegisterSets(ctx, &Set{
		Name:   "account-sales-delete",
		Object: "account",
		Profiles: map[string]ObjectPermission{
			"sales": {AllowRead: true, AllowDelete: true},
		},
	}))

	result, err = e.Check(ctx, uctx, "account", ActionDelete)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRegisterSetsRejectsInvalid(t *testing.T) {
	e := New(Config{Enabled: true}, nil)
	err := e.RegisterSets(context.Background(), &Set{Object: "account"})
	assert.Error(t, err)
}

func TestSetsAndObjectsSorted(t *testing.T) {
	e := newTestEngine(t, Config{Enabled: true},
		&Set{Name: "zeta", Object: "zebra", Profiles: map[string]ObjectPermission{"p": {}}},
		&Set{Name: "alpha", Object: "account", Profiles: map[string]ObjectPermission{"p": {}}},
	)

	sets := e.Sets()
	require.Len(t, sets, 2)
	assert.Equal(t, "alpha", sets[0].Name)
	assert.Equal(t, "zeta", sets[1].Name)
	assert.Equal(t, []string{"account", "zebra"}, e.Objects())

	_, ok := e.Set("alpha")
	assert.True(t, ok)
	_, ok = e.Set("missing")
	assert.False(t, ok)
}

// NewMemoryForTest builds a memory cache whose janitor is disabled and wires
// cleanup into the test.
func NewMemoryForTest(t *testing.T) *cache.Memory {
	t.Helper()
	m := cache.NewMemory(0)
	t.Cleanup(func() { _ = m.Close() })
	return m
}
