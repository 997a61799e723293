package datastore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectos/internal/apierr"
	"objectos/internal/hooks"
)

// hookLog records fired topics and lets tests inject gate behaviour.
type hookLog struct {
	topics   []string
	payloads []map[string]interface{}
	gateErr  map[string]error
	onTopic  map[string]func(payload map[string]interface{})
}

func newHookLog() *hookLog {
	return &hookLog{
		gateErr: make(map[string]error),
		onTopic: make(map[string]func(map[string]interface{})),
	}
}

func (h *hookLog) trigger(_ context.Context, topic string, payload map[string]interface{}) error {
	h.topics = append(h.topics, topic)
	h.payloads = append(h.payloads, payload)
	if fn := h.onTopic[topic]; fn != nil {
		fn(payload)
	}
	return h.gateErr[topic]
}

func (h *hookLog) payload(topic string) map[string]interface{} {
	for i := len(h.topics) - 1; i >= 0; i-- {
		if h.topics[i] == topic {
			return h.payloads[i]
		}
	}
	return nil
}

func newTestStore(t *testing.T) (*Store, *hookLog) {
	t.Helper()
	log := newHookLog()
	s := New(log.trigger)
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}
	return s, log
}

func TestCreateGeneratesIDAndTimestamps(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()

	record, err := s.Create(ctx, "account", Record{"name": "Acme"}, map[string]interface{}{"userId": "u1"})
	require.NoError(t, err)

	id, ok := record["id"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(id, "rec_"))
	assert.NotEmpty(t, record["createdAt"])
	assert.Equal(t, record["createdAt"], record["updatedAt"])

	assert.Equal(t, []string{hooks.TopicDataBeforeCreate, hooks.TopicDataCreate}, log.topics)

	after := log.payload(hooks.TopicDataCreate)
	assert.Equal(t, "account", after["objectName"])
	assert.Equal(t, id, after["recordId"])
	assert.Equal(t, "u1", after["userId"])
}

func TestCreateWithExplicitIDAndConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "account", Record{"id": "acc_1", "name": "Acme"}, nil)
	require.NoError(t, err)

	_, err = s.Create(ctx, "account", Record{"id": "acc_1", "name": "Copy"}, nil)
	assert.True(t, apierr.IsConflict(err), "duplicate id must conflict, got %v", err)
}

func TestCreateGateAbortsInsert(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()
	log.gateErr[hooks.TopicDataBeforeCreate] = errors.New("rejected by gate")

	_, err := s.Create(ctx, "account", Record{"name": "Acme"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by gate")

	assert.Equal(t, 0, s.Count("account"), "gate rejection must not insert")
	assert.Equal(t, []string{hooks.TopicDataBeforeCreate}, log.topics, "observer topic must not fire")
}

func TestCreateGateMayDefaultFields(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()
	log.onTopic[hooks.TopicDataBeforeCreate] = func(payload map[string]interface{}) {
		record := payload["record"].(Record)
		record["status"] = "draft"
	}

	record, err := s.Create(ctx, "account", Record{"name": "Acme"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "draft", record["status"])

	stored, err := s.Get(ctx, "account", record["id"].(string), nil)
	require.NoError(t, err)
	assert.Equal(t, "draft", stored["status"])
}

func TestUpdateComputesFieldChanges(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "account", Record{"id": "acc_1", "name": "Acme", "status": "active"}, nil)
	require.NoError(t, err)

	updated, err := s.Update(ctx, "account", "acc_1", Record{"status": "inactive", "name": "Acme"}, map[string]interface{}{"userId": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "inactive", updated["status"])
	assert.NotEqual(t, created["updatedAt"], updated["updatedAt"])

	payload := log.payload(hooks.TopicDataUpdate)
	require.NotNil(t, payload)
	changes := payload["changes"].(map[string]interface{})
	require.Contains(t, changes, "status")
	statusChange := changes["status"].(map[string]interface{})
	assert.Equal(t, "active", statusChange["oldValue"])
	assert.Equal(t, "inactive", statusChange["newValue"])
	assert.NotContains(t, changes, "name", "unchanged fields must not appear in changes")
}

func TestUpdateGuards(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "account", "missing", Record{"x": 1}, nil)
	assert.True(t, apierr.IsNotFound(err))

	_, err = s.Create(ctx, "account", Record{"id": "acc_1"}, nil)
	require.NoError(t, err)
	_, err = s.Update(ctx, "account", "acc_1", Record{}, nil)
	assert.True(t, apierr.IsValidation(err), "empty patch must be a validation error, got %v", err)
}

func TestUpdateCannotRewriteIdentity(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "account", Record{"id": "acc_1", "name": "Acme"}, nil)
	require.NoError(t, err)

	updated, err := s.Update(ctx, "account", "acc_1", Record{"id": "acc_2", "name": "Two"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "acc_1", updated["id"])
	assert.Equal(t, "Two", updated["name"])
}

func TestDeleteFiresHooksAndRemoves(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "account", Record{"id": "acc_1", "name": "Acme"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "account", "acc_1", map[string]interface{}{"userId": "u1"}))
	assert.Equal(t, 0, s.Count("account"))

	payload := log.payload(hooks.TopicDataDelete)
	require.NotNil(t, payload)
	assert.Equal(t, "acc_1", payload["recordId"])
	record := payload["record"].(Record)
	assert.Equal(t, "Acme", record["name"], "delete observer sees the removed record")

	assert.True(t, apierr.IsNotFound(s.Delete(ctx, "account", "acc_1", nil)))
}

func TestDeleteGateAborts(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "account", Record{"id": "acc_1"}, nil)
	require.NoError(t, err)

	log.gateErr[hooks.TopicDataBeforeDelete] = errors.New("protected")
	err = s.Delete(ctx, "account", "acc_1", nil)
	require.Error(t, err)
	assert.Equal(t, 1, s.Count("account"), "gate rejection must not delete")
}

func TestFindFilterSearchSortPagination(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seed := []Record{
		{"id": "a1", "name": "Acme Corp", "owner": "u1", "employees": 50},
		{"id": "a2", "name": "Beta LLC", "owner": "u2", "employees": 5},
		{"id": "a3", "name": "Gamma Inc", "owner": "u1", "employees": 500},
		{"id": "a4", "name": "acme subsidiary", "owner": "u3", "employees": 2},
	}
	for _, r := range seed {
		_, err := s.Create(ctx, "account", r, nil)
		require.NoError(t, err)
	}

	t.Run("filter equality", func(t *testing.T) {
		res, err := s.Find(ctx, "account", Query{Filter: map[string]interface{}{"owner": "u1"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
	})

	t.Run("filter or", func(t *testing.T) {
		res, err := s.Find(ctx, "account", Query{Filter: map[string]interface{}{
			"$or": []interface{}{
				map[string]interface{}{"owner": "u2"},
				map[string]interface{}{"owner": "u3"},
			},
		}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
	})

	t.Run("search is case-insensitive substring", func(t *testing.T) {
		res, err := s.Find(ctx, "account", Query{Search: "ACME"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
	})

	t.Run("numeric sort desc", func(t *testing.T) {
		res, err := s.Find(ctx, "account", Query{SortBy: "employees", Order: "desc"}, nil)
		require.NoError(t, err)
		require.Equal(t, 4, res.Total)
		assert.Equal(t, "a3", res.Records[0]["id"])
		assert.Equal(t, "a4", res.Records[3]["id"])
	})

	t.Run("string sort asc", func(t *testing.T) {
		res, err := s.Find(ctx, "account", Query{SortBy: "id"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "a1", res.Records[0]["id"])
	})

	t.Run("pagination", func(t *testing.T) {
		res, err := s.Find(ctx, "account", Query{SortBy: "id", Page: 2, PageSize: 3}, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Total)
		assert.Equal(t, 2, res.Page)
		require.Len(t, res.Records, 1)
		assert.Equal(t, "a4", res.Records[0]["id"])
	})

	t.Run("page beyond end is empty with total intact", func(t *testing.T) {
		res, err := s.Find(ctx, "account", Query{Page: 9, PageSize: 10}, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Total)
		assert.Empty(t, res.Records)
	})
}

func TestFindRowLevelFilterInjection(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "account", Record{"id": "a1", "ownerId": "u1"}, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "account", Record{"id": "a2", "ownerId": "u2"}, nil)
	require.NoError(t, err)

	// A before-find handler narrows the filter the way the permission
	// plugin injects row-level security.
	log.onTopic[hooks.TopicDataBeforeFind] = func(payload map[string]interface{}) {
		filter, _ := payload["filter"].(map[string]interface{})
		if filter == nil {
			filter = map[string]interface{}{}
		}
		filter["ownerId"] = "u1"
		payload["filter"] = filter
	}

	res, err := s.Find(ctx, "account", Query{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "a1", res.Records[0]["id"])

	// The same injection hides other owners' records from Get.
	_, err = s.Get(ctx, "account", "a2", nil)
	assert.True(t, apierr.IsNotFound(err), "row-level filter must hide the record, got %v", err)

	got, err := s.Get(ctx, "account", "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", got["ownerId"])
}

func TestFindGateAborts(t *testing.T) {
	s, log := newTestStore(t)
	ctx := context.Background()
	log.gateErr[hooks.TopicDataBeforeFind] = apierr.NewPermissionDeniedError("u9", "account", "read")

	_, err := s.Find(ctx, "account", Query{}, nil)
	assert.True(t, apierr.IsPermissionDenied(err))
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "account", Record{"id": "a1", "name": "Acme"}, nil)
	require.NoError(t, err)
	created["name"] = "mutated"

	stored, err := s.Get(ctx, "account", "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored["name"], "mutating a returned record must not touch storage")
}

func TestObjectsSorted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "contact", Record{"id": "c1"}, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "account", Record{"id": "a1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"account", "contact"}, s.Objects())
}

func TestStoreWorksWithoutTrigger(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	record, err := s.Create(ctx, "account", Record{"name": "Acme"}, nil)
	require.NoError(t, err)
	_, err = s.Get(ctx, "account", record["id"].(string), nil)
	assert.NoError(t, err)
}
