package isolation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-auth/internal/audit"
	"portal-auth/internal/store"
)

func seedLegacyUsers(t *testing.T, st store.Store) []*UserRecord {
	t.Helper()
	users := []*UserRecord{
		{Phone: "+70000000001", Name: "Иван", PinDigest: "d1"},
		{Phone: "+70000000002", Name: "Мария", PinDigest: "d2"},
	}
	raw, err := json.Marshal(users)
	require.NoError(t, err)
	require.NoError(t, st.Set("registeredUsers", string(raw)))
	return users
}

func TestMigrateMovesLegacyUsers(t *testing.T) {
	f := newFixture(t)
	seedLegacyUsers(t, f.store)

	migrator := NewMigrator(f.store, f.manager, f.auditor)
	require.NoError(t, migrator.Migrate())

	// Legacy key is gone, a backup remains.
	_, err := f.store.Get("registeredUsers")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.Get("registeredUsers_backup")
	assert.NoError(t, err)

	// Both users are reachable via the keyed store.
	assert.True(t, f.manager.UserExists("+70000000001"))
	assert.True(t, f.manager.UserExists("+70000000002"))
	assert.ElementsMatch(t,
		[]string{"+70000000001", "+70000000002"},
		f.manager.GetAllRegisteredPhones())

	record, err := f.manager.GetUserByPhone("+70000000002")
	require.NoError(t, err)
	assert.Equal(t, "Мария", record.Name)

	events := f.auditor.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.EventMigration, events[len(events)-1].Type)
}

func TestMigrateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedLegacyUsers(t, f.store)

	migrator := NewMigrator(f.store, f.manager, f.auditor)
	require.NoError(t, migrator.Migrate())

	eventsAfterFirst := len(f.auditor.Events())
	require.NoError(t, migrator.Migrate())
	assert.Equal(t, eventsAfterFirst, len(f.auditor.Events()), "a re-run must be a no-op")
}

func TestMigrateNoLegacyData(t *testing.T) {
	f := newFixture(t)
	migrator := NewMigrator(f.store, f.manager, f.auditor)
	require.NoError(t, migrator.Migrate())
	assert.Empty(t, f.auditor.Events())
}

func TestMigrateCorruptLegacyList(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set("registeredUsers", "{broken"))

	migrator := NewMigrator(f.store, f.manager, f.auditor)
	assert.Error(t, migrator.Migrate())
}

func TestRollbackRestoresLegacyKey(t *testing.T) {
	f := newFixture(t)
	seedLegacyUsers(t, f.store)

	migrator := NewMigrator(f.store, f.manager, f.auditor)
	require.NoError(t, migrator.Migrate())
	require.NoError(t, migrator.Rollback())

	raw, err := f.store.Get("registeredUsers")
	require.NoError(t, err)

	var restored []*UserRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &restored))
	assert.Len(t, restored, 2)
}

func TestRollbackWithoutBackup(t *testing.T) {
	f := newFixture(t)
	migrator := NewMigrator(f.store, f.manager, f.auditor)
	require.NoError(t, migrator.Rollback())
}
