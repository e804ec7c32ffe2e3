package isolation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-auth/internal/audit"
	"portal-auth/internal/bucketing"
	"portal-auth/internal/config"
	"portal-auth/internal/hashing"
	"portal-auth/internal/session"
	"portal-auth/internal/store"
)

type fixture struct {
	store    store.Store
	sessions *session.Manager
	hasher   hashing.Hasher
	auditor  *audit.Recorder
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	sessions := session.NewManager(&config.SessionConfig{
		UserDuration:  30 * time.Minute,
		AdminDuration: time.Hour,
	}, st)
	hasher := hashing.NewSHA256Hasher()
	auditor := audit.NewRecorder(bucketing.NewManager(4, 4), 100)

	return &fixture{
		store:    st,
		sessions: sessions,
		hasher:   hasher,
		auditor:  auditor,
		manager:  NewManager(st, sessions, hasher, NewPassthroughEnvelope(), auditor),
	}
}

func (f *fixture) register(t *testing.T, phone, pin string) *UserRecord {
	t.Helper()
	digest, err := f.hasher.Digest(pin)
	require.NoError(t, err)
	record := &UserRecord{
		Phone:      phone,
		Name:       "Иван Иванов",
		Settlement: "Черноречье",
		PinDigest:  digest,
	}
	require.NoError(t, f.manager.StoreUserData(record))
	return record
}

func TestRegisterAndVerifyCredentials(t *testing.T) {
	f := newFixture(t)
	f.register(t, "+70000000001", "1234")

	record, err := f.manager.VerifyCredentials("+70000000001", "1234")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Иван Иванов", record.Name)

	wrong, err := f.manager.VerifyCredentials("+70000000001", "9999")
	require.NoError(t, err)
	assert.Nil(t, wrong)

	missing, err := f.manager.VerifyCredentials("+70000000002", "1234")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStorageKeysNeverContainPhone(t *testing.T) {
	f := newFixture(t)
	f.register(t, "+70000000001", "1234")

	keys, err := f.store.Keys()
	require.NoError(t, err)

	var userKeys []string
	for _, key := range keys {
		assert.NotContains(t, key, "70000000001")
		if strings.HasPrefix(key, "user_") && key != "user_index" {
			userKeys = append(userKeys, key)
		}
	}
	require.Len(t, userKeys, 1)
	assert.Len(t, userKeys[0], len("user_")+16)
}

func TestGetUserDataRequiresOwningSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "+70000000001", "1234")
	f.register(t, "+70000000002", "5678")

	// Session for A, read of B denied.
	_, err := f.sessions.CreateSession("+70000000001")
	require.NoError(t, err)

	denied, err := f.manager.GetUserData("+70000000002")
	require.NoError(t, err)
	assert.Nil(t, denied)

	events := f.auditor.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.EventUnauthorizedAccess, events[len(events)-1].Type)
	assert.Equal(t, "+70000000002", events[len(events)-1].Identifier)

	// Same call succeeds once B owns the session.
	_, err = f.sessions.CreateSession("+70000000002")
	require.NoError(t, err)

	record, err := f.manager.GetUserData("+70000000002")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "+70000000002", record.Phone)
}

func TestGetUserDataWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "+70000000001", "1234")

	record, err := f.manager.GetUserData("+70000000001")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestUpdateAndDeleteHonorIsolation(t *testing.T) {
	f := newFixture(t)
	record := f.register(t, "+70000000001", "1234")

	record.Name = "Петр Петров"
	ok, err := f.manager.UpdateUserData(record)
	require.NoError(t, err)
	assert.False(t, ok, "update without a session must be denied")

	_, err = f.sessions.CreateSession("+70000000001")
	require.NoError(t, err)

	ok, err = f.manager.UpdateUserData(record)
	require.NoError(t, err)
	assert.True(t, ok)

	updated, err := f.manager.GetUserData("+70000000001")
	require.NoError(t, err)
	assert.Equal(t, "Петр Петров", updated.Name)

	ok, err = f.manager.DeleteUserData("+70000000001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.manager.UserExists("+70000000001"))
	assert.NotContains(t, f.manager.GetAllRegisteredPhones(), "+70000000001")
}

func TestGetPublicUserData(t *testing.T) {
	f := newFixture(t)
	f.register(t, "+70000000001", "1234")

	public := f.manager.GetPublicUserData("+70000000001")
	require.NotNil(t, public)
	assert.Equal(t, "Черноречье", public.Settlement)
	assert.Equal(t, "+70000000001", public.Phone)

	assert.Nil(t, f.manager.GetPublicUserData("+79999999999"))
}

func TestGetPublicUserDataSettlementFallback(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.StoreUserData(&UserRecord{Phone: "+70000000003"}))

	public := f.manager.GetPublicUserData("+70000000003")
	require.NotNil(t, public)
	assert.Equal(t, "Unknown", public.Settlement)
}

func TestGetAllUsersForAdminGated(t *testing.T) {
	f := newFixture(t)
	f.register(t, "+70000000001", "1234")
	f.register(t, "+70000000002", "5678")

	users, err := f.manager.GetAllUsersForAdmin()
	require.NoError(t, err)
	assert.Nil(t, users)

	events := f.auditor.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.EventUnauthorizedAdmin, events[len(events)-1].Type)

	_, err = f.sessions.CreateAdminSession()
	require.NoError(t, err)

	users, err = f.manager.GetAllUsersForAdmin()
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestHasAnyUsersAndIndex(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.manager.HasAnyUsers())

	f.register(t, "+70000000001", "1234")
	f.register(t, "+70000000002", "5678")

	assert.True(t, f.manager.HasAnyUsers())
	assert.ElementsMatch(t,
		[]string{"+70000000001", "+70000000002"},
		f.manager.GetAllRegisteredPhones())

	// Re-storing the same user does not duplicate the index entry.
	f.register(t, "+70000000001", "1234")
	assert.Len(t, f.manager.GetAllRegisteredPhones(), 2)
}

func TestRememberedCredentialsRoundTrip(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.manager.RememberedCredentials())

	require.NoError(t, f.manager.RememberCredentials("+70000000001", "digest"))
	creds := f.manager.RememberedCredentials()
	require.NotNil(t, creds)
	assert.Equal(t, "+70000000001", creds.Phone)
	assert.Equal(t, "digest", creds.PinDigest)

	require.NoError(t, f.manager.ClearRememberedCredentials())
	assert.Nil(t, f.manager.RememberedCredentials())
}

func TestConvenienceReadsShareKeysWithStrictWrites(t *testing.T) {
	f := newFixture(t)
	f.register(t, "+70000000001", "1234")

	record, err := f.manager.GetUserByPhone("+70000000001")
	require.NoError(t, err)
	require.NotNil(t, record)

	record.Email = "ivan@example.com"
	require.NoError(t, f.manager.UpdateUser(record))

	_, err = f.sessions.CreateSession("+70000000001")
	require.NoError(t, err)

	strict, err := f.manager.GetUserData("+70000000001")
	require.NoError(t, err)
	assert.Equal(t, "ivan@example.com", strict.Email)
}
