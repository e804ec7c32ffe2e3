package isolation

import (
	"encoding/json"
	"errors"
	"fmt"

	"portal-auth/internal/audit"
	"portal-auth/internal/store"
	"portal-auth/internal/util"
)

const (
	legacyUsersKey  = "registeredUsers"
	legacyBackupKey = "registeredUsers_backup"
)

// Migrator converts the legacy flat user list into the per-user keyed
// store. The forward migration is one-shot and idempotent: once the legacy
// key is gone, re-running is a no-op.
type Migrator struct {
	store   store.Store
	manager *Manager
	auditor *audit.Recorder
}

func NewMigrator(st store.Store, manager *Manager, auditor *audit.Recorder) *Migrator {
	return &Migrator{store: st, manager: manager, auditor: auditor}
}

// Migrate moves every legacy record into the keyed store, keeps a backup
// copy under a distinct key, then removes the legacy key.
func (m *Migrator) Migrate() error {
	raw, err := m.store.Get(legacyUsersKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy user list: %w", err)
	}

	util.Info("starting legacy user migration")

	var users []*UserRecord
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return fmt.Errorf("corrupt legacy user list: %w", err)
	}

	for _, user := range users {
		if err := m.manager.StoreUserData(user); err != nil {
			return fmt.Errorf("failed to migrate user %s: %w", user.Phone, err)
		}
	}

	if err := m.store.Set(legacyBackupKey, raw); err != nil {
		return fmt.Errorf("failed to back up legacy user list: %w", err)
	}
	if err := m.store.Delete(legacyUsersKey); err != nil {
		return fmt.Errorf("failed to remove legacy user list: %w", err)
	}

	m.auditor.Record(audit.EventMigration, "", fmt.Sprintf("migrated %d legacy users", len(users)))
	util.Info("legacy user migration completed", util.Int("users", len(users)))
	return nil
}

// Rollback restores the backup under the legacy key. It does not re-run
// the forward migration.
func (m *Migrator) Rollback() error {
	raw, err := m.store.Get(legacyBackupKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy backup: %w", err)
	}

	if err := m.store.Set(legacyUsersKey, raw); err != nil {
		return fmt.Errorf("failed to restore legacy user list: %w", err)
	}

	util.Info("legacy user migration rolled back")
	return nil
}
