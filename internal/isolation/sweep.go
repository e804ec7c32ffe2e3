package isolation

import (
	"encoding/json"
	"strings"
	"time"

	"portal-auth/internal/store"
	"portal-auth/internal/util"
)

// ExposureReport is the result of a storage audit sweep.
type ExposureReport struct {
	Exposed bool     `json:"exposed"`
	Issues  []string `json:"issues"`
}

// AuditDataExposure scans the store for data-hygiene problems: a leftover
// legacy user list, records missing the envelope marker, and an expired
// session that was never purged. Run at startup in development and on
// demand from the admin surface.
func AuditDataExposure(st store.Store) ExposureReport {
	var issues []string

	if _, err := st.Get(legacyUsersKey); err == nil {
		issues = append(issues, "CRITICAL: legacy registeredUsers list present (all users exposed)")
	}

	keys, err := st.Keys()
	if err != nil {
		issues = append(issues, "ERROR: failed to enumerate store keys")
	}

	for _, key := range keys {
		if !strings.HasPrefix(key, userKeyPrefix) || key == userIndexKey {
			continue
		}
		raw, err := st.Get(key)
		if err != nil {
			continue
		}

		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			issues = append(issues, "ERROR: invalid data format: "+key)
			continue
		}
		if encrypted, _ := fields["_encrypted"].(bool); !encrypted {
			issues = append(issues, "WARNING: unwrapped user data found: "+key)
		}
	}

	if raw, err := st.Get("current_session"); err == nil {
		var token struct {
			ExpiresAt int64 `json:"expiresAt"`
		}
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			issues = append(issues, "ERROR: invalid session format")
		} else if time.Now().UnixMilli() > token.ExpiresAt {
			issues = append(issues, "WARNING: expired session not cleaned up")
		}
	}

	report := ExposureReport{Exposed: len(issues) > 0, Issues: issues}
	if report.Exposed {
		for _, issue := range issues {
			util.Warn("storage audit issue", util.String("issue", issue))
		}
	} else {
		util.Info("storage audit clean")
	}
	return report
}
