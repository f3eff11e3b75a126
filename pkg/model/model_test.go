package model

import (
	"errors"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	policy := DefaultUsernamePolicy()

	type tcase struct {
		name      string
		expectErr error
	}

	tcases := map[string]tcase{
		"plain":              {name: "johndoe", expectErr: nil},
		"with_punctuation":   {name: "john:doe!", expectErr: nil},
		"interior_space":     {name: "john doe", expectErr: nil},
		"minimum_length":     {name: "abc", expectErr: nil},
		"too_short":          {name: "ab", expectErr: ErrUsernameTooShort},
		"empty":              {name: "", expectErr: ErrUsernameTooShort},
		"too_long":           {name: "abcdefghijklmnopqrstu", expectErr: ErrUsernameTooLong},
		"leading_space":      {name: " john", expectErr: ErrUsernameBadSpacing},
		"trailing_space":     {name: "john ", expectErr: ErrUsernameBadSpacing},
		"double_space":       {name: "jo  hn", expectErr: ErrUsernameBadSpacing},
		"angle_bracket":      {name: "jo>hn", expectErr: ErrUsernameInvalidChars},
		"quote":              {name: `jo"hn`, expectErr: ErrUsernameInvalidChars},
		"control_char":       {name: "jo\x00hn", expectErr: ErrUsernameInvalidChars},
		"non_ascii":          {name: "jöhndoe", expectErr: ErrUsernameInvalidChars},
		"injection_attempt":  {name: "' OR '1'='1", expectErr: ErrUsernameInvalidChars},
		"allowed_dollar_pct": {name: "u$er%20", expectErr: nil},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			err := policy.Validate(tc.name)
			if tc.expectErr == nil {
				if err != nil {
					t.Fatalf("Validate(%q): unexpected error: %v", tc.name, err)
				}
				return
			}
			if !errors.Is(err, tc.expectErr) {
				t.Fatalf("Validate(%q): want %v, got %v", tc.name, tc.expectErr, err)
			}
		})
	}
}

func TestOfflineSnapshot(t *testing.T) {
	t.Parallel()

	u := User{
		ID:         "u1",
		Username:   "johndoe",
		Stats:      Stats{Active: true, InCall: true},
		Status:     "hacking",
		Banner:     "banner.png",
		LastActive: time.Now(),
	}

	snap := u.OfflineSnapshot()
	if !snap.Stats.Offline || snap.Stats.Active || snap.Stats.InCall || snap.Stats.Inactive {
		t.Fatalf("OfflineSnapshot: want only offline flag, got %+v", snap.Stats)
	}
	if snap.Status != "offline" || snap.Banner != "" {
		t.Fatalf("OfflineSnapshot: status/banner not cleared: %q %q", snap.Status, snap.Banner)
	}
	if snap.ID != u.ID || snap.Username != u.Username {
		t.Fatalf("OfflineSnapshot: identity changed")
	}

	// Original is untouched.
	if !u.Stats.Active {
		t.Fatalf("OfflineSnapshot mutated receiver")
	}
}
