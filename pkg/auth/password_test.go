package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	digest, err := h.Hash("Sup3r$ecret")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3r$ecret", digest)

	ok, err := h.Verify("Sup3r$ecret", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("Sup3r$ecret2", digest)
	require.NoError(t, err, "a wrong password is a clean false, not an error")
	assert.False(t, ok)
}

func TestPasswordHasher_SaltedDigests(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	first, err := h.Hash("Sup3r$ecret")
	require.NoError(t, err)
	second, err := h.Hash("Sup3r$ecret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "each digest carries its own salt")
}

func TestPasswordHasher_MalformedDigest(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	ok, err := h.Verify("whatever", "not-a-bcrypt-digest")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_CostClamped(t *testing.T) {
	// Out-of-range costs fall back to a usable value instead of
	// failing at hash time.
	for _, cost := range []int{-1, 0, 1, 99} {
		h := NewPasswordHasher(cost)
		digest, err := h.Hash("Sup3r$ecret")
		require.NoError(t, err, "cost %d", cost)
		ok, err := h.Verify("Sup3r$ecret", digest)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErrs []string
	}{
		{
			name:     "valid",
			password: "Abcdef1!",
		},
		{
			name:     "too short",
			password: "Ab1!",
			wantErrs: []string{"at least 8 characters"},
		},
		{
			name:     "too long",
			password: "Ab1!" + strings.Repeat("x", 140),
			wantErrs: []string{"at most 128 characters"},
		},
		{
			name:     "missing uppercase",
			password: "abcdef1!",
			wantErrs: []string{"uppercase letter"},
		},
		{
			name:     "missing lowercase",
			password: "ABCDEF1!",
			wantErrs: []string{"lowercase letter"},
		},
		{
			name:     "missing digit",
			password: "Abcdefg!",
			wantErrs: []string{"digit"},
		},
		{
			name:     "missing special",
			password: "Abcdefg1",
			wantErrs: []string{"special character"},
		},
		{
			name:     "everything wrong at once",
			password: "abc",
			wantErrs: []string{
				"at least 8 characters",
				"uppercase letter",
				"digit",
				"special character",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if len(tt.wantErrs) == 0 {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, want := range tt.wantErrs {
				assert.Contains(t, err.Error(), want)
			}
			assert.Len(t, verr.Violations, len(tt.wantErrs), "all violations reported together")
		})
	}
}
