package procexec

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCredentialNeitherUserNorGroupIsNil(t *testing.T) {
	cred, err := resolveCredential("", "")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestResolveCredentialUserOnlyWithNoPasswdEntryFallsBackToGidZero(t *testing.T) {
	// 999999 is not expected to resolve to a real passwd entry; lookupUser
	// must still succeed on the bare numeric uid and fall back to gid 0.
	cred, err := resolveCredential("999999", "")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, uint32(999999), cred.Uid)
	assert.Equal(t, uint32(0), cred.Gid)
}

// TestResolveCredentialNumericUserResolvesRealPrimaryGid is the regression
// test for the bug where a bare numeric `user:` spec always returned gid 0
// instead of that uid's actual primary group, silently granting the child
// root-group membership when `group:` was left unset (spec.md §4.5:
// "compute effective uid/gid from user/group").
func TestResolveCredentialNumericUserResolvesRealPrimaryGid(t *testing.T) {
	cred, err := resolveCredential(strconv.Itoa(os.Getuid()), "")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, uint32(os.Getuid()), cred.Uid)
	assert.Equal(t, uint32(os.Getgid()), cred.Gid)
}

// TestResolveCredentialGroupOnlyKeepsSupervisorsUid is the regression test
// for the bug where a group-only spec left cred.Uid at the Go zero value
// (0 = root) instead of the supervisor's own uid (spec.md §4.5: "compute
// effective uid/gid from user/group" — omitting user must not change uid).
func TestResolveCredentialGroupOnlyKeepsSupervisorsUid(t *testing.T) {
	cred, err := resolveCredential("", "1000")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, uint32(os.Getuid()), cred.Uid)
	assert.Equal(t, uint32(1000), cred.Gid)
}

func TestResolveCredentialBothUserAndGroupGroupOverridesGid(t *testing.T) {
	cred, err := resolveCredential("1000", "2000")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, uint32(1000), cred.Uid)
	assert.Equal(t, uint32(2000), cred.Gid)
}

func TestResolveCredentialUnknownUserIsError(t *testing.T) {
	_, err := resolveCredential("no-such-user-xyz", "")
	assert.Error(t, err)
}

func TestResolveCredentialUnknownGroupIsError(t *testing.T) {
	_, err := resolveCredential("", "no-such-group-xyz")
	assert.Error(t, err)
}
