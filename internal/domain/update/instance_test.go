package update

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestInstanceValidate checks the required identity fields.
func TestInstanceValidate(t *testing.T) {
	t.Parallel()

	valid := Instance{Name: "survival", RemoteID: "a1b2", Directory: "/srv/survival"}
	require.NoError(t, valid.Validate())

	require.Error(t, Instance{RemoteID: "a1b2", Directory: "/srv"}.Validate())
	require.Error(t, Instance{Name: "survival", Directory: "/srv"}.Validate())
	require.Error(t, Instance{Name: "survival", RemoteID: "a1b2"}.Validate())
}

// TestPolicyIsPreserved checks exact-file and subtree preservation.
func TestPolicyIsPreserved(t *testing.T) {
	t.Parallel()

	policy := FileProtectionPolicy{
		PreserveFiles:       []string{"server.properties", "allowlist.json"},
		PreserveDirectories: []string{"worlds", "config/packs"},
	}

	require.True(t, policy.IsPreserved("server.properties"))
	require.True(t, policy.IsPreserved("worlds"))
	require.True(t, policy.IsPreserved("worlds/overworld/level.dat"))
	require.True(t, policy.IsPreserved("config/packs/custom.json"))

	require.False(t, policy.IsPreserved("bedrock_server"))
	require.False(t, policy.IsPreserved("worlds.bak"))
	require.False(t, policy.IsPreserved("config/other.json"))
}

// TestPolicyValidate rejects overlap between the allow-list and the
// preserve sets, and unsafe relative paths.
func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	good := FileProtectionPolicy{
		UpdateFiles:         []string{"bedrock_server", "behavior_packs/vanilla/manifest.json"},
		PreserveFiles:       []string{"server.properties"},
		PreserveDirectories: []string{"worlds"},
	}
	require.NoError(t, good.Validate())

	// Update path listed as preserved file.
	overlapFile := FileProtectionPolicy{
		UpdateFiles:   []string{"server.properties"},
		PreserveFiles: []string{"server.properties"},
	}
	require.Error(t, overlapFile.Validate())

	// Update path inside a preserved subtree.
	overlapDir := FileProtectionPolicy{
		UpdateFiles:         []string{"worlds/overworld/level.dat"},
		PreserveDirectories: []string{"worlds"},
	}
	require.Error(t, overlapDir.Validate())

	// Escaping and absolute paths.
	require.Error(t, FileProtectionPolicy{UpdateFiles: []string{"../outside"}}.Validate())
	require.Error(t, FileProtectionPolicy{UpdateFiles: []string{"/etc/passwd"}}.Validate())
}
