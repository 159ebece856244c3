package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCreds(t *testing.T, name, content string) *Resolver {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &Resolver{Path: path}
}

func TestResolveDefaultPass(t *testing.T) {
	r := writeCreds(t, "credentials", `# dns api credentials
export Ali_Key=D
export Ali_Secret=S
export Ali_Key_account1=A1

not an export line
`)

	set, err := r.Resolve("dns_ali", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Ali_Key": "D", "Ali_Secret": "S"}, set.Vars)
}

func TestResolveAccountOverride(t *testing.T) {
	r := writeCreds(t, "credentials", `export Ali_Key=D
export Ali_Secret=S
export Ali_Key_account1=A1
`)

	set, err := r.Resolve("dns_ali", "account1")
	require.NoError(t, err)
	// The account pass runs second, so it wins for the same base name
	// while unsuffixed defaults fill the gaps.
	assert.Equal(t, "A1", set.Vars["Ali_Key"])
	assert.Equal(t, "S", set.Vars["Ali_Secret"])
}

func TestResolveBareSuffixForm(t *testing.T) {
	r := writeCreds(t, "credentials", "export CF_Token_backup=B\n")

	set, err := r.Resolve("dns_cf", "backup")
	require.NoError(t, err)
	assert.Equal(t, "B", set.Vars["CF_Token"])
}

func TestResolveRejectsShellMetaValues(t *testing.T) {
	var warned bool
	r := writeCreds(t, "credentials", `export Ali_Key=D
export Ali_Key_account1=$(rm -rf /)
`)
	r.Warn = func(string, ...interface{}) { warned = true }

	set, err := r.Resolve("dns_ali", "account1")
	require.NoError(t, err)
	assert.True(t, warned)
	// The poisoned override is skipped, the default survives.
	assert.Equal(t, "D", set.Vars["Ali_Key"])
}

func TestResolveRejectsShellMetaDefaults(t *testing.T) {
	var warned bool
	r := writeCreds(t, "credentials", `export Ali_Key=$(whoami)
export Ali_Secret=S
`)
	r.Warn = func(string, ...interface{}) { warned = true }

	// The default pass feeds the env overlay too, so it gets the same
	// metacharacter screening as account overrides.
	set, err := r.Resolve("dns_ali", "")
	require.NoError(t, err)
	assert.True(t, warned)
	assert.NotContains(t, set.Vars, "Ali_Key")
	assert.Equal(t, "S", set.Vars["Ali_Secret"])
}

func TestResolveYAMLRejectsShellMetaDefaults(t *testing.T) {
	var warned bool
	r := writeCreds(t, "credentials.yaml", `providers:
  dns_ali:
    default:
      Ali_Key: $(whoami)
      Ali_Secret: S
`)
	r.Warn = func(string, ...interface{}) { warned = true }

	set, err := r.Resolve("dns_ali", "")
	require.NoError(t, err)
	assert.True(t, warned)
	assert.NotContains(t, set.Vars, "Ali_Key")
	assert.Equal(t, "S", set.Vars["Ali_Secret"])
}

func TestResolveEmptyIsHardFailure(t *testing.T) {
	r := writeCreds(t, "credentials", "# nothing declared\n")
	_, err := r.Resolve("dns_ali", "")
	require.Error(t, err)
	assert.IsType(t, &Error{}, err)
}

func TestResolveMissingFile(t *testing.T) {
	r := &Resolver{Path: filepath.Join(t.TempDir(), "nope")}
	_, err := r.Resolve("dns_ali", "")
	require.Error(t, err)
}

func TestIsAccountSuffixed(t *testing.T) {
	tests := []struct {
		name     string
		suffixed bool
	}{
		{"Ali_Key", false},
		{"Ali_Secret", false},
		{"CF_Token", false},
		{"CF_Account_ID", false},
		{"TOKEN", false},
		{"Ali_Key_account1", true},
		{"Ali_Key_backup", true},
		{"DP_Id_second", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.suffixed, isAccountSuffixed(tt.name), tt.name)
	}
}

func TestEnvironSortedAndFormatted(t *testing.T) {
	set := &Set{Vars: map[string]string{"B_Key": "2", "A_Key": "1"}}
	assert.Equal(t, []string{"A_Key=1", "B_Key=2"}, set.Environ())
}

func TestResolveYAML(t *testing.T) {
	r := writeCreds(t, "credentials.yaml", `providers:
  dns_ali:
    default:
      Ali_Key: D
      Ali_Secret: S
    accounts:
      account1:
        Ali_Key: A1
`)

	set, err := r.Resolve("dns_ali", "account1")
	require.NoError(t, err)
	assert.Equal(t, "A1", set.Vars["Ali_Key"])
	assert.Equal(t, "S", set.Vars["Ali_Secret"])

	set, err = r.Resolve("dns_ali", "")
	require.NoError(t, err)
	assert.Equal(t, "D", set.Vars["Ali_Key"])

	_, err = r.Resolve("dns_cf", "")
	require.Error(t, err)
}
