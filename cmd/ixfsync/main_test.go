package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixf-sync/pkg/auth"
	"ixf-sync/pkg/ixf"
	"ixf-sync/pkg/seed"
)

const testExport = `{"version":"1.0","member_list":[
 {"asnum":1001,"member_type":"peering","connection_list":[{"ixp_id":1,"state":"active","if_list":[{"if_speed":10000}],
  "vlan_list":[{"ipv4":{"address":"195.69.147.250","routeserver":true},"ipv6":{"address":"2001:7f8:1::a500:1001:1","routeserver":true}}]}]}
]}`

type cliEnv struct {
	t      *testing.T
	dir    string
	config string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(testExport))
	}))
	t.Cleanup(feedSrv.Close)

	dir := t.TempDir()
	t.Chdir(dir)
	cfg := fmt.Sprintf(`
log:
  level: error
store: sql
database:
  driver: sqlite
  path: %s
server:
  jwt_secret: 0123456789abcdef
`, filepath.Join(dir, "ixf.db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ixfsync.yaml"), []byte(cfg), 0o600))

	fixture := fmt.Sprintf(`
networks:
  - asn: 1001
    name: Net 1001
    allow_ixp_update: true
    ipv4_support: true
    ipv6_support: true
exchanges:
  - name: Test IX
    tech_email: ops@ix.example
    lans:
      - name: peering lan
        prefixes: ["195.69.144.0/22", "2001:7f8:1::/64"]
        ixf_url: %s/members.json
        ixf_import_enabled: true
`, feedSrv.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(fixture), 0o600))
	return &cliEnv{t: t, dir: dir, config: filepath.Join(dir, "ixfsync.yaml")}
}

func (e *cliEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestImportCommitAndRollback(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated sqlite database")

	out, err = env.run("", "seed", "seed.yaml")
	require.NoError(t, err)
	assert.Equal(t, "1 networks, 1 exchanges, 1 lans, 0 records\n", out)

	out, err = env.run("", "import", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "exchange lan 1 (preview)")
	assert.Contains(t, out, "AS1001")

	out, err = env.run("", "import", "1", "--commit", "--format", "json")
	require.NoError(t, err)
	var results []*ixf.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Saved)
	assert.Equal(t, []string{"add"}, results[0].Log.Actions())
	require.NotZero(t, results[0].ImportLogID)

	out, err = env.run("", "rollback", fmt.Sprint(results[0].ImportLogID), "--actor", "ops")
	require.NoError(t, err)
	assert.Contains(t, out, "add: reverted")

	out, err = env.run("", "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "ops")
	assert.Contains(t, out, "rollback")
}

func TestImportAll(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("", "seed", "seed.yaml")
	require.NoError(t, err)

	out, err := env.run("", "import", "--all", "--commit", "--reset-hints")
	require.NoError(t, err)
	assert.Contains(t, out, "exchange lan 1 (saved)")
	assert.Contains(t, out, "import log")
}

func TestImportArguments(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("", "import")
	assert.ErrorContains(t, err, "pass exchange lan ids or --all")

	_, err = env.run("", "import", "1", "--all")
	assert.Error(t, err)

	_, err = env.run("", "import", "1", "--reset-hints")
	assert.ErrorContains(t, err, "resets require --commit")

	_, err = env.run("", "import", "x")
	assert.ErrorContains(t, err, "invalid exchange lan id")

	_, err = env.run("", "import", "7")
	assert.Error(t, err)

	_, err = env.run("", "--format", "xml", "version")
	assert.ErrorContains(t, err, "invalid format")
}

func TestSeedFlagOnMemoryStore(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.config, []byte("log:\n  level: error\n"), 0o600))

	out, err := env.run("", "--seed", "seed.yaml", "import", "1", "--commit")
	require.NoError(t, err)
	assert.Contains(t, out, "exchange lan 1 (saved)")

	_, err = env.run("", "migrate")
	assert.ErrorContains(t, err, "store: sql")
}

func TestResendEmailsNeedsSetting(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("", "resend-emails")
	assert.ErrorContains(t, err, "resend_failed_emails")
}

func TestTokenAndPassword(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", "token", "admin", "--ttl", "1m")
	require.NoError(t, err)
	claims, err := auth.NewSigner("0123456789abcdef", time.Minute).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	out, err = env.run("s3cret\n", "hash-password")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(strings.TrimSpace(out), "s3cret"))

	_, err = env.run("", "hash-password")
	assert.Error(t, err)

	out, err = env.run("", "version", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"dev"}`, out)
}

func TestSeedCommandJSON(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run("", "seed", "seed.yaml", "--format", "json")
	require.NoError(t, err)
	var sum seed.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.LANs)
}
