package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
appliance:
  host: 10.20.30.40
  username: nacadmin
  key_file: ~/.ssh/nac
transfer:
  share_path: /mnt/nfsshare
storage:
  minio:
    host: 127.0.0.1
    bucket: nac-exports
`

func TestLoadAppliesDefaultsAndStockScript(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.Appliance.Port)
	assert.Equal(t, 10*time.Second, cfg.Appliance.ConnectTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Script.PollInterval)
	assert.Equal(t, "NFS", cfg.Transfer.Repository)
	assert.Equal(t, "nac-reports/", cfg.Storage.Prefix)

	require.Len(t, cfg.Script.Steps, 6)
	assert.Equal(t, "initial-prompt", cfg.Script.Steps[0].Name)
	assert.Equal(t, "ise-ppan-cx/admin#", cfg.Script.Steps[0].Expect)
	assert.Empty(t, cfg.Script.Steps[0].Send)
	assert.Equal(t, 30*time.Minute, cfg.Script.Steps[3].Timeout)
	assert.Contains(t, cfg.Script.Steps[5].Send, "{file}")
}

func TestLoadCustomScriptOverridesStock(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
script:
  poll_interval: 50ms
  steps:
    - name: prompt
      expect: "appliance> "
      timeout: 15s
    - name: export
      send: export all
      expect: done
      timeout: 5m
`))
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, cfg.Script.PollInterval)
	require.Len(t, cfg.Script.Steps, 2)
	assert.Equal(t, "export all", cfg.Script.Steps[1].Send)
	assert.Equal(t, 5*time.Minute, cfg.Script.Steps[1].Timeout)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	cases := map[string]string{
		"missing host": `
appliance:
  username: nacadmin
  key_file: ~/.ssh/nac
transfer:
  share_path: /mnt/nfsshare
storage:
  minio:
    bucket: nac-exports
`,
		"missing credentials": `
appliance:
  host: 10.20.30.40
  username: nacadmin
transfer:
  share_path: /mnt/nfsshare
storage:
  minio:
    bucket: nac-exports
`,
		"missing share path": `
appliance:
  host: 10.20.30.40
  username: nacadmin
  key_file: ~/.ssh/nac
storage:
  minio:
    bucket: nac-exports
`,
		"missing bucket": `
appliance:
  host: 10.20.30.40
  username: nacadmin
  key_file: ~/.ssh/nac
transfer:
  share_path: /mnt/nfsshare
`,
		"step without expect": minimalConfig + `
script:
  steps:
    - name: broken
      send: do-it
      timeout: 10s
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadExpandsCredentialEnvVars(t *testing.T) {
	t.Setenv("NAC_TEST_SECRET_KEY", "s3cr3t")
	cfg, err := Load(writeConfig(t, `
appliance:
  host: 10.20.30.40
  username: nacadmin
  key_file: ~/.ssh/nac
transfer:
  share_path: /mnt/nfsshare
storage:
  minio:
    host: 127.0.0.1
    bucket: nac-exports
    secret_key: "${NAC_TEST_SECRET_KEY}"
    access_key: plain-key
`))
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.Storage.Minio.SecretKey)
	assert.Equal(t, "plain-key", cfg.Storage.Minio.AccessKey)
}

func TestReportFileName(t *testing.T) {
	tc := TransferConfig{FilePrefix: "FullReport_", DateLayout: "02-Jan-2006", Extension: ".csv"}
	ts := time.Date(2026, time.August, 17, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "FullReport_17-Aug-2026.csv", tc.ReportFileName(ts))
}
