package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire/cli/internal/client"
	"github.com/hookwire/hookwire/common/config"
	"github.com/hookwire/hookwire/common/intakestats"
	"github.com/hookwire/hookwire/common/signature"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	// flag values survive between executions of the shared root command
	require.NoError(t, rootCmd.PersistentFlags().Set("output", "table"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func configPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "config.yaml")
}

func hasSubcommand(parent *cobra.Command, name string) bool {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"sign", "send", "seed", "dlq", "stats", "config"} {
		assert.True(t, hasSubcommand(rootCmd, name), "expected command %q to be registered", name)
	}
	for _, name := range []string{"list", "stats", "replay", "purge"} {
		assert.True(t, hasSubcommand(dlqCmd, name), "expected dlq subcommand %q", name)
	}
	for _, name := range []string{"show", "set-profile", "use", "list"} {
		assert.True(t, hasSubcommand(configCmd, name), "expected config subcommand %q", name)
	}
}

func TestSign_FromStdin(t *testing.T) {
	body := `{"user":{"id":1,"username":"test"}}`

	out, err := run(t, body, "--config", configPath(t), "sign", "--secret", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, signature.Sign([]byte(body), "s3cret")+"\n", out)
}

func TestSend_PostsSignedWebhook(t *testing.T) {
	var gotSig, gotEvent string
	var gotBody []byte
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(client.HeaderSignature)
		gotEvent = r.Header.Get(client.HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"status":"queued","message_id":"m-1"}`))
	}))
	defer gateway.Close()

	out, err := run(t, "", "--config", configPath(t), "send",
		"--event", "ping",
		"--data", `{"ping":"OK"}`,
		"--gateway-url", gateway.URL,
		"--secret", "s3cret",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "m-1")
	assert.Equal(t, "ping", gotEvent)
	assert.NoError(t, signature.Validate(gotBody, gotSig, "s3cret"))
}

func TestConfig_SetProfile(t *testing.T) {
	path := configPath(t)

	_, err := run(t, "", "--config", path, "config", "set-profile", "staging",
		"--gateway-url", "https://hooks.staging.example.com",
		"--queue", "staging_events",
		"--use",
	)
	require.NoError(t, err)

	saved, err := config.LoadCLIFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", saved.CurrentProfile)

	p := saved.Resolve("")
	assert.Equal(t, "https://hooks.staging.example.com", p.GatewayURL)
	assert.Equal(t, "staging_events", p.Queue)
	assert.Equal(t, "nats://localhost:4222", p.BrokerURL)
}

func TestConfig_UseUnknownProfile(t *testing.T) {
	_, err := run(t, "", "--config", configPath(t), "config", "use", "missing")
	assert.Error(t, err)
}

func TestDLQPurge_RequiresForce(t *testing.T) {
	_, err := run(t, "", "--config", configPath(t), "dlq", "purge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestStats_ReadsRecordedSources(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := intakestats.NewBatch("https://forum.example.com")
	b.Add("user_created", "10.0.0.1")
	require.NoError(t, intakestats.NewClientFromRedis(rdb, "gw").FlushBatch(context.Background(), b))

	out, err := run(t, "", "--config", configPath(t), "stats", "--redis-url", "redis://"+mr.Addr(), "-o", "json")
	require.NoError(t, err)

	var stats []intakestats.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "https://forum.example.com", stats[0].Source)
	assert.Equal(t, int64(1), stats[0].TotalEvents)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
