package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterimage/internal/audit"
	"afterimage/internal/gate"
	jwttoken "afterimage/internal/jwt_token"
	"afterimage/internal/ledger"
	"afterimage/internal/platform/config"
	"afterimage/internal/platform/logger"
	"afterimage/internal/scope"
	"afterimage/internal/storage"
)

// seedBadger commits n RING decisions into a fresh badger directory and
// returns the directory with the store closed again.
func seedBadger(t *testing.T, n int) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cfg := config.FromEnv()
	cfg.Ledger.Store = config.StoreBadger
	cfg.Badger.Path = dir
	log := logger.NewWithWriter(&bytes.Buffer{}, "error")

	catalog, err := gate.DefaultCatalog()
	require.NoError(t, err)
	backend, err := storage.Open(ctx, cfg, log)
	require.NoError(t, err)
	l, err := ledger.Open(ctx, backend.Store, gate.NewEngine(catalog), ledger.WithLogger(log))
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, err := l.Append(ctx, ledger.AppendRequest{
			Scope:       scope.ActorScope{Actor: "alice", Tier: scope.TierK6},
			PolicyClass: scope.PolicyRoutine,
			Constants:   gate.Constants{M: 5, Psi: 2, R: 1, F0: 1},
			Environment: gate.Environment{TimeDensity: 0.3, SpatialDensity: 0.2, ContextRisk: 0.1},
			Versions:    gate.Versions{Weights: "phys-w1.0", Thresholds: "phys-t1.0"},
		})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())
	require.NoError(t, backend.Close())
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLedgerCommands(t *testing.T) {
	dir := seedBadger(t, 3)
	store := []string{"--store", config.StoreBadger, "--badger-path", dir}

	t.Run("head reports the last sequence number", func(t *testing.T) {
		out, err := execute(t, append(store, "head")...)
		require.NoError(t, err)
		var head headOutput
		require.NoError(t, json.Unmarshal([]byte(out), &head))
		assert.Equal(t, uint64(3), head.SequenceNo)
		assert.Len(t, head.Hash, 64)
	})

	t.Run("verify reports a valid chain", func(t *testing.T) {
		out, err := execute(t, append(store, "verify")...)
		require.NoError(t, err)
		var res ledger.VerifyResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, ledger.StatusValid, res.Status)
		assert.Equal(t, uint64(3), res.Checked)
	})

	t.Run("replay reproduces every record", func(t *testing.T) {
		out, err := execute(t, append(store, "replay", "--from", "2")...)
		require.NoError(t, err)
		var report audit.ReplayReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 2, report.Checked)
		assert.Empty(t, report.Mismatches)
	})

	t.Run("export writes one line per record after the cursor", func(t *testing.T) {
		out, err := execute(t, append(store, "export", "--after", "1", "--batch", "1")...)
		require.NoError(t, err)

		var seqs []uint64
		sc := bufio.NewScanner(strings.NewReader(out))
		for sc.Scan() {
			var snap ledger.Snapshot
			require.NoError(t, json.Unmarshal(sc.Bytes(), &snap))
			assert.Equal(t, "RING", snap.GateResult)
			seqs = append(seqs, snap.SequenceNo)
		}
		assert.Equal(t, []uint64{2, 3}, seqs)
	})
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "test-signing-key")
	t.Setenv("JWT_ISSUER", "")

	t.Run("mints a token the server accepts", func(t *testing.T) {
		out, err := execute(t, "token", "--actor", "alice", "--tier", "k6")
		require.NoError(t, err)

		claims, err := jwttoken.NewJWTService("test-signing-key", "").ValidateToken(strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		assert.Equal(t, "K6", claims.Tier)
	})

	t.Run("actor is required", func(t *testing.T) {
		_, err := execute(t, "token")
		assert.ErrorContains(t, err, "--actor is required")
	})

	t.Run("unknown tier is rejected", func(t *testing.T) {
		_, err := execute(t, "token", "--actor", "alice", "--tier", "K99")
		assert.Error(t, err)
	})
}
