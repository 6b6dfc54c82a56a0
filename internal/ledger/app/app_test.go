package app

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodex.com/internal/ledger/config"
	"custodex.com/internal/ledger/domain"
)

const admin = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"

func testCfg(t *testing.T) config.Cfg {
	t.Helper()
	return config.Cfg{
		Name:       "ledger-test",
		HTTP:       config.HTTP{Addr: freeAddr(t)},
		Settlement: config.Settlement{Kind: "simulated", Admin: admin},
		Auth:       config.Auth{Mode: "header"},
		Outbox:     config.Outbox{Dir: t.TempDir(), RelayInterval: 50 * time.Millisecond},
		Reconciler: config.Reconciler{Enabled: true, Interval: 50 * time.Millisecond},
	}
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestBuildRejectsUnknownKinds(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *config.Cfg)
	}{
		{"storage", func(c *config.Cfg) { c.Storage = "postgres" }},
		{"settlement", func(c *config.Cfg) { c.Settlement.Kind = "solana" }},
		{"auth", func(c *config.Cfg) { c.Auth.Mode = "basic" }},
		{"simulated 无 admin", func(c *config.Cfg) { c.Settlement.Admin = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testCfg(t)
			tt.mod(&cfg)
			_, err := Build(context.Background(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuildAndRun(t *testing.T) {
	cfg := testCfg(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := Build(ctx, cfg)
	require.NoError(t, err)
	defer a.Close(context.Background())

	sub, err := a.Service.DepositNative(ctx, admin, "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa", "1.5")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, sub.Status)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://" + cfg.HTTP.Addr + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	view, err := a.Service.GetBalance(ctx, admin, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", domain.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, "1.5", view.Amount.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
