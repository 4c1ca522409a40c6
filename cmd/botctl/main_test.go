package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/addavriance/spotify-to-tg/crypto"
	"github.com/addavriance/spotify-to-tg/store"
)

func newSealer(t *testing.T) *crypto.AESSealer {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	s, err := crypto.NewAESSealer(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return s
}

// seedPlaintext stores two plaintext credentials, one legacy blob and one
// already sealed credential.
func seedPlaintext(t *testing.T, kv store.KV, sealer crypto.Sealer) {
	t.Helper()
	ctx := context.Background()
	plain := store.NewCredentialStore(kv, nil)
	for _, u := range []string{"tg_1", "tg_2"} {
		if err := plain.Put(ctx, u, store.Credential{AccessToken: "access-" + u, RefreshToken: "refresh-" + u}); err != nil {
			t.Fatal(err)
		}
	}
	if err := kv.Put(ctx, "credential:tg_3", []byte(`{"access_token":"access-tg_3","refresh_token":"refresh-tg_3","expires_at":0}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.NewCredentialStore(kv, sealer).Put(ctx, "tg_4", store.Credential{AccessToken: "access-tg_4"}); err != nil {
		t.Fatal(err)
	}
}

func TestSealTokens_DryRun(t *testing.T) {
	kv := store.NewMemoryKV()
	sealer := newSealer(t)
	seedPlaintext(t, kv, sealer)

	res, err := sealTokens(context.Background(), kv, sealer, true)
	if err != nil {
		t.Fatalf("sealTokens: %v", err)
	}
	if res.Total != 4 || res.Sealed != 3 || res.Already != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	raw, _ := kv.Get(context.Background(), "credential:tg_1")
	if !strings.Contains(string(raw), "access-tg_1") {
		t.Error("dry run must not rewrite credentials")
	}
}

func TestSealTokens_RealRun(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	sealer := newSealer(t)
	seedPlaintext(t, kv, sealer)

	res, err := sealTokens(ctx, kv, sealer, false)
	if err != nil {
		t.Fatalf("sealTokens: %v", err)
	}
	if res.Sealed != 3 || res.Errors != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	creds := store.NewCredentialStore(kv, sealer)
	for _, u := range []string{"tg_1", "tg_2", "tg_3", "tg_4"} {
		raw, _ := kv.Get(ctx, "credential:"+u)
		if strings.Contains(string(raw), "access-"+u) {
			t.Errorf("%s still stored in plaintext", u)
		}
		c, err := creds.Get(ctx, u)
		if err != nil {
			t.Fatalf("get %s: %v", u, err)
		}
		if c.AccessToken != "access-"+u {
			t.Errorf("%s access token = %q", u, c.AccessToken)
		}
	}

	// second run finds nothing to do
	res, err = sealTokens(ctx, kv, sealer, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Sealed != 0 || res.Already != 4 {
		t.Errorf("second run should be a no-op, got %+v", res)
	}
}

func TestSealTokens_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	if err := kv.Put(ctx, "credential:broken", []byte(`{"schema_version":9,"data":{}}`)); err != nil {
		t.Fatal(err)
	}
	res, err := sealTokens(ctx, kv, newSealer(t), false)
	if err == nil {
		t.Fatal("expected an error for an unreadable record")
	}
	if res.Errors != 1 {
		t.Errorf("errors = %d, want 1", res.Errors)
	}
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	creds := store.NewCredentialStore(kv, nil)
	channels := store.NewChannelStore(kv)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	if err := creds.Put(ctx, "tg_2", store.Credential{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := creds.Put(ctx, "tg_1", store.Credential{AccessToken: "a", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	b := store.NewBinding("my_music", now)
	msg, track := 42, "track-B"
	b.MessageID, b.LastTrackID = &msg, &track
	if err := channels.Save(ctx, "tg_2", b); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := listUsers(ctx, &out, creds, channels, now); err != nil {
		t.Fatalf("listUsers: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", out.String())
	}
	if f := strings.Fields(lines[1]); f[0] != "tg_1" || f[1] != "expired" || f[2] != "-" {
		t.Errorf("row 1 = %v", f)
	}
	if f := strings.Fields(lines[2]); f[0] != "tg_2" || f[1] != "ok" || f[2] != "@my_music" || f[3] != "42" || f[4] != "track-B" {
		t.Errorf("row 2 = %v", f)
	}
}

func TestRenderCommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"render", "30000", "180000"}, "0:30 ━━━●──────────────── -2:30"},
		{[]string{"render", "30s", "3m"}, "0:30 ━━━●──────────────── -2:30"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetArgs(tt.args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if got := strings.TrimSpace(out.String()); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestRenderCommandRejectsBadInput(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"render", "soon", "3m"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for an unparsable position")
	}
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	var errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"migrate"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "STORE_BACKEND=postgres") {
		t.Fatalf("expected a backend error, got %v", err)
	}
}
