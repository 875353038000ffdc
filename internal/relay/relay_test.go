package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sealroom/internal/domain"
	"sealroom/internal/metrics"
	"sealroom/internal/relay"
	"sealroom/internal/services/conversation"
	"sealroom/internal/services/group"
	"sealroom/internal/testutil"
)

func newRelay(t *testing.T) (*httptest.Server, *relay.Client) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv := relay.NewServer(relay.WithServerMetrics(metrics.New(reg), reg))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, relay.NewClient(ts.URL, relay.WithHTTPClient(ts.Client()))
}

func TestPostIsSequencedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	ts, c := newRelay(t)

	s1, err := c.Post(ctx, "room", 0, []byte("a"), "k1")
	if err != nil || s1 != 1 {
		t.Fatalf("first post = %d, %v", s1, err)
	}
	s2, err := c.Post(ctx, "room", 0, []byte("b"), "k2")
	if err != nil || s2 != 2 {
		t.Fatalf("second post = %d, %v", s2, err)
	}
	again, err := c.Post(ctx, "room", 0, []byte("a"), "k1")
	if !errors.Is(err, domain.ErrDuplicateDelivery) || again != 1 {
		t.Fatalf("replayed post = %d, %v", again, err)
	}
	if s, err := c.Post(ctx, "other", 0, []byte("c"), "k1"); err != nil || s != 1 {
		t.Fatalf("keys are per channel: %d, %v", s, err)
	}

	all, err := c.Fetch(ctx, "room", 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("Fetch(0) = %d, %v", len(all), err)
	}
	tail, err := c.Fetch(ctx, "room", 1)
	if err != nil || len(tail) != 1 || string(tail[0].Blob) != "b" || tail[0].Seq != 2 {
		t.Fatalf("Fetch(1) = %+v, %v", tail, err)
	}
	if none, err := c.Fetch(ctx, "empty", 0); err != nil || len(none) != 0 {
		t.Fatalf("empty channel = %d, %v", len(none), err)
	}

	resp, err := http.Post(ts.URL+"/v1/channels/room/messages", "application/json", strings.NewReader(`{"blob":"eA=="}`))
	if err != nil {
		t.Fatalf("raw post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("post without idempotency key: %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `sealroom_relay_posts_total{result="duplicate"} 1`) {
		t.Fatalf("metrics missing duplicate count:\n%s", body)
	}
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	_, c := newRelay(t)
	h := testutil.Handle(t)

	if err := c.PublishDevice(ctx, h.Fingerprint, h.Public); err != nil {
		t.Fatalf("PublishDevice: %v", err)
	}
	pub, err := c.LookupDevice(ctx, h.Fingerprint)
	if err != nil || pub != h.Public {
		t.Fatalf("LookupDevice = %v", err)
	}
	if _, err := c.LookupDevice(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown device: %v", err)
	}
	other := testutil.Handle(t)
	var se *relay.StatusError
	if err := c.PublishDevice(ctx, h.Fingerprint, other.Public); !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("mismatched key: %v", err)
	}

	kp, err := group.NewKeyPackage(h, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("NewKeyPackage: %v", err)
	}
	if err := c.PublishKeyPackage(ctx, kp); err != nil {
		t.Fatalf("PublishKeyPackage: %v", err)
	}
	got, err := c.ClaimKeyPackage(ctx, h.Fingerprint)
	if err != nil || got.DeviceFingerprint != h.Fingerprint {
		t.Fatalf("ClaimKeyPackage: %v", err)
	}
	if _, err := c.ClaimKeyPackage(ctx, h.Fingerprint); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second claim: %v", err)
	}

	kp.Signature[0] ^= 1
	if err := c.PublishKeyPackage(ctx, kp); !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("bad signature: %v", err)
	}
}

func TestHandshakeIndex(t *testing.T) {
	ctx := context.Background()
	_, c := newRelay(t)

	hs := domain.MLSMessage{GroupID: "g", Epoch: 1, Kind: domain.KindHandshake, Handshake: &domain.Handshake{Type: domain.HandshakeCommit, Commit: &domain.Commit{}}}
	app := domain.MLSMessage{GroupID: "g", Epoch: 1, Kind: domain.KindApplication, Application: &domain.ApplicationMessage{}}
	for i, m := range []domain.MLSMessage{hs, app} {
		blob, _ := json.Marshal(domain.Payload{Mode: domain.ModeGroup, Group: &m})
		if _, err := c.Post(ctx, "g", 1, blob, string(rune('a'+i))); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	if _, err := c.Post(ctx, "g", 0, []byte("opaque"), "z"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	got, err := c.Handshakes(ctx, "g")
	if err != nil || len(got) != 1 || got[0].Handshake.Type != domain.HandshakeCommit {
		t.Fatalf("Handshakes = %d, %v", len(got), err)
	}
}

func TestHandshakeOnForeignChannelRejected(t *testing.T) {
	ctx := context.Background()
	_, c := newRelay(t)

	hs := domain.MLSMessage{GroupID: "g1", Epoch: 1, Kind: domain.KindHandshake, Handshake: &domain.Handshake{Type: domain.HandshakeCommit, Commit: &domain.Commit{}}}
	blob, _ := json.Marshal(domain.Payload{Mode: domain.ModeGroup, Group: &hs})
	var se *relay.StatusError
	if _, err := c.Post(ctx, "other", 1, blob, "k"); !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("Post on foreign channel: %v", err)
	}
	if got, err := c.Handshakes(ctx, "g1"); err != nil || len(got) != 0 {
		t.Fatalf("Handshakes = %d, %v", len(got), err)
	}
	if msgs, err := c.Fetch(ctx, "other", 0); err != nil || len(msgs) != 0 {
		t.Fatalf("Fetch = %d, %v", len(msgs), err)
	}
}

func TestGroupOverRelay(t *testing.T) {
	ctx := context.Background()
	_, c := newRelay(t)

	type device struct {
		h   *domain.UnlockedKeyHandle
		svc *conversation.Service
		e   *group.Engine
	}
	mk := func() device {
		v := testutil.Vault(t)
		e := group.New(v, group.WithHandshakeLog(c))
		return device{
			h:   testutil.Handle(t),
			svc: conversation.New(v, c, conversation.WithGroups(e), conversation.WithDirectory(c)),
			e:   e,
		}
	}
	alice, bob := mk(), mk()
	if _, err := bob.svc.Publish(ctx, bob.h); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := alice.svc.CreateGroup(ctx, "crew", alice.h); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := alice.svc.AddMembers(ctx, "crew", []domain.Fingerprint{bob.h.Fingerprint}, alice.h); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if _, err := alice.svc.Send(ctx, "crew", conversation.Outgoing{Plaintext: []byte("over the wire")}, alice.h); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs, err := bob.svc.Receive(ctx, "crew", bob.h)
	if err != nil || len(msgs) != 1 || string(msgs[0].Plaintext) != "over the wire" {
		t.Fatalf("bob Receive = %d, %v", len(msgs), err)
	}

	// bob loses his state and rebuilds it from the relay's handshake index
	if err := bob.e.DeleteGroupState(ctx, "crew"); err != nil {
		t.Fatalf("DeleteGroupState: %v", err)
	}
	st, err := bob.e.RebuildGroupState(ctx, "crew", bob.h)
	if err != nil || st.Epoch != 1 {
		t.Fatalf("RebuildGroupState = epoch %d, %v", st.Epoch, err)
	}
}
