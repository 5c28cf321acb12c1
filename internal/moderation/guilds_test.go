package moderation

import (
	"context"
	"errors"
	"testing"
)

func TestConfigureAndToggleCommunity(t *testing.T) {
	harness := newTestHarness(t, Policy{})
	ctx := context.Background()

	if _, err := harness.service.ToggleAutoKick(ctx, "G"); !errors.Is(err, ErrCommunityNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}

	settings, err := harness.service.ConfigureCommunity(ctx, CommunityConfig{CommunityID: "G", NotificationChannelID: "c1", DisplayName: "Den"})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if settings.AutoKickNewAccounts {
		t.Fatalf("new communities start with auto kick off")
	}

	toggled, err := harness.service.ToggleAutoKick(ctx, "G")
	if err != nil || !toggled.AutoKickNewAccounts {
		t.Fatalf("expected auto kick on: %+v %v", toggled, err)
	}

	updated, err := harness.service.ConfigureCommunity(ctx, CommunityConfig{CommunityID: "G", NotificationChannelID: "c2", DisplayName: "Den 2"})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if !updated.AutoKickNewAccounts || updated.NotificationChannelID != "c2" {
		t.Fatalf("reconfiguring must keep the auto kick switch: %+v", updated)
	}

	stored, found, err := harness.service.CommunitySettings(ctx, "G")
	if err != nil || !found || stored != updated {
		t.Fatalf("unexpected stored settings %+v found=%v err=%v", stored, found, err)
	}
	if _, found, _ := harness.service.CommunitySettings(ctx, "other"); found {
		t.Fatalf("unconfigured community reported as configured")
	}
}

func TestConfigureCommunityRequiresChannel(t *testing.T) {
	harness := newTestHarness(t, Policy{})
	_, err := harness.service.ConfigureCommunity(context.Background(), CommunityConfig{CommunityID: "G"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestAuthorization(t *testing.T) {
	harness := newTestHarness(t, Policy{Admins: []string{"1"}})
	ctx := context.Background()

	if ok, err := harness.service.IsAuthorized(ctx, "G", "1"); err != nil || !ok {
		t.Fatalf("admins are authorized everywhere: %v %v", ok, err)
	}
	if ok, err := harness.service.IsAuthorized(ctx, "G", "2"); err != nil || ok {
		t.Fatalf("unexpected authorization: %v %v", ok, err)
	}
	added, err := harness.service.Authorize(ctx, "G", "2")
	if err != nil || !added {
		t.Fatalf("expected a new authorization: %v %v", added, err)
	}
	added, err = harness.service.Authorize(ctx, "G", "2")
	if err != nil || added {
		t.Fatalf("second authorization should be a no-op: %v %v", added, err)
	}
	if ok, _ := harness.service.IsAuthorized(ctx, "G", "2"); !ok {
		t.Fatalf("expected authorization in G")
	}
	if ok, _ := harness.service.IsAuthorized(ctx, "H", "2"); ok {
		t.Fatalf("authorization must not leak across communities")
	}
}

func TestAllowList(t *testing.T) {
	harness := newTestHarness(t, Policy{})
	ctx := context.Background()
	if listed, err := harness.service.IsAllowListed(ctx, "3"); err != nil || listed {
		t.Fatalf("unexpected allow list state: %v %v", listed, err)
	}
	if added, err := harness.service.AllowListAdd(ctx, "3"); err != nil || !added {
		t.Fatalf("expected a new allow list entry: %v %v", added, err)
	}
	if listed, err := harness.service.IsAllowListed(ctx, "3"); err != nil || !listed {
		t.Fatalf("expected allow-listed: %v %v", listed, err)
	}
}
