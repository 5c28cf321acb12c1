package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"github.com/google/go-cmp/cmp"
)

func TestAddOffenseCreatesThenAppends(t *testing.T) {
	harness := newTestHarness(t, Policy{})
	ctx := context.Background()

	first, err := harness.service.AddOffense(ctx, AddOffenseRequest{
		UserID:       "11",
		DisplayName:  ledger.Some("Kim"),
		CommunityID:  "G",
		Reason:       "spam",
		EvidenceLink: ledger.Some("https://img"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Created {
		t.Fatalf("expected the first offense to create the entry")
	}

	second, err := harness.service.AddOffense(ctx, AddOffenseRequest{UserID: "11", CommunityID: "H", Reason: "raid", Notes: ledger.Some("again")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Created {
		t.Fatalf("expected the second offense to append")
	}

	record := harness.mustRecord(t, "11")
	want := []ledger.Offense{
		{CommunityID: "G", Reason: "spam", EvidenceLink: ledger.Some("https://img")},
		{CommunityID: "H", Reason: "raid", Notes: ledger.Some("again")},
	}
	if diff := cmp.Diff(want, record.Offenses, offenseSetOptions...); diff != "" {
		t.Fatalf("unexpected offenses (-want +got):\n%s", diff)
	}
	if record.DisplayName.Or("") != "Kim" {
		t.Fatalf("expected display name from creation, got %+v", record)
	}
	types := harness.events.types()
	if len(types) != 2 || types[0] != EventOffenseAdded {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestAddOffenseValidatesInput(t *testing.T) {
	harness := newTestHarness(t, Policy{})
	tests := []struct {
		name    string
		request AddOffenseRequest
		code    string
	}{
		{name: "missing user", request: AddOffenseRequest{CommunityID: "G", Reason: "r"}, code: "moderation.add_offense.invalid_user_id"},
		{name: "missing community", request: AddOffenseRequest{UserID: "1", Reason: "r"}, code: "moderation.add_offense.invalid_community_id"},
		{name: "missing reason", request: AddOffenseRequest{UserID: "1", CommunityID: "G"}, code: "moderation.add_offense.missing_reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := harness.service.AddOffense(context.Background(), tt.request)
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) || serviceErr.Code() != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
		})
	}
}

func TestLookupUser(t *testing.T) {
	harness := newTestHarness(t, Policy{})
	harness.putDocument(t, "user:5", `{"discord_id":"5","offences":[]}`)
	harness.putDocument(t, "user:6", `{"discord_id":"6","offences":{}}`)

	if _, found, err := harness.service.LookupUser(context.Background(), "4"); err != nil || found {
		t.Fatalf("unknown identity should be absent without error: found=%v err=%v", found, err)
	}
	if record := harness.mustRecord(t, "5"); record.ExternalID != "5" {
		t.Fatalf("unexpected record %+v", record)
	}
	_, _, err := harness.service.LookupUser(context.Background(), "6")
	if !errors.Is(err, ledger.ErrMalformedInput) {
		t.Fatalf("expected malformed input, got %v", err)
	}
}

type unavailableStore struct {
	store.Store
}

func (unavailableStore) AppendToArray(context.Context, string, string, []byte) error {
	return store.ErrStoreUnavailable
}

func (unavailableStore) ListKeys(context.Context, string) ([]string, error) {
	return nil, store.ErrStoreUnavailable
}

func TestStoreUnavailableIsPropagated(t *testing.T) {
	service, err := NewService(ServiceConfig{Store: unavailableStore{}, IDProvider: staticIDProvider{id: "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = service.AddOffense(context.Background(), AddOffenseRequest{UserID: "1", CommunityID: "G", Reason: "r"})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	_, err = service.PurgeCommunity(context.Background(), "G")
	var serviceErr *ServiceError
	if !errors.Is(err, store.ErrStoreUnavailable) || !errors.As(err, &serviceErr) || serviceErr.Code() != "moderation.purge_community.list_keys_failed" {
		t.Fatalf("unexpected purge error %v", err)
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: staticIDProvider{}}); err == nil {
		t.Fatalf("expected an error without a store")
	}
	if _, err := NewService(ServiceConfig{Store: unavailableStore{}}); err == nil {
		t.Fatalf("expected an error without an id provider")
	}
	_, err := NewService(ServiceConfig{Store: unavailableStore{}, IDProvider: staticIDProvider{}, Policy: Policy{MinAccountAgeDays: -1}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for a negative threshold, got %v", err)
	}
}

func TestAddOffenseReportsMalformedOffenseList(t *testing.T) {
	harness := newTestHarness(t, Policy{})
	broken := `{"discord_id":"4","username":"Al","offences":"broken"}`
	harness.putDocument(t, "user:4", broken)

	_, err := harness.service.AddOffense(context.Background(), AddOffenseRequest{UserID: "4", CommunityID: "G", Reason: "spam"})
	if !errors.Is(err, ledger.ErrMalformedInput) {
		t.Fatalf("expected malformed input, got %v", err)
	}
	if !errors.Is(err, store.ErrNotArray) {
		t.Fatalf("expected the store cause to be kept, got %v", err)
	}

	document, _, err := harness.store.Get(context.Background(), "user:4")
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(document) != broken {
		t.Fatalf("document must stay untouched, got %s", document)
	}
	if len(harness.events.types()) != 0 {
		t.Fatalf("no event may be published for a failed addition")
	}
}
