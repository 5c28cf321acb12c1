package moderation

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrCommunityNotConfigured indicates an operation that needs guild settings which were never created.
	ErrCommunityNotConfigured = errors.New("moderation: community not configured")
	// ErrInvalidRequest indicates caller input that fails validation.
	ErrInvalidRequest = errors.New("moderation: invalid request")

	errMissingStore      = errors.New("document store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "moderation.service.new"
	opAddOffense          = "moderation.add_offense"
	opLookupUser          = "moderation.lookup_user"
	opImport              = "moderation.import"
	opPurgeCommunity      = "moderation.purge_community"
	opScreenMember        = "moderation.screen_member"
	opFootprint           = "moderation.footprint"
	opConfigureCommunity  = "moderation.configure_community"
	opToggleAutoKick      = "moderation.toggle_auto_kick"
	opCommunitySettings   = "moderation.community_settings"
	opAuthorize           = "moderation.authorize"
	opIsAuthorized        = "moderation.is_authorized"
	opAllowListAdd        = "moderation.allow_list_add"
	opIsAllowListed       = "moderation.is_allow_listed"
	defaultMinAccountDays = 90
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Policy carries the operator-level settings that used to be process globals.
type Policy struct {
	// Admins are authorized in every community and exempt from the automation filter.
	Admins []string
	// AutomationAccounts are identities whose rows are dropped from bulk imports.
	AutomationAccounts []string
	// MinAccountAgeDays is the age gate threshold. Zero selects 90.
	MinAccountAgeDays int
}

type ServiceConfig struct {
	Store      store.Store
	Policy     Policy
	Clock      func() time.Time
	IDProvider IDProvider
	Events     EventSink
	Logger     *zap.Logger
}

// Service runs ledger operations against a document store. It keeps no state between calls.
type Service struct {
	store      store.Store
	admins     ledger.AuthorizationSet
	automation ledger.AuthorizationSet
	gate       AgeGate
	clock      func() time.Time
	idProvider IDProvider
	events     EventSink
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	minDays := cfg.Policy.MinAccountAgeDays
	if minDays < 0 {
		return nil, newServiceError(opServiceNew, "invalid_min_account_age", fmt.Errorf("%w: negative threshold %d", ErrInvalidRequest, minDays))
	}
	if minDays == 0 {
		minDays = defaultMinAccountDays
	}

	events := cfg.Events
	if events == nil {
		events = discardEvents{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		admins:     ledger.NewAuthorizationSet(cfg.Policy.Admins...),
		automation: ledger.NewAuthorizationSet(cfg.Policy.AutomationAccounts...),
		gate:       AgeGate{MinAgeDays: minDays},
		clock:      clock,
		idProvider: cfg.IDProvider,
		events:     events,
		logger:     logger,
	}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("moderation service error", attrs...)
}

// fail logs and wraps err under operation.reason.
func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func parseExternalID(raw string) (ledger.ExternalID, error) {
	id, err := ledger.NewExternalID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return id, nil
}

func parseCommunityID(raw string) (ledger.CommunityID, error) {
	id, err := ledger.NewCommunityID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return id, nil
}
