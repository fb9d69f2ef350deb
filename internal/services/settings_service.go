package services

import (
	"context"
	"os"

	"go.uber.org/zap"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
	"merchantdesk/internal/repository"
)

// SettingsService resolves gateway credentials: a per-tenant override row
// first, then the global row, then process environment. When no source
// yields both a store id and a password the result is Enabled=false and
// callers operate in demo mode.
type SettingsService struct {
	repo    repository.GatewaySettingsRepository
	gateway PaymentGateway
	logger  *zap.Logger
}

func NewSettingsService(repo repository.GatewaySettingsRepository, gateway PaymentGateway, logger *zap.Logger) *SettingsService {
	return &SettingsService{repo: repo, gateway: gateway, logger: logger}
}

// Resolve looks up credentials for the given tenant scope. It never errors
// on missing configuration; that state is reported through Enabled=false.
func (s *SettingsService) Resolve(ctx context.Context, tenantID uint) (Credentials, error) {
	if tenantID != 0 {
		row, err := s.repo.GetByTenant(ctx, tenantID)
		if err != nil {
			return Credentials{}, err
		}
		if row != nil && row.Complete() {
			return Credentials{
				StoreID:       row.StoreID,
				StorePassword: row.StorePassword,
				IsLive:        row.IsLive,
				Enabled:       true,
			}, nil
		}
	}

	global, err := s.repo.GetByTenant(ctx, 0)
	if err != nil {
		return Credentials{}, err
	}
	if global != nil && global.Complete() {
		return Credentials{
			StoreID:       global.StoreID,
			StorePassword: global.StorePassword,
			IsLive:        global.IsLive,
			Enabled:       true,
		}, nil
	}

	storeID := os.Getenv("SSLCOMMERZ_STORE_ID")
	storePassword := os.Getenv("SSLCOMMERZ_STORE_PASSWORD")
	if storeID != "" && storePassword != "" {
		return Credentials{
			StoreID:       storeID,
			StorePassword: storePassword,
			IsLive:        os.Getenv("SSLCOMMERZ_IS_LIVE") == "true",
			Enabled:       true,
		}, nil
	}

	return Credentials{Enabled: false}, nil
}

// Save stores a tenant's credential override
func (s *SettingsService) Save(ctx context.Context, settings *models.GatewaySettings) error {
	return s.repo.Upsert(ctx, settings)
}

// Get returns a tenant's credential override row, or nil when none exists
func (s *SettingsService) Get(ctx context.Context, tenantID uint) (*models.GatewaySettings, error) {
	return s.repo.GetByTenant(ctx, tenantID)
}

// TestConnection verifies resolved credentials by issuing a probe call to
// the validator endpoint. Unlike checkout, missing configuration here is a
// hard error.
func (s *SettingsService) TestConnection(ctx context.Context, tenantID uint) error {
	creds, err := s.Resolve(ctx, tenantID)
	if err != nil {
		return err
	}
	if !creds.Enabled {
		return apperrors.New(apperrors.KindConfigMissing, "no gateway credentials configured for this scope")
	}

	// A probe validation is expected to come back unaccepted; only transport
	// failure means the gateway is unreachable.
	resp, err := s.gateway.ValidatePayment(ctx, creds, "connection-probe")
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindGatewayUnavailable) {
			return err
		}
		return apperrors.Wrap(apperrors.KindGatewayRejected, "gateway refused the credential probe", err)
	}
	// The validator answers APIConnectFailed when the store credentials
	// themselves are wrong; any other status means the credentials work.
	if resp.Status == "APIConnectFailed" {
		return apperrors.New(apperrors.KindGatewayRejected, "gateway rejected the store credentials")
	}

	s.logger.Info("gateway connection test completed",
		zap.Uint("tenant_id", tenantID),
		zap.String("probe_status", resp.Status),
	)
	return nil
}
