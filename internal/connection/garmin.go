package connection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"example.com/fitsync/internal/domain"
)

// MinPasswordLength is the shortest Garmin password accepted on connect.
const MinPasswordLength = 6

var validate = validator.New()

// Sealer encrypts a secret for storage.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// GarminProvider links a Garmin account by stored credential.
type GarminProvider struct {
	credentials domain.CredentialStore
	sealer      Sealer
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGarminProvider constructs a GarminProvider.
func NewGarminProvider(credentials domain.CredentialStore, sealer Sealer, logger zerolog.Logger) *GarminProvider {
	return &GarminProvider{
		credentials: credentials,
		sealer:      sealer,
		logger:      logger,
		now:         time.Now,
	}
}

// Name implements Provider.
func (p *GarminProvider) Name() domain.Provider {
	return domain.ProviderGarmin
}

// Linked implements Provider.
func (p *GarminProvider) Linked(ctx context.Context, s *Session) (bool, error) {
	credential, err := p.credentials.GetCredential(ctx, s.UserID())
	if err != nil {
		return false, domain.Persistence("get credential", err)
	}
	s.setCredential(credential)
	return credential != nil, nil
}

// Connect validates and seals the credential, then upserts it by user.
func (p *GarminProvider) Connect(ctx context.Context, s *Session, req ConnectRequest) error {
	email := strings.TrimSpace(req.Email)
	if err := validate.Var(email, "required,email"); err != nil {
		return domain.NewValidationError("email", "Please enter a valid email address")
	}
	if err := validate.Var(req.Password, fmt.Sprintf("required,min=%d", MinPasswordLength)); err != nil {
		return domain.NewValidationError("password", fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	sealed, err := p.sealer.Seal(req.Password)
	if err != nil {
		return err
	}

	stored, err := p.credentials.UpsertCredential(ctx, domain.StoredCredential{
		UserID:          s.UserID(),
		Email:           email,
		PasswordSealed:  sealed,
		NormalizedEmail: domain.NormalizeEmail(email),
	})
	if err != nil {
		return domain.Persistence("upsert credential", err)
	}
	s.setCredential(stored)
	p.logger.Info().Str("user_id", s.UserID()).Msg("garmin connected")
	return nil
}

// Sync stamps last-sync on the credential matching the normalized email.
func (p *GarminProvider) Sync(ctx context.Context, s *Session, req SyncRequest) (SyncResult, error) {
	normalized := strings.TrimSpace(req.NormalizedEmail)
	if normalized == "" {
		return SyncResult{}, domain.NewValidationError("normalized_email", "Missing normalized_email parameter")
	}

	at := p.now().UTC()
	matched, err := p.credentials.TouchLastSync(ctx, s.UserID(), normalized, at)
	if err != nil {
		return SyncResult{}, domain.Persistence("touch last sync", err)
	}
	if !matched {
		return SyncResult{}, domain.ErrNotConnected
	}

	if credential := s.Credential(); credential != nil {
		credential.LastSync = &at
		credential.UpdatedAt = at
		s.setCredential(credential)
	}
	return SyncResult{LastSync: &at}, nil
}

// Disconnect deletes the stored credential.
func (p *GarminProvider) Disconnect(ctx context.Context, s *Session) error {
	if err := p.credentials.DeleteCredential(ctx, s.UserID()); err != nil {
		return domain.Persistence("delete credential", err)
	}
	s.setCredential(nil)
	return nil
}
