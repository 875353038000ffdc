package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/keywrap"
	"sealroom/internal/logging"
	"sealroom/internal/metrics"
	"sealroom/internal/util/memzero"
	"sealroom/internal/util/ratelimit"
)

// DefaultMinPassphraseLength is the shortest passphrase accepted by default.
const DefaultMinPassphraseLength = 8

// Service manages identity creation and passphrase wrapping over a KeyVault.
type Service struct {
	vault   domain.KeyVault
	params  keywrap.Params
	minLen  int
	kdf     *semaphore.Weighted
	limiter *ratelimit.KeyLimiter
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithKDFParams sets the parameters used for new wraps.
func WithKDFParams(p keywrap.Params) Option { return func(s *Service) { s.params = p } }

// WithMinPassphraseLength overrides DefaultMinPassphraseLength.
func WithMinPassphraseLength(n int) Option { return func(s *Service) { s.minLen = n } }

// WithKDFConcurrency bounds how many key derivations run at once.
func WithKDFConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.kdf = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithUnlockLimiter throttles Unlock per fingerprint.
func WithUnlockLimiter(l *ratelimit.KeyLimiter) Option { return func(s *Service) { s.limiter = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns an identity service backed by vault.
func New(vault domain.KeyVault, opts ...Option) *Service {
	s := &Service{
		vault:  vault,
		params: keywrap.DefaultParams(),
		minLen: DefaultMinPassphraseLength,
		kdf:    semaphore.NewWeighted(2),
		log:    logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateIdentity creates a device identity, stores it wrapped under
// passphrase and returns the stored record.
func (s *Service) GenerateIdentity(ctx context.Context, name, email, passphrase string) (domain.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Identity{}, domain.Invalid("name", "must not be empty")
	}
	if err := s.checkPassphrase(passphrase); err != nil {
		return domain.Identity{}, err
	}
	seed, err := crypto.NewSeed()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("generate seed: %w", err)
	}
	defer memzero.Zero(seed[:])
	return s.storeNew(ctx, seed, name, strings.TrimSpace(email), passphrase)
}

func (s *Service) storeNew(ctx context.Context, seed domain.Seed, name, email, passphrase string) (domain.Identity, error) {
	pub, _, _, err := crypto.DeriveKeys(seed)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("derive keys: %w", err)
	}
	wrapped, err := s.wrap(ctx, seed[:], passphrase)
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{
		ID:                domain.DeviceID(uuid.NewString()),
		Label:             name,
		Email:             email,
		Fingerprint:       crypto.Fingerprint(pub),
		PublicKey:         pub,
		WrappedPrivateKey: wrapped,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.vault.StoreDevice(ctx, id); err != nil {
		return domain.Identity{}, fmt.Errorf("store device: %w", err)
	}
	s.log.Info("identity created", "device_id", id.ID.String(), "fingerprint", id.Fingerprint.String())
	return id, nil
}

// UnlockPrivateKey unwraps a blob and returns a key handle. Every
// authentication failure is reported as domain.ErrInvalidPassphrase.
func (s *Service) UnlockPrivateKey(ctx context.Context, wrapped []byte, passphrase string) (*domain.UnlockedKeyHandle, error) {
	if passphrase == "" {
		return nil, domain.Invalid("passphrase", "required")
	}
	raw, err := s.unwrap(ctx, wrapped, passphrase)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(raw)
	if len(raw) != len(domain.Seed{}) {
		return nil, &domain.CryptoError{Op: "unlock", Message: "unexpected key material length"}
	}
	var seed domain.Seed
	copy(seed[:], raw)
	h, err := crypto.NewHandle(seed)
	memzero.Zero(seed[:])
	if err != nil {
		return nil, &domain.CryptoError{Op: "unlock", Message: "derive keys", Err: err}
	}
	return h, nil
}

// LockPrivateKey wraps the handle's seed under passphrase, which may differ
// from the one it was unlocked with.
func (s *Service) LockPrivateKey(ctx context.Context, h *domain.UnlockedKeyHandle, passphrase string) ([]byte, error) {
	if h == nil {
		return nil, domain.Invalid("handle", "required")
	}
	if err := s.checkPassphrase(passphrase); err != nil {
		return nil, err
	}
	return s.wrap(ctx, h.Seed[:], passphrase)
}

// UnlockWrapped is UnlockPrivateKey for a blob belonging to fpr, counted
// against fpr's attempt limit.
func (s *Service) UnlockWrapped(ctx context.Context, fpr domain.Fingerprint, wrapped []byte, passphrase string) (*domain.UnlockedKeyHandle, error) {
	if !s.limiter.Allow(fpr.String(), s.now()) {
		return nil, domain.ErrRateLimited
	}
	h, err := s.UnlockPrivateKey(ctx, wrapped, passphrase)
	if err != nil {
		return nil, err
	}
	s.limiter.Reset(fpr.String())
	return h, nil
}

// Unlock unlocks the stored device with fingerprint fpr and caches the
// handle in the vault.
func (s *Service) Unlock(ctx context.Context, fpr domain.Fingerprint, passphrase string) (*domain.UnlockedKeyHandle, error) {
	dev, err := s.vault.GetDeviceByFingerprint(ctx, fpr)
	if err != nil {
		return nil, err
	}
	h, err := s.UnlockWrapped(ctx, fpr, dev.WrappedPrivateKey, passphrase)
	s.metrics.ObserveUnlock("passphrase", err)
	if err != nil {
		s.log.Warn("unlock failed", "fingerprint", fpr.String(), "err", err)
		return nil, err
	}
	if err := checkMatches(dev, h); err != nil {
		h.Wipe()
		return nil, err
	}
	s.vault.StoreUnlockedKey(h)
	s.log.Debug("unlocked", "fingerprint", fpr.String())
	return h, nil
}

// ChangePassphrase re-wraps the device's seed under a new passphrase. The
// biometric copy is dropped because its inner layer used the old passphrase.
func (s *Service) ChangePassphrase(ctx context.Context, fpr domain.Fingerprint, oldPassphrase, newPassphrase string) error {
	if err := s.checkPassphrase(newPassphrase); err != nil {
		return err
	}
	dev, err := s.vault.GetDeviceByFingerprint(ctx, fpr)
	if err != nil {
		return err
	}
	h, err := s.UnlockPrivateKey(ctx, dev.WrappedPrivateKey, oldPassphrase)
	if err != nil {
		return err
	}
	defer h.Wipe()

	wrapped, err := s.wrap(ctx, h.Seed[:], newPassphrase)
	if err != nil {
		return err
	}
	dev.WrappedPrivateKey = wrapped
	dev.BiometricWrappedKey = nil
	if err := s.vault.StoreDevice(ctx, dev); err != nil {
		return fmt.Errorf("store device: %w", err)
	}
	s.log.Info("passphrase changed", "fingerprint", fpr.String())
	return nil
}

// DeleteDevice removes a device and locks its cached key.
func (s *Service) DeleteDevice(ctx context.Context, id domain.DeviceID) error {
	dev, err := s.vault.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	s.vault.LockKey(dev.Fingerprint)
	return s.vault.DeleteDevice(ctx, id)
}

// Fingerprint returns the content hash of a public key.
func (s *Service) Fingerprint(pub domain.PublicKey) domain.Fingerprint {
	return crypto.Fingerprint(pub)
}

// MinPassphraseLength reports the configured minimum.
func (s *Service) MinPassphraseLength() int { return s.minLen }

func (s *Service) checkPassphrase(p string) error {
	if utf8.RuneCountInString(p) < s.minLen {
		return domain.Invalid("passphrase", fmt.Sprintf("must be at least %d characters", s.minLen))
	}
	return nil
}

func (s *Service) wrap(ctx context.Context, secret []byte, passphrase string) ([]byte, error) {
	if err := s.kdf.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.kdf.Release(1)
	blob, err := keywrap.Wrap(secret, passphrase, s.params)
	if err != nil {
		return nil, &domain.CryptoError{Op: "wrap", Message: "key wrapping failed", Err: err}
	}
	return blob, nil
}

func (s *Service) unwrap(ctx context.Context, blob []byte, passphrase string) ([]byte, error) {
	if err := s.kdf.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.kdf.Release(1)
	raw, err := keywrap.Unwrap(blob, passphrase)
	switch {
	case err == nil:
		return raw, nil
	case errors.Is(err, keywrap.ErrAuthentication):
		return nil, domain.ErrInvalidPassphrase()
	default:
		return nil, &domain.CryptoError{Op: "unwrap", Message: "unreadable wrapped key", Err: err}
	}
}

func checkMatches(dev domain.Identity, h *domain.UnlockedKeyHandle) error {
	if h.Fingerprint != dev.Fingerprint || h.Public != dev.PublicKey {
		return &domain.CorruptionError{Kind: "device", ID: dev.ID.String(), Message: "wrapped key does not match public key"}
	}
	return nil
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
