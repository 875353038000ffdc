package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/logging"
	"sealroom/internal/metrics"
	"sealroom/internal/protocol/payload"
	"sealroom/internal/util/memzero"
)

const keyPacketInfo = "sealroom key packet v1"

// Codec implements domain.EnvelopeCodec.
type Codec struct {
	dir     domain.Directory
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	workers int
}

// Option configures a Codec.
type Option func(*Codec)

// WithDirectory resolves signer keys that are not the local device's.
func WithDirectory(d domain.Directory) Option { return func(c *Codec) { c.dir = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Codec) { c.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Codec) { c.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Codec) { c.now = now } }

// WithWorkers bounds how many key packets are sealed concurrently.
func WithWorkers(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New returns a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{log: logging.Discard(), now: time.Now, workers: 8}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// header is the associated data bound to the body ciphertext.
type header struct {
	Version   int                `json:"v"`
	RoomID    domain.RoomID      `json:"roomId"`
	Author    domain.Fingerprint `json:"author"`
	CreatedAt time.Time          `json:"createdAt"`
}

func headerAAD(env domain.MessageEnvelope) ([]byte, error) {
	return json.Marshal(header{
		Version:   env.Version,
		RoomID:    env.RoomID,
		Author:    env.AuthorFingerprint,
		CreatedAt: env.CreatedAt,
	})
}

// EncryptToMany seals plaintext and attachments once and addresses the
// session key to every recipient.
func (c *Codec) EncryptToMany(
	ctx context.Context,
	roomID domain.RoomID,
	plaintext []byte,
	recipients []domain.Recipient,
	signer *domain.UnlockedKeyHandle,
	attachments []domain.Attachment,
) (domain.SealedMessage, error) {
	sealed, err := c.encrypt(ctx, roomID, plaintext, recipients, signer, attachments)
	c.metrics.ObserveEnvelope("encrypt", err)
	return sealed, err
}

func (c *Codec) encrypt(
	ctx context.Context,
	roomID domain.RoomID,
	plaintext []byte,
	recipients []domain.Recipient,
	signer *domain.UnlockedKeyHandle,
	attachments []domain.Attachment,
) (domain.SealedMessage, error) {
	if err := validate(recipients, signer, attachments); err != nil {
		return domain.SealedMessage{}, err
	}

	sessionKey, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		return domain.SealedMessage{}, err
	}
	defer memzero.Zero(sessionKey)

	attKeys, attCTs, err := payload.SealAttachments(sessionKey, attachments)
	if err != nil {
		return domain.SealedMessage{}, &domain.CryptoError{Op: "encrypt", Message: "seal attachments", Err: err}
	}

	now := c.now().UTC()
	env := domain.MessageEnvelope{
		Version:           domain.EnvelopeVersion,
		RoomID:            roomID,
		AuthorFingerprint: signer.Fingerprint,
		SignerFingerprint: signer.Fingerprint,
		Algorithm:         domain.AlgorithmSuite{AEAD: crypto.AEADName, Hash: crypto.HashName, KEM: crypto.KEMName},
		CreatedAt:         now,
		HasAttachments:    len(attKeys) > 0,
		AttachmentKeys:    attKeys,
	}
	aad, err := headerAAD(env)
	if err != nil {
		return domain.SealedMessage{}, err
	}
	ciphertext, err := payload.Seal(sessionKey, payload.Body{Text: plaintext, Timestamp: now, Attachments: attKeys}, aad)
	if err != nil {
		return domain.SealedMessage{}, &domain.CryptoError{Op: "encrypt", Message: "seal body", Err: err}
	}

	packets, err := c.keyPackets(ctx, sessionKey, recipients)
	if err != nil {
		return domain.SealedMessage{}, err
	}
	env.Recipients = packets

	msg, err := signedBytes(env, ciphertext)
	if err != nil {
		return domain.SealedMessage{}, err
	}
	env.Signature = crypto.SignEd25519(signer.Signing, msg)

	c.log.Debug("envelope sealed",
		"room", string(roomID),
		"recipients", len(packets),
		"attachments", len(attKeys),
		"fingerprint", signer.Fingerprint.String(),
	)
	return domain.SealedMessage{Envelope: env, Ciphertext: ciphertext, Attachments: attCTs}, nil
}

func validate(recipients []domain.Recipient, signer *domain.UnlockedKeyHandle, attachments []domain.Attachment) error {
	if signer == nil {
		return domain.Invalid("signer", "required")
	}
	if len(recipients) == 0 {
		return domain.Invalid("recipients", "at least one recipient is required")
	}
	seen := make(map[domain.Fingerprint]struct{}, len(recipients))
	for _, r := range recipients {
		if r.Fingerprint == "" {
			return domain.Invalid("recipients", "recipient fingerprint must not be empty")
		}
		if r.PublicKey.IsZero() {
			return domain.Invalid("recipients", fmt.Sprintf("recipient %s has an empty public key", r.Fingerprint.Short()))
		}
		if crypto.Fingerprint(r.PublicKey) != r.Fingerprint {
			return domain.Invalid("recipients", fmt.Sprintf("recipient %s does not match its public key", r.Fingerprint.Short()))
		}
		if _, dup := seen[r.Fingerprint]; dup {
			return domain.Invalid("recipients", fmt.Sprintf("duplicate recipient %s", r.Fingerprint.Short()))
		}
		seen[r.Fingerprint] = struct{}{}
	}
	return payload.ValidateAttachments(attachments)
}

func (c *Codec) keyPackets(ctx context.Context, sessionKey []byte, recipients []domain.Recipient) ([]domain.KeyPacket, error) {
	packets := make([]domain.KeyPacket, len(recipients))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, r := range recipients {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			enc, ct, err := crypto.SealTo(r.PublicKey.Encryption, []byte(keyPacketInfo), []byte(r.Fingerprint), sessionKey)
			if err != nil {
				return &domain.CryptoError{Op: "encrypt", Message: "seal key packet for " + r.Fingerprint.Short(), Err: err}
			}
			packets[i] = domain.KeyPacket{Fingerprint: r.Fingerprint, EncryptedKeyPacket: append(enc, ct...)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return packets, nil
}

// signedBytes is the canonical envelope without its signature followed by
// the ciphertext digest.
func signedBytes(env domain.MessageEnvelope, ciphertext []byte) ([]byte, error) {
	env.Signature = nil
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	sum := sha256.Sum256(ciphertext)
	return append(raw, sum[:]...), nil
}

// DecryptFromMany opens a message addressed to me.
func (c *Codec) DecryptFromMany(
	ctx context.Context,
	env domain.MessageEnvelope,
	ciphertext []byte,
	me *domain.UnlockedKeyHandle,
) (domain.DecryptedMessage, error) {
	out, err := c.decrypt(ctx, env, ciphertext, me)
	c.metrics.ObserveEnvelope("decrypt", err)
	return out, err
}

func (c *Codec) decrypt(
	ctx context.Context,
	env domain.MessageEnvelope,
	ciphertext []byte,
	me *domain.UnlockedKeyHandle,
) (domain.DecryptedMessage, error) {
	if me == nil {
		return domain.DecryptedMessage{}, domain.Invalid("handle", "required")
	}
	if env.Version != domain.EnvelopeVersion {
		return domain.DecryptedMessage{}, domain.Invalid("envelope", fmt.Sprintf("unsupported version %d", env.Version))
	}
	packet, ok := env.Packet(me.Fingerprint)
	if !ok {
		return domain.DecryptedMessage{}, &domain.NotFoundError{Kind: "key packet", ID: me.Fingerprint.Short(), Message: "message not encrypted for this device"}
	}

	encSize := crypto.EncapsulatedKeySize()
	if len(packet.EncryptedKeyPacket) <= encSize {
		return domain.DecryptedMessage{}, &domain.CryptoError{Op: "decrypt", Message: "key packet truncated"}
	}
	enc, ct := packet.EncryptedKeyPacket[:encSize], packet.EncryptedKeyPacket[encSize:]
	sessionKey, err := crypto.OpenFrom(me.Encryption, []byte(keyPacketInfo), []byte(me.Fingerprint), enc, ct)
	if err != nil {
		return domain.DecryptedMessage{}, &domain.CryptoError{Op: "decrypt", Message: "key packet failed authentication", Err: err}
	}
	defer memzero.Zero(sessionKey)

	aad, err := headerAAD(env)
	if err != nil {
		return domain.DecryptedMessage{}, err
	}
	body, err := payload.Open(sessionKey, ciphertext, aad)
	if err != nil {
		return domain.DecryptedMessage{}, &domain.CryptoError{Op: "decrypt", Message: "message failed authentication", Err: err}
	}
	if !payload.SameRecords(body.Attachments, env.AttachmentKeys) {
		return domain.DecryptedMessage{}, &domain.CryptoError{Op: "decrypt", Message: "attachment records do not match the sealed body"}
	}
	opened, err := payload.UnwrapAttachmentKeys(sessionKey, env.AttachmentKeys)
	if err != nil {
		return domain.DecryptedMessage{}, err
	}

	verified := c.verify(ctx, env, ciphertext, me)
	if !verified {
		c.log.Warn("envelope signature not verified",
			"room", string(env.RoomID),
			"signer", env.SignerFingerprint.String(),
		)
	}
	return domain.DecryptedMessage{
		Plaintext:         body.Text,
		Timestamp:         body.Timestamp,
		Attachments:       opened,
		Verified:          verified,
		SignerFingerprint: env.SignerFingerprint,
	}, nil
}

func (c *Codec) verify(ctx context.Context, env domain.MessageEnvelope, ciphertext []byte, me *domain.UnlockedKeyHandle) bool {
	if len(env.Signature) == 0 || env.SignerFingerprint != env.AuthorFingerprint {
		return false
	}
	pub, err := c.resolve(ctx, env.SignerFingerprint, me)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.log.Warn("resolve signer", "signer", env.SignerFingerprint.String(), "err", err)
		}
		return false
	}
	msg, err := signedBytes(env, ciphertext)
	if err != nil {
		return false
	}
	return crypto.VerifyEd25519(pub.Signing, msg, env.Signature)
}

func (c *Codec) resolve(ctx context.Context, fpr domain.Fingerprint, me *domain.UnlockedKeyHandle) (domain.PublicKey, error) {
	if fpr == me.Fingerprint {
		return me.Public, nil
	}
	if c.dir == nil {
		return domain.PublicKey{}, domain.NotFound("device", fpr.Short())
	}
	pub, err := c.dir.LookupDevice(ctx, fpr)
	if err != nil {
		return domain.PublicKey{}, err
	}
	if crypto.Fingerprint(pub) != fpr {
		return domain.PublicKey{}, domain.NotFound("device", fpr.Short())
	}
	return pub, nil
}

// OpenAttachment decrypts an attachment fetched from storage.
func (c *Codec) OpenAttachment(att domain.OpenedAttachment, ciphertext []byte) ([]byte, error) {
	return payload.OpenAttachment(att, ciphertext)
}

// Compile-time assertion that Codec implements domain.EnvelopeCodec.
var _ domain.EnvelopeCodec = (*Codec)(nil)
