package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sealroom/internal/domain"
	"sealroom/internal/services/group"
)

// Outgoing is plaintext input for one conversation message.
type Outgoing struct {
	Plaintext   []byte
	Attachments []domain.Attachment
	// Recipients is used in envelope mode only.
	Recipients []domain.Recipient
}

// File is a decrypted attachment.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Message is a decrypted conversation message. Seq is the sequence number
// of the delivery that released it, which for a buffered group message is a
// later delivery than the one that carried it.
type Message struct {
	Conversation domain.ConversationID
	Mode         domain.ConversationMode
	Seq          uint64
	Sender       domain.Fingerprint
	Plaintext    []byte
	Timestamp    time.Time
	Attachments  []domain.OpenedAttachment
	Files        []File
	Verified     bool
}

// Provider seals and opens payloads for one conversation mode.
type Provider interface {
	Mode() domain.ConversationMode
	// Seal returns the payload and the epoch it was sealed at.
	Seal(ctx context.Context, id domain.ConversationID, out Outgoing, me *domain.UnlockedKeyHandle) (domain.Payload, uint64, error)
	Open(ctx context.Context, id domain.ConversationID, p domain.Payload, me *domain.UnlockedKeyHandle) ([]Message, error)
	OpenAttachment(att domain.OpenedAttachment, ciphertext []byte) ([]byte, error)
}

// EnvelopeCodec is an envelope codec that can also open attachments.
type EnvelopeCodec interface {
	domain.EnvelopeCodec
	OpenAttachment(att domain.OpenedAttachment, ciphertext []byte) ([]byte, error)
}

// EnvelopeProvider encrypts every message to an explicit recipient list.
type EnvelopeProvider struct {
	codec EnvelopeCodec
}

// NewEnvelopeProvider wraps an envelope codec.
func NewEnvelopeProvider(codec EnvelopeCodec) *EnvelopeProvider {
	return &EnvelopeProvider{codec: codec}
}

// Mode implements Provider.
func (p *EnvelopeProvider) Mode() domain.ConversationMode { return domain.ModeEnvelope }

// Seal implements Provider. Attachments travel inside the sealed message.
func (p *EnvelopeProvider) Seal(ctx context.Context, id domain.ConversationID, out Outgoing, me *domain.UnlockedKeyHandle) (domain.Payload, uint64, error) {
	sm, err := p.codec.EncryptToMany(ctx, domain.RoomID(id), out.Plaintext, out.Recipients, me, out.Attachments)
	if err != nil {
		return domain.Payload{}, 0, err
	}
	return domain.Payload{Mode: domain.ModeEnvelope, Sealed: &sm}, 0, nil
}

// Open implements Provider. A message not addressed to me yields nothing.
func (p *EnvelopeProvider) Open(ctx context.Context, id domain.ConversationID, pl domain.Payload, me *domain.UnlockedKeyHandle) ([]Message, error) {
	if pl.Sealed == nil {
		return nil, domain.Invalid("payload", "sealed message missing")
	}
	if pl.Sealed.Envelope.RoomID != domain.RoomID(id) {
		return nil, domain.Invalid("payload", "envelope for another room")
	}
	dm, err := p.codec.DecryptFromMany(ctx, pl.Sealed.Envelope, pl.Sealed.Ciphertext, me)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []Message{{
		Conversation: id,
		Mode:         domain.ModeEnvelope,
		Sender:       pl.Sealed.Envelope.AuthorFingerprint,
		Plaintext:    dm.Plaintext,
		Timestamp:    dm.Timestamp,
		Attachments:  dm.Attachments,
		Verified:     dm.Verified,
	}}, nil
}

// OpenAttachment implements Provider.
func (p *EnvelopeProvider) OpenAttachment(att domain.OpenedAttachment, ciphertext []byte) ([]byte, error) {
	return p.codec.OpenAttachment(att, ciphertext)
}

// GroupProvider routes messages through the group engine.
type GroupProvider struct {
	engine *group.Engine
	log    *slog.Logger
}

// NewGroupProvider wraps a group engine.
func NewGroupProvider(engine *group.Engine, log *slog.Logger) *GroupProvider {
	return &GroupProvider{engine: engine, log: log}
}

// Mode implements Provider.
func (p *GroupProvider) Mode() domain.ConversationMode { return domain.ModeGroup }

// Seal implements Provider. The conversation id is the group id.
func (p *GroupProvider) Seal(ctx context.Context, id domain.ConversationID, out Outgoing, me *domain.UnlockedKeyHandle) (domain.Payload, uint64, error) {
	msg, atts, err := p.engine.EncryptApplicationMessage(ctx, domain.GroupID(id), out.Plaintext, me, out.Attachments)
	if err != nil {
		return domain.Payload{}, 0, err
	}
	return domain.Payload{Mode: domain.ModeGroup, Group: &msg, Attachments: atts}, msg.Epoch, nil
}

// Open implements Provider. One payload can release several buffered
// messages, or none. Messages released before an error are returned with it.
func (p *GroupProvider) Open(ctx context.Context, id domain.ConversationID, pl domain.Payload, me *domain.UnlockedKeyHandle) ([]Message, error) {
	if pl.Group == nil {
		return nil, domain.Invalid("payload", "group message missing")
	}
	if pl.Group.GroupID != domain.GroupID(id) {
		return nil, domain.Invalid("payload", "message for another group")
	}
	results, err := p.engine.Ingest(ctx, *pl.Group, me)
	var out []Message
	for _, r := range results {
		switch r.Outcome {
		case group.OutcomeDecrypted:
			m := r.Message
			out = append(out, Message{
				Conversation: id,
				Mode:         domain.ModeGroup,
				Sender:       m.Sender,
				Plaintext:    m.Plaintext,
				Timestamp:    m.Timestamp,
				Attachments:  m.Attachments,
				Verified:     m.Verified,
			})
		case group.OutcomeFailed:
			p.log.Warn("group message failed", "group", string(r.GroupID), "epoch", r.Epoch, "err", r.Err)
		default:
			p.log.Debug("group message", "group", string(r.GroupID), "epoch", r.Epoch, "outcome", string(r.Outcome))
		}
	}
	return out, err
}

// OpenAttachment implements Provider.
func (p *GroupProvider) OpenAttachment(att domain.OpenedAttachment, ciphertext []byte) ([]byte, error) {
	return p.engine.OpenAttachment(att, ciphertext)
}
