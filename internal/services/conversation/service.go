package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sealroom/internal/domain"
	"sealroom/internal/logging"
	"sealroom/internal/services/group"
)

const (
	modePrefix   = "conversation-mode/"
	cursorPrefix = "cursor/"
)

// Service sends and receives conversation messages.
type Service struct {
	settings  domain.SettingStore
	delivery  domain.Delivery
	dir       domain.Directory
	groups    *group.Engine
	providers map[domain.ConversationMode]Provider
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithProvider registers p for its mode.
func WithProvider(p Provider) Option {
	return func(s *Service) { s.providers[p.Mode()] = p }
}

// WithGroups enables group conversations backed by e.
func WithGroups(e *group.Engine) Option { return func(s *Service) { s.groups = e } }

// WithDirectory sets the directory used to publish devices and claim key
// packages.
func WithDirectory(d domain.Directory) Option { return func(s *Service) { s.dir = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a conversation service. A group provider is registered
// automatically when WithGroups is given.
func New(settings domain.SettingStore, delivery domain.Delivery, opts ...Option) *Service {
	s := &Service{
		settings:  settings,
		delivery:  delivery,
		providers: make(map[domain.ConversationMode]Provider),
		log:       logging.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.providers[domain.ModeGroup]; !ok && s.groups != nil {
		s.providers[domain.ModeGroup] = NewGroupProvider(s.groups, s.log)
	}
	return s
}

func (s *Service) provider(mode domain.ConversationMode) (Provider, error) {
	p, ok := s.providers[mode]
	if !ok {
		return nil, domain.Invalid("mode", fmt.Sprintf("no provider for %q", mode))
	}
	return p, nil
}

// SetMode records which provider conversation id uses.
func (s *Service) SetMode(ctx context.Context, id domain.ConversationID, mode domain.ConversationMode) error {
	if id == "" {
		return domain.Invalid("conversation", "id must not be empty")
	}
	if _, err := s.provider(mode); err != nil {
		return err
	}
	return s.settings.StoreSetting(ctx, modePrefix+string(id), []byte(mode))
}

// Mode returns the mode of id. Conversations without a recorded mode use
// envelope encryption.
func (s *Service) Mode(ctx context.Context, id domain.ConversationID) (domain.ConversationMode, error) {
	b, err := s.settings.GetSetting(ctx, modePrefix+string(id))
	switch {
	case err == nil:
		return domain.ConversationMode(b), nil
	case errors.Is(err, domain.ErrNotFound):
		return domain.ModeEnvelope, nil
	default:
		return "", err
	}
}

// rememberMode records mode for id unless one is already set, so a device
// that joined a group by receiving its welcome replies in group mode.
func (s *Service) rememberMode(ctx context.Context, id domain.ConversationID, mode domain.ConversationMode) error {
	_, err := s.settings.GetSetting(ctx, modePrefix+string(id))
	if errors.Is(err, domain.ErrNotFound) {
		return s.settings.StoreSetting(ctx, modePrefix+string(id), []byte(mode))
	}
	return err
}

// Send seals out with the conversation's provider and posts it. It returns
// the sequence number assigned by the delivery collaborator.
func (s *Service) Send(ctx context.Context, id domain.ConversationID, out Outgoing, me *domain.UnlockedKeyHandle) (uint64, error) {
	mode, err := s.Mode(ctx, id)
	if err != nil {
		return 0, err
	}
	p, err := s.provider(mode)
	if err != nil {
		return 0, err
	}
	pl, epoch, err := p.Seal(ctx, id, out, me)
	if err != nil {
		return 0, err
	}
	return s.post(ctx, id, epoch, pl)
}

func (s *Service) post(ctx context.Context, id domain.ConversationID, epoch uint64, pl domain.Payload) (uint64, error) {
	blob, err := json.Marshal(pl)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	seq, err := s.delivery.Post(ctx, string(id), epoch, blob, uuid.NewString())
	if err != nil {
		return 0, fmt.Errorf("post to %q: %w", id, err)
	}
	s.log.Debug("posted", "conversation", string(id), "mode", string(pl.Mode), "seq", seq)
	return seq, nil
}

// Receive fetches and opens everything after the stored cursor. Messages
// that can never be opened on this device are skipped; any other failure
// stops the batch, and the cursor only moves past handled deliveries.
func (s *Service) Receive(ctx context.Context, id domain.ConversationID, me *domain.UnlockedKeyHandle) ([]Message, error) {
	if me == nil {
		return nil, domain.Invalid("handle", "required")
	}
	after, err := s.Cursor(ctx, id)
	if err != nil {
		return nil, err
	}
	batch, err := s.delivery.Fetch(ctx, string(id), after)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", id, err)
	}

	var out []Message
	cts := make(map[string][][]byte)
	last := after
	for _, d := range batch {
		msgs, err := s.handle(ctx, id, d, me, cts)
		out = append(out, msgs...)
		if err != nil {
			if !permanent(err) {
				if serr := s.setCursor(ctx, id, last, after); serr != nil {
					s.log.Warn("save cursor", "conversation", string(id), "err", serr)
				}
				return out, fmt.Errorf("seq %d: %w", d.Seq, err)
			}
			s.log.Warn("skipping message", "conversation", string(id), "seq", d.Seq, "err", err)
		}
		last = d.Seq
	}
	return out, s.setCursor(ctx, id, last, after)
}

func (s *Service) handle(ctx context.Context, id domain.ConversationID, d domain.Delivered, me *domain.UnlockedKeyHandle, cts map[string][][]byte) ([]Message, error) {
	var pl domain.Payload
	if err := json.Unmarshal(d.Blob, &pl); err != nil {
		return nil, domain.Invalid("payload", "not a payload")
	}
	p, err := s.provider(pl.Mode)
	if err != nil {
		return nil, err
	}
	atts := pl.Attachments
	if pl.Sealed != nil {
		atts = append(atts, pl.Sealed.Attachments...)
	}
	for _, a := range atts {
		cts[a.Name] = append(cts[a.Name], a.Ciphertext)
	}

	msgs, err := p.Open(ctx, id, pl, me)
	for i := range msgs {
		msgs[i].Seq = d.Seq
		msgs[i].Files = s.openFiles(p, msgs[i].Attachments, cts)
	}
	if err != nil {
		return msgs, err
	}
	if err := s.rememberMode(ctx, id, pl.Mode); err != nil {
		return msgs, err
	}
	return msgs, nil
}

// openFiles decrypts every attachment whose ciphertext was seen in the
// current batch. The digest check inside OpenAttachment picks the right
// ciphertext when names repeat.
func (s *Service) openFiles(p Provider, atts []domain.OpenedAttachment, cts map[string][][]byte) []File {
	var files []File
	for _, att := range atts {
		var found bool
		for _, ct := range cts[att.Name] {
			data, err := p.OpenAttachment(att, ct)
			if err != nil {
				continue
			}
			files = append(files, File{Name: att.Name, MIME: att.MIME, Data: data})
			found = true
			break
		}
		if !found {
			s.log.Warn("attachment ciphertext unavailable", "name", att.Name)
		}
	}
	return files
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrCrypto) ||
		errors.Is(err, domain.ErrNotFound)
}

// Cursor returns the last handled sequence number of id.
func (s *Service) Cursor(ctx context.Context, id domain.ConversationID) (uint64, error) {
	b, err := s.settings.GetSetting(ctx, cursorPrefix+string(id))
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, &domain.CorruptionError{Kind: "cursor", ID: string(id), Message: "not a number"}
	}
	return n, nil
}

func (s *Service) setCursor(ctx context.Context, id domain.ConversationID, seq, prev uint64) error {
	if seq == prev {
		return nil
	}
	return s.settings.StoreSetting(ctx, cursorPrefix+string(id), []byte(strconv.FormatUint(seq, 10)))
}
