package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/protocol"
)

const recorderWriteTimeout = 2 * time.Second

// Recorder mirrors pipeline events from the bus into the store so past
// sessions can be replayed after the fact. Events without a session id,
// such as wake suspension notices, are skipped.
type Recorder struct {
	store    *Store
	bus      *bus.Client
	subjects []string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
}

func NewRecorder(parent context.Context, store *Store, busClient *bus.Client, subjects []string, logger *slog.Logger) *Recorder {
	ctx, cancel := context.WithCancel(parent)
	return &Recorder{
		store:    store,
		bus:      busClient,
		subjects: subjects,
		logger:   logger.With(slog.String("component", "recorder")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (r *Recorder) Start() error {
	if r.store == nil || !r.store.Persistent() {
		return nil
	}
	for _, subject := range r.subjects {
		sub, err := r.bus.Conn().Subscribe(subject, r.handle)
		if err != nil {
			r.drain()
			return err
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *Recorder) Close() {
	r.cancel()
	r.drain()
}

func (r *Recorder) Healthy() bool {
	if r.store == nil || !r.store.Persistent() {
		return true
	}
	return len(r.subs) == len(r.subjects)
}

func (r *Recorder) drain() {
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
}

func (r *Recorder) handle(msg *nats.Msg) {
	var meta struct {
		SessionID string `json:"session_id"`
		TurnID    string `json:"turn_id"`
		Keyword   string `json:"keyword"`
	}
	if err := json.Unmarshal(msg.Data, &meta); err != nil {
		r.logger.Warn("failed to decode bus event", slog.String("subject", msg.Subject), slogError(err))
		return
	}
	if meta.SessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, recorderWriteTimeout)
	defer cancel()

	keyword := ""
	if msg.Subject == protocol.SubjectWakeDetected {
		keyword = meta.Keyword
	}
	if err := r.store.AppendSession(ctx, meta.SessionID, keyword); err != nil {
		r.logger.Warn("failed to record session", slog.String("session_id", meta.SessionID), slogError(err))
		return
	}
	if err := r.store.AppendEvent(ctx, Event{
		SessionID: meta.SessionID,
		TurnID:    meta.TurnID,
		Type:      msg.Subject,
		Payload:   msg.Data,
	}); err != nil {
		r.logger.Warn("failed to record event", slog.String("subject", msg.Subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
