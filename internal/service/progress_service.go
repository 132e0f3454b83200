package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-grader/internal/dto"
	"github.com/noah-isme/gema-exam-grader/internal/observability"
)

const progressBufferSize = 32

// ProgressService fans grading progress out to websocket subscribers, across
// every API node sharing the same redis channel or NATS subject.
type ProgressService interface {
	Publish(ctx context.Context, event dto.ProgressEvent)
	Subscribe(sessionID uint) (<-chan dto.ProgressEvent, func())
	Start(ctx context.Context)
}

type progressService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *progressBroker
	nodeID       string
}

type progressEnvelope struct {
	Source string            `json:"source"`
	Event  dto.ProgressEvent `json:"event"`
}

type progressBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.ProgressEvent]struct{}
}

// NewProgressService constructs a progress broker. Events are relayed over a
// single transport: NATS when connected, redis otherwise. With both nil events
// only reach subscribers of this process.
func NewProgressService(redisClient *redis.Client, natsConn *nats.Conn, subject string, logger zerolog.Logger) ProgressService {
	subject = strings.TrimSpace(subject)
	channel := ""
	if subject != "" {
		channel = strings.ReplaceAll(subject, ".", ":")
	}
	if natsConn != nil && subject != "" {
		redisClient = nil
	}

	return &progressService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "progress_service").Logger(),
		broker: &progressBroker{
			subscribers: make(map[uint]map[chan dto.ProgressEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *progressService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		s.consumeNATS(ctx)
	}
}

func (s *progressService) Publish(ctx context.Context, event dto.ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	observability.ProgressEvents().WithLabelValues(event.Type).Inc()
	s.broker.broadcast(event)

	if err := s.publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Uint("session_id", event.SessionID).Msg("failed to publish progress event")
	}
}

func (s *progressService) Subscribe(sessionID uint) (<-chan dto.ProgressEvent, func()) {
	channel := make(chan dto.ProgressEvent, progressBufferSize)

	s.broker.subscribe(sessionID, channel)
	observability.ProgressSubscribers().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(sessionID, channel)
			observability.ProgressSubscribers().Dec()
		})
	}

	return channel, cleanup
}

func (s *progressService) publish(ctx context.Context, event dto.ProgressEvent) error {
	payload, err := json.Marshal(progressEnvelope{Source: s.nodeID, Event: event})
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *progressService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("progress redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

// Every node needs every event, so this is a plain subscription rather than a
// queue group.
func (s *progressService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats progress subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain progress nats subscription")
		}
	}()
}

func (s *progressService) handleEvent(payload []byte) {
	var envelope progressEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid progress event payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.broker.broadcast(envelope.Event)
}

func (b *progressBroker) subscribe(sessionID uint, ch chan dto.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sessionID]; !exists {
		b.subscribers[sessionID] = make(map[chan dto.ProgressEvent]struct{})
	}
	b.subscribers[sessionID][ch] = struct{}{}
}

func (b *progressBroker) unsubscribe(sessionID uint, ch chan dto.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[sessionID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, sessionID)
		}
	}
}

// broadcast drops the event for subscribers whose buffer is full.
func (b *progressBroker) broadcast(event dto.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}
