package service

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
)

const subscriberBuffer = 32

// SignalService fans refill progress out over redis pub/sub, or in process when
// no redis client is configured.
type SignalService struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[string]map[chan domain.RefillEvent]struct{}
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb:  redisClient,
		subs: map[string]map[chan domain.RefillEvent]struct{}{},
	}
}

func channelName(userID string) string {
	return "ortto-dashboard:refill:" + userID
}

func (s *SignalService) Publish(ctx context.Context, event domain.RefillEvent) error {
	if s.rdb == nil {
		s.fanout(event)
		return nil
	}

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, channelName(event.UserID), jsonstr).Err()
}

// Subscribe streams the refill events of userID until cancel is called or ctx ends.
func (s *SignalService) Subscribe(ctx context.Context, userID string) (<-chan domain.RefillEvent, func()) {
	if s.rdb == nil {
		return s.subscribeLocal(ctx, userID)
	}

	pubsub := s.rdb.Subscribe(ctx, channelName(userID))
	out := make(chan domain.RefillEvent, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event domain.RefillEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logging.Warn().Str("module", "signal").Err(err).Msg("malformed refill event")
				continue
			}
			select {
			case out <- event:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = pubsub.Close() })
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return out, cancel
}

func (s *SignalService) subscribeLocal(ctx context.Context, userID string) (<-chan domain.RefillEvent, func()) {
	ch := make(chan domain.RefillEvent, subscriberBuffer)
	s.mu.Lock()
	if s.subs[userID] == nil {
		s.subs[userID] = map[chan domain.RefillEvent]struct{}{}
	}
	s.subs[userID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[userID], ch)
			if len(s.subs[userID]) == 0 {
				delete(s.subs, userID)
			}
			close(ch)
			s.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

// fanout drops events for subscribers that fall behind.
func (s *SignalService) fanout(event domain.RefillEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}
