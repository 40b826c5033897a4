package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on a watched topic.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Trigger starts a sync cycle without waiting for it.
type Trigger interface {
	TriggerNow()
}

// Service listens on a Pub/Sub subscription and turns mailbox change
// notifications into immediate sync cycles.
type Service struct {
	pubsubClient *pubsub.Client
	trigger      Trigger
	logger       *zap.Logger
	topicName    string
	subName      string

	mu sync.Mutex
	// Deduplication: last historyId per mailbox
	lastHistoryID map[string]uint64
}

func NewService(ctx context.Context, projectID, topicName, credentialsFile string, trigger Trigger, logger *zap.Logger) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	s := newService(topicName, trigger, logger)
	s.pubsubClient = client
	return s, nil
}

func newService(topicName string, trigger Trigger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		trigger:       trigger,
		logger:        logger.Named("pubsub"),
		topicName:     topicName,
		subName:       topicName + "-sub", // Convention: topic-sub
		lastHistoryID: make(map[string]uint64),
	}
}

// TopicPath is the fully qualified topic name Gmail watch requests need.
func (s *Service) TopicPath() string {
	if strings.HasPrefix(s.topicName, "projects/") {
		return s.topicName
	}
	return s.pubsubClient.Topic(s.topicName).String()
}

// Start blocks receiving messages until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting notification listener", zap.String("topic", s.topicName), zap.String("subscription", s.subName))

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleData(msg.Data)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist, cannot create subscription", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", s.subName, err)
	}
	s.logger.Info("Created subscription", zap.String("subscription", s.subName))
	return sub, nil
}

// handleData reports whether the notification triggered a sync.
func (s *Service) handleData(data []byte) bool {
	var notification GmailNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		s.logger.Warn("Failed to unmarshal notification", zap.Error(err))
		return false
	}

	s.mu.Lock()
	last, seen := s.lastHistoryID[notification.EmailAddress]
	if seen && notification.HistoryID <= last {
		s.mu.Unlock()
		s.logger.Debug("Skipping duplicate notification",
			zap.String("email", notification.EmailAddress),
			zap.Uint64("history_id", notification.HistoryID),
		)
		return false
	}
	s.lastHistoryID[notification.EmailAddress] = notification.HistoryID
	s.mu.Unlock()

	s.logger.Info("Mailbox changed, triggering sync",
		zap.String("email", notification.EmailAddress),
		zap.Uint64("history_id", notification.HistoryID),
	)
	s.trigger.TriggerNow()
	return true
}

func (s *Service) Close() error {
	if s.pubsubClient == nil {
		return nil
	}
	return s.pubsubClient.Close()
}
