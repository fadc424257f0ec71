package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tradepost/pkg/config"
	"github.com/angelmondragon/tradepost/pkg/logger"
)

// Client owns the Pub/Sub connection of the outbox publisher and keeps one
// long-lived publisher per topic so message batching and ordering survive
// across outbox batches.
type Client struct {
	client  *pubsub.Client
	project string
	topics  []string
	ordered bool

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("no pubsub topics configured")

	// ErrTopicMissing marks a configured topic that does not exist.
	ErrTopicMissing = errors.New("pubsub topic does not exist")
)

// NewClient connects to Pub/Sub and checks that every configured event topic
// exists. Extra options are appended after the credential options.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, extra ...option.ClientOption) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	topics := configuredTopics(cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	opts = append(opts, extra...)

	psClient, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		project:    project,
		topics:     topics,
		ordered:    cfg.OrderedDelivery,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"topics":  strings.Join(topics, ","),
		"ordered": c.ordered,
	}), "pubsub client initialized")
	return c, nil
}

// configuredTopics lists the distinct non-blank event topics. Order and
// settlement events may share a topic.
func configuredTopics(cfg config.PubSubConfig) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, name := range []string{cfg.OrdersTopic, cfg.SettlementTopic, cfg.NotificationTopic} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Ping checks every configured topic and reports all missing ones together.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	var err error
	for _, name := range c.topics {
		err = multierr.Append(err, c.checkTopic(ctx, name))
	}
	return err
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: topicResourceName(c.project, name),
	})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%w: %s", ErrTopicMissing, name)
	default:
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
}

// Ordered reports whether publishers deliver per ordering key in order.
func (c *Client) Ordered() bool {
	return c != nil && c.ordered
}

// Publisher returns the shared publisher for topic, creating it on first use.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := topicResourceName(c.project, topic)
	if name == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p
	}
	p := c.client.Publisher(name)
	p.EnableMessageOrdering = c.ordered
	c.publishers[name] = p
	return p
}

// Close flushes and stops every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
