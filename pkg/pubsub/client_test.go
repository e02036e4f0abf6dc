package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/orderdesk/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		name, project, kind, in, want string
	}{
		{"short topic", "proj", "topics", "orders", "projects/proj/topics/orders"},
		{"short subscription", "proj", "subscriptions", " notifier ", "projects/proj/subscriptions/notifier"},
		{"qualified", "other", "topics", "projects/proj/topics/orders", "projects/proj/topics/orders"},
		{"wrong kind is expanded", "proj", "subscriptions", "projects/proj/topics/orders", "projects/proj/subscriptions/projects/proj/topics/orders"},
		{"empty", "proj", "topics", "", ""},
		{"missing project", "", "topics", "orders", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResourceName(tc.project, tc.kind, tc.in))
		})
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("orders"))
	assert.Nil(t, c.NotificationSubscription())
	assert.Nil(t, c.AnalyticsSubscription())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	assert.NoError(t, c.Close())
}
