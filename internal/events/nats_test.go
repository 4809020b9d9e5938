package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/whitelist-warden/internal/domain"
)

func runNATS(t *testing.T) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSSinkPublishesOnTypedSubject(t *testing.T) {
	srv := runNATS(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("warden.events.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sink, err := ConnectNATS(srv.ClientURL(), "warden.events", nil)
	require.NoError(t, err)
	defer sink.Close()

	sink.Publish(domain.Event{
		Type:      domain.EventRegistrationCompleted,
		Timestamp: time.Now().UTC(),
		Data:      domain.RegistrationEvent{RequesterID: "alice", CanonicalName: "Steve123"},
	})

	select {
	case msg := <-msgs:
		assert.Equal(t, "warden.events.registration_completed", msg.Subject)
		var got struct {
			Event string                   `json:"event"`
			Data  domain.RegistrationEvent `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, domain.EventRegistrationCompleted, got.Event)
		assert.Equal(t, "Steve123", got.Data.CanonicalName)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestConnectNATSFails(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "x", nil)
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "server_update", (&NATSSink{}).Subject("server_update"))
	assert.Equal(t, "p.server_update", (&NATSSink{prefix: "p"}).Subject("server_update"))
}
