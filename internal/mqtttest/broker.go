// Package mqtttest runs an in-process MQTT broker for tests.
package mqtttest

import (
	"fmt"
	"net"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// Broker is a running test broker.
type Broker struct {
	Server *mochi.Server
	// Addr is host:port of the TCP listener.
	Addr string
}

// URL returns a tcp:// URL for the broker, with credentials when user is set.
func (b *Broker) URL(user, password string) string {
	if user == "" {
		return "tcp://" + b.Addr
	}
	return fmt.Sprintf("tcp://%s:%s@%s", user, password, b.Addr)
}

// Start spins up a broker on a free localhost port that accepts any client.
// It is closed when the test ends.
func Start(t *testing.T) *Broker {
	t.Helper()
	return start(t, &auth.AllowHook{}, nil)
}

// StartWithAuth spins up a broker that only accepts user/password.
func StartWithAuth(t *testing.T, user, password string) *Broker {
	t.Helper()
	ledger := &auth.Ledger{
		Auth: auth.AuthRules{
			{
				Username: auth.RString(user),
				Password: auth.RString(password),
				Allow:    true,
			},
		},
	}
	return start(t, new(auth.Hook), &auth.Options{Ledger: ledger})
}

func start(t *testing.T, hook mochi.Hook, config any) *Broker {
	t.Helper()
	addr := freeAddr(t)

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(hook, config))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "test",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return &Broker{Server: server, Addr: addr}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
