package natsbus

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// RandomPort asks the embedded server to pick a free port.
const RandomPort = natsserver.RANDOM_PORT

// BusOptions configures an embedded server.
type BusOptions struct {
	Host string
	// Port to listen on; RandomPort picks a free one.
	Port         int
	ReadyTimeout time.Duration
}

// Bus is an embedded NATS server. It carries no persistence: agent traffic
// is plain request/reply.
type Bus struct {
	server *natsserver.Server
}

// New starts an embedded server and waits until it accepts connections.
func New(optFns ...func(o *BusOptions)) (*Bus, error) {
	opts := BusOptions{Host: "127.0.0.1", Port: RandomPort, ReadyTimeout: 5 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   opts.Host,
		Port:   opts.Port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(opts.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{server: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Close shuts the server down and waits for it to stop.
func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
