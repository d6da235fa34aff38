package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/pkg/logutil"
)

const defaultRequestTimeout = 10 * time.Second

// Config controls how the adapter reaches a NATS server
type Config struct {
	URL           string
	Embedded      bool
	JetStream     bool
	RetentionDays int
	// StoreDir holds JetStream files for the embedded server. A temporary
	// directory is used when empty.
	StoreDir string
}

// Adapter implements the MessagingPort interface using NATS
type Adapter struct {
	conn      *nats.Conn
	js        nats.JetStreamContext
	server    *natsserver.Server
	storeDir  string
	ownsStore bool
	subs      map[string]*nats.Subscription
	subsMutex sync.RWMutex
	logger    *logutil.Logger
}

// NewAdapter connects to NATS, starting an in-process server first when
// cfg.Embedded is set
func NewAdapter(cfg Config, logger *logutil.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logutil.NewDiscardLogger()
	}

	adapter := &Adapter{
		subs:   make(map[string]*nats.Subscription),
		logger: logger,
	}

	url := cfg.URL
	if cfg.Embedded {
		if err := adapter.startEmbedded(cfg); err != nil {
			return nil, err
		}
		url = adapter.server.ClientURL()
	}

	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(5*1024*1024),
		nats.Name("chatbae-messaging"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logutil.Fields{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", logutil.Fields{"url": nc.ConnectedUrl()})
		}),
	)
	if err != nil {
		adapter.shutdownEmbedded()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	adapter.conn = conn

	if cfg.JetStream {
		js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
		if err != nil {
			adapter.Close()
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}
		adapter.js = js

		if err := adapter.setupStreams(cfg.RetentionDays); err != nil {
			adapter.Close()
			return nil, fmt.Errorf("failed to setup JetStream streams: %w", err)
		}
	}

	return adapter, nil
}

func (a *Adapter) startEmbedded(cfg Config) error {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           natsserver.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		JetStream:      cfg.JetStream,
	}

	if cfg.JetStream {
		dir := cfg.StoreDir
		if dir == "" {
			tmp, err := os.MkdirTemp("", "chatbae-nats-*")
			if err != nil {
				return fmt.Errorf("failed to create JetStream store dir: %w", err)
			}
			dir = tmp
			a.ownsStore = true
		}
		opts.StoreDir = dir
		a.storeDir = dir
	}

	server, err := natsserver.NewServer(opts)
	if err != nil {
		a.removeStore()
		return fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		server.Shutdown()
		a.removeStore()
		return errors.New("embedded NATS server not ready")
	}

	a.server = server
	a.logger.Info("Embedded NATS server started", logutil.Fields{
		"url":       server.ClientURL(),
		"jetstream": cfg.JetStream,
	})
	return nil
}

func (a *Adapter) shutdownEmbedded() {
	if a.server != nil {
		a.server.Shutdown()
		a.server.WaitForShutdown()
		a.server = nil
	}
	a.removeStore()
}

func (a *Adapter) removeStore() {
	if a.ownsStore && a.storeDir != "" {
		os.RemoveAll(a.storeDir)
		a.storeDir = ""
	}
}

// setupStreams creates the JetStream streams that retain published events
func (a *Adapter) setupStreams(retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 7
	}

	streams := []struct {
		name     string
		subjects []string
	}{
		{name: "CONVERSATION_EVENTS", subjects: []string{"conversation.>"}},
		{name: "SESSION_EVENTS", subjects: []string{"session.>"}},
		{name: "SYSTEM_EVENTS", subjects: []string{"system.>"}},
	}

	for _, stream := range streams {
		cfg := &nats.StreamConfig{
			Name:        stream.name,
			Subjects:    stream.subjects,
			Retention:   nats.LimitsPolicy,
			MaxAge:      time.Duration(retentionDays) * 24 * time.Hour,
			MaxMsgs:     100000,
			MaxBytes:    256 * 1024 * 1024,
			Storage:     nats.FileStorage,
			Compression: nats.S2Compression,
		}

		info, err := a.js.StreamInfo(stream.name)
		switch {
		case errors.Is(err, nats.ErrStreamNotFound):
			if _, err := a.js.AddStream(cfg); err != nil {
				return fmt.Errorf("failed to create stream %s: %w", stream.name, err)
			}
		case err != nil:
			return fmt.Errorf("failed to get stream info for %s: %w", stream.name, err)
		case needsUpdate(info.Config, *cfg):
			if _, err := a.js.UpdateStream(cfg); err != nil {
				return fmt.Errorf("failed to update stream %s: %w", stream.name, err)
			}
		}
	}

	return nil
}

// needsUpdate checks if a stream configuration needs updating
func needsUpdate(existing, desired nats.StreamConfig) bool {
	return existing.MaxAge != desired.MaxAge ||
		existing.MaxMsgs != desired.MaxMsgs ||
		existing.MaxBytes != desired.MaxBytes ||
		existing.Compression != desired.Compression
}

// Publish sends a message to the specified subject. With JetStream enabled
// the call waits for the stream acknowledgement.
func (a *Adapter) Publish(ctx context.Context, subject string, data []byte) error {
	if a.js != nil {
		if _, err := a.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish to JetStream subject %s: %w", subject, err)
		}
		return nil
	}

	if err := a.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// PublishJSON publishes a JSON-serializable object to the subject
func (a *Adapter) PublishJSON(ctx context.Context, subject string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object for subject %s: %w", subject, err)
	}

	return a.Publish(ctx, subject, data)
}

// Subscribe listens for live messages on the specified subject. Subscribers
// see events as they are published; retained history stays in JetStream.
func (a *Adapter) Subscribe(ctx context.Context, subject string, handler ports.MessageHandler) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	if _, exists := a.subs[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	sub, err := a.conn.Subscribe(subject, a.wrap(ctx, handler, ""))
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	a.subs[subject] = sub
	return nil
}

// SubscribeQueue creates a queue subscription for load balancing
func (a *Adapter) SubscribeQueue(ctx context.Context, subject, queue string, handler ports.MessageHandler) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	key := fmt.Sprintf("%s:%s", subject, queue)
	if _, exists := a.subs[key]; exists {
		return fmt.Errorf("already subscribed to subject %s with queue %s", subject, queue)
	}

	sub, err := a.conn.QueueSubscribe(subject, queue, a.wrap(ctx, handler, queue))
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s with queue %s: %w", subject, queue, err)
	}

	a.subs[key] = sub
	return nil
}

func (a *Adapter) wrap(ctx context.Context, handler ports.MessageHandler, queue string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			fields := logutil.Fields{"subject": msg.Subject, "error": err.Error()}
			if queue != "" {
				fields["queue"] = queue
			}
			a.logger.Warn("Message handler failed", fields)
		}
	}
}

// Unsubscribe stops listening to a subject
func (a *Adapter) Unsubscribe(ctx context.Context, subject string) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	sub, exists := a.subs[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from subject %s: %w", subject, err)
	}

	delete(a.subs, subject)
	return nil
}

// Request sends a request and waits for a response. A zero timeout uses the
// default of ten seconds.
func (a *Adapter) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := a.conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to subject %s: %w", subject, err)
	}

	return msg.Data, nil
}

// Respond registers a handler that answers requests on subject
func (a *Adapter) Respond(subject string, fn func(data []byte) ([]byte, error)) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	if _, exists := a.subs[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	sub, err := a.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply, err := fn(msg.Data)
		if err != nil {
			a.logger.Warn("Request handler failed", logutil.Fields{"subject": msg.Subject, "error": err.Error()})
			reply = []byte(`{"error":` + fmt.Sprintf("%q", err.Error()) + `}`)
		}
		if err := msg.Respond(reply); err != nil {
			a.logger.Warn("Failed to send reply", logutil.Fields{"subject": msg.Subject, "error": err.Error()})
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	a.subs[subject] = sub
	return nil
}

// Close drains subscriptions, closes the connection and stops the embedded
// server if one was started
func (a *Adapter) Close() error {
	a.subsMutex.Lock()
	for subject, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			a.logger.Warn("Error unsubscribing", logutil.Fields{"subject": subject, "error": err.Error()})
		}
	}
	a.subs = make(map[string]*nats.Subscription)
	a.subsMutex.Unlock()

	if a.conn != nil {
		a.conn.Close()
	}
	a.shutdownEmbedded()

	return nil
}

// Ping checks messaging connectivity
func (a *Adapter) Ping() error {
	if a.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	if !a.conn.IsConnected() {
		return fmt.Errorf("NATS connection is not active")
	}

	rtt, err := a.conn.RTT()
	if err != nil {
		return fmt.Errorf("failed to get RTT: %w", err)
	}

	if rtt > 5*time.Second {
		return fmt.Errorf("high latency detected: %v", rtt)
	}

	return nil
}

// GetConnectionStatus returns detailed connection information
func (a *Adapter) GetConnectionStatus() map[string]interface{} {
	status := make(map[string]interface{})

	if a.conn == nil {
		status["connected"] = false
		status["error"] = "connection is nil"
		return status
	}

	status["connected"] = a.conn.IsConnected()
	status["url"] = a.conn.ConnectedUrl()
	status["embedded"] = a.server != nil
	status["jetstream_enabled"] = a.js != nil

	stats := a.conn.Stats()
	status["messages_in"] = stats.InMsgs
	status["messages_out"] = stats.OutMsgs
	status["bytes_in"] = stats.InBytes
	status["bytes_out"] = stats.OutBytes
	status["reconnects"] = stats.Reconnects

	a.subsMutex.RLock()
	status["active_subscriptions"] = len(a.subs)
	a.subsMutex.RUnlock()

	return status
}

// StreamMessageCount reports how many events a JetStream stream retains
func (a *Adapter) StreamMessageCount(name string) (uint64, error) {
	if a.js == nil {
		return 0, errors.New("JetStream is not enabled")
	}
	info, err := a.js.StreamInfo(name)
	if err != nil {
		return 0, fmt.Errorf("failed to get stream info for %s: %w", name, err)
	}
	return info.State.Msgs, nil
}

// FormatSubject fills a subject template such as "conversation.%s.updated"
func FormatSubject(template string, params ...interface{}) string {
	return fmt.Sprintf(template, params...)
}

// SubjectToken returns the i-th dot-separated token of subject, or "" when
// the subject is shorter
func SubjectToken(subject string, i int) string {
	parts := strings.Split(subject, ".")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}
