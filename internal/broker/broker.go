// Package broker implements a durable AMQP alert publisher that maintains
// one connection/channel pair, reconnecting lazily on the next Publish
// after a failure rather than eagerly retrying in a loop.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeType selects the AMQP exchange topology.
type ExchangeType string

const (
	ExchangeTopic  ExchangeType = "topic"
	ExchangeDirect ExchangeType = "direct"
)

// Config configures the durable exchange/queue/binding this publisher
// declares on (re)connect.
type Config struct {
	Enabled bool

	Host     string
	Port     int
	VHost    string
	User     string
	Password string

	ExchangeName string
	ExchangeType ExchangeType
	QueueName    string
	RoutingKey   string // used verbatim in direct mode
}

func (c Config) url() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, vhostPath(c.VHost))
}

func vhostPath(vhost string) string {
	if vhost == "" || vhost == "/" {
		return "/"
	}
	if strings.HasPrefix(vhost, "/") {
		return vhost
	}
	return "/" + vhost
}

// AlertEnvelope is the JSON wire format published to the broker.
type AlertEnvelope struct {
	AlertID      uint    `json:"alert_id"`
	SourceID     uint    `json:"source_id"`
	SourceName   string  `json:"source_name"`
	SourceCode   string  `json:"source_code"`
	WorkflowID   *uint   `json:"workflow_id"`
	WorkflowName *string `json:"workflow_name"`

	AlertTime    string `json:"alert_time"` // ISO-8601
	AlertType    string `json:"alert_type"`
	AlertLevel   string `json:"alert_level"`
	AlertMessage string `json:"alert_message"`

	AlertImage    string `json:"alert_image"`
	AlertImageOri string `json:"alert_image_ori"`
	AlertVideo    string `json:"alert_video"`

	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source"`
}

// Publisher is a durable single-connection AMQP publisher. Disabled mode
// (Config.Enabled == false) makes every Publish a no-op returning false.
type Publisher struct {
	cfg Config

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	healthy bool
}

// New constructs a Publisher. It does not dial; the first Publish call
// establishes the connection.
func New(cfg Config) *Publisher {
	return &Publisher{cfg: cfg}
}

// ensureConnected dials and declares the exchange/queue/binding if the
// publisher is not already connected and healthy.
func (p *Publisher) ensureConnected() error {
	if p.healthy && p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	p.closeLocked()

	conn, err := amqp.Dial(p.cfg.url())
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.cfg.ExchangeName,
		string(p.cfg.ExchangeType),
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker: declare exchange: %w", err)
	}

	if p.cfg.QueueName != "" {
		q, err := ch.QueueDeclare(p.cfg.QueueName, true, false, false, false, nil)
		if err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("broker: declare queue: %w", err)
		}
		bindingKey := p.cfg.RoutingKey
		if p.cfg.ExchangeType == ExchangeTopic {
			bindingKey = "video.alert.#"
		}
		if err := ch.QueueBind(q.Name, bindingKey, p.cfg.ExchangeName, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("broker: bind queue: %w", err)
		}
	}

	p.conn = conn
	p.channel = ch
	p.healthy = true
	log.Printf("[broker] connected to %s:%d exchange=%s type=%s", p.cfg.Host, p.cfg.Port, p.cfg.ExchangeName, p.cfg.ExchangeType)
	return nil
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.healthy = false
}

// routingKey derives the routing key for an envelope: topic mode uses
// "video.alert.{alert_type lowercased}", direct mode uses the configured
// key verbatim.
func (p *Publisher) routingKey(env AlertEnvelope) string {
	if p.cfg.ExchangeType == ExchangeDirect {
		return p.cfg.RoutingKey
	}
	return "video.alert." + strings.ToLower(env.AlertType)
}

// Publish serializes env as UTF-8 JSON and publishes it with persistent
// delivery mode and content type application/json. Returns false without
// error in disabled mode, and false with the error logged (not
// propagated: broker failure is non-fatal) on any connection/publish
// failure; the alert row is still persisted by the caller regardless of
// this return value.
func (p *Publisher) Publish(env AlertEnvelope) bool {
	if !p.cfg.Enabled {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(); err != nil {
		log.Printf("[broker] publish failed, connection unhealthy: %v", err)
		return false
	}

	body, err := json.Marshal(env)
	if err != nil {
		log.Printf("[broker] marshal envelope: %v", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(ctx,
		p.cfg.ExchangeName,
		p.routingKey(env),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		log.Printf("[broker] publish error, marking unhealthy: %v", err)
		p.healthy = false
		return false
	}
	return true
}

// Close releases the connection; safe to call even if never connected.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
