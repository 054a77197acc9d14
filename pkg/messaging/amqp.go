package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Publisher is the queue surface the processing pipeline depends on. The
// pipeline only ever publishes analysis triggers; delivery guarantees come
// from the job outbox, not from the broker.
type Publisher interface {
	PublishAnalysisJob(jobID, callID string) error
	IsConnected() bool
}

// AnalysisJobMessage is the payload published for each analysis trigger
type AnalysisJobMessage struct {
	JobID     string    `json:"job_id"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Durable      bool
	AutoDelete   bool
}

// AMQPClient handles AMQP connections and message publishing
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	config.Durable = true
	config.AutoDelete = false

	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Dial in a goroutine so a hung broker cannot block startup
	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		c.config.AutoDelete,
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	if err := channel.Qos(10, 0, false); err != nil {
		c.logger.WithError(err).Warn("Failed to set QoS on AMQP channel, continuing anyway")
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})

	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishAnalysisJob publishes an analysis trigger. A failed publish is not
// fatal: the job row stays pending and the reconciliation sweep retries it.
func (c *AMQPClient) PublishAnalysisJob(jobID, callID string) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"call_id": callID,
				"recover": r,
			}).Error("Recovered from panic in AMQP PublishAnalysisJob")
		}
	}()

	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	message := AnalysisJobMessage{
		JobID:     jobID,
		CallID:    callID,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis job message: %w", err)
	}

	err = c.channel.Publish(
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // Mandatory
		false, // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			// Expire stale triggers, the outbox sweep republishes as needed
			Expiration: "43200000", // 12 hours in milliseconds
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish analysis job to AMQP: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"call_id": callID,
	}).Debug("Published analysis job to AMQP")
	return nil
}

// monitorConnection watches for a closed connection and reconnects with backoff
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				c.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")

				err := c.Connect()
				if err == nil {
					c.logger.Info("Successfully reconnected to AMQP server")
					return
				}
				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

				delay := time.Duration(1<<uint(attempt-1)) * time.Second
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				time.Sleep(delay)
			}
			return
		}
	}
}

// NoopPublisher satisfies Publisher when messaging is disabled. Analysis jobs
// then run straight off the outbox sweep.
type NoopPublisher struct{}

func (NoopPublisher) PublishAnalysisJob(jobID, callID string) error { return nil }
func (NoopPublisher) IsConnected() bool                             { return false }
