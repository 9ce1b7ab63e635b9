package mqtt

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/services"
)

// AnalysisTopicFormat is where batch verdicts are published back to the lab
const AnalysisTopicFormat = "extractlab/batches/%s/analysis"

// Client wraps the MQTT client with instrument result ingest
type Client struct {
	client       mqtt.Client
	parser       *services.ResultParser
	topics       []string
	resultFunc   func(*models.InstrumentResult)
	errorHandler func(error)
	connected    atomic.Bool
	logger       *logrus.Logger
}

// AnalysisSummary is the payload published after a batch is analyzed
type AnalysisSummary struct {
	BatchID          string             `json:"batch_id"`
	Grade            models.Grade       `json:"grade"`
	Status           models.BatchStatus `json:"status"`
	DegradationIndex float64            `json:"degradation_index"`
	Anomaly          bool               `json:"anomaly"`
}

// NewClient creates a new MQTT client for HPLC instruments
func NewClient(cfg config.MQTTConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(cfg.PingTimeout)
	opts.SetConnectRetry(cfg.ConnectRetry)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	c := &Client{
		parser: services.NewResultParser(),
		logger: logger,
	}
	for _, t := range []string{cfg.TopicResults, cfg.TopicResultsAll} {
		if t != "" {
			c.topics = append(c.topics, t)
		}
	}

	opts.SetDefaultPublishHandler(c.defaultMessageHandler)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	c.logger.Info("📡 Connecting to MQTT broker...")

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("✅ Successfully connected to MQTT broker")
	c.connected.Store(true)
	return nil
}

// Disconnect closes the MQTT connection
func (c *Client) Disconnect() {
	if c.connected.Swap(false) {
		c.client.Disconnect(250)
		c.logger.Info("Disconnected from MQTT broker")
	}
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// Topics returns the result topics this client subscribes to
func (c *Client) Topics() []string {
	return append([]string(nil), c.topics...)
}

// SubscribeToResults subscribes to instrument result topics
func (c *Client) SubscribeToResults() error {
	for _, topic := range c.topics {
		if token := c.client.Subscribe(topic, 1, c.resultHandler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
		}
		c.logger.WithField("topic", topic).Info("Subscribed to instrument results")
	}
	return nil
}

// SetResultHandler sets the callback for parsed instrument results
func (c *Client) SetResultHandler(handler func(*models.InstrumentResult)) {
	c.resultFunc = handler
}

// SetErrorHandler sets the callback function for errors
func (c *Client) SetErrorHandler(handler func(error)) {
	c.errorHandler = handler
}

// resultHandler processes incoming instrument result messages
func (c *Client) resultHandler(_ mqtt.Client, msg mqtt.Message) {
	log := c.logger.WithField("topic", msg.Topic())
	log.Debugf("Received instrument result: %s", msg.Payload())

	result, err := c.parser.Parse(msg.Payload(), services.InstrumentFromTopic(msg.Topic()))
	if err != nil {
		log.WithError(err).Warn("Failed to parse instrument result")
		if c.errorHandler != nil {
			c.errorHandler(fmt.Errorf("instrument result parsing failed: %w", err))
		}
		return
	}

	log.Info(c.parser.FormatResult(result))

	if c.resultFunc != nil {
		c.resultFunc(result)
	}
}

// defaultMessageHandler handles messages on unsubscribed topics
func (c *Client) defaultMessageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.logger.WithField("topic", msg.Topic()).Debug("Received message on unhandled topic")
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.logger.Info("MQTT client connected")
	c.connected.Store(true)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.WithError(err).Warn("MQTT connection lost")
	c.connected.Store(false)

	if c.errorHandler != nil {
		c.errorHandler(fmt.Errorf("MQTT connection lost: %w", err))
	}
}

// PublishAnalysis publishes a batch verdict for lab systems listening on MQTT
func (c *Client) PublishAnalysis(b *models.BatchRecord) error {
	payload, err := json.Marshal(AnalysisSummary{
		BatchID:          b.BatchID,
		Grade:            b.Grade,
		Status:           b.Status,
		DegradationIndex: b.Metrics.DegradationIndex,
		Anomaly:          b.Anomaly,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	topic := fmt.Sprintf(AnalysisTopicFormat, b.BatchID)
	if token := c.client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish analysis: %w", token.Error())
	}
	c.logger.WithField("topic", topic).Debug("Published batch analysis")
	return nil
}
