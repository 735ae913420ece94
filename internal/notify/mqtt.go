package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"smarthouse-data/internal/config"
	"smarthouse-data/internal/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessagePublisher MQTTPublisher 依赖的最小接口
type MessagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTClient paho 客户端封装
type MQTTClient struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewMQTTClient 连接 Broker
func NewMQTTClient(cfg *config.MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &MQTTClient{client: client, logger: logger}, nil
}

// Publish 发布消息
func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect 断开连接
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// MQTTPublisher 通知发布到 <topic>/<recipientId>
type MQTTPublisher struct {
	client MessagePublisher
	topic  string
	qos    byte
}

// NewMQTTPublisher 创建发布器
func NewMQTTPublisher(client MessagePublisher, topic string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: strings.TrimRight(topic, "/"), qos: qos}
}

func (p *MQTTPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	recipient := n.RecipientID
	if recipient == "" {
		recipient = domain.RecipientBroadcast
	}
	return p.client.Publish(p.topic+"/"+recipient, p.qos, false, payload)
}
