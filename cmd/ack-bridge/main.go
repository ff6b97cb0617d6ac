// Package main provides the acknowledgment bridge service entry point.
// Consumes alert acknowledgments from external channels (pager and
// messaging integrations publish to alerts.acks) and forwards them to
// the medsafe API so escalation re-fires stop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/medsafe/internal/infrastructure/redpanda"
	"github.com/carebridge/medsafe/internal/observability/metrics"
)

// AckMessage is the payload published on alerts.acks
type AckMessage struct {
	AlertID string `json:"alert_id"`
	Actor   string `json:"actor"`
	Channel string `json:"channel,omitempty"`
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	apiBase := os.Getenv("MEDSAFE_API_URL")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		apiKey = "demo-api-key-12345"
	}

	client := &http.Client{Timeout: 10 * time.Second}

	m := metrics.New()
	go serveMetrics(logger)

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers
	consumerCfg.GroupID = "medsafe-ack-bridge"
	consumerCfg.Topics = []string{redpanda.TopicAlertAcks}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		m.KafkaMessagesConsumed.Inc()
		return forwardAck(ctx, client, apiBase, apiKey, msg, logger)
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("ack bridge started", zap.Strings("brokers", brokers), zap.String("api", apiBase))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	logger.Info("ack bridge stopped")
}

// serveMetrics exposes /metrics on its own listener; the bridge has no
// other HTTP surface.
func serveMetrics(logger *zap.Logger) {
	port := os.Getenv("METRICS_PORT")
	if port == "" {
		port = "9093"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}

// forwardAck posts the acknowledgment to the API. A non-2xx response
// other than 404 is returned as an error so the offset is not
// committed and the message is retried.
func forwardAck(ctx context.Context, client *http.Client, apiBase, apiKey string, msg *redpanda.ConsumedMessage, logger *zap.Logger) error {
	var ack AckMessage
	if err := json.Unmarshal(msg.Value, &ack); err != nil {
		logger.Warn("malformed ack message, skipping",
			zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if ack.AlertID == "" || ack.Actor == "" {
		logger.Warn("incomplete ack message, skipping", zap.Int64("offset", msg.Offset))
		return nil
	}

	url := fmt.Sprintf("%s/api/v1/alerts/%s/acknowledge", apiBase, ack.AlertID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("X-Staff-ID", ack.Actor)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		logger.Info("acknowledgment forwarded",
			zap.String("alert_id", ack.AlertID),
			zap.String("actor", ack.Actor),
			zap.String("channel", ack.Channel))
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// The alert is gone; retrying will never succeed.
		logger.Warn("acknowledged alert not found", zap.String("alert_id", ack.AlertID))
		return nil
	default:
		return fmt.Errorf("api returned %d for alert %s", resp.StatusCode, ack.AlertID)
	}
}
