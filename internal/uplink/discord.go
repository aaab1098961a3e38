package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bit2swaz/relaymesh/internal/relay"
)

const commandPrefix = "/uplink"

// Service forwards inbound deliveries that start with /uplink to a Discord
// webhook.
type Service struct {
	WebhookURL string
	client     *http.Client
}

func NewService(url string) *Service {
	return &Service{
		WebhookURL: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start consumes deliveries until ctx is done or the channel closes.
func (s *Service) Start(ctx context.Context, deliveries <-chan relay.Delivery) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if _, err := s.Forward(ctx, d); err != nil {
					slog.Error("Failed to send uplink request", "id", d.Message.ID, "error", err)
				}
			}
		}
	}()
}

// Forward posts d to the webhook when it is an inbound /uplink command. It
// reports whether anything was sent.
func (s *Service) Forward(ctx context.Context, d relay.Delivery) (bool, error) {
	if d.Route != relay.RouteInbound || !strings.HasPrefix(d.Message.Content, commandPrefix) {
		return false, nil
	}
	content := strings.TrimSpace(strings.TrimPrefix(d.Message.Content, commandPrefix))

	hops := "direct"
	if len(d.RelayPath) > 0 {
		hops = strings.Join(d.RelayPath, " -> ")
	}
	discordMsg := fmt.Sprintf("📡 **[MESH RELAY]**\n**From:** %s\n**Message:** %s\n**Path:** %s",
		d.Message.SenderID,
		content,
		hops,
	)

	jsonPayload, err := json.Marshal(map[string]string{"content": discordMsg})
	if err != nil {
		return false, fmt.Errorf("failed to marshal uplink payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonPayload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("uplink returned status %s", resp.Status)
	}
	slog.Info("Relayed to cloud", "id", d.Message.ID)
	return true, nil
}
