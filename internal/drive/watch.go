package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type watchRequest struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

type watchResponse struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Expiration int64  `json:"expiration,string"`
}

// RegisterWatch registers a webhook change-notification channel for a
// folder. channelID must be unique per registration; address is the
// HTTPS endpoint the provider will call. Provisioning treats failures
// here as best-effort — notifications are an optimization, not a
// correctness requirement.
func (c *Client) RegisterWatch(ctx context.Context, folderID, channelID, address string) (*WatchChannel, error) {
	payload, err := json.Marshal(watchRequest{
		ID:      channelID,
		Type:    "web_hook",
		Address: address,
	})
	if err != nil {
		return nil, fmt.Errorf("drive: encoding watch request: %w", err)
	}

	path := "/files/" + url.PathEscape(folderID) + "/watch"

	resp, err := c.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res watchResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("drive: decoding watch response: %w", err)
	}

	return &WatchChannel{
		ChannelID:  res.ID,
		ResourceID: res.ResourceID,
		Expiration: res.Expiration,
	}, nil
}
