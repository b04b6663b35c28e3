package persistence

import (
	"context"
	"encoding/json"
)

// PHRepo captures product analytics events in PostHog. A repo without an
// api key drops events.
type PHRepo struct {
	BaseHeaders []string
	Url         string
	ApiKey      string
}

type phEvent struct {
	ApiKey     string         `json:"api_key"`
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

func (r PHRepo) Capture(ctx context.Context, eventType string, distinctId string, props map[string]any) error {
	if r.ApiKey == "" {
		return nil
	}

	properties := map[string]any{"distinct_id": distinctId}
	for k, v := range props {
		properties[k] = v
	}

	body, err := json.Marshal(phEvent{ApiKey: r.ApiKey, Event: eventType, Properties: properties})

	if err != nil {
		return err
	}

	_, err = requestRaw(ctx, reqConfig{Method: "POST", Url: r.Url, Headers: withJSON(r.BaseHeaders), Body: body}, 200)

	if err != nil {
		return err
	}

	return nil
}
