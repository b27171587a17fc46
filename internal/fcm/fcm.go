// Package fcm wraps Firebase Cloud Messaging push delivery — the Push
// Engine's fallback path when no session acks a forward-stream request
// before its TTL.
package fcm

import (
	"context"
	"encoding/base64"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Client sends data-only notifications to a registered device token.
type Client struct {
	messaging *messaging.Client
}

// NewClient builds an FCM client from a service-account credentials
// file. Returns (nil, nil) when credentialsFile is empty — the caller
// treats a nil Client as "FCM unconfigured".
func NewClient(ctx context.Context, credentialsFile, projectID string) (*Client, error) {
	if credentialsFile == "" {
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	m, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: init messaging client: %w", err)
	}
	return &Client{messaging: m}, nil
}

// Notify sends a data-only message carrying payload to deviceToken,
// waking a backgrounded edge device so it can reconnect and pick up its
// queue. Returns the provider message id on success.
func (c *Client) Notify(ctx context.Context, deviceToken string, payload []byte) (string, error) {
	if c == nil {
		return "", fmt.Errorf("fcm: client not configured")
	}

	msg := &messaging.Message{
		Token: deviceToken,
		Data: map[string]string{
			"payload": base64.StdEncoding.EncodeToString(payload),
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}

	id, err := c.messaging.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("fcm: send: %w", err)
	}
	return id, nil
}
