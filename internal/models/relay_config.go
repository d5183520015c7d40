package models

import (
	"errors"
	"time"
)

// Default relay settings used when the config store is first created.
const (
	DefaultTwitterAccount  = "unwomen"
	DefaultCheckInterval   = 15
	DefaultMessageTemplate = "📢 *New tweet from @unwomen*\n\n{tweet_text}\n\n🔗 [View on Twitter]({tweet_url})"
)

// ErrInvalidCheckInterval is returned when an interval is not a positive number of minutes.
var ErrInvalidCheckInterval = errors.New("check interval must be a positive number of minutes")

// RelayConfig is the single active relay configuration.
type RelayConfig struct {
	ID              int        `json:"id"`
	TwitterAccount  string     `json:"twitterAccount"`
	CheckInterval   int        `json:"checkInterval"` // minutes
	TelegramChannel string     `json:"telegramChannel"`
	MessageTemplate string     `json:"messageTemplate"`
	IncludeImages   bool       `json:"includeImages"`
	ServiceActive   bool       `json:"serviceActive"`
	LastCheck       *time.Time `json:"lastCheck"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// RelayConfigUpdate is a partial update; nil fields are left unchanged.
type RelayConfigUpdate struct {
	TwitterAccount  *string    `json:"twitterAccount,omitempty"`
	CheckInterval   *int       `json:"checkInterval,omitempty"`
	TelegramChannel *string    `json:"telegramChannel,omitempty"`
	MessageTemplate *string    `json:"messageTemplate,omitempty"`
	IncludeImages   *bool      `json:"includeImages,omitempty"`
	ServiceActive   *bool      `json:"serviceActive,omitempty"`
	LastCheck       *time.Time `json:"lastCheck,omitempty"`
}

// DefaultRelayConfig returns the configuration a fresh install starts with.
func DefaultRelayConfig(now time.Time) RelayConfig {
	return RelayConfig{
		ID:              1,
		TwitterAccount:  DefaultTwitterAccount,
		CheckInterval:   DefaultCheckInterval,
		MessageTemplate: DefaultMessageTemplate,
		IncludeImages:   true,
		ServiceActive:   true,
		LastCheck:       &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Validate checks the fields an update may set.
func (u RelayConfigUpdate) Validate() error {
	if u.CheckInterval != nil && *u.CheckInterval <= 0 {
		return ErrInvalidCheckInterval
	}
	return nil
}

// Apply merges the update into c and stamps UpdatedAt.
func (c *RelayConfig) Apply(u RelayConfigUpdate, now time.Time) {
	if u.TwitterAccount != nil {
		c.TwitterAccount = *u.TwitterAccount
	}
	if u.CheckInterval != nil {
		c.CheckInterval = *u.CheckInterval
	}
	if u.TelegramChannel != nil {
		c.TelegramChannel = *u.TelegramChannel
	}
	if u.MessageTemplate != nil {
		c.MessageTemplate = *u.MessageTemplate
	}
	if u.IncludeImages != nil {
		c.IncludeImages = *u.IncludeImages
	}
	if u.ServiceActive != nil {
		c.ServiceActive = *u.ServiceActive
	}
	if u.LastCheck != nil {
		t := *u.LastCheck
		c.LastCheck = &t
	}
	c.UpdatedAt = now
}

// NextCheckIn returns how long until the next scheduled check, or zero when
// the service is paused or has never checked.
func (c RelayConfig) NextCheckIn(now time.Time) time.Duration {
	if !c.ServiceActive || c.LastCheck == nil || c.CheckInterval <= 0 {
		return 0
	}
	next := c.LastCheck.Add(time.Duration(c.CheckInterval) * time.Minute)
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}
