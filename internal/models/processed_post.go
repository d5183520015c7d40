package models

import "time"

// ProcessedPost records a post that has been relayed to the destination.
type ProcessedPost struct {
	PostID      string    `json:"tweetId"`
	Text        string    `json:"text"`
	URL         string    `json:"url"`
	ProcessedAt time.Time `json:"processedAt"`
}
