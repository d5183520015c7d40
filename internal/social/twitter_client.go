package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/STRATINT/tweetrelay/internal/models"
	"github.com/STRATINT/tweetrelay/internal/relay"
)

// Twitter API v2 only accepts max_results between 10 and 100.
const (
	minSearchResults = 10
	maxSearchResults = 100
)

// TwitterClient fetches recent posts through the Twitter API v2 recent search.
type TwitterClient struct {
	bearerToken string
	baseURL     string
	logger      *slog.Logger
	client      *http.Client
}

// NewTwitterClient creates a new Twitter client.
func NewTwitterClient(bearerToken, baseURL string, logger *slog.Logger) *TwitterClient {
	return &TwitterClient{
		bearerToken: bearerToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type twitterTweet struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	Attachments *struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments,omitempty"`
}

type twitterSearchResponse struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Media []models.MediaItem `json:"media"`
	} `json:"includes"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

// FetchRecent returns up to maxCount recent posts from account with the
// media they reference. Server errors and network failures are retryable;
// rate limiting and rejected credentials are not.
func (c *TwitterClient) FetchRecent(ctx context.Context, account string, maxCount int) (models.FetchResult, error) {
	username := strings.TrimPrefix(strings.TrimSpace(account), "@")
	if username == "" {
		return models.FetchResult{}, fmt.Errorf("twitter account is required")
	}
	if maxCount <= 0 {
		maxCount = 5
	}

	params := url.Values{}
	params.Set("query", "from:"+username)
	params.Set("max_results", strconv.Itoa(clampResults(maxCount)))
	params.Set("tweet.fields", "created_at,attachments")
	params.Set("expansions", "attachments.media_keys")
	params.Set("media.fields", "url,preview_image_url,type")

	endpoint := c.baseURL + "/2/tweets/search/recent?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.FetchResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	c.logger.Debug("fetching tweets", "username", username, "max_results", maxCount)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.FetchResult{}, err
		}
		return models.FetchResult{}, relay.NewRetryableError(fmt.Errorf("twitter request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("twitter API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 {
			return models.FetchResult{}, relay.NewRetryableError(apiErr)
		}
		return models.FetchResult{}, apiErr
	}

	var result twitterSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.FetchResult{}, fmt.Errorf("decode twitter response: %w", err)
	}

	posts := make([]models.FetchedPost, 0, len(result.Data))
	for _, tweet := range result.Data {
		if len(posts) == maxCount {
			break
		}
		post := models.FetchedPost{
			ID:        tweet.ID,
			Text:      tweet.Text,
			CreatedAt: tweet.CreatedAt,
		}
		if tweet.Attachments != nil {
			post.MediaKeys = tweet.Attachments.MediaKeys
		}
		posts = append(posts, post)
	}

	c.logger.Debug("fetched tweets", "username", username, "count", len(posts))

	return models.FetchResult{Posts: posts, Media: result.Includes.Media}, nil
}

func clampResults(n int) int {
	if n < minSearchResults {
		return minSearchResults
	}
	if n > maxSearchResults {
		return maxSearchResults
	}
	return n
}
