package models

import "time"

// FetchedPost is a post returned by the source for one cycle.
type FetchedPost struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	MediaKeys []string  `json:"media_keys,omitempty"`
}

// MediaItem describes media attached to fetched posts, joined by MediaKey.
type MediaItem struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url,omitempty"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
}

// PhotoURL returns the direct image url, falling back to the preview image
// for videos and animated gifs.
func (m MediaItem) PhotoURL() string {
	if m.URL != "" {
		return m.URL
	}
	return m.PreviewImageURL
}

// FetchResult is one source response: posts plus the media they reference.
type FetchResult struct {
	Posts []FetchedPost
	Media []MediaItem
}

// MediaFor returns the media items referenced by post, in attachment order.
// Keys without a matching item are skipped.
func (r FetchResult) MediaFor(post FetchedPost) []MediaItem {
	if len(post.MediaKeys) == 0 || len(r.Media) == 0 {
		return nil
	}
	byKey := make(map[string]MediaItem, len(r.Media))
	for _, m := range r.Media {
		byKey[m.MediaKey] = m
	}
	items := make([]MediaItem, 0, len(post.MediaKeys))
	for _, key := range post.MediaKeys {
		if m, ok := byKey[key]; ok {
			items = append(items, m)
		}
	}
	return items
}
