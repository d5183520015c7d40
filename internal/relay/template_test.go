package relay

import "testing"

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		text     string
		url      string
		expected string
	}{
		{
			name:     "both placeholders",
			template: "A {tweet_text} B {tweet_url} C",
			text:     "hello",
			url:      "http://x/1",
			expected: "A hello B http://x/1 C",
		},
		{
			name:     "no placeholders",
			template: "static message",
			text:     "hello",
			url:      "http://x/1",
			expected: "static message",
		},
		{
			name:     "repeated placeholder",
			template: "{tweet_text} / {tweet_text}",
			text:     "hi",
			url:      "http://x/1",
			expected: "hi / hi",
		},
		{
			name:     "unknown placeholder kept",
			template: "{tweet_author}: {tweet_text}",
			text:     "hi",
			url:      "http://x/1",
			expected: "{tweet_author}: hi",
		},
		{
			name:     "values are not rescanned",
			template: "{tweet_text} {tweet_url}",
			text:     "literal {tweet_url}",
			url:      "http://x/1",
			expected: "literal {tweet_url} http://x/1",
		},
		{
			name:     "markdown is not escaped",
			template: "*{tweet_text}*",
			text:     "a_b *c*",
			url:      "",
			expected: "*a_b *c**",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.template, tt.text, tt.url)
			if got != tt.expected {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.expected)
			}
		})
	}
}

func TestPermalink(t *testing.T) {
	tests := []struct {
		base, account, id string
		expected          string
	}{
		{"https://twitter.com", "unwomen", "1", "https://twitter.com/unwomen/status/1"},
		{"https://x.com/", "@unwomen", "42", "https://x.com/unwomen/status/42"},
		{"", "unwomen", "7", "https://twitter.com/unwomen/status/7"},
	}

	for _, tt := range tests {
		if got := Permalink(tt.base, tt.account, tt.id); got != tt.expected {
			t.Errorf("Permalink(%q, %q, %q) = %q, want %q", tt.base, tt.account, tt.id, got, tt.expected)
		}
	}
}
