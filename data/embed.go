package data

// WebhookMessage is the body posted to a Discord compatible webhook
type WebhookMessage struct {
	Embeds []Embed `json:"embeds"`
}

// Embed is a rich message block rendered by the chat client
type Embed struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	URL         string          `json:"url,omitempty"`
	Color       int             `json:"color"`
	Fields      []EmbedField    `json:"fields"`
	Thumbnail   *EmbedThumbnail `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter    `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedThumbnail struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Field returns the first field with the given name
func (e Embed) Field(name string) (EmbedField, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return EmbedField{}, false
}
