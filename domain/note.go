package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeNote    = "Note"
	HashtagTerm = "HashTag"
	HashtagIRI  = "https://www.w3.org/ns/activitystreams#Hashtag"
)

// publishedLayouts are tried in order when reading "published"; peers are
// not consistent about the offset notation.
var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z0700",
}

type Tag struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Href string `json:"href,omitempty"`
}

type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Name      string `json:"name"`
}

type Location struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Note is a post.
type Note struct {
	ID           string
	Context      Context
	Published    time.Time
	AttributedTo string
	InReplyTo    string
	Content      string
	To           []string
	CC           []string
	Location     *Location
	Tags         []Tag
	Attachments  []Attachment
}

type noteJSON struct {
	Context      Context      `json:"@context,omitempty"`
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Published    string       `json:"published,omitempty"`
	AttributedTo string       `json:"attributedTo,omitempty"`
	InReplyTo    string       `json:"inReplyTo,omitempty"`
	Content      string       `json:"content"`
	To           []string     `json:"to"`
	CC           []string     `json:"cc,omitempty"`
	Location     *Location    `json:"location,omitempty"`
	Tags         []Tag        `json:"tag,omitempty"`
	Attachments  []Attachment `json:"attachment,omitempty"`
}

// NewToken returns 16 random bytes from the system CSPRNG, hex encoded.
func NewToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// NewNote creates a public note by actor with a fresh id of the form
// <actor>/posts/<token>.json.
func NewNote(actor string, content string) *Note {
	return &Note{
		ID:           fmt.Sprintf("%s/posts/%s.json", actor, NewToken()),
		Context:      NewContext(ActivityStreams).AddTerm(HashtagTerm, HashtagIRI),
		Published:    time.Now().UTC().Truncate(time.Second),
		AttributedTo: actor,
		Content:      content,
		To:           []string{Public},
	}
}

func (n *Note) AddCC(destination string) {
	n.CC = append(n.CC, destination)
}

func (n *Note) AddTag(tag Tag) {
	n.Tags = append(n.Tags, tag)
}

func (n *Note) AddAttachment(attachment Attachment) {
	n.Attachments = append(n.Attachments, attachment)
}

func (n *Note) SetLocation(location Location) {
	n.Location = &location
}

func (n *Note) MarshalJSON() ([]byte, error) {
	out := noteJSON{
		Context:      n.Context,
		ID:           n.ID,
		Type:         TypeNote,
		AttributedTo: n.AttributedTo,
		InReplyTo:    n.InReplyTo,
		Content:      n.Content,
		To:           n.To,
		CC:           n.CC,
		Location:     n.Location,
		Tags:         n.Tags,
		Attachments:  n.Attachments,
	}
	if !n.Published.IsZero() {
		out.Published = n.Published.UTC().Format(time.RFC3339)
	}
	if out.To == nil {
		out.To = []string{}
	}
	return json.Marshal(out)
}

func (n *Note) UnmarshalJSON(data []byte) error {
	var in struct {
		noteJSON
		To json.RawMessage `json:"to"`
		CC json.RawMessage `json:"cc"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return validationErrorf("invalid Note: %v", err)
	}
	if in.Type != TypeNote {
		return validationErrorf("data does not contain '%s', but '%s' instead", TypeNote, in.Type)
	}
	if in.ID == "" {
		return validationErrorf("Note has no id")
	}

	*n = Note{
		ID:           in.ID,
		Context:      in.Context,
		AttributedTo: in.AttributedTo,
		InReplyTo:    in.InReplyTo,
		Content:      in.Content,
		To:           recipients(in.To),
		CC:           recipients(in.CC),
		Location:     in.Location,
		Tags:         in.Tags,
		Attachments:  in.Attachments,
	}
	if len(n.Tags) == 0 {
		n.Tags = nil
	}
	if len(n.Attachments) == 0 {
		n.Attachments = nil
	}

	if in.Published != "" {
		published, err := parsePublished(in.Published)
		if err != nil {
			return err
		}
		n.Published = published
	}
	return nil
}

// ParseNote decodes a stored or received Note document.
func ParseNote(data []byte) (*Note, error) {
	var n Note
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, asValidation(err)
	}
	return &n, nil
}

func parsePublished(s string) (time.Time, error) {
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validationErrorf("invalid published timestamp '%s'", s)
}

func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
