package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	ActivityStreams = "https://www.w3.org/ns/activitystreams"
	SecurityV1      = "https://w3id.org/security/v1"
	Public          = "https://www.w3.org/ns/activitystreams#Public"
	ContentType     = "application/activity+json"
)

// ContextEntry is one JSON-LD @context entry: either a bare IRI or a map of
// term definitions such as {"HashTag": "https://www.w3.org/ns/activitystreams#Hashtag"}.
type ContextEntry struct {
	IRI   string
	Terms map[string]string
}

// Context is an ordered list of @context entries. A context holding a single
// IRI is written as a plain string, as most peers do.
type Context []ContextEntry

// NewContext returns a context made of the given IRIs.
func NewContext(iris ...string) Context {
	c := make(Context, 0, len(iris))
	for _, iri := range iris {
		c = append(c, ContextEntry{IRI: iri})
	}
	return c
}

// AddTerm appends a single term definition.
func (c Context) AddTerm(term, iri string) Context {
	return append(c, ContextEntry{Terms: map[string]string{term: iri}})
}

func (e ContextEntry) MarshalJSON() ([]byte, error) {
	if e.Terms != nil {
		return json.Marshal(e.Terms)
	}
	return json.Marshal(e.IRI)
}

func (e *ContextEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		// Term values may themselves be objects (e.g. {"@id": ..., "@type": ...});
		// only string-valued terms are kept.
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		e.Terms = make(map[string]string, len(raw))
		for k, v := range raw {
			var s string
			if json.Unmarshal(v, &s) == nil {
				e.Terms[k] = s
			}
		}
		return nil
	}
	return json.Unmarshal(data, &e.IRI)
}

func (c Context) MarshalJSON() ([]byte, error) {
	if len(c) == 1 && c[0].Terms == nil {
		return json.Marshal(c[0].IRI)
	}
	return json.Marshal([]ContextEntry(c))
}

func (c *Context) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = nil
	case data[0] == '[':
		var entries []ContextEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*c = entries
	case data[0] == '"' || data[0] == '{':
		var entry ContextEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		*c = Context{entry}
	default:
		return fmt.Errorf("unexpected @context: %s", data)
	}
	return nil
}
