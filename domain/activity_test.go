package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testActor = "https://social.example/@blog"

func roundTrip(t *testing.T, a *Activity) *Activity {
	t.Helper()
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := ParseActivityAs(data, a.Type)
	if err != nil {
		t.Fatalf("ParseActivityAs(%s) failed: %v\n%s", a.Type, err, data)
	}
	return parsed
}

func TestActivityRoundTrip(t *testing.T) {
	note := NewNote(testActor, "<p>hello</p>")
	note.AddCC(testActor + "/followers")
	note.AddTag(Tag{Type: "Hashtag", Name: "#go", Href: "https://social.example/tags/go"})
	note.AddAttachment(Attachment{Type: "Document", MediaType: "image/png", URL: "https://social.example/a.png", Name: "a"})
	note.SetLocation(Location{Type: "Place", Name: "Berlin"})

	follow := NewFollow("https://remote.example/activities/1", "https://remote.example/users/alice", testActor)
	like := NewLike("https://remote.example/activities/2", "https://remote.example/users/alice", note.ID)

	tests := []struct {
		name     string
		activity *Activity
	}{
		{"create", NewCreate(testActor, note)},
		{"update", NewUpdate(testActor, note)},
		{"delete", NewDelete(testActor, note.ID)},
		{"follow", follow},
		{"like", like},
		{"undo follow", NewUndo("https://remote.example/activities/3", follow.Actor, follow)},
		{"undo like", NewUndo("https://remote.example/activities/4", like.Actor, like)},
		{"accept", NewAccept(testActor+"/activities/ab12", testActor, follow.ID, follow.Actor)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := roundTrip(t, tt.activity)
			if !reflect.DeepEqual(parsed, tt.activity) {
				t.Errorf("Round trip mismatch\nexpected %+v\ngot      %+v", tt.activity, parsed)
			}
		})
	}
}

func TestNoteRoundTrip(t *testing.T) {
	note := NewNote(testActor, "plain")
	data, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := ParseNote(data)
	if err != nil {
		t.Fatalf("ParseNote failed: %v", err)
	}
	if !reflect.DeepEqual(parsed, note) {
		t.Errorf("Expected %+v, got %+v", note, parsed)
	}
}

func TestNewNoteDefaults(t *testing.T) {
	note := NewNote(testActor, "x")

	if !strings.HasPrefix(note.ID, testActor+"/posts/") || !strings.HasSuffix(note.ID, ".json") {
		t.Errorf("Unexpected note id %s", note.ID)
	}
	token, err := ExtractLocalID(note.ID)
	if err != nil {
		t.Fatalf("ExtractLocalID failed: %v", err)
	}
	if len(token) != 32 {
		t.Errorf("Expected a 32 character token, got %d", len(token))
	}
	if !reflect.DeepEqual(note.To, []string{Public}) {
		t.Errorf("Expected to [Public], got %v", note.To)
	}
	if NewNote(testActor, "x").ID == note.ID {
		t.Error("Expected fresh ids for every note")
	}
}

func TestNoteSerializationOmitsEmptyFields(t *testing.T) {
	note := &Note{ID: testActor + "/posts/ab.json", Content: "x"}
	data, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"cc", "location", "tag", "attachment", "inReplyTo"} {
		if _, ok := fields[key]; ok {
			t.Errorf("Expected %s to be omitted, got %s", key, data)
		}
	}
	if string(fields["to"]) != "[]" {
		t.Errorf("Expected empty to list, got %s", fields["to"])
	}
}

func TestCreateContextAndPublished(t *testing.T) {
	data := []byte(`{
		"@context": ["https://www.w3.org/ns/activitystreams", {"HashTag": "https://www.w3.org/ns/activitystreams#Hashtag"}],
		"id": "https://remote.example/notes/1",
		"type": "Create",
		"actor": "https://remote.example/users/alice",
		"to": "https://www.w3.org/ns/activitystreams#Public",
		"object": {
			"id": "https://remote.example/notes/1",
			"type": "Note",
			"published": "2024-03-01T10:00:00+0100",
			"content": "hi",
			"to": ["https://www.w3.org/ns/activitystreams#Public"]
		}
	}`)

	a, err := ParseActivityAs(data, TypeCreate)
	if err != nil {
		t.Fatalf("ParseActivityAs failed: %v", err)
	}
	if len(a.Context) != 2 || a.Context[1].Terms[HashtagTerm] != HashtagIRI {
		t.Errorf("Unexpected context %+v", a.Context)
	}
	if !reflect.DeepEqual(a.To, []string{Public}) {
		t.Errorf("Expected single string to be accepted as recipient list, got %v", a.To)
	}
	expected := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if !a.Object.Note.Published.Equal(expected) {
		t.Errorf("Expected published %v, got %v", expected, a.Object.Note.Published)
	}
}

func TestNoteRecipientForms(t *testing.T) {
	tests := []struct {
		name string
		to   string
		cc   string
		want []string
		ccs  []string
	}{
		{"lists", `["` + Public + `"]`, `["https://r.example/u/followers"]`, []string{Public}, []string{"https://r.example/u/followers"}},
		{"single strings", `"` + Public + `"`, `"https://r.example/u/followers"`, []string{Public}, []string{"https://r.example/u/followers"}},
		{"empty", `[]`, `""`, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{"@context":"https://www.w3.org/ns/activitystreams","id":"https://r.example/c/1","type":"Create","actor":"https://r.example/u",` +
				`"object":{"id":"https://r.example/n/1","type":"Note","content":"hi","to":` + tt.to + `,"cc":` + tt.cc + `}}`)
			a, err := ParseActivityAs(data, TypeCreate)
			if err != nil {
				t.Fatalf("ParseActivityAs failed: %v", err)
			}
			note := a.Object.Note
			if !reflect.DeepEqual(note.To, tt.want) || !reflect.DeepEqual(note.CC, tt.ccs) {
				t.Errorf("Expected to=%v cc=%v, got to=%v cc=%v", tt.want, tt.ccs, note.To, note.CC)
			}
		})
	}
}

func TestActivityAlwaysEmitsTo(t *testing.T) {
	follow := NewFollow("https://r.example/1", "https://r.example/u", testActor)
	accept := NewAccept(testActor+"/activities/1", testActor, follow.ID, follow.Actor)

	for _, a := range []*Activity{follow, accept, NewUndo("https://r.example/2", follow.Actor, follow)} {
		data, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var fields map[string]json.RawMessage
		json.Unmarshal(data, &fields)
		if _, ok := fields["to"]; !ok {
			t.Errorf("%s: expected a to field, got %s", a.Type, data)
		}
	}
}

func TestParseActivityValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{`},
		{"no type", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","actor":"a"}`},
		{"unknown type", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Announce","actor":"a"}`},
		{"no context", `{"id":"x","type":"Follow","actor":"a","object":"b"}`},
		{"no id", `{"@context":"https://www.w3.org/ns/activitystreams","type":"Follow","actor":"a","object":"b"}`},
		{"no actor", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Follow","object":"b"}`},
		{"follow without object", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Follow","actor":"a"}`},
		{"create with reference", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Create","actor":"a","object":"b"}`},
		{"create with unknown object", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Create","actor":"a","object":{"id":"b","type":"Question"}}`},
		{"object without type", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Create","actor":"a","object":{"id":"b"}}`},
		{"note without id", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Create","actor":"a","object":{"type":"Note"}}`},
		{"undo without object", `{"@context":"https://www.w3.org/ns/activitystreams","id":"x","type":"Undo","actor":"a"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActivity([]byte(tt.data))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestParseActivityAsWrongType(t *testing.T) {
	data, _ := json.Marshal(NewFollow("https://r.example/1", "https://r.example/u", testActor))
	_, err := ParseActivityAs(data, TypeCreate)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !strings.Contains(ve.Msg, "'Create'") {
		t.Errorf("Expected message to name the wanted type, got '%s'", ve.Msg)
	}
}

func TestNestedActivityNeedsNoContext(t *testing.T) {
	data := []byte(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://r.example/undo/1",
		"type": "Undo",
		"actor": "https://r.example/u",
		"object": {"id": "https://r.example/follow/1", "type": "Follow", "actor": "https://r.example/u", "object": "https://social.example/@blog"}
	}`)

	a, err := ParseActivityAs(data, TypeUndo)
	if err != nil {
		t.Fatalf("ParseActivityAs failed: %v", err)
	}
	if a.Object.Type() != TypeFollow {
		t.Errorf("Expected nested Follow, got '%s'", a.Object.Type())
	}
	if a.Object.Activity.Object.ID() != testActor {
		t.Errorf("Expected nested object %s, got %s", testActor, a.Object.Activity.Object.ID())
	}
}

func TestAcceptShape(t *testing.T) {
	accept := NewAccept(testActor+"/activities/1", testActor, "https://r.example/follow/1", "https://r.example/u")
	data, err := json.Marshal(accept)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var doc struct {
		Actor  string `json:"actor"`
		Object struct {
			ID     string `json:"id"`
			Type   string `json:"type"`
			Actor  string `json:"actor"`
			Object string `json:"object"`
		} `json:"object"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if doc.Actor != testActor {
		t.Errorf("Expected actor %s, got %s", testActor, doc.Actor)
	}
	if doc.Object.ID != "https://r.example/follow/1" || doc.Object.Type != TypeAccept ||
		doc.Object.Actor != "https://r.example/u" || doc.Object.Object != testActor {
		t.Errorf("Unexpected nested object %+v", doc.Object)
	}
}

func TestEnvelope(t *testing.T) {
	data := []byte(`{"type":"Undo","id":"u1","actor":"https://r.example/u","object":{"type":"Like","id":"l1","object":"https://social.example/@blog/posts/ab.json"}}`)

	e, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if e.ObjectType() != TypeLike {
		t.Errorf("Expected object type Like, got '%s'", e.ObjectType())
	}
	if e.ObjectID() != "l1" {
		t.Errorf("Expected object id l1, got '%s'", e.ObjectID())
	}
	if e.InnerObjectID() != "https://social.example/@blog/posts/ab.json" {
		t.Errorf("Unexpected inner object id '%s'", e.InnerObjectID())
	}

	if _, err := DecodeEnvelope([]byte("nope")); err == nil {
		t.Error("Expected error for invalid JSON")
	}

	ref, _ := DecodeEnvelope([]byte(`{"type":"Follow","object":"https://social.example/@blog"}`))
	if ref.ObjectID() != testActor || ref.ObjectType() != "" {
		t.Errorf("Unexpected reference envelope %+v", ref)
	}
}
