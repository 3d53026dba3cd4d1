package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeCreate = "Create"
	TypeUpdate = "Update"
	TypeDelete = "Delete"
	TypeFollow = "Follow"
	TypeUndo   = "Undo"
	TypeLike   = "Like"
	TypeAccept = "Accept"
)

var activityTypes = map[string]bool{
	TypeCreate: true,
	TypeUpdate: true,
	TypeDelete: true,
	TypeFollow: true,
	TypeUndo:   true,
	TypeLike:   true,
	TypeAccept: true,
}

// Activity is the protocol envelope. Its Type determines what Object holds:
// an embedded Note for Create and Update, a nested Activity for Undo and
// Accept, and a bare reference for Delete, Follow and Like.
type Activity struct {
	Context Context
	ID      string
	Type    string
	Actor   string
	To      []string
	CC      []string
	Object  *Object
}

// Object is either a reference IRI or an embedded Note or Activity.
type Object struct {
	IRI      string
	Note     *Note
	Activity *Activity
}

// Ref returns an Object referencing iri.
func Ref(iri string) *Object {
	return &Object{IRI: iri}
}

// ID returns the id of the referenced or embedded object.
func (o *Object) ID() string {
	switch {
	case o == nil:
		return ""
	case o.Note != nil:
		return o.Note.ID
	case o.Activity != nil:
		return o.Activity.ID
	default:
		return o.IRI
	}
}

// Type returns the type of the embedded object, or "" for a reference.
func (o *Object) Type() string {
	switch {
	case o == nil:
		return ""
	case o.Note != nil:
		return TypeNote
	case o.Activity != nil:
		return o.Activity.Type
	default:
		return ""
	}
}

func (o *Object) MarshalJSON() ([]byte, error) {
	switch {
	case o.Note != nil:
		return o.Note.MarshalJSON()
	case o.Activity != nil:
		return o.Activity.MarshalJSON()
	default:
		return json.Marshal(o.IRI)
	}
}

func (o *Object) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &o.IRI)
	}

	var peek struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return validationErrorf("invalid object: %v", err)
	}
	if peek.Type == nil {
		return validationErrorf("no type associated with object in data")
	}

	switch {
	case *peek.Type == TypeNote:
		var n Note
		if err := n.UnmarshalJSON(data); err != nil {
			return err
		}
		o.Note = &n
	case activityTypes[*peek.Type]:
		a, err := parseActivity(data, false)
		if err != nil {
			return err
		}
		o.Activity = a
	default:
		return validationErrorf("don't understand the object type '%s'", *peek.Type)
	}
	return nil
}

type activityJSON struct {
	Context Context  `json:"@context,omitempty"`
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Actor   string   `json:"actor"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Object  *Object  `json:"object,omitempty"`
}

func (a *Activity) MarshalJSON() ([]byte, error) {
	to := a.To
	if to == nil {
		to = []string{}
	}
	return json.Marshal(activityJSON{
		Context: a.Context,
		ID:      a.ID,
		Type:    a.Type,
		Actor:   a.Actor,
		To:      to,
		CC:      a.CC,
		Object:  a.Object,
	})
}

// ParseActivity decodes and validates a top-level activity of any known type.
func ParseActivity(data []byte) (*Activity, error) {
	return parseActivity(data, true)
}

// ParseActivityAs decodes an activity and checks its type discriminator.
func ParseActivityAs(data []byte, want string) (*Activity, error) {
	a, err := ParseActivity(data)
	if err != nil {
		return nil, err
	}
	if a.Type != want {
		return nil, validationErrorf("data does not contain '%s', but '%s' instead", want, a.Type)
	}
	return a, nil
}

func parseActivity(data []byte, topLevel bool) (*Activity, error) {
	var in struct {
		Context *Context        `json:"@context"`
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Actor   string          `json:"actor"`
		To      json.RawMessage `json:"to"`
		CC      json.RawMessage `json:"cc"`
		Object  json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, validationErrorf("invalid JSON string: %v", err)
	}

	if !activityTypes[in.Type] {
		if in.Type == "" {
			return nil, validationErrorf("no type associated with activity")
		}
		return nil, validationErrorf("don't understand the activity type '%s'", in.Type)
	}
	if topLevel && in.Context == nil {
		return nil, validationErrorf("%s activity has no @context", in.Type)
	}
	if in.ID == "" {
		return nil, validationErrorf("%s activity has no id", in.Type)
	}
	if in.Actor == "" {
		return nil, validationErrorf("%s activity has no actor", in.Type)
	}

	a := &Activity{
		ID:    in.ID,
		Type:  in.Type,
		Actor: in.Actor,
		To:    recipients(in.To),
		CC:    recipients(in.CC),
	}
	if in.Context != nil {
		a.Context = *in.Context
	}

	if len(in.Object) > 0 && !bytes.Equal(in.Object, []byte("null")) {
		var obj Object
		if err := obj.UnmarshalJSON(in.Object); err != nil {
			return nil, asValidation(err)
		}
		a.Object = &obj
	}

	switch a.Type {
	case TypeCreate, TypeUpdate:
		if a.Object == nil || a.Object.Note == nil {
			return nil, validationErrorf("%s activity needs an embedded object", a.Type)
		}
	case TypeUndo, TypeAccept:
		if a.Object == nil {
			return nil, validationErrorf("%s activity has no object", a.Type)
		}
	case TypeDelete, TypeFollow, TypeLike:
		if a.Object == nil || a.Object.ID() == "" {
			return nil, validationErrorf("%s activity has no object", a.Type)
		}
	}
	return a, nil
}

// recipients accepts both a list and a single string, and drops anything else.
func recipients(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return nonEmpty(list)
	}
	var one string
	if json.Unmarshal(raw, &one) == nil && one != "" {
		return []string{one}
	}
	return nil
}

func asValidation(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &ValidationError{Msg: err.Error()}
}

// Envelope is a lenient view of an inbound payload: enough to route it
// without committing to a full parse.
type Envelope struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// DecodeEnvelope only requires a JSON object.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, validationErrorf("invalid JSON string: %v", err)
	}
	return &e, nil
}

type envelopeObject struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

func (e *Envelope) object() (string, *envelopeObject) {
	if len(e.Object) == 0 {
		return "", nil
	}
	var iri string
	if json.Unmarshal(e.Object, &iri) == nil {
		return iri, nil
	}
	var obj envelopeObject
	if json.Unmarshal(e.Object, &obj) == nil {
		return "", &obj
	}
	return "", nil
}

// ObjectType is the type of an embedded object, "" for references.
func (e *Envelope) ObjectType() string {
	if _, obj := e.object(); obj != nil {
		return obj.Type
	}
	return ""
}

// ObjectID is the referenced IRI or the embedded object's id.
func (e *Envelope) ObjectID() string {
	iri, obj := e.object()
	if obj != nil {
		return obj.ID
	}
	return iri
}

// InnerObjectID is the object referenced by an embedded activity, such as
// the liked post inside an Undo.
func (e *Envelope) InnerObjectID() string {
	_, obj := e.object()
	if obj == nil {
		return ""
	}
	inner := Envelope{Object: obj.Object}
	return inner.ObjectID()
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s %s from %s", e.Type, e.ID, e.Actor)
}
