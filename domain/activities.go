package domain

// NewCreate wraps note in a public Create activity. The activity shares the
// note's id, which is what the outbox keys stored posts by.
func NewCreate(actor string, note *Note) *Activity {
	return &Activity{
		Context: NewContext(ActivityStreams),
		ID:      note.ID,
		Type:    TypeCreate,
		Actor:   actor,
		To:      []string{Public},
		CC:      append([]string(nil), note.CC...),
		Object:  &Object{Note: note},
	}
}

// NewUpdate announces a changed note.
func NewUpdate(actor string, note *Note) *Activity {
	return &Activity{
		Context: NewContext(ActivityStreams),
		ID:      note.ID + "#update-" + NewToken(),
		Type:    TypeUpdate,
		Actor:   actor,
		To:      []string{Public},
		Object:  &Object{Note: note},
	}
}

// NewDelete announces the removal of objectID.
func NewDelete(actor string, objectID string) *Activity {
	return &Activity{
		Context: NewContext(ActivityStreams),
		ID:      objectID + "#delete",
		Type:    TypeDelete,
		Actor:   actor,
		To:      []string{Public},
		Object:  Ref(objectID),
	}
}

func NewFollow(id string, actor string, target string) *Activity {
	return &Activity{
		Context: NewContext(ActivityStreams),
		ID:      id,
		Type:    TypeFollow,
		Actor:   actor,
		Object:  Ref(target),
	}
}

func NewLike(id string, actor string, objectID string) *Activity {
	return &Activity{
		Context: NewContext(ActivityStreams),
		ID:      id,
		Type:    TypeLike,
		Actor:   actor,
		Object:  Ref(objectID),
	}
}

// NewUndo reverts inner, which is embedded without its own @context.
func NewUndo(id string, actor string, inner *Activity) *Activity {
	embedded := *inner
	embedded.Context = nil
	return &Activity{
		Context: NewContext(ActivityStreams),
		ID:      id,
		Type:    TypeUndo,
		Actor:   actor,
		Object:  &Object{Activity: &embedded},
	}
}

// NewAccept acknowledges acceptedID, sent by remoteActor, on behalf of
// localActor.
func NewAccept(id string, localActor string, acceptedID string, remoteActor string) *Activity {
	return &Activity{
		Context: NewContext(ActivityStreams),
		ID:      id,
		Type:    TypeAccept,
		Actor:   localActor,
		Object: &Object{Activity: &Activity{
			Context: NewContext(ActivityStreams),
			ID:      acceptedID,
			Type:    TypeAccept,
			Actor:   remoteActor,
			Object:  Ref(localActor),
		}},
	}
}
