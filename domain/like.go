package domain

// Like records that a remote actor liked a local post. ActivityID is the id
// of the Like activity, kept so an Undo can be matched against it.
type Like struct {
	Actor      string `json:"actor"`
	ActivityID string `json:"id"`
}
