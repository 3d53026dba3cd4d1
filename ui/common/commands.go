package common

type SessionState uint

const (
	CreateNoteView SessionState = iota
	ListNotesView
	FollowUserView
	FollowersView
	FollowingView
	UpdateNoteList
	UpdateRelations
)
