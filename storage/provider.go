// Package storage defines the persistence contract of the federation engine
// and its file-backed implementation.
package storage

import (
	"github.com/deemkeen/pubcore/domain"
)

// Provider persists accounts, their relations and their posts.
//
// Relation updates are read-modify-write operations that implementations
// serialize per account, so concurrent Follow and Undo for the same account
// never lose an update.
type Provider interface {
	HasUser(username string) (bool, error)
	// GetUser is only called after HasUser; a missing user is a NotFoundError.
	GetUser(username string) (*domain.User, error)
	// GetUserList maps usernames to display names.
	GetUserList() (map[string]string, error)
	CreateUser(username string, displayName string) (*domain.User, error)
	SaveUser(u *domain.User) error

	AddFollower(username string, instance string, account string) (bool, error)
	RemoveFollower(username string, instance string, account string) (bool, error)
	AddFollowing(username string, instance string, account string) (bool, error)

	// GetAllPostIdsForUser returns the external note ids, oldest first.
	GetAllPostIdsForUser(username string) ([]string, error)
	// GetPostJSON returns the stored document for a local token, or nil.
	GetPostJSON(username string, token string) ([]byte, error)
	// StorePostJSON stores doc under the token of the external postID.
	StorePostJSON(username string, postID string, doc []byte) error
	// GetPost resolves any reference to a local post. A miss is (nil, nil).
	GetPost(username string, objectID string) (*domain.Note, error)

	LikePost(username string, objectID string, like domain.Like) (bool, error)
	UnlikePost(username string, objectID string, like domain.Like) (bool, error)
}
