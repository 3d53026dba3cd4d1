package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/domain"
	"golang.org/x/sys/unix"
)

const (
	infoFile      = "info.json"
	relationsFile = "relations.json"
	likesFile     = "likes.json"
	postsDir      = "posts"
	imagesDir     = "images"
)

type relationsDoc struct {
	Followers domain.Relations `json:"followers"`
	Following domain.Relations `json:"following"`
}

// likesDoc maps a post token to the likes it received.
type likesDoc map[string][]domain.Like

// OnDisk keeps one directory per account under <root>/users. Every file
// access holds a flock for its duration; relation and like updates also hold
// the account's mutex and re-read the file inside it.
type OnDisk struct {
	root   string
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Provider = (*OnDisk)(nil)

func NewOnDisk(root string, logger *log.Logger) (*OnDisk, error) {
	if err := os.MkdirAll(filepath.Join(root, "users"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &OnDisk{
		root:   root,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}, nil
}

func (s *OnDisk) userDir(username string) string {
	return filepath.Join(s.root, "users", username)
}

func (s *OnDisk) userFile(username string, name string) string {
	return filepath.Join(s.userDir(username), name)
}

func (s *OnDisk) accountLock(username string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[username]
	if !ok {
		l = &sync.Mutex{}
		s.locks[username] = l
	}
	return l
}

func (s *OnDisk) HasUser(username string) (bool, error) {
	if !domain.IsToken(username) {
		return false, nil
	}
	_, err := os.Stat(s.userFile(username, infoFile))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat user %s: %w", username, err)
	}
	return true, nil
}

func (s *OnDisk) GetUser(username string) (*domain.User, error) {
	if !domain.IsToken(username) {
		return nil, domain.AccountNotFound(username)
	}
	data, err := readLocked(s.userFile(username, infoFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.AccountNotFound(username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user %s: %w", username, err)
	}

	u := &domain.User{}
	if err := json.Unmarshal(data, u); err != nil {
		return nil, fmt.Errorf("failed to parse user %s: %w", username, err)
	}
	u.Username = username

	rel, err := s.readRelations(username)
	if err != nil {
		return nil, err
	}
	u.Followers = rel.Followers
	u.Following = rel.Following
	u.ApplyDefaults()
	return u, nil
}

func (s *OnDisk) GetUserList() (map[string]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "users"))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := map[string]string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		u, err := s.GetUser(entry.Name())
		if err != nil {
			s.logger.Warn("Skipping unreadable user", "user", entry.Name(), "err", err)
			continue
		}
		users[u.Username] = u.Name
	}
	return users, nil
}

func (s *OnDisk) CreateUser(username string, displayName string) (*domain.User, error) {
	if !domain.IsToken(username) {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("invalid username '%s'", username)}
	}

	lock := s.accountLock(username)
	lock.Lock()
	defer lock.Unlock()

	exists, err := s.HasUser(username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("user '%s' already exists", username)}
	}

	for _, dir := range []string{postsDir, imagesDir} {
		if err := os.MkdirAll(filepath.Join(s.userDir(username), dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create user directory: %w", err)
		}
	}

	u, err := domain.NewUser(username, displayName)
	if err != nil {
		return nil, err
	}
	u.ApplyDefaults()
	if err := s.writeUser(u); err != nil {
		return nil, err
	}
	if err := s.writeRelations(username, &relationsDoc{Followers: domain.Relations{}, Following: domain.Relations{}}); err != nil {
		return nil, err
	}
	s.logger.Info("Created user", "user", username)
	return u, nil
}

// SaveUser writes the profile and keys of u. Relations only change through
// AddFollower, RemoveFollower and AddFollowing.
func (s *OnDisk) SaveUser(u *domain.User) error {
	lock := s.accountLock(u.Username)
	lock.Lock()
	defer lock.Unlock()
	return s.writeUser(u)
}

func (s *OnDisk) writeUser(u *domain.User) error {
	info, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode user %s: %w", u.Username, err)
	}
	if err := writeLocked(s.userFile(u.Username, infoFile), info); err != nil {
		return fmt.Errorf("failed to write user %s: %w", u.Username, err)
	}
	return nil
}

func (s *OnDisk) AddFollower(username string, instance string, account string) (bool, error) {
	return s.updateRelations(username, func(rel *relationsDoc) bool {
		return rel.Followers.Add(instance, account)
	})
}

func (s *OnDisk) RemoveFollower(username string, instance string, account string) (bool, error) {
	return s.updateRelations(username, func(rel *relationsDoc) bool {
		return rel.Followers.Remove(instance, account)
	})
}

func (s *OnDisk) AddFollowing(username string, instance string, account string) (bool, error) {
	return s.updateRelations(username, func(rel *relationsDoc) bool {
		return rel.Following.Add(instance, account)
	})
}

func (s *OnDisk) updateRelations(username string, update func(rel *relationsDoc) bool) (bool, error) {
	exists, err := s.HasUser(username)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.AccountNotFound(username)
	}

	lock := s.accountLock(username)
	lock.Lock()
	defer lock.Unlock()

	rel, err := s.readRelations(username)
	if err != nil {
		return false, err
	}
	if !update(rel) {
		return false, nil
	}
	return true, s.writeRelations(username, rel)
}

func (s *OnDisk) readRelations(username string) (*relationsDoc, error) {
	rel := &relationsDoc{}
	data, err := readLocked(s.userFile(username, relationsFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read relations of %s: %w", username, err)
	case len(data) > 0:
		if err := json.Unmarshal(data, rel); err != nil {
			return nil, fmt.Errorf("failed to parse relations of %s: %w", username, err)
		}
	}
	rel.Followers = rel.Followers.Normalize()
	rel.Following = rel.Following.Normalize()
	return rel, nil
}

func (s *OnDisk) writeRelations(username string, rel *relationsDoc) error {
	doc := relationsDoc{Followers: rel.Followers, Following: rel.Following}
	if doc.Followers == nil {
		doc.Followers = domain.Relations{}
	}
	if doc.Following == nil {
		doc.Following = domain.Relations{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode relations of %s: %w", username, err)
	}
	if err := writeLocked(s.userFile(username, relationsFile), data); err != nil {
		return fmt.Errorf("failed to write relations of %s: %w", username, err)
	}
	return nil
}

func (s *OnDisk) GetAllPostIdsForUser(username string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.userDir(username), postsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list posts of %s: %w", username, err)
	}

	var notes []*domain.Note
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := readLocked(filepath.Join(s.userDir(username), postsDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read post %s: %w", name, err)
		}
		note, err := domain.ParseNote(data)
		if err != nil {
			s.logger.Warn("Skipping unparsable post", "user", username, "post", name, "err", err)
			continue
		}
		notes = append(notes, note)
	}

	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Published.Equal(notes[j].Published) {
			return notes[i].ID < notes[j].ID
		}
		return notes[i].Published.Before(notes[j].Published)
	})

	ids := make([]string, 0, len(notes))
	for _, note := range notes {
		ids = append(ids, note.ID)
	}
	return ids, nil
}

func (s *OnDisk) postPath(username string, token string) string {
	return filepath.Join(s.userDir(username), postsDir, token+".json")
}

func (s *OnDisk) GetPostJSON(username string, token string) ([]byte, error) {
	if !domain.IsToken(username) || !domain.IsToken(token) {
		return nil, nil
	}
	data, err := readLocked(s.postPath(username, token))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read post %s: %w", token, err)
	}
	return data, nil
}

func (s *OnDisk) StorePostJSON(username string, postID string, doc []byte) error {
	token, err := domain.ExtractLocalID(postID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.userDir(username), postsDir), 0755); err != nil {
		return fmt.Errorf("failed to create posts directory: %w", err)
	}
	if err := writeLocked(s.postPath(username, token), doc); err != nil {
		return fmt.Errorf("failed to store post %s: %w", token, err)
	}
	s.logger.Debug("Stored post", "user", username, "token", token)
	return nil
}

func (s *OnDisk) GetPost(username string, objectID string) (*domain.Note, error) {
	token, ok := domain.ObjectToken(objectID)
	if !ok {
		return nil, nil
	}
	data, err := s.GetPostJSON(username, token)
	if err != nil || data == nil {
		return nil, err
	}
	return domain.ParseNote(data)
}

func (s *OnDisk) LikePost(username string, objectID string, like domain.Like) (bool, error) {
	return s.updateLikes(username, objectID, func(likes []domain.Like) ([]domain.Like, bool) {
		for _, l := range likes {
			if l.Actor == like.Actor {
				return likes, false
			}
		}
		return append(likes, like), true
	})
}

func (s *OnDisk) UnlikePost(username string, objectID string, like domain.Like) (bool, error) {
	return s.updateLikes(username, objectID, func(likes []domain.Like) ([]domain.Like, bool) {
		kept := likes[:0]
		for _, l := range likes {
			if l.Actor != like.Actor {
				kept = append(kept, l)
			}
		}
		return kept, len(kept) != len(likes)
	})
}

func (s *OnDisk) updateLikes(username string, objectID string, update func([]domain.Like) ([]domain.Like, bool)) (bool, error) {
	token, ok := domain.ObjectToken(objectID)
	if !ok {
		return false, &domain.ValidationError{Msg: fmt.Sprintf("can't retrieve local ID for '%s'", objectID)}
	}

	lock := s.accountLock(username)
	lock.Lock()
	defer lock.Unlock()

	likes, err := s.readLikes(username)
	if err != nil {
		return false, err
	}
	updated, changed := update(likes[token])
	if !changed {
		return false, nil
	}
	if len(updated) == 0 {
		delete(likes, token)
	} else {
		likes[token] = updated
	}

	data, err := json.MarshalIndent(likes, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode likes of %s: %w", username, err)
	}
	if err := writeLocked(s.userFile(username, likesFile), data); err != nil {
		return false, fmt.Errorf("failed to write likes of %s: %w", username, err)
	}
	return true, nil
}

func (s *OnDisk) readLikes(username string) (likesDoc, error) {
	likes := likesDoc{}
	data, err := readLocked(s.userFile(username, likesFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read likes of %s: %w", username, err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &likes); err != nil {
			return nil, fmt.Errorf("failed to parse likes of %s: %w", username, err)
		}
	}
	return likes, nil
}

// readLocked reads path under a shared flock.
func readLocked(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return io.ReadAll(f)
}

// writeLocked replaces the content of path under an exclusive flock. The file
// is truncated only once the lock is held.
func writeLocked(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}
