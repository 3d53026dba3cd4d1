package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/domain"
)

func setupTestStore(t *testing.T) *OnDisk {
	t.Helper()
	store, err := NewOnDisk(t.TempDir(), log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewOnDisk failed: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, store *OnDisk, username string) *domain.User {
	t.Helper()
	u, err := store.CreateUser(username, "Test "+username)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	store := setupTestStore(t)
	created := createTestUser(t, store, "alice")

	exists, err := store.HasUser("alice")
	if err != nil || !exists {
		t.Fatalf("Expected alice to exist, got %v, %v", exists, err)
	}

	u, err := store.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Name != "Test alice" {
		t.Errorf("Expected name 'Test alice', got '%s'", u.Name)
	}
	if u.PrivateKey != created.PrivateKey || u.PublicKey == "" {
		t.Error("Expected keys to be persisted")
	}

	for _, name := range []string{infoFile, relationsFile, postsDir, imagesDir} {
		if _, err := os.Stat(store.userFile("alice", name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}
}

func TestCreateUserTwice(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")

	_, err := store.CreateUser("alice", "again")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestInvalidUsername(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.CreateUser("../etc", "x"); err == nil {
		t.Error("Expected error for path-like username")
	}
	exists, err := store.HasUser("../etc")
	if err != nil || exists {
		t.Errorf("Expected path-like username to be unknown, got %v, %v", exists, err)
	}
}

func TestGetUnknownUser(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetUser("ghost")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestGetUserList(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")
	createTestUser(t, store, "bob")

	users, err := store.GetUserList()
	if err != nil {
		t.Fatalf("GetUserList failed: %v", err)
	}
	if len(users) != 2 || users["bob"] != "Test bob" {
		t.Errorf("Unexpected user list %v", users)
	}
}

func TestAddFollowerPersists(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")

	changed, err := store.AddFollower("alice", "peer", "https://peer/@bob")
	if err != nil || !changed {
		t.Fatalf("Expected AddFollower to change state, got %v, %v", changed, err)
	}
	changed, err = store.AddFollower("alice", "peer", "https://peer/@bob")
	if err != nil || changed {
		t.Fatalf("Expected second AddFollower to be a no-op, got %v, %v", changed, err)
	}

	data, err := os.ReadFile(store.userFile("alice", relationsFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var doc struct {
		Followers map[string]struct {
			Accounts []string `json:"accounts"`
		} `json:"followers"`
		Following map[string]any `json:"following"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("relations.json is not valid JSON: %v", err)
	}
	if accounts := doc.Followers["peer"].Accounts; len(accounts) != 1 || accounts[0] != "https://peer/@bob" {
		t.Errorf("Unexpected persisted followers %s", data)
	}
	if doc.Following == nil {
		t.Error("Expected an empty following object")
	}
}

func TestSaveUserKeepsLaterFollower(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")

	snapshot, err := store.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if _, err := store.AddFollower("alice", "peer", "https://peer/@bob"); err != nil {
		t.Fatalf("AddFollower failed: %v", err)
	}
	snapshot.Bio = "stale snapshot"
	if err := store.SaveUser(snapshot); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	u, _ := store.GetUser("alice")
	if !u.Followers.Contains("peer", "https://peer/@bob") {
		t.Errorf("Expected the follower added after the snapshot to survive, got %v", u.GetFollowers())
	}
	if u.Bio != "stale snapshot" {
		t.Errorf("Expected the profile to be saved, got '%s'", u.Bio)
	}
}

func TestConcurrentSaveAndFollow(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.AddFollower("alice", "peer", fmt.Sprintf("https://peer/@user%d", n))
		}()
		go func() {
			defer wg.Done()
			if u, err := store.GetUser("alice"); err == nil {
				store.SaveUser(u)
			}
		}()
	}
	wg.Wait()

	u, _ := store.GetUser("alice")
	if got := u.Followers.Len(); got != 10 {
		t.Errorf("Expected 10 followers, got %d", got)
	}
}

func TestRemoveFollower(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")
	store.AddFollower("alice", "peer", "https://peer/@bob")

	changed, err := store.RemoveFollower("alice", "peer", "https://peer/@bob")
	if err != nil || !changed {
		t.Fatalf("Expected RemoveFollower to change state, got %v, %v", changed, err)
	}
	changed, err = store.RemoveFollower("alice", "elsewhere", "https://elsewhere/@x")
	if err != nil || changed {
		t.Errorf("Expected removing an unknown follower to be a no-op, got %v, %v", changed, err)
	}

	u, _ := store.GetUser("alice")
	if len(u.GetFollowerInstances()) != 0 {
		t.Errorf("Expected no follower instances, got %v", u.GetFollowerInstances())
	}
}

func TestAddFollowerUnknownUser(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.AddFollower("ghost", "peer", "https://peer/@bob")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestConcurrentFollowersAreNotLost(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			instance := fmt.Sprintf("peer%d.example", i%5)
			if _, err := store.AddFollower("alice", instance, fmt.Sprintf("https://%s/@user%d", instance, i)); err != nil {
				t.Errorf("AddFollower failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	u, err := store.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got := len(u.GetFollowers()); got != n {
		t.Errorf("Expected %d followers, got %d", n, got)
	}
	if got := len(u.GetFollowerInstances()); got != 5 {
		t.Errorf("Expected 5 instances, got %d", got)
	}
}

func TestStoreAndGetPost(t *testing.T) {
	store := setupTestStore(t)
	u := createTestUser(t, store, "alice")

	note := domain.NewNote(u.ActorURI("social.example"), "hello")
	doc, _ := json.Marshal(note)

	if err := store.StorePostJSON("alice", note.ID, doc); err != nil {
		t.Fatalf("StorePostJSON failed: %v", err)
	}

	token, _ := domain.ExtractLocalID(note.ID)
	raw, err := store.GetPostJSON("alice", token)
	if err != nil || raw == nil {
		t.Fatalf("Expected stored post, got %v, %v", raw, err)
	}

	for _, ref := range []string{note.ID, note.ID + "#create", "https://social.example/@alice/posts/" + token} {
		got, err := store.GetPost("alice", ref)
		if err != nil {
			t.Fatalf("GetPost(%s) failed: %v", ref, err)
		}
		if got == nil || got.ID != note.ID {
			t.Errorf("Expected GetPost(%s) to return %s, got %+v", ref, note.ID, got)
		}
	}
}

func TestStorePostRejectsForeignID(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")

	err := store.StorePostJSON("alice", "https://remote.example/notes/1", []byte(`{}`))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestGetPostMiss(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")

	for _, ref := range []string{"https://h/@alice/posts/missing", "https://h/@alice/posts/..", ""} {
		got, err := store.GetPost("alice", ref)
		if err != nil || got != nil {
			t.Errorf("Expected (nil, nil) for %s, got %v, %v", ref, got, err)
		}
	}
}

func TestGetAllPostIdsOrdered(t *testing.T) {
	store := setupTestStore(t)
	u := createTestUser(t, store, "alice")
	actor := u.ActorURI("social.example")

	var expected []string
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 2; i >= 0; i-- {
		note := domain.NewNote(actor, fmt.Sprintf("post %d", i))
		note.Published = base.Add(time.Duration(i) * time.Hour)
		doc, _ := json.Marshal(note)
		if err := store.StorePostJSON("alice", note.ID, doc); err != nil {
			t.Fatalf("StorePostJSON failed: %v", err)
		}
		expected = append([]string{note.ID}, expected...)
	}

	ids, err := store.GetAllPostIdsForUser("alice")
	if err != nil {
		t.Fatalf("GetAllPostIdsForUser failed: %v", err)
	}
	if fmt.Sprint(ids) != fmt.Sprint(expected) {
		t.Errorf("Expected %v, got %v", expected, ids)
	}
}

func TestLikeAndUnlike(t *testing.T) {
	store := setupTestStore(t)
	createTestUser(t, store, "alice")
	post := "https://social.example/@alice/posts/ab12.json"
	like := domain.Like{Actor: "https://peer/@bob", ActivityID: "https://peer/likes/1"}

	changed, err := store.LikePost("alice", post, like)
	if err != nil || !changed {
		t.Fatalf("Expected LikePost to change state, got %v, %v", changed, err)
	}
	changed, _ = store.LikePost("alice", post, like)
	if changed {
		t.Error("Expected repeated like to be a no-op")
	}

	likes, err := store.readLikes("alice")
	if err != nil {
		t.Fatalf("readLikes failed: %v", err)
	}
	if len(likes["ab12"]) != 1 {
		t.Errorf("Expected 1 like, got %v", likes)
	}

	changed, err = store.UnlikePost("alice", post, like)
	if err != nil || !changed {
		t.Fatalf("Expected UnlikePost to change state, got %v, %v", changed, err)
	}
	likes, _ = store.readLikes("alice")
	if _, ok := likes["ab12"]; ok {
		t.Errorf("Expected like to be removed, got %v", likes)
	}
}

func TestWriteLockedTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.json")
	if err := writeLocked(path, []byte("a long first version")); err != nil {
		t.Fatalf("writeLocked failed: %v", err)
	}
	if err := writeLocked(path, []byte("short")); err != nil {
		t.Fatalf("writeLocked failed: %v", err)
	}
	data, err := readLocked(path)
	if err != nil {
		t.Fatalf("readLocked failed: %v", err)
	}
	if string(data) != "short" {
		t.Errorf("Expected 'short', got '%s'", data)
	}
}
