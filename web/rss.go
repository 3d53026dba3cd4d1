package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/util"
	"github.com/gorilla/feeds"
)

const feedTitleFormat = "2006-01-02 15:04"

// GetRSS renders the posts of account, newest first.
func GetRSS(inst *activitypub.Instance, account string) (string, error) {
	store := inst.Store()

	exists, err := store.HasUser(account)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", domain.AccountNotFound(account)
	}
	u, err := store.GetUser(account)
	if err != nil {
		return "", err
	}
	u.ApplyDefaults()

	ids, err := store.GetAllPostIdsForUser(account)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", errors.New("no posts")
	}

	actor := u.ActorURI(inst.Host())
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", util.Name, u.Name),
		Link:        &feeds.Link{Href: actor},
		Description: u.Bio,
		Author:      &feeds.Author{Name: u.Name, Email: fmt.Sprintf("%s@%s", u.Username, inst.Host())},
		Created:     time.Now(),
	}

	for n := len(ids) - 1; n >= 0; n-- {
		note, err := store.GetPost(account, ids[n])
		if err != nil {
			return "", err
		}
		if note == nil {
			continue
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      note.ID,
			Title:   note.Published.Format(feedTitleFormat),
			Link:    &feeds.Link{Href: note.ID},
			Content: note.Content,
			Author:  &feeds.Author{Name: u.Name},
			Created: note.Published,
		})
	}

	return feed.ToRss()
}
