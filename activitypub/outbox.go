package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/pubcore/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// PublishReport lists the outcome of every delivery of one published activity.
type PublishReport struct {
	ActivityID string
	Results    []domain.DeliveryResult
}

func (r *PublishReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// Publish stores the object of activity for account and delivers activity
// to the shared inbox of every follower instance. The post is stored before
// any delivery starts; a failed delivery is only reported.
func (i *Instance) Publish(ctx context.Context, account string, activity *domain.Activity) (*PublishReport, error) {
	if err := i.requireAccount(account); err != nil {
		return nil, err
	}
	u, err := i.store.GetUser(account)
	if err != nil {
		return nil, err
	}

	switch activity.Type {
	case domain.TypeCreate, domain.TypeUpdate:
		if activity.Object == nil || activity.Object.Note == nil {
			return nil, &domain.ValidationError{Msg: fmt.Sprintf("%s activity needs an embedded object", activity.Type)}
		}
		if err := i.storeNote(account, activity.Object.Note); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode activity: %w", err)
	}

	instances := u.GetFollowerInstances()
	report := &PublishReport{ActivityID: activity.ID, Results: make([]domain.DeliveryResult, len(instances))}

	var g errgroup.Group
	g.SetLimit(i.workers)
	for n, instance := range instances {
		g.Go(func() error {
			report.Results[n] = i.deliverer.Deliver(ctx, u, u.KeyID(i.host), activity.ID, "https://"+instance+"/inbox", body)
			report.Results[n].Instance = instance
			return nil
		})
	}
	g.Wait()

	i.logger.Info("Published", "account", account, "activity", activity.ID, "instances", len(instances), "failed", report.Failed())
	return report, nil
}

func (i *Instance) storeNote(account string, note *domain.Note) error {
	stored := *note
	if len(stored.Context) == 0 {
		stored.Context = domain.NewContext(domain.ActivityStreams).AddTerm(domain.HashtagTerm, domain.HashtagIRI)
	}
	doc, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode note: %w", err)
	}
	if err := i.store.StorePostJSON(account, note.ID, doc); err != nil {
		return fmt.Errorf("failed to store note: %w", err)
	}
	return nil
}

// PublishNote creates a public note with content and publishes it.
func (i *Instance) PublishNote(ctx context.Context, account string, content string) (*domain.Note, *PublishReport, error) {
	note := domain.NewNote(i.actorURI(account), content)
	report, err := i.Publish(ctx, account, domain.NewCreate(note.AttributedTo, note))
	if err != nil {
		return nil, nil, err
	}
	return note, report, nil
}

// FollowUser resolves handle ("@name@host") and sends it a Follow from
// account. The followed actor is recorded once the remote inbox accepted
// the delivery.
func (i *Instance) FollowUser(ctx context.Context, account string, handle string) (*ActorResponse, error) {
	if err := i.requireAccount(account); err != nil {
		return nil, err
	}
	u, err := i.store.GetUser(account)
	if err != nil {
		return nil, err
	}

	remote, err := i.discoverer.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}

	local := u.ActorURI(i.host)
	follow := domain.NewFollow(fmt.Sprintf("%s/activities/%s", local, uuid.New().String()), local, remote.ID)
	body, err := json.Marshal(follow)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Follow: %w", err)
	}

	start := time.Now()
	result := i.deliverer.Deliver(ctx, u, u.KeyID(i.host), follow.ID, remote.Inbox, body)
	if result.Err != nil {
		return nil, result.Err
	}

	instance, err := domain.InstanceOf(remote.ID)
	if err != nil {
		return nil, err
	}
	if _, err := i.store.AddFollowing(account, instance, remote.ID); err != nil {
		return nil, fmt.Errorf("failed to record following: %w", err)
	}

	i.logger.Info("Following", "account", account, "actor", remote.ID, "took", time.Since(start))
	return remote, nil
}
