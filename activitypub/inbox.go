package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/pubcore/domain"
)

// HandleInbox dispatches one activity posted to the inbox of account.
// Only an unknown account, a payload that is not JSON, an invalid Create or
// a storage failure is returned; every other condition is logged and the
// activity is dropped.
func (i *Instance) HandleInbox(ctx context.Context, account string, body []byte) error {
	if err := i.requireAccount(account); err != nil {
		return err
	}

	i.logger.Debug("Inbox payload", "account", account, "body", string(body))

	env, err := domain.DecodeEnvelope(body)
	if err != nil {
		return err
	}

	i.logger.Info("Inbox", "account", account, "activity", env.String())

	switch env.Type {
	case domain.TypeFollow:
		return i.handleFollow(ctx, account, env)
	case domain.TypeUndo:
		switch env.ObjectType() {
		case domain.TypeFollow:
			return i.handleUndoFollow(account, env)
		case domain.TypeLike:
			return i.handleUndoLike(ctx, account, env)
		default:
			i.logger.Info("Ignoring Undo", "account", account, "object", env.ObjectType())
			return nil
		}
	case domain.TypeLike:
		return i.handleLike(ctx, account, env)
	case domain.TypeCreate:
		return i.handleCreate(ctx, account, body)
	case domain.TypeDelete, domain.TypeUpdate, domain.TypeAccept:
		i.logger.Info("Ignoring activity", "account", account, "type", env.Type, "id", env.ID)
		return nil
	default:
		i.logger.Debug("Unsupported activity type", "account", account, "type", env.Type)
		return nil
	}
}

func (i *Instance) handleFollow(ctx context.Context, account string, env *domain.Envelope) error {
	instance, err := domain.InstanceOf(env.Actor)
	if err != nil {
		return err
	}

	added, err := i.store.AddFollower(account, instance, env.Actor)
	if err != nil {
		return fmt.Errorf("failed to add follower: %w", err)
	}
	if added {
		i.logger.Info("New follower", "account", account, "follower", env.Actor)
	}

	i.sendAccept(ctx, account, env.ID, env.Actor)
	return nil
}

func (i *Instance) handleUndoFollow(account string, env *domain.Envelope) error {
	instance, err := domain.InstanceOf(env.Actor)
	if err != nil {
		return err
	}

	removed, err := i.store.RemoveFollower(account, instance, env.Actor)
	if err != nil {
		return fmt.Errorf("failed to remove follower: %w", err)
	}
	if removed {
		i.logger.Info("Lost follower", "account", account, "follower", env.Actor)
	}
	return nil
}

func (i *Instance) handleLike(ctx context.Context, account string, env *domain.Envelope) error {
	note, err := i.store.GetPost(account, env.ObjectID())
	if err != nil {
		return err
	}
	if note == nil {
		i.logger.Debug("Like of unknown post", "account", account, "object", env.ObjectID())
		return nil
	}

	if _, err := i.store.LikePost(account, note.ID, domain.Like{Actor: env.Actor, ActivityID: env.ID}); err != nil {
		return fmt.Errorf("failed to store like: %w", err)
	}
	if i.likes != nil {
		i.likes.HandleLike(note.ID, env.Actor)
	}

	i.sendAccept(ctx, account, env.ID, env.Actor)
	return nil
}

func (i *Instance) handleUndoLike(ctx context.Context, account string, env *domain.Envelope) error {
	note, err := i.store.GetPost(account, env.InnerObjectID())
	if err != nil {
		return err
	}
	if note == nil {
		i.logger.Debug("Undo of a like of unknown post", "account", account, "object", env.InnerObjectID())
		return nil
	}

	if _, err := i.store.UnlikePost(account, note.ID, domain.Like{Actor: env.Actor, ActivityID: env.ObjectID()}); err != nil {
		return fmt.Errorf("failed to remove like: %w", err)
	}

	i.sendAccept(ctx, account, env.ID, env.Actor)
	return nil
}

func (i *Instance) handleCreate(ctx context.Context, account string, body []byte) error {
	create, err := domain.ParseActivityAs(body, domain.TypeCreate)
	if err != nil {
		return err
	}

	note := create.Object.Note
	if note.InReplyTo == "" {
		i.logger.Debug("Create without inReplyTo", "account", account, "id", create.ID)
		return nil
	}

	local, err := i.store.GetPost(account, note.InReplyTo)
	if err != nil {
		return err
	}
	if local == nil {
		i.logger.Debug("Reply to unknown post", "account", account, "inReplyTo", note.InReplyTo)
		return nil
	}
	if i.replies == nil {
		i.logger.Debug("No reply handler registered", "account", account, "id", create.ID)
		return nil
	}

	token, _ := domain.ObjectToken(local.ID)
	i.replies.HandleReply(token, create.Actor, note.Content)

	i.sendAccept(ctx, account, create.ID, create.Actor)
	return nil
}

// sendAccept acknowledges acceptedID to remoteActor. Failures are logged and
// recorded by the deliverer only.
func (i *Instance) sendAccept(ctx context.Context, account string, acceptedID string, remoteActor string) {
	u, err := i.store.GetUser(account)
	if err != nil {
		i.logger.Error("Failed to load account for Accept", "account", account, "err", err)
		return
	}

	local := u.ActorURI(i.host)
	accept := domain.NewAccept(fmt.Sprintf("%s/activities/%s", local, domain.NewToken()), local, acceptedID, remoteActor)
	body, err := json.Marshal(accept)
	if err != nil {
		i.logger.Error("Failed to encode Accept", "account", account, "err", err)
		return
	}

	i.deliverer.Deliver(ctx, u, u.KeyID(i.host), accept.ID, remoteActor+"/inbox", body)
}
