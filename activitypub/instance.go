package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/storage"
)

// Verb selects what a Request asks of the Instance.
type Verb string

const (
	VerbWebFinger Verb = "webfinger"
	VerbProfile   Verb = "profile"
	VerbFollowing Verb = "following"
	VerbFollowers Verb = "followers"
	VerbInbox     Verb = "inbox"
	VerbOutbox    Verb = "outbox"
	VerbGetPost   Verb = "getPost"
)

// Request is what the HTTP front-end hands to the engine after routing.
type Request struct {
	Account string
	Verb    Verb
	PostID  string
	RawBody []byte
	// Resource is the webfinger "resource" query parameter.
	Resource string
}

type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// LikeHandler is told about every accepted Like of a local post.
type LikeHandler interface {
	HandleLike(postID string, actorURI string)
}

// ReplyHandler is told about every remote Note replying to a local post.
type ReplyHandler interface {
	HandleReply(localPostID string, actorURI string, content string)
}

type LikeHandlerFunc func(postID string, actorURI string)

func (f LikeHandlerFunc) HandleLike(postID string, actorURI string) { f(postID, actorURI) }

type ReplyHandlerFunc func(localPostID string, actorURI string, content string)

func (f ReplyHandlerFunc) HandleReply(localPostID string, actorURI string, content string) {
	f(localPostID, actorURI, content)
}

type Options struct {
	// Host is the public host name local actor URIs are built on.
	Host  string
	Store storage.Provider
	// Client is shared by delivery and discovery. nil builds one with
	// DeliveryTimeout.
	Client          *http.Client
	Recorder        DeliveryRecorder
	Logger          *log.Logger
	DeliveryWorkers int
	DeliveryTimeout time.Duration
	DiscoveryScheme string
	LikeHandler     LikeHandler
	ReplyHandler    ReplyHandler
}

// Instance is the federation engine of one server: it answers the
// front-end verbs, dispatches inbound activities and publishes outbound ones.
type Instance struct {
	host       string
	store      storage.Provider
	deliverer  *Deliverer
	discoverer *Discoverer
	logger     *log.Logger
	workers    int
	likes      LikeHandler
	replies    ReplyHandler
}

func New(opts Options) *Instance {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.DeliveryWorkers < 1 {
		opts.DeliveryWorkers = 1
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.DeliveryTimeout}
	}

	return &Instance{
		host:       opts.Host,
		store:      opts.Store,
		deliverer:  NewDeliverer(client, opts.DeliveryTimeout, opts.Recorder, opts.Logger.WithPrefix("delivery")),
		discoverer: NewDiscoverer(client, opts.DiscoveryScheme, opts.DeliveryTimeout, opts.Logger.WithPrefix("discovery")),
		logger:     opts.Logger,
		workers:    opts.DeliveryWorkers,
		likes:      opts.LikeHandler,
		replies:    opts.ReplyHandler,
	}
}

func (i *Instance) Host() string {
	return i.host
}

func (i *Instance) Store() storage.Provider {
	return i.store
}

// Handle answers one front-end request. Errors never escape: they become
// 400, 404 or 500 responses with a JSON body.
func (i *Instance) Handle(ctx context.Context, req Request) Response {
	if req.Verb == VerbWebFinger && req.Account == "" {
		account, ok := accountFromResource(req.Resource, i.host)
		if !ok {
			return i.errorResponse(req, domain.AccountNotFound(req.Resource))
		}
		req.Account = account
	}

	if err := i.requireAccount(req.Account); err != nil {
		return i.errorResponse(req, err)
	}

	var (
		doc any
		err error
	)
	switch req.Verb {
	case VerbWebFinger:
		doc = i.webFingerDocument(req.Account)
	case VerbProfile:
		doc, err = i.actorDocument(req.Account)
	case VerbFollowers:
		doc, err = i.relationsDocument(req.Account, "followers")
	case VerbFollowing:
		doc, err = i.relationsDocument(req.Account, "following")
	case VerbOutbox:
		doc, err = i.outboxDocument(req.Account)
	case VerbGetPost:
		return i.getPost(req)
	case VerbInbox:
		if err := i.HandleInbox(ctx, req.Account, req.RawBody); err != nil {
			return i.errorResponse(req, err)
		}
		return Response{Status: http.StatusAccepted, ContentType: domain.ContentType}
	default:
		err = &domain.ValidationError{Msg: fmt.Sprintf("unknown verb '%s'", req.Verb)}
	}
	if err != nil {
		return i.errorResponse(req, err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return i.errorResponse(req, err)
	}
	return Response{Status: http.StatusOK, ContentType: domain.ContentType, Body: body}
}

func (i *Instance) requireAccount(account string) error {
	if account == "" {
		return domain.AccountNotFound(account)
	}
	exists, err := i.store.HasUser(account)
	if err != nil {
		return err
	}
	if !exists {
		return domain.AccountNotFound(account)
	}
	return nil
}

func (i *Instance) getPost(req Request) Response {
	notFound := &domain.NotFoundError{
		Msg:     "Post not found",
		Context: map[string]string{"account": req.Account, "postId": req.PostID},
	}

	token, ok := domain.ObjectToken(req.PostID)
	if !ok {
		return i.errorResponse(req, notFound)
	}
	doc, err := i.store.GetPostJSON(req.Account, token)
	if err != nil {
		return i.errorResponse(req, err)
	}
	if doc == nil {
		return i.errorResponse(req, notFound)
	}
	return Response{Status: http.StatusOK, ContentType: domain.ContentType, Body: doc}
}

func (i *Instance) errorResponse(req Request, err error) Response {
	status := http.StatusInternalServerError
	body := map[string]string{"error": err.Error()}

	var ve *domain.ValidationError
	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.As(err, &nf):
		status = http.StatusNotFound
		body["error"] = nf.Msg
		for k, v := range nf.Context {
			body[k] = v
		}
	default:
		i.logger.Error("Request failed", "verb", req.Verb, "account", req.Account, "err", err)
	}

	data, _ := json.Marshal(body)
	return Response{Status: status, ContentType: domain.ContentType, Body: data}
}

// accountFromResource turns "acct:alice@host" into "alice". A resource
// naming any other host is not ours to answer for.
func accountFromResource(resource, host string) (string, bool) {
	name := strings.TrimPrefix(resource, "acct:")
	name = strings.TrimPrefix(name, "@")
	name, domainPart, found := strings.Cut(name, "@")
	if found && !strings.EqualFold(domainPart, host) {
		return "", false
	}
	return name, name != ""
}

func (i *Instance) actorURI(account string) string {
	return fmt.Sprintf("https://%s/@%s", i.host, account)
}

func (i *Instance) webFingerDocument(account string) WebFingerResponse {
	return WebFingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", account, i.host),
		Links: []WebFingerLink{{
			Rel:  "self",
			Type: domain.ContentType,
			Href: i.actorURI(account),
		}},
	}
}

type image struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

type publicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type personDocument struct {
	Context                   domain.Context    `json:"@context"`
	ID                        string            `json:"id"`
	Type                      string            `json:"type"`
	Following                 string            `json:"following"`
	Followers                 string            `json:"followers"`
	Inbox                     string            `json:"inbox"`
	Outbox                    string            `json:"outbox"`
	PreferredUsername         string            `json:"preferredUsername"`
	Name                      string            `json:"name"`
	Summary                   string            `json:"summary"`
	URL                       string            `json:"url"`
	ManuallyApprovesFollowers bool              `json:"manuallyApprovesFollowers"`
	Discoverable              bool              `json:"discoverable"`
	Indexable                 bool              `json:"indexable"`
	Published                 string            `json:"published"`
	Icon                      image             `json:"icon"`
	Image                     image             `json:"image"`
	PublicKey                 publicKey         `json:"publicKey"`
	Endpoints                 map[string]string `json:"endpoints"`
}

func (i *Instance) actorDocument(account string) (*personDocument, error) {
	u, err := i.store.GetUser(account)
	if err != nil {
		return nil, err
	}
	u.ApplyDefaults()
	actor := u.ActorURI(i.host)

	return &personDocument{
		Context:           domain.NewContext(domain.ActivityStreams, domain.SecurityV1),
		ID:                actor,
		Type:              "Person",
		Following:         actor + "/following",
		Followers:         actor + "/followers",
		Inbox:             actor + "/inbox",
		Outbox:            actor + "/outbox",
		PreferredUsername: u.Username,
		Name:              u.Name,
		Summary:           u.Bio,
		URL:               actor,
		Discoverable:      true,
		Indexable:         true,
		Published:         u.JoinDate,
		Icon:              image{Type: "Image", MediaType: "image/jpeg", URL: "https://" + i.host + u.IconImage},
		Image:             image{Type: "Image", MediaType: "image/jpeg", URL: "https://" + i.host + u.HeaderImage},
		PublicKey: publicKey{
			ID:           u.KeyID(i.host),
			Owner:        actor,
			PublicKeyPem: u.PublicKey,
		},
		Endpoints: map[string]string{"sharedInbox": actor + "/inbox"},
	}, nil
}

type orderedCollection struct {
	Context      domain.Context `json:"@context"`
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	TotalItems   int            `json:"totalItems"`
	OrderedItems any            `json:"orderedItems"`
}

func (i *Instance) relationsDocument(account string, kind string) (*orderedCollection, error) {
	u, err := i.store.GetUser(account)
	if err != nil {
		return nil, err
	}

	items := u.GetFollowers()
	if kind == "following" {
		items = u.GetFollowing()
	}
	if items == nil {
		items = []string{}
	}

	return &orderedCollection{
		Context:      domain.NewContext(domain.ActivityStreams),
		ID:           u.ActorURI(i.host) + "/" + kind,
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}, nil
}

type outboxItem struct {
	Type   string `json:"type"`
	Actor  string `json:"actor"`
	Object string `json:"object"`
}

func (i *Instance) outboxDocument(account string) (*orderedCollection, error) {
	ids, err := i.store.GetAllPostIdsForUser(account)
	if err != nil {
		return nil, err
	}

	actor := i.actorURI(account)
	items := make([]outboxItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, outboxItem{Type: domain.TypeCreate, Actor: actor, Object: id})
	}

	return &orderedCollection{
		Context:      domain.NewContext(domain.ActivityStreams),
		ID:           actor + "/outbox",
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}, nil
}

// FetchActor fetches a remote actor document, e.g. to check the key of a
// signed request.
func (i *Instance) FetchActor(ctx context.Context, actorURI string) (*ActorResponse, error) {
	return i.discoverer.FetchActor(ctx, actorURI)
}
