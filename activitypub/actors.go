package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/util"
)

// Discovery steps named by a DiscoveryError.
const (
	StepHandle    = "handle"
	StepWebFinger = "webfinger"
	StepActor     = "actor"
	StepInbox     = "inbox"
)

const maxDocumentSize = 1 << 20

// WebFingerResponse is a JRD document.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// Discoverer resolves "@name@host" handles to actor documents.
type Discoverer struct {
	client  *http.Client
	scheme  string
	timeout time.Duration
	logger  *log.Logger
}

func NewDiscoverer(client *http.Client, scheme string, timeout time.Duration, logger *log.Logger) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if scheme == "" {
		scheme = "http"
	}
	return &Discoverer{client: client, scheme: scheme, timeout: timeout, logger: logger}
}

// ParseHandle splits "@name@host" (the leading @ is optional).
func ParseHandle(handle string) (string, string, error) {
	name, host, ok := strings.Cut(strings.TrimPrefix(strings.TrimSpace(handle), "@"), "@")
	if !ok || name == "" || host == "" || strings.ContainsAny(host, "/@ ") {
		return "", "", fmt.Errorf("'%s' is not of the form @name@host", handle)
	}
	return name, host, nil
}

// Resolve runs WebFinger for handle, fetches the actor document it points
// to and checks that the actor has an inbox.
func (d *Discoverer) Resolve(ctx context.Context, handle string) (*ActorResponse, error) {
	name, host, err := ParseHandle(handle)
	if err != nil {
		return nil, &domain.DiscoveryError{Step: StepHandle, Target: handle, Err: err}
	}

	actorURL, err := d.webFinger(ctx, name, host)
	if err != nil {
		return nil, &domain.DiscoveryError{Step: StepWebFinger, Target: handle, Err: err}
	}

	actor, err := d.FetchActor(ctx, actorURL)
	if err != nil {
		return nil, &domain.DiscoveryError{Step: StepActor, Target: handle, Err: err}
	}

	if actor.Inbox == "" {
		return nil, &domain.DiscoveryError{Step: StepInbox, Target: handle, Err: errors.New("actor document has no inbox")}
	}
	if u, err := url.Parse(actor.Inbox); err != nil || u.Host == "" {
		return nil, &domain.DiscoveryError{Step: StepInbox, Target: handle, Err: fmt.Errorf("invalid inbox '%s'", actor.Inbox)}
	}

	d.logger.Debug("Resolved handle", "handle", handle, "actor", actor.ID, "inbox", actor.Inbox)
	return actor, nil
}

func (d *Discoverer) webFinger(ctx context.Context, name string, host string) (string, error) {
	endpoint := url.URL{
		Scheme:   d.scheme,
		Host:     host,
		Path:     "/.well-known/webfinger",
		RawQuery: "resource=" + url.QueryEscape("acct:"+name+"@"+host),
	}

	var jrd WebFingerResponse
	if err := d.getJSON(ctx, endpoint.String(), "application/jrd+json, application/json", &jrd); err != nil {
		return "", err
	}

	for _, link := range jrd.Links {
		if link.Rel == "self" && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", errors.New("no rel=self link in webfinger response")
}

// FetchActor fetches an actor from a remote server
func (d *Discoverer) FetchActor(ctx context.Context, actorURI string) (*ActorResponse, error) {
	var actor ActorResponse
	if err := d.getJSON(ctx, actorURI, domain.ContentType, &actor); err != nil {
		return nil, err
	}
	if actor.ID == "" {
		return nil, errors.New("actor document has no id")
	}
	return &actor, nil
}

func (d *Discoverer) getJSON(ctx context.Context, target string, accept string, v any) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", util.Name+"/"+util.GetVersion()+" ActivityPub")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status: %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
