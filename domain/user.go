package domain

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/deemkeen/pubcore/util"
)

const (
	DefaultIconImage   = "/images/noIcon.jpg"
	DefaultHeaderImage = "/images/noHeader.jpg"
	JoinDateFormat     = "2006-01-02T15:04:05Z"
)

// User is a locally hosted account.
type User struct {
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	Bio         string    `json:"bio"`
	JoinDate    string    `json:"joinDate"`
	IconImage   string    `json:"iconImage"`
	HeaderImage string    `json:"headerImage"`
	PublicKey   string    `json:"publicKey"`
	PrivateKey  string    `json:"privateKey"`
	Followers   Relations `json:"-"`
	Following   Relations `json:"-"`
}

// NewUser creates an account with a fresh RSA key pair.
func NewUser(username string, displayName string) (*User, error) {
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair for %s: %w", username, err)
	}
	u := &User{
		Username:    username,
		Name:        displayName,
		JoinDate:    time.Now().UTC().Format(JoinDateFormat),
		IconImage:   DefaultIconImage,
		HeaderImage: DefaultHeaderImage,
		PublicKey:   keys.Public,
		PrivateKey:  keys.Private,
		Followers:   Relations{},
		Following:   Relations{},
	}
	return u, nil
}

// ApplyDefaults fills the fields an older or hand-written info file may lack.
func (u *User) ApplyDefaults() {
	if u.Name == "" {
		u.Name = u.Username
	}
	if u.Bio == "" {
		u.Bio = u.Username + " bio"
	}
	if u.JoinDate == "" {
		u.JoinDate = time.Now().UTC().Format(JoinDateFormat)
	}
	if u.IconImage == "" {
		u.IconImage = DefaultIconImage
	}
	if u.HeaderImage == "" {
		u.HeaderImage = DefaultHeaderImage
	}
	if u.Followers == nil {
		u.Followers = Relations{}
	}
	if u.Following == nil {
		u.Following = Relations{}
	}
}

func (u *User) AddFollower(instance string, account string) bool {
	if u.Followers == nil {
		u.Followers = Relations{}
	}
	return u.Followers.Add(instance, account)
}

func (u *User) RemoveFollower(instance string, account string) bool {
	return u.Followers.Remove(instance, account)
}

func (u *User) AddFollowing(instance string, account string) bool {
	if u.Following == nil {
		u.Following = Relations{}
	}
	return u.Following.Add(instance, account)
}

func (u *User) GetFollowers() []string {
	return u.Followers.Accounts()
}

func (u *User) GetFollowing() []string {
	return u.Following.Accounts()
}

// GetFollowerInstances lists the hostnames to fan out to.
func (u *User) GetFollowerInstances() []string {
	return u.Followers.Instances()
}

// ActorURI is the account's id on host.
func (u *User) ActorURI(host string) string {
	return fmt.Sprintf("https://%s/@%s", host, u.Username)
}

// KeyID names the account's public key on host.
func (u *User) KeyID(host string) string {
	return u.ActorURI(host) + "#main-key"
}

// Sign signs s with RSA-SHA256 and returns the base64 signature.
func (u *User) Sign(s string) (string, error) {
	key, err := util.ParsePrivateKey(u.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to load private key of %s: %w", u.Username, err)
	}
	hash := sha256.Sum256([]byte(s))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// InstanceOf returns the host (and port, if any) of an actor URI.
func InstanceOf(actorURI string) (string, error) {
	u, err := url.Parse(actorURI)
	if err != nil || u.Host == "" {
		return "", validationErrorf("invalid actor URI '%s'", actorURI)
	}
	return u.Host, nil
}
