// pkg/tool/lti/platform.go
package lti

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Platform is a registered LTI consumer. Exactly one identity scheme is
// populated: the OAuth1 Key, or the PlatformID/ClientID/DeploymentID triple.
type Platform struct {
	RecordID int64

	Key    string // OAuth1 consumer key
	Name   string
	Secret string

	PlatformID            string // LTI 1.3 issuer
	ClientID              string
	DeploymentID          string
	AuthorizationServerID string
	AuthenticationURL     string
	AccessTokenURL        string

	// Platform public key material.
	RSAKey string // PEM
	JKU    string
	KID    string

	SignatureMethod string
	LTIVersion      string

	ConsumerName    string
	ConsumerVersion string
	ConsumerGUID    string
	Profile         json.RawMessage
	CSSPath         string

	Protected   bool
	Enabled     bool
	EnableFrom  *time.Time
	EnableUntil *time.Time
	LastAccess  *time.Time

	IDScope      IDScope
	DefaultEmail string
	Debug        bool

	Settings Settings

	Created *time.Time
	Updated *time.Time
}

// NewPlatform returns a platform with the OAuth1 default signature method.
func NewPlatform() *Platform {
	return &Platform{SignatureMethod: "HMAC-SHA1", Settings: Settings{}}
}

// ID is the consumer key, or platformId[/clientId][#deploymentId].
func (p *Platform) ID() string {
	switch {
	case p.Key != "":
		return p.Key
	case p.PlatformID != "":
		id := p.PlatformID
		if p.ClientID != "" {
			id += "/" + p.ClientID
		}
		if p.DeploymentID != "" {
			id += "#" + p.DeploymentID
		}
		return id
	default:
		return ""
	}
}

// FamilyCode is the product family part of ConsumerVersion ("moodle-4.1" -> "moodle").
func (p *Platform) FamilyCode() string {
	if i := strings.IndexByte(p.ConsumerVersion, '-'); i >= 0 {
		return p.ConsumerVersion[:i]
	}
	return p.ConsumerVersion
}

// IsAvailable reports whether the platform is enabled and now falls within
// [EnableFrom, EnableUntil).
func (p *Platform) IsAvailable(now time.Time) bool {
	return p.availability(now) == ""
}

// availability returns the rejection reason for now, or "".
func (p *Platform) availability(now time.Time) string {
	switch {
	case !p.Enabled:
		return "Platform has not been enabled by the tool."
	case p.EnableFrom != nil && p.EnableFrom.After(now):
		return "Platform access is not yet available."
	case p.EnableUntil != nil && !p.EnableUntil.After(now):
		return "Platform access has expired."
	default:
		return ""
	}
}

// UseOAuth1 is true unless the signature method is an RSA JWT algorithm.
func (p *Platform) UseOAuth1() bool {
	return useOAuth1(p.SignatureMethod)
}

func useOAuth1(method string) bool {
	return method == "" || !strings.HasPrefix(method, "RS")
}

// IsLTI13 reports whether the platform is identified by the LTI 1.3 triple.
func (p *Platform) IsLTI13() bool { return p.Key == "" && p.PlatformID != "" }

// Exists reports whether the record was loaded from (or saved to) storage.
func (p *Platform) Exists() bool { return p.Created != nil }

func (p *Platform) SystemSettings() Settings {
	if p.Settings == nil {
		p.Settings = Settings{}
	}
	return p.Settings
}

// Signer returns the signing strategy for messages exchanged with this
// platform while acting as a tool.
func (p *Platform) Signer(env *Env) Signer {
	if p.UseOAuth1() {
		return p.oauth1Signer(env)
	}
	return p.jwtSigner(env)
}

// verifier returns the strategy that checks an inbound message. It follows
// the shape of the message, never the signature method the message names.
func (p *Platform) verifier(env *Env, isJWT bool) Signer {
	if isJWT {
		return p.jwtSigner(env)
	}
	return p.oauth1Signer(env)
}

func (p *Platform) oauth1Signer(env *Env) *OAuth1Signer {
	return &OAuth1Signer{
		ConsumerKey: p.Key,
		Secret:      p.Secret,
		Method:      p.SignatureMethod,
		NonceScope:  nonceScope(p),
		Env:         env,
	}
}

func (p *Platform) jwtSigner(env *Env) *JwtSigner {
	aud := p.AuthorizationServerID
	if aud == "" {
		aud = p.AccessTokenURL
	}
	return &JwtSigner{
		Issuer:        p.ClientID,
		Audience:      p.PlatformID,
		DeploymentID:  p.DeploymentID,
		TokenAudience: aud,
		Algorithm:     p.SignatureMethod,
		PeerKeyPEM:    p.RSAKey,
		PeerJKU:       p.JKU,
		NonceScope:    nonceScope(p),
		Env:           env,
		Param:         "JWT",
		Platform:      p,
	}
}

// nonceScope is the per-platform namespace used for nonce values.
func nonceScope(p *Platform) string {
	if p == nil {
		return ""
	}
	if p.RecordID > 0 {
		return formatID(p.RecordID)
	}
	return p.ID()
}

// Save persists the platform through the connector.
func (p *Platform) Save(ctx context.Context, dc DataConnector) error {
	if dc == nil {
		return ErrNoConnector
	}
	return dc.SavePlatform(ctx, p)
}

// PlatformFromConsumerKey loads an OAuth1 platform. A missing record yields a
// platform with Created == nil.
func PlatformFromConsumerKey(ctx context.Context, dc DataConnector, key string) (*Platform, error) {
	p := NewPlatform()
	p.Key = key
	if err := loadPlatform(ctx, dc, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PlatformFromPlatformID loads an LTI 1.3 platform, falling back from the
// full triple to (platformID, clientID) and then platformID alone.
func PlatformFromPlatformID(ctx context.Context, dc DataConnector, platformID, clientID, deploymentID string) (*Platform, error) {
	candidates := [][2]string{{clientID, deploymentID}}
	if deploymentID != "" {
		candidates = append(candidates, [2]string{clientID, ""})
	}
	if clientID != "" {
		candidates = append(candidates, [2]string{"", ""})
	}
	var p *Platform
	for _, c := range candidates {
		p = NewPlatform()
		p.PlatformID, p.ClientID, p.DeploymentID = platformID, c[0], c[1]
		if err := loadPlatform(ctx, dc, p); err != nil {
			return nil, err
		}
		if p.Exists() {
			break
		}
	}
	if !p.Exists() {
		p.ClientID, p.DeploymentID = clientID, deploymentID
	}
	return p, nil
}

// PlatformFromRecordID loads a platform by primary key.
func PlatformFromRecordID(ctx context.Context, dc DataConnector, id int64) (*Platform, error) {
	p := NewPlatform()
	p.RecordID = id
	if err := loadPlatform(ctx, dc, p); err != nil {
		return nil, err
	}
	return p, nil
}

func loadPlatform(ctx context.Context, dc DataConnector, p *Platform) error {
	if dc == nil {
		return ErrNoConnector
	}
	err := dc.LoadPlatform(ctx, p)
	if errors.Is(err, ErrNotFound) {
		p.Created = nil
		return nil
	}
	return err
}
