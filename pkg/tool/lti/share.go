// pkg/tool/lti/share.go
package lti

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Share key limits.
const (
	DefaultShareKeyLife   = 24 * time.Hour
	MaxShareKeyLife       = 168 * time.Hour
	DefaultShareKeyLength = 6
	MinShareKeyLength     = 5
	MaxShareKeyLength     = 32
)

// NewShareKey returns an unsaved key granting access to rl. Life and length
// are clamped to the limits above; zero selects the defaults.
func NewShareKey(rl *ResourceLink, life time.Duration, autoApprove bool, length int, now time.Time) *ShareKey {
	switch {
	case life <= 0:
		life = DefaultShareKeyLife
	case life > MaxShareKeyLife:
		life = MaxShareKeyLife
	}
	switch {
	case length <= 0:
		length = DefaultShareKeyLength
	case length < MinShareKeyLength:
		length = MinShareKeyLength
	case length > MaxShareKeyLength:
		length = MaxShareKeyLength
	}
	return &ShareKey{
		ID:             strings.ToLower(randomString(length)),
		ResourceLinkID: rl.RecordID,
		AutoApprove:    autoApprove,
		Expires:        now.Add(life),
	}
}

// checkForShare resolves a custom_share_key into a share arrangement and
// switches l.ResourceLink to the primary link. Without a key the link must
// not already be a share.
func (t *Tool) checkForShare(ctx context.Context, l *Launch) error {
	rl := l.requestLink
	if rl == nil {
		return nil
	}
	dc := l.dc()
	primary := rl.PrimaryResourceLinkID

	if key := l.Params.Trimmed("custom_share_key"); key != "" {
		if !t.AllowSharing {
			return businessError("Your sharing request has been refused because sharing is not being permitted.")
		}
		sk := &ShareKey{ID: key}
		err := dc.LoadShareKey(ctx, sk)
		switch {
		case errors.Is(err, ErrNotFound):
			sk = nil
		case err != nil:
			return wrapError(KindInternal, "An error occurred initialising your share arrangement.", err)
		case !sk.Expires.IsZero() && !sk.Expires.After(l.Env.now()):
			if err := dc.DeleteShareKey(ctx, sk); err != nil {
				l.Env.logger().Warn("expired share key not deleted", zap.String("key", sk.ID), zap.Error(err))
			}
			sk = nil
		}
		if sk != nil {
			if sk.ResourceLinkID == rl.RecordID {
				return businessError("It is not possible to share your resource link with yourself.")
			}
			id, approved := sk.ResourceLinkID, sk.AutoApprove
			rl.PrimaryResourceLinkID, rl.ShareApproved = &id, &approved
			if err := dc.SaveResourceLink(ctx, rl); err != nil {
				return wrapError(KindInternal, "An error occurred initialising your share arrangement.", err)
			}
			if err := dc.DeleteShareKey(ctx, sk); err != nil {
				l.Env.logger().Warn("share key not deleted", zap.String("key", sk.ID), zap.Error(err))
			}
			primary = &id
		}
		if primary == nil {
			return businessError("You have requested to share a resource link but none is available.")
		}
		if *primary == rl.RecordID {
			return businessError("It is not possible to share your resource link with yourself.")
		}
		if rl.ShareApproved == nil || !*rl.ShareApproved {
			return businessError("Your share request is waiting to be approved.")
		}
	} else if primary != nil {
		return businessError("You have not been granted access to this resource link.")
	}

	if primary == nil {
		return nil
	}
	target := &ResourceLink{RecordID: *primary}
	if err := dc.LoadResourceLink(ctx, target); err != nil {
		return wrapError(KindBusiness, "Unable to load resource link being shared.", err)
	}
	l.ResourceLink = target
	return nil
}
