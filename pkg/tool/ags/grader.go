// pkg/tool/ags/grader.go
package ags

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

// Outcome is a result to record for one user. A nil Value submits an
// unscored Initialized/NotReady entry.
type Outcome struct {
	Value            *float64
	PointsPossible   float64
	Comment          string
	ActivityProgress string // default Completed
	GradingProgress  string // default FullyGraded
}

// Score converts the outcome into the Score body for userID.
func (o Outcome) Score(userID string) Score {
	s := Score{UserID: userID}
	if o.Value == nil {
		s.ActivityProgress, s.GradingProgress = ActivityInitialized, GradingNotReady
		return s
	}
	given, maximum := *o.Value, o.PointsPossible
	if maximum <= 0 {
		maximum = 1
	}
	s.ScoreGiven, s.ScoreMaximum = &given, &maximum
	s.Comment = o.Comment
	s.ActivityProgress, s.GradingProgress = o.ActivityProgress, o.GradingProgress
	if s.ActivityProgress == "" {
		s.ActivityProgress = ActivityCompleted
	}
	if s.GradingProgress == "" {
		s.GradingProgress = GradingFullyGraded
	}
	return s
}

var ErrNoLineItem = errors.New("ags: resource link has no line item or line items service")

// Grader submits outcomes for users of a resource link, creating the line
// item first when the platform only offered a line items container.
type Grader struct {
	Env *lti.Env
}

func NewGrader(env *lti.Env) *Grader { return &Grader{Env: env} }

// Submit records o for user u of resource link rl.
func (g *Grader) Submit(ctx context.Context, rl *lti.ResourceLink, u *lti.UserResult, o Outcome) error {
	if g.Env == nil || g.Env.Connector == nil {
		return lti.ErrNoConnector
	}
	p, err := PlatformForLink(ctx, g.Env.Connector, rl)
	if err != nil {
		return err
	}
	client := NewClient(g.Env, p)

	lineItemURL, err := g.ensureLineItem(ctx, client, rl, o)
	if err != nil {
		return err
	}
	if err := client.PostScore(ctx, lineItemURL, o.Score(u.LTIUserID)); err != nil {
		g.logger().Warn("score submission failed",
			zap.String("platform", p.ID()), zap.String("resource_link", rl.LTIResourceLinkID),
			zap.String("user", u.LTIUserID), zap.Error(err))
		return err
	}
	return nil
}

// ensureLineItem returns the link's line item URL. Without one it looks up
// the container for an item with this link's id and creates it when absent,
// remembering the URL in the link's settings.
func (g *Grader) ensureLineItem(ctx context.Context, client *Client, rl *lti.ResourceLink, o Outcome) (string, error) {
	if u := rl.LineItemURL(); u != "" {
		return u, nil
	}
	container := rl.Settings.Get("custom_lineitems_url")
	if container == "" {
		return "", ErrNoLineItem
	}

	var found *LineItem
	items, err := client.ListLineItems(ctx, container, map[string]string{"resource_link_id": rl.LTIResourceLinkID})
	if err == nil {
		for i := range items {
			if items[i].ResourceLinkID == rl.LTIResourceLinkID {
				found = &items[i]
				break
			}
		}
	}
	if found == nil {
		maximum := o.PointsPossible
		if maximum <= 0 {
			maximum = 1
		}
		label := rl.Title
		if label == "" {
			label = rl.LTIResourceLinkID
		}
		created, err := client.CreateLineItem(ctx, container, LineItem{
			Label: label, ScoreMaximum: maximum, ResourceLinkID: rl.LTIResourceLinkID,
		})
		if err != nil {
			return "", fmt.Errorf("ags: create line item: %w", err)
		}
		found = &created
	}
	if found.ID == "" {
		return "", ErrNoLineItem
	}

	if rl.Settings == nil {
		rl.Settings = lti.Settings{}
	}
	rl.Settings.Set("custom_lineitem_url", found.ID)
	if err := g.Env.Connector.SaveResourceLink(ctx, rl); err != nil {
		g.logger().Warn("unable to record line item", zap.String("resource_link", rl.LTIResourceLinkID), zap.Error(err))
	}
	return found.ID, nil
}

func (g *Grader) logger() *zap.Logger {
	if g.Env != nil && g.Env.Logger != nil {
		return g.Env.Logger
	}
	return zap.NewNop()
}

// PlatformForLink loads the platform owning rl, directly or via its context.
func PlatformForLink(ctx context.Context, dc lti.DataConnector, rl *lti.ResourceLink) (*lti.Platform, error) {
	platformID := rl.PlatformID
	if platformID == 0 && rl.ContextID != 0 {
		c := &lti.Context{RecordID: rl.ContextID}
		if err := dc.LoadContext(ctx, c); err != nil {
			return nil, fmt.Errorf("ags: load context: %w", err)
		}
		platformID = c.PlatformID
	}
	if platformID == 0 {
		return nil, fmt.Errorf("ags: resource link %d has no platform", rl.RecordID)
	}
	p, err := lti.PlatformFromRecordID(ctx, dc, platformID)
	if err != nil {
		return nil, err
	}
	if !p.Exists() {
		return nil, lti.ErrNotFound
	}
	return p, nil
}
