package lti

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func shareFixture(t *testing.T) (*Tool, *Launch, *memConnector, *ResourceLink, *ResourceLink) {
	t.Helper()
	ctx := context.Background()
	dc := newMemConnector()
	p := seedOAuth1Platform(t, dc, "key", "secret")
	primary := &ResourceLink{PlatformID: p.RecordID, LTIResourceLinkID: "primary", Title: "Primary"}
	require.NoError(t, dc.SaveResourceLink(ctx, primary))
	sharing := &ResourceLink{PlatformID: p.RecordID, LTIResourceLinkID: "other", Title: "Other"}
	require.NoError(t, dc.SaveResourceLink(ctx, sharing))

	tool := &Tool{AllowSharing: true}
	l := &Launch{Tool: tool, Env: newTestEnv(t, dc), Platform: p, Params: Params{}, requestLink: sharing, ResourceLink: sharing}
	return tool, l, dc, primary, sharing
}

func TestShare_AutoApprovedKey(t *testing.T) {
	tool, l, dc, primary, sharing := shareFixture(t)
	require.NoError(t, dc.SaveShareKey(context.Background(), &ShareKey{ID: "k1", ResourceLinkID: primary.RecordID, AutoApprove: true}))
	l.Params["custom_share_key"] = "k1"

	require.NoError(t, tool.checkForShare(context.Background(), l))
	assert.Equal(t, primary.RecordID, l.ResourceLink.RecordID)
	assert.Equal(t, sharing.RecordID, l.RequestLink().RecordID)
	assert.Empty(t, dc.shareKeys, "keys are single use")
	require.NotNil(t, dc.links[sharing.RecordID].PrimaryResourceLinkID)
	assert.Equal(t, primary.RecordID, *dc.links[sharing.RecordID].PrimaryResourceLinkID)
}

func TestShare_AwaitingApproval(t *testing.T) {
	tool, l, dc, primary, _ := shareFixture(t)
	require.NoError(t, dc.SaveShareKey(context.Background(), &ShareKey{ID: "k1", ResourceLinkID: primary.RecordID}))
	l.Params["custom_share_key"] = "k1"
	assert.Equal(t, "Your share request is waiting to be approved.", ReasonOf(tool.checkForShare(context.Background(), l)))
}

func TestShare_SelfShareRefused(t *testing.T) {
	tool, l, dc, _, sharing := shareFixture(t)
	require.NoError(t, dc.SaveShareKey(context.Background(), &ShareKey{ID: "k1", ResourceLinkID: sharing.RecordID, AutoApprove: true}))
	l.Params["custom_share_key"] = "k1"
	assert.Equal(t, "It is not possible to share your resource link with yourself.", ReasonOf(tool.checkForShare(context.Background(), l)))
	assert.Nil(t, dc.links[sharing.RecordID].PrimaryResourceLinkID)
}

func TestShare_ExpiredKey(t *testing.T) {
	tool, l, dc, primary, _ := shareFixture(t)
	require.NoError(t, dc.SaveShareKey(context.Background(), &ShareKey{
		ID: "k1", ResourceLinkID: primary.RecordID, AutoApprove: true, Expires: testNow.Add(-time.Minute),
	}))
	l.Params["custom_share_key"] = "k1"
	assert.Equal(t, "You have requested to share a resource link but none is available.", ReasonOf(tool.checkForShare(context.Background(), l)))
	assert.Empty(t, dc.shareKeys)
}

type failingShareDelete struct{ *memConnector }

func (failingShareDelete) DeleteShareKey(context.Context, *ShareKey) error {
	return errors.New("storage offline")
}

func TestShare_ExpiredKeyDeleteFailureLogged(t *testing.T) {
	tool, l, dc, primary, _ := shareFixture(t)
	require.NoError(t, dc.SaveShareKey(context.Background(), &ShareKey{
		ID: "k1", ResourceLinkID: primary.RecordID, Expires: testNow.Add(-time.Minute),
	}))
	core, logs := observer.New(zap.WarnLevel)
	l.Env.Logger = zap.New(core)
	l.Env.Connector = failingShareDelete{dc}
	l.Params["custom_share_key"] = "k1"

	assert.Equal(t, "You have requested to share a resource link but none is available.", ReasonOf(tool.checkForShare(context.Background(), l)))
	entries := logs.FilterMessage("expired share key not deleted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "k1", entries[0].ContextMap()["key"])
	assert.Equal(t, "storage offline", entries[0].ContextMap()["error"])
}

func TestShare_SharingDisabled(t *testing.T) {
	tool, l, _, _, _ := shareFixture(t)
	tool.AllowSharing = false
	l.Params["custom_share_key"] = "k1"
	assert.Equal(t, "Your sharing request has been refused because sharing is not being permitted.", ReasonOf(tool.checkForShare(context.Background(), l)))
}

func TestShare_ExistingShareWithoutKey(t *testing.T) {
	tool, l, _, primary, sharing := shareFixture(t)
	id, approved := primary.RecordID, true
	sharing.PrimaryResourceLinkID, sharing.ShareApproved = &id, &approved

	l.Params["custom_share_key"] = ""
	assert.Equal(t, "You have not been granted access to this resource link.", ReasonOf(tool.checkForShare(context.Background(), l)))
}

func TestNewShareKey_Clamps(t *testing.T) {
	rl := &ResourceLink{RecordID: 9}
	k := NewShareKey(rl, 0, true, 0, testNow)
	assert.Len(t, k.ID, DefaultShareKeyLength)
	assert.Equal(t, testNow.Add(DefaultShareKeyLife), k.Expires)
	assert.Equal(t, int64(9), k.ResourceLinkID)
	assert.True(t, k.AutoApprove)

	k = NewShareKey(rl, 1000*time.Hour, false, 100, testNow)
	assert.Len(t, k.ID, MaxShareKeyLength)
	assert.Equal(t, testNow.Add(MaxShareKeyLife), k.Expires)

	k = NewShareKey(rl, time.Hour, false, 2, testNow)
	assert.Len(t, k.ID, MinShareKeyLength)
}
