// pkg/tool/lti/connector.go
package lti

import "context"

// DataConnector persists LTI records. Load methods fill the passed record
// and return ErrNotFound, leaving it untouched, when nothing matches.
//
// Lookup keys:
//   - Platform: RecordID, else Key, else the exact (PlatformID, ClientID, DeploymentID) triple
//   - Context: RecordID, else (PlatformID, LTIContextID)
//   - ResourceLink: RecordID, else (ContextID or PlatformID, LTIResourceLinkID)
//   - UserResult: RecordID, else (ResourceLinkID, LTIUserID)
//   - ShareKey: ID
//   - AccessToken: PlatformID
//
// Save methods insert when RecordID is zero and set RecordID, Created and
// Updated.
type DataConnector interface {
	LoadPlatform(ctx context.Context, p *Platform) error
	SavePlatform(ctx context.Context, p *Platform) error
	DeletePlatform(ctx context.Context, p *Platform) error
	ListPlatforms(ctx context.Context) ([]*Platform, error)

	LoadContext(ctx context.Context, c *Context) error
	SaveContext(ctx context.Context, c *Context) error
	DeleteContext(ctx context.Context, c *Context) error

	LoadResourceLink(ctx context.Context, r *ResourceLink) error
	SaveResourceLink(ctx context.Context, r *ResourceLink) error
	DeleteResourceLink(ctx context.Context, r *ResourceLink) error

	LoadUserResult(ctx context.Context, u *UserResult) error
	SaveUserResult(ctx context.Context, u *UserResult) error
	DeleteUserResult(ctx context.Context, u *UserResult) error
	ListUserResults(ctx context.Context, resourceLinkID int64) ([]*UserResult, error)

	LoadShareKey(ctx context.Context, k *ShareKey) error
	SaveShareKey(ctx context.Context, k *ShareKey) error
	DeleteShareKey(ctx context.Context, k *ShareKey) error

	LoadAccessToken(ctx context.Context, t *AccessToken) error
	SaveAccessToken(ctx context.Context, t *AccessToken) error
}
