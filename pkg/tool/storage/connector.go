// pkg/tool/storage/connector.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

/*
Connector is the SQL-backed lti.DataConnector.

Both dialects use $N placeholders and INSERT ... RETURNING. Times are unix
seconds, booleans are 0/1 integers and settings maps are JSON text.
Deletes cascade inside a single transaction.
*/
type Connector struct {
	db *DB

	// Now overrides the clock used for created/updated stamps.
	Now func() time.Time
}

var _ lti.DataConnector = (*Connector)(nil)

func NewConnector(db *DB) *Connector { return &Connector{db: db} }

func (c *Connector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ----- Platforms -----

var platformColumns = []string{
	"name", "consumer_key", "secret", "platform_id", "client_id", "deployment_id",
	"authorization_server_id", "authentication_url", "access_token_url",
	"public_key", "jku", "kid", "signature_method", "lti_version",
	"consumer_name", "consumer_version", "consumer_guid", "profile", "css_path",
	"protected", "enabled", "enable_from", "enable_until", "last_access",
	"id_scope", "default_email", "debug", "settings",
}

var selectPlatform = "SELECT platform_pk, " + strings.Join(platformColumns, ", ") + ", created, updated FROM lti_platform"

func platformArgs(p *lti.Platform) ([]any, error) {
	settings, err := encodeSettings(p.Settings)
	if err != nil {
		return nil, err
	}
	return []any{
		p.Name, nullString(p.Key), p.Secret, nullString(p.PlatformID), p.ClientID, p.DeploymentID,
		p.AuthorizationServerID, p.AuthenticationURL, p.AccessTokenURL,
		p.RSAKey, p.JKU, p.KID, p.SignatureMethod, p.LTIVersion,
		p.ConsumerName, p.ConsumerVersion, p.ConsumerGUID, string(p.Profile), p.CSSPath,
		boolInt(p.Protected), boolInt(p.Enabled), nullTime(p.EnableFrom), nullTime(p.EnableUntil), nullTime(p.LastAccess),
		int64(p.IDScope), p.DefaultEmail, boolInt(p.Debug), settings,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlatform(row rowScanner, p *lti.Platform) error {
	var (
		key, platformID                     sql.NullString
		profile, settings                   string
		protected, enabled, debug, idScope  int64
		enableFrom, enableUntil, lastAccess sql.NullInt64
		created, updated                    int64
		out                                 lti.Platform
	)
	err := row.Scan(
		&out.RecordID,
		&out.Name, &key, &out.Secret, &platformID, &out.ClientID, &out.DeploymentID,
		&out.AuthorizationServerID, &out.AuthenticationURL, &out.AccessTokenURL,
		&out.RSAKey, &out.JKU, &out.KID, &out.SignatureMethod, &out.LTIVersion,
		&out.ConsumerName, &out.ConsumerVersion, &out.ConsumerGUID, &profile, &out.CSSPath,
		&protected, &enabled, &enableFrom, &enableUntil, &lastAccess,
		&idScope, &out.DefaultEmail, &debug, &settings,
		&created, &updated,
	)
	if err != nil {
		return err
	}
	out.Key, out.PlatformID = key.String, platformID.String
	if profile != "" {
		out.Profile = json.RawMessage(profile)
	}
	out.Protected, out.Enabled, out.Debug = protected != 0, enabled != 0, debug != 0
	out.EnableFrom, out.EnableUntil, out.LastAccess = timePtr(enableFrom), timePtr(enableUntil), timePtr(lastAccess)
	out.IDScope = lti.IDScope(idScope)
	if out.Settings, err = decodeSettings(settings); err != nil {
		return err
	}
	out.Created, out.Updated = unixPtr(created), unixPtr(updated)
	*p = out
	return nil
}

func (c *Connector) LoadPlatform(ctx context.Context, p *lti.Platform) error {
	var row *sql.Row
	switch {
	case p.RecordID != 0:
		row = c.db.SQL.QueryRowContext(ctx, selectPlatform+" WHERE platform_pk = $1", p.RecordID)
	case p.Key != "":
		row = c.db.SQL.QueryRowContext(ctx, selectPlatform+" WHERE consumer_key = $1", p.Key)
	case p.PlatformID != "":
		row = c.db.SQL.QueryRowContext(ctx,
			selectPlatform+" WHERE platform_id = $1 AND client_id = $2 AND deployment_id = $3",
			p.PlatformID, p.ClientID, p.DeploymentID)
	default:
		return lti.ErrNotFound
	}
	if err := scanPlatform(row, p); err != nil {
		return notFound("load platform", err)
	}
	return nil
}

func (c *Connector) SavePlatform(ctx context.Context, p *lti.Platform) error {
	args, err := platformArgs(p)
	if err != nil {
		return fmt.Errorf("storage: save platform: %w", err)
	}
	now := c.now()
	ts := now.Unix()
	if p.RecordID == 0 {
		cols := append(append([]string{}, platformColumns...), "created", "updated")
		q := "INSERT INTO lti_platform (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(1, len(cols)) + ") RETURNING platform_pk"
		if err := c.db.SQL.QueryRowContext(ctx, q, append(args, ts, ts)...).Scan(&p.RecordID); err != nil {
			return fmt.Errorf("storage: insert platform: %w", err)
		}
		p.Created = &now
	} else {
		q := "UPDATE lti_platform SET " + assignments(platformColumns, 1) +
			", updated = $" + strconv.Itoa(len(platformColumns)+1) +
			" WHERE platform_pk = $" + strconv.Itoa(len(platformColumns)+2)
		if _, err := c.db.SQL.ExecContext(ctx, q, append(args, ts, p.RecordID)...); err != nil {
			return fmt.Errorf("storage: update platform: %w", err)
		}
		if p.Created == nil {
			p.Created = &now
		}
	}
	p.Updated = &now
	return nil
}

// DeletePlatform removes the platform with its contexts, resource links,
// users, share keys, cached token and nonces.
func (c *Connector) DeletePlatform(ctx context.Context, p *lti.Platform) error {
	const links = `SELECT resource_link_pk FROM lti_resource_link
	  WHERE platform_pk = $1 OR context_pk IN (SELECT context_pk FROM lti_context WHERE platform_pk = $1)`
	err := WithTx(ctx, c.db, nil, func(tx *sql.Tx) error {
		if err := deleteLinkData(ctx, tx, links, p.RecordID); err != nil {
			return err
		}
		stmts := []string{
			`DELETE FROM lti_resource_link WHERE platform_pk = $1 OR context_pk IN (SELECT context_pk FROM lti_context WHERE platform_pk = $1)`,
			`DELETE FROM lti_context WHERE platform_pk = $1`,
			`DELETE FROM lti_access_token WHERE platform_pk = $1`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q, p.RecordID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lti_nonce WHERE scope = $1`, strconv.FormatInt(p.RecordID, 10)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM lti_platform WHERE platform_pk = $1`, p.RecordID)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: delete platform: %w", err)
	}
	p.Created, p.Updated = nil, nil
	return nil
}

func (c *Connector) ListPlatforms(ctx context.Context) ([]*lti.Platform, error) {
	rows, err := c.db.SQL.QueryContext(ctx, selectPlatform+" ORDER BY platform_pk")
	if err != nil {
		return nil, fmt.Errorf("storage: list platforms: %w", err)
	}
	defer rows.Close()
	var out []*lti.Platform
	for rows.Next() {
		p := &lti.Platform{}
		if err := scanPlatform(rows, p); err != nil {
			return nil, fmt.Errorf("storage: list platforms: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ----- Contexts -----

const selectContext = `SELECT context_pk, platform_pk, lti_context_id, title, type, settings, created, updated FROM lti_context`

func scanContext(row rowScanner, lc *lti.Context) error {
	var (
		settings         string
		created, updated int64
		out              lti.Context
	)
	if err := row.Scan(&out.RecordID, &out.PlatformID, &out.LTIContextID, &out.Title, &out.Type, &settings, &created, &updated); err != nil {
		return err
	}
	var err error
	if out.Settings, err = decodeSettings(settings); err != nil {
		return err
	}
	out.Created, out.Updated = unixPtr(created), unixPtr(updated)
	*lc = out
	return nil
}

func (c *Connector) LoadContext(ctx context.Context, lc *lti.Context) error {
	var row *sql.Row
	if lc.RecordID != 0 {
		row = c.db.SQL.QueryRowContext(ctx, selectContext+" WHERE context_pk = $1", lc.RecordID)
	} else {
		row = c.db.SQL.QueryRowContext(ctx, selectContext+" WHERE platform_pk = $1 AND lti_context_id = $2", lc.PlatformID, lc.LTIContextID)
	}
	if err := scanContext(row, lc); err != nil {
		return notFound("load context", err)
	}
	return nil
}

func (c *Connector) SaveContext(ctx context.Context, lc *lti.Context) error {
	settings, err := encodeSettings(lc.Settings)
	if err != nil {
		return fmt.Errorf("storage: save context: %w", err)
	}
	now := c.now()
	if lc.RecordID == 0 {
		err = c.db.SQL.QueryRowContext(ctx, `
			INSERT INTO lti_context (platform_pk, lti_context_id, title, type, settings, created, updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING context_pk`,
			lc.PlatformID, lc.LTIContextID, lc.Title, lc.Type, settings, now.Unix(), now.Unix(),
		).Scan(&lc.RecordID)
		if err != nil {
			return fmt.Errorf("storage: insert context: %w", err)
		}
		lc.Created = &now
	} else {
		_, err = c.db.SQL.ExecContext(ctx, `
			UPDATE lti_context SET platform_pk = $1, lti_context_id = $2, title = $3, type = $4, settings = $5, updated = $6
			WHERE context_pk = $7`,
			lc.PlatformID, lc.LTIContextID, lc.Title, lc.Type, settings, now.Unix(), lc.RecordID)
		if err != nil {
			return fmt.Errorf("storage: update context: %w", err)
		}
		if lc.Created == nil {
			lc.Created = &now
		}
	}
	lc.Updated = &now
	return nil
}

// DeleteContext removes the context and every resource link scoped to it.
func (c *Connector) DeleteContext(ctx context.Context, lc *lti.Context) error {
	const links = `SELECT resource_link_pk FROM lti_resource_link WHERE context_pk = $1`
	err := WithTx(ctx, c.db, nil, func(tx *sql.Tx) error {
		if err := deleteLinkData(ctx, tx, links, lc.RecordID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lti_resource_link WHERE context_pk = $1`, lc.RecordID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM lti_context WHERE context_pk = $1`, lc.RecordID)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: delete context: %w", err)
	}
	lc.Created, lc.Updated = nil, nil
	return nil
}

// ----- Resource links -----

const selectResourceLink = `SELECT resource_link_pk, context_pk, platform_pk, lti_resource_link_id, title, settings,
  primary_resource_link_pk, share_approved, created, updated FROM lti_resource_link`

func scanResourceLink(row rowScanner, r *lti.ResourceLink) error {
	var (
		contextPK, platformPK, primaryPK, approved sql.NullInt64
		settings                                   string
		created, updated                           int64
		out                                        lti.ResourceLink
	)
	err := row.Scan(&out.RecordID, &contextPK, &platformPK, &out.LTIResourceLinkID, &out.Title, &settings,
		&primaryPK, &approved, &created, &updated)
	if err != nil {
		return err
	}
	out.ContextID, out.PlatformID = contextPK.Int64, platformPK.Int64
	if primaryPK.Valid {
		id := primaryPK.Int64
		out.PrimaryResourceLinkID = &id
	}
	if approved.Valid {
		ok := approved.Int64 != 0
		out.ShareApproved = &ok
	}
	if out.Settings, err = decodeSettings(settings); err != nil {
		return err
	}
	out.Created, out.Updated = unixPtr(created), unixPtr(updated)
	*r = out
	return nil
}

func (c *Connector) LoadResourceLink(ctx context.Context, r *lti.ResourceLink) error {
	var row *sql.Row
	switch {
	case r.RecordID != 0:
		row = c.db.SQL.QueryRowContext(ctx, selectResourceLink+" WHERE resource_link_pk = $1", r.RecordID)
	case r.ContextID != 0:
		row = c.db.SQL.QueryRowContext(ctx, selectResourceLink+" WHERE context_pk = $1 AND lti_resource_link_id = $2", r.ContextID, r.LTIResourceLinkID)
	default:
		row = c.db.SQL.QueryRowContext(ctx, selectResourceLink+" WHERE platform_pk = $1 AND lti_resource_link_id = $2", r.PlatformID, r.LTIResourceLinkID)
	}
	if err := scanResourceLink(row, r); err != nil {
		return notFound("load resource link", err)
	}
	return nil
}

func (c *Connector) SaveResourceLink(ctx context.Context, r *lti.ResourceLink) error {
	settings, err := encodeSettings(r.Settings)
	if err != nil {
		return fmt.Errorf("storage: save resource link: %w", err)
	}
	var primary, approved sql.NullInt64
	if r.PrimaryResourceLinkID != nil {
		primary = sql.NullInt64{Int64: *r.PrimaryResourceLinkID, Valid: true}
	}
	if r.ShareApproved != nil {
		approved = sql.NullInt64{Int64: boolInt(*r.ShareApproved), Valid: true}
	}
	now := c.now()
	if r.RecordID == 0 {
		err = c.db.SQL.QueryRowContext(ctx, `
			INSERT INTO lti_resource_link (context_pk, platform_pk, lti_resource_link_id, title, settings,
			  primary_resource_link_pk, share_approved, created, updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING resource_link_pk`,
			nullID(r.ContextID), nullID(r.PlatformID), r.LTIResourceLinkID, r.Title, settings,
			primary, approved, now.Unix(), now.Unix(),
		).Scan(&r.RecordID)
		if err != nil {
			return fmt.Errorf("storage: insert resource link: %w", err)
		}
		r.Created = &now
	} else {
		_, err = c.db.SQL.ExecContext(ctx, `
			UPDATE lti_resource_link SET context_pk = $1, platform_pk = $2, lti_resource_link_id = $3, title = $4,
			  settings = $5, primary_resource_link_pk = $6, share_approved = $7, updated = $8
			WHERE resource_link_pk = $9`,
			nullID(r.ContextID), nullID(r.PlatformID), r.LTIResourceLinkID, r.Title, settings,
			primary, approved, now.Unix(), r.RecordID)
		if err != nil {
			return fmt.Errorf("storage: update resource link: %w", err)
		}
		if r.Created == nil {
			r.Created = &now
		}
	}
	r.Updated = &now
	return nil
}

// DeleteResourceLink removes the link with its users and share keys. Links
// sharing it revert to standalone links.
func (c *Connector) DeleteResourceLink(ctx context.Context, r *lti.ResourceLink) error {
	const links = `SELECT resource_link_pk FROM lti_resource_link WHERE resource_link_pk = $1`
	err := WithTx(ctx, c.db, nil, func(tx *sql.Tx) error {
		if err := deleteLinkData(ctx, tx, links, r.RecordID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM lti_resource_link WHERE resource_link_pk = $1`, r.RecordID)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: delete resource link: %w", err)
	}
	r.Created, r.Updated = nil, nil
	return nil
}

// deleteLinkData clears everything hanging off the links selected by
// linkQuery (a subquery taking id as $1) so the links themselves can go.
func deleteLinkData(ctx context.Context, q queryer, linkQuery string, id int64) error {
	stmts := []string{
		`DELETE FROM lti_share_key WHERE resource_link_pk IN (` + linkQuery + `)`,
		`DELETE FROM lti_user_result WHERE resource_link_pk IN (` + linkQuery + `)`,
		`UPDATE lti_resource_link SET primary_resource_link_pk = NULL, share_approved = NULL
		  WHERE primary_resource_link_pk IN (` + linkQuery + `)`,
	}
	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s, id); err != nil {
			return err
		}
	}
	return nil
}

// ----- User results -----

const selectUserResult = `SELECT user_result_pk, resource_link_pk, lti_user_id, lti_result_sourcedid, created, updated FROM lti_user_result`

func scanUserResult(row rowScanner, u *lti.UserResult) error {
	var (
		created, updated int64
		out              lti.UserResult
	)
	if err := row.Scan(&out.RecordID, &out.ResourceLinkID, &out.LTIUserID, &out.LTIResultSourcedID, &created, &updated); err != nil {
		return err
	}
	out.Created, out.Updated = unixPtr(created), unixPtr(updated)
	*u = out
	return nil
}

// LoadUserResult fills only the persisted fields; names, email and roles
// come from the launch.
func (c *Connector) LoadUserResult(ctx context.Context, u *lti.UserResult) error {
	var row *sql.Row
	if u.RecordID != 0 {
		row = c.db.SQL.QueryRowContext(ctx, selectUserResult+" WHERE user_result_pk = $1", u.RecordID)
	} else {
		row = c.db.SQL.QueryRowContext(ctx, selectUserResult+" WHERE resource_link_pk = $1 AND lti_user_id = $2", u.ResourceLinkID, u.LTIUserID)
	}
	var stored lti.UserResult
	if err := scanUserResult(row, &stored); err != nil {
		return notFound("load user result", err)
	}
	u.RecordID, u.ResourceLinkID, u.LTIUserID = stored.RecordID, stored.ResourceLinkID, stored.LTIUserID
	u.LTIResultSourcedID = stored.LTIResultSourcedID
	u.Created, u.Updated = stored.Created, stored.Updated
	return nil
}

func (c *Connector) SaveUserResult(ctx context.Context, u *lti.UserResult) error {
	now := c.now()
	if u.RecordID == 0 {
		err := c.db.SQL.QueryRowContext(ctx, `
			INSERT INTO lti_user_result (resource_link_pk, lti_user_id, lti_result_sourcedid, created, updated)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING user_result_pk`,
			u.ResourceLinkID, u.LTIUserID, u.LTIResultSourcedID, now.Unix(), now.Unix(),
		).Scan(&u.RecordID)
		if err != nil {
			return fmt.Errorf("storage: insert user result: %w", err)
		}
		u.Created = &now
	} else {
		_, err := c.db.SQL.ExecContext(ctx, `
			UPDATE lti_user_result SET resource_link_pk = $1, lti_user_id = $2, lti_result_sourcedid = $3, updated = $4
			WHERE user_result_pk = $5`,
			u.ResourceLinkID, u.LTIUserID, u.LTIResultSourcedID, now.Unix(), u.RecordID)
		if err != nil {
			return fmt.Errorf("storage: update user result: %w", err)
		}
		if u.Created == nil {
			u.Created = &now
		}
	}
	u.Updated = &now
	return nil
}

func (c *Connector) DeleteUserResult(ctx context.Context, u *lti.UserResult) error {
	if _, err := c.db.SQL.ExecContext(ctx, `DELETE FROM lti_user_result WHERE user_result_pk = $1`, u.RecordID); err != nil {
		return fmt.Errorf("storage: delete user result: %w", err)
	}
	u.Created, u.Updated = nil, nil
	return nil
}

func (c *Connector) ListUserResults(ctx context.Context, resourceLinkID int64) ([]*lti.UserResult, error) {
	rows, err := c.db.SQL.QueryContext(ctx, selectUserResult+" WHERE resource_link_pk = $1 ORDER BY user_result_pk", resourceLinkID)
	if err != nil {
		return nil, fmt.Errorf("storage: list user results: %w", err)
	}
	defer rows.Close()
	var out []*lti.UserResult
	for rows.Next() {
		u := &lti.UserResult{}
		if err := scanUserResult(rows, u); err != nil {
			return nil, fmt.Errorf("storage: list user results: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ----- Share keys -----

func (c *Connector) LoadShareKey(ctx context.Context, k *lti.ShareKey) error {
	var (
		auto, expires int64
		out           = lti.ShareKey{ID: k.ID}
	)
	err := c.db.SQL.QueryRowContext(ctx,
		`SELECT resource_link_pk, auto_approve, expires FROM lti_share_key WHERE share_key_id = $1`, k.ID,
	).Scan(&out.ResourceLinkID, &auto, &expires)
	if err != nil {
		return notFound("load share key", err)
	}
	out.AutoApprove = auto != 0
	if expires > 0 {
		out.Expires = time.Unix(expires, 0)
	}
	*k = out
	return nil
}

func (c *Connector) SaveShareKey(ctx context.Context, k *lti.ShareKey) error {
	var expires int64
	if !k.Expires.IsZero() {
		expires = k.Expires.Unix()
	}
	_, err := c.db.SQL.ExecContext(ctx, `
		INSERT INTO lti_share_key (share_key_id, resource_link_pk, auto_approve, expires)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (share_key_id) DO UPDATE SET
		  resource_link_pk = EXCLUDED.resource_link_pk,
		  auto_approve     = EXCLUDED.auto_approve,
		  expires          = EXCLUDED.expires`,
		k.ID, k.ResourceLinkID, boolInt(k.AutoApprove), expires)
	if err != nil {
		return fmt.Errorf("storage: save share key: %w", err)
	}
	return nil
}

func (c *Connector) DeleteShareKey(ctx context.Context, k *lti.ShareKey) error {
	if _, err := c.db.SQL.ExecContext(ctx, `DELETE FROM lti_share_key WHERE share_key_id = $1`, k.ID); err != nil {
		return fmt.Errorf("storage: delete share key: %w", err)
	}
	return nil
}

// DeleteExpiredShareKeys removes keys whose expiry has passed.
func (c *Connector) DeleteExpiredShareKeys(ctx context.Context) (int64, error) {
	res, err := c.db.SQL.ExecContext(ctx, `DELETE FROM lti_share_key WHERE expires > 0 AND expires <= $1`, c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("storage: purge share keys: %w", err)
	}
	return res.RowsAffected()
}

// ----- Access tokens -----

func (c *Connector) LoadAccessToken(ctx context.Context, t *lti.AccessToken) error {
	var (
		scopes                    string
		expires, created, updated int64
		out                       = lti.AccessToken{PlatformID: t.PlatformID}
	)
	err := c.db.SQL.QueryRowContext(ctx,
		`SELECT scopes, token, expires, created, updated FROM lti_access_token WHERE platform_pk = $1`, t.PlatformID,
	).Scan(&scopes, &out.Token, &expires, &created, &updated)
	if err != nil {
		return notFound("load access token", err)
	}
	if err := json.Unmarshal([]byte(scopes), &out.Scopes); err != nil {
		return fmt.Errorf("storage: decode token scopes: %w", err)
	}
	out.Expires = time.Unix(expires, 0)
	out.Created, out.Updated = unixPtr(created), unixPtr(updated)
	*t = out
	return nil
}

func (c *Connector) SaveAccessToken(ctx context.Context, t *lti.AccessToken) error {
	scopes := t.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	raw, err := json.Marshal(scopes)
	if err != nil {
		return fmt.Errorf("storage: encode token scopes: %w", err)
	}
	now := c.now()
	_, err = c.db.SQL.ExecContext(ctx, `
		INSERT INTO lti_access_token (platform_pk, scopes, token, expires, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (platform_pk) DO UPDATE SET
		  scopes  = EXCLUDED.scopes,
		  token   = EXCLUDED.token,
		  expires = EXCLUDED.expires,
		  updated = EXCLUDED.updated`,
		t.PlatformID, string(raw), t.Token, t.Expires.Unix(), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("storage: save access token: %w", err)
	}
	if t.Created == nil {
		t.Created = &now
	}
	t.Updated = &now
	return nil
}

// ----- helpers -----

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return lti.ErrNotFound
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}

func placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$" + strconv.Itoa(from+i))
	}
	return b.String()
}

func assignments(cols []string, from int) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + " = $" + strconv.Itoa(from+i)
	}
	return strings.Join(parts, ", ")
}

func encodeSettings(s lti.Settings) (string, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(b), nil
}

func decodeSettings(raw string) (lti.Settings, error) {
	s := lti.Settings{}
	if raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullID(id int64) sql.NullInt64 { return sql.NullInt64{Int64: id, Valid: id != 0} }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return unixPtr(v.Int64)
}

func unixPtr(sec int64) *time.Time {
	t := time.Unix(sec, 0)
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
