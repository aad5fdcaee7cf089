// pkg/tool/storage/migrations.go
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Up applies the idempotent DDL for the LTI tool tables:
//   - platforms and their cached access tokens (lti_platform, lti_access_token)
//   - contexts, resource links and users (lti_context, lti_resource_link, lti_user_result)
//   - share keys (lti_share_key)
//   - nonces and login state (lti_nonce)
//
// Times are stored as unix seconds in both dialects.
func Up(ctx context.Context, db *DB) error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("migrations: db is nil")
	}
	var schema string
	switch db.Driver {
	case DriverPostgres:
		schema = schemaPostgres
	case DriverSQLite:
		schema = schemaSQLite
	default:
		return fmt.Errorf("migrations: unsupported driver %q (expected postgres|sqlite)", db.Driver)
	}

	// Some drivers reject multi-statement scripts; fall back to one at a time.
	if _, err := db.SQL.ExecContext(ctx, schema); err != nil {
		for _, stmt := range splitSQL(schema) {
			if _, e := db.SQL.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("migrations: failed at:\n%s\nerr: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

/* ----------------------------- POSTGRES SCHEMA ----------------------------- */

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS lti_platform (
  platform_pk             BIGSERIAL PRIMARY KEY,
  name                    TEXT NOT NULL DEFAULT '',
  consumer_key            TEXT UNIQUE,                 -- OAuth1 identity
  secret                  TEXT NOT NULL DEFAULT '',
  platform_id             TEXT,                        -- LTI 1.3 issuer
  client_id               TEXT NOT NULL DEFAULT '',
  deployment_id           TEXT NOT NULL DEFAULT '',
  authorization_server_id TEXT NOT NULL DEFAULT '',
  authentication_url      TEXT NOT NULL DEFAULT '',
  access_token_url        TEXT NOT NULL DEFAULT '',
  public_key              TEXT NOT NULL DEFAULT '',
  jku                     TEXT NOT NULL DEFAULT '',
  kid                     TEXT NOT NULL DEFAULT '',
  signature_method        TEXT NOT NULL DEFAULT 'HMAC-SHA1',
  lti_version             TEXT NOT NULL DEFAULT '',
  consumer_name           TEXT NOT NULL DEFAULT '',
  consumer_version        TEXT NOT NULL DEFAULT '',
  consumer_guid           TEXT NOT NULL DEFAULT '',
  profile                 TEXT NOT NULL DEFAULT '',
  css_path                TEXT NOT NULL DEFAULT '',
  protected               SMALLINT NOT NULL DEFAULT 0,
  enabled                 SMALLINT NOT NULL DEFAULT 0,
  enable_from             BIGINT,
  enable_until            BIGINT,
  last_access             BIGINT,
  id_scope                SMALLINT NOT NULL DEFAULT 0,
  default_email           TEXT NOT NULL DEFAULT '',
  debug                   SMALLINT NOT NULL DEFAULT 0,
  settings                TEXT NOT NULL DEFAULT '{}',
  created                 BIGINT NOT NULL,
  updated                 BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS lti_platform_triple ON lti_platform (platform_id, client_id, deployment_id);

CREATE TABLE IF NOT EXISTS lti_context (
  context_pk      BIGSERIAL PRIMARY KEY,
  platform_pk     BIGINT NOT NULL REFERENCES lti_platform(platform_pk),
  lti_context_id  TEXT NOT NULL,
  title           TEXT NOT NULL DEFAULT '',
  type            TEXT NOT NULL DEFAULT '',
  settings        TEXT NOT NULL DEFAULT '{}',
  created         BIGINT NOT NULL,
  updated         BIGINT NOT NULL,
  UNIQUE (platform_pk, lti_context_id)
);

CREATE TABLE IF NOT EXISTS lti_resource_link (
  resource_link_pk          BIGSERIAL PRIMARY KEY,
  context_pk                BIGINT REFERENCES lti_context(context_pk),
  platform_pk               BIGINT REFERENCES lti_platform(platform_pk),
  lti_resource_link_id      TEXT NOT NULL,
  title                     TEXT NOT NULL DEFAULT '',
  settings                  TEXT NOT NULL DEFAULT '{}',
  primary_resource_link_pk  BIGINT REFERENCES lti_resource_link(resource_link_pk),
  share_approved            SMALLINT,
  created                   BIGINT NOT NULL,
  updated                   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS lti_resource_link_context ON lti_resource_link (context_pk, lti_resource_link_id);
CREATE INDEX IF NOT EXISTS lti_resource_link_platform ON lti_resource_link (platform_pk, lti_resource_link_id);

CREATE TABLE IF NOT EXISTS lti_user_result (
  user_result_pk        BIGSERIAL PRIMARY KEY,
  resource_link_pk      BIGINT NOT NULL REFERENCES lti_resource_link(resource_link_pk),
  lti_user_id           TEXT NOT NULL,
  lti_result_sourcedid  TEXT NOT NULL DEFAULT '',
  created               BIGINT NOT NULL,
  updated               BIGINT NOT NULL,
  UNIQUE (resource_link_pk, lti_user_id)
);

CREATE TABLE IF NOT EXISTS lti_share_key (
  share_key_id      TEXT PRIMARY KEY,
  resource_link_pk  BIGINT NOT NULL REFERENCES lti_resource_link(resource_link_pk),
  auto_approve      SMALLINT NOT NULL DEFAULT 0,
  expires           BIGINT NOT NULL DEFAULT 0   -- 0 = never
);

CREATE TABLE IF NOT EXISTS lti_access_token (
  platform_pk  BIGINT PRIMARY KEY REFERENCES lti_platform(platform_pk),
  scopes       TEXT NOT NULL DEFAULT '[]',
  token        TEXT NOT NULL,
  expires      BIGINT NOT NULL,
  created      BIGINT NOT NULL,
  updated      BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_nonce (
  scope    TEXT NOT NULL,
  value    TEXT NOT NULL,
  expires  BIGINT NOT NULL,
  PRIMARY KEY (scope, value)
);
CREATE INDEX IF NOT EXISTS lti_nonce_expires ON lti_nonce (expires);
`

/* ------------------------------ SQLITE SCHEMA ------------------------------ */

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS lti_platform (
  platform_pk             INTEGER PRIMARY KEY AUTOINCREMENT,
  name                    TEXT NOT NULL DEFAULT '',
  consumer_key            TEXT UNIQUE,
  secret                  TEXT NOT NULL DEFAULT '',
  platform_id             TEXT,
  client_id               TEXT NOT NULL DEFAULT '',
  deployment_id           TEXT NOT NULL DEFAULT '',
  authorization_server_id TEXT NOT NULL DEFAULT '',
  authentication_url      TEXT NOT NULL DEFAULT '',
  access_token_url        TEXT NOT NULL DEFAULT '',
  public_key              TEXT NOT NULL DEFAULT '',
  jku                     TEXT NOT NULL DEFAULT '',
  kid                     TEXT NOT NULL DEFAULT '',
  signature_method        TEXT NOT NULL DEFAULT 'HMAC-SHA1',
  lti_version             TEXT NOT NULL DEFAULT '',
  consumer_name           TEXT NOT NULL DEFAULT '',
  consumer_version        TEXT NOT NULL DEFAULT '',
  consumer_guid           TEXT NOT NULL DEFAULT '',
  profile                 TEXT NOT NULL DEFAULT '',
  css_path                TEXT NOT NULL DEFAULT '',
  protected               INTEGER NOT NULL DEFAULT 0,
  enabled                 INTEGER NOT NULL DEFAULT 0,
  enable_from             INTEGER,
  enable_until            INTEGER,
  last_access             INTEGER,
  id_scope                INTEGER NOT NULL DEFAULT 0,
  default_email           TEXT NOT NULL DEFAULT '',
  debug                   INTEGER NOT NULL DEFAULT 0,
  settings                TEXT NOT NULL DEFAULT '{}',
  created                 INTEGER NOT NULL,
  updated                 INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS lti_platform_triple ON lti_platform (platform_id, client_id, deployment_id);

CREATE TABLE IF NOT EXISTS lti_context (
  context_pk      INTEGER PRIMARY KEY AUTOINCREMENT,
  platform_pk     INTEGER NOT NULL REFERENCES lti_platform(platform_pk),
  lti_context_id  TEXT NOT NULL,
  title           TEXT NOT NULL DEFAULT '',
  type            TEXT NOT NULL DEFAULT '',
  settings        TEXT NOT NULL DEFAULT '{}',
  created         INTEGER NOT NULL,
  updated         INTEGER NOT NULL,
  UNIQUE (platform_pk, lti_context_id)
);

CREATE TABLE IF NOT EXISTS lti_resource_link (
  resource_link_pk          INTEGER PRIMARY KEY AUTOINCREMENT,
  context_pk                INTEGER REFERENCES lti_context(context_pk),
  platform_pk               INTEGER REFERENCES lti_platform(platform_pk),
  lti_resource_link_id      TEXT NOT NULL,
  title                     TEXT NOT NULL DEFAULT '',
  settings                  TEXT NOT NULL DEFAULT '{}',
  primary_resource_link_pk  INTEGER REFERENCES lti_resource_link(resource_link_pk),
  share_approved            INTEGER,
  created                   INTEGER NOT NULL,
  updated                   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS lti_resource_link_context ON lti_resource_link (context_pk, lti_resource_link_id);
CREATE INDEX IF NOT EXISTS lti_resource_link_platform ON lti_resource_link (platform_pk, lti_resource_link_id);

CREATE TABLE IF NOT EXISTS lti_user_result (
  user_result_pk        INTEGER PRIMARY KEY AUTOINCREMENT,
  resource_link_pk      INTEGER NOT NULL REFERENCES lti_resource_link(resource_link_pk),
  lti_user_id           TEXT NOT NULL,
  lti_result_sourcedid  TEXT NOT NULL DEFAULT '',
  created               INTEGER NOT NULL,
  updated               INTEGER NOT NULL,
  UNIQUE (resource_link_pk, lti_user_id)
);

CREATE TABLE IF NOT EXISTS lti_share_key (
  share_key_id      TEXT PRIMARY KEY,
  resource_link_pk  INTEGER NOT NULL REFERENCES lti_resource_link(resource_link_pk),
  auto_approve      INTEGER NOT NULL DEFAULT 0,
  expires           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS lti_access_token (
  platform_pk  INTEGER PRIMARY KEY REFERENCES lti_platform(platform_pk),
  scopes       TEXT NOT NULL DEFAULT '[]',
  token        TEXT NOT NULL,
  expires      INTEGER NOT NULL,
  created      INTEGER NOT NULL,
  updated      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_nonce (
  scope    TEXT NOT NULL,
  value    TEXT NOT NULL,
  expires  INTEGER NOT NULL,
  PRIMARY KEY (scope, value)
);
CREATE INDEX IF NOT EXISTS lti_nonce_expires ON lti_nonce (expires);
`

func splitSQL(s string) []string {
	raw := strings.Split(s, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part+";")
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
