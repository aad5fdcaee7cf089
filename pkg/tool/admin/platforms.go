// pkg/tool/admin/platforms.go
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

// platformDTO is the wire form of a platform record. Secret is accepted
// but never returned.
type platformDTO struct {
	ID                    int64             `json:"id,omitempty"`
	Name                  string            `json:"name"`
	ConsumerKey           string            `json:"consumer_key,omitempty"`
	Secret                string            `json:"secret,omitempty"`
	PlatformID            string            `json:"platform_id,omitempty"`
	ClientID              string            `json:"client_id,omitempty"`
	DeploymentID          string            `json:"deployment_id,omitempty"`
	AuthorizationServerID string            `json:"authorization_server_id,omitempty"`
	AuthenticationURL     string            `json:"authentication_url,omitempty"`
	AccessTokenURL        string            `json:"access_token_url,omitempty"`
	PublicKey             string            `json:"public_key,omitempty"`
	JKU                   string            `json:"jku,omitempty"`
	KID                   string            `json:"kid,omitempty"`
	SignatureMethod       string            `json:"signature_method,omitempty"`
	Enabled               bool              `json:"enabled"`
	Protected             bool              `json:"protected"`
	EnableFrom            *time.Time        `json:"enable_from,omitempty"`
	EnableUntil           *time.Time        `json:"enable_until,omitempty"`
	IDScope               int               `json:"id_scope"`
	DefaultEmail          string            `json:"default_email,omitempty"`
	Debug                 bool              `json:"debug"`
	Settings              map[string]string `json:"settings,omitempty"`

	// read-only
	LTIVersion      string     `json:"lti_version,omitempty"`
	ConsumerName    string     `json:"consumer_name,omitempty"`
	ConsumerVersion string     `json:"consumer_version,omitempty"`
	FamilyCode      string     `json:"family_code,omitempty"`
	LastAccess      *time.Time `json:"last_access,omitempty"`
	Created         *time.Time `json:"created,omitempty"`
	Updated         *time.Time `json:"updated,omitempty"`
}

func toDTO(p *lti.Platform) platformDTO {
	return platformDTO{
		ID:                    p.RecordID,
		Name:                  p.Name,
		ConsumerKey:           p.Key,
		PlatformID:            p.PlatformID,
		ClientID:              p.ClientID,
		DeploymentID:          p.DeploymentID,
		AuthorizationServerID: p.AuthorizationServerID,
		AuthenticationURL:     p.AuthenticationURL,
		AccessTokenURL:        p.AccessTokenURL,
		PublicKey:             p.RSAKey,
		JKU:                   p.JKU,
		KID:                   p.KID,
		SignatureMethod:       p.SignatureMethod,
		Enabled:               p.Enabled,
		Protected:             p.Protected,
		EnableFrom:            p.EnableFrom,
		EnableUntil:           p.EnableUntil,
		IDScope:               int(p.IDScope),
		DefaultEmail:          p.DefaultEmail,
		Debug:                 p.Debug,
		Settings:              p.Settings,
		LTIVersion:            p.LTIVersion,
		ConsumerName:          p.ConsumerName,
		ConsumerVersion:       p.ConsumerVersion,
		FamilyCode:            p.FamilyCode(),
		LastAccess:            p.LastAccess,
		Created:               p.Created,
		Updated:               p.Updated,
	}
}

// apply copies the editable fields onto p. An empty secret keeps the
// stored one.
func (d platformDTO) apply(p *lti.Platform) {
	p.Name = d.Name
	p.Key = strings.TrimSpace(d.ConsumerKey)
	if d.Secret != "" {
		p.Secret = d.Secret
	}
	p.PlatformID = strings.TrimSpace(d.PlatformID)
	p.ClientID, p.DeploymentID = d.ClientID, d.DeploymentID
	p.AuthorizationServerID, p.AuthenticationURL, p.AccessTokenURL = d.AuthorizationServerID, d.AuthenticationURL, d.AccessTokenURL
	p.RSAKey, p.JKU, p.KID = d.PublicKey, d.JKU, d.KID
	if d.SignatureMethod != "" {
		p.SignatureMethod = d.SignatureMethod
	}
	p.Enabled, p.Protected, p.Debug = d.Enabled, d.Protected, d.Debug
	p.EnableFrom, p.EnableUntil = d.EnableFrom, d.EnableUntil
	p.IDScope = lti.IDScope(d.IDScope)
	p.DefaultEmail = d.DefaultEmail
	if d.Settings != nil {
		p.Settings = lti.Settings(d.Settings)
	}
}

func (d platformDTO) validate() string {
	key, iss := strings.TrimSpace(d.ConsumerKey), strings.TrimSpace(d.PlatformID)
	switch {
	case key == "" && iss == "":
		return "consumer_key or platform_id required"
	case key != "" && iss != "":
		return "consumer_key and platform_id are mutually exclusive"
	case iss != "" && d.ClientID == "":
		return "client_id required with platform_id"
	case d.IDScope < int(lti.IDScopeIDOnly) || d.IDScope > int(lti.IDScopeResource):
		return "invalid id_scope"
	case d.EnableFrom != nil && d.EnableUntil != nil && !d.EnableUntil.After(*d.EnableFrom):
		return "enable_until must be after enable_from"
	}
	return ""
}

func (a *API) handleCreatePlatform(w http.ResponseWriter, r *http.Request) {
	var req platformDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	p := lti.NewPlatform()
	req.apply(p)
	if p.Key != "" && p.Secret == "" {
		respondError(w, http.StatusBadRequest, "secret required with consumer_key")
		return
	}
	if p.PlatformID != "" && req.SignatureMethod == "" {
		p.SignatureMethod = "RS256"
	}

	existing := &lti.Platform{Key: p.Key, PlatformID: p.PlatformID, ClientID: p.ClientID, DeploymentID: p.DeploymentID}
	switch err := a.Env.Connector.LoadPlatform(r.Context(), existing); {
	case err == nil:
		respondError(w, http.StatusConflict, "platform already registered")
		return
	case !errors.Is(err, lti.ErrNotFound):
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := a.Env.Connector.SavePlatform(r.Context(), p); err != nil {
		a.logger().Error("create platform", zap.String("platform", p.ID()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to save platform")
		return
	}
	a.logger().Info("platform registered", zap.Int64("id", p.RecordID), zap.String("platform", p.ID()))
	respondJSON(w, http.StatusCreated, toDTO(p))
}

func (a *API) handleListPlatforms(w http.ResponseWriter, r *http.Request) {
	list, err := a.Env.Connector.ListPlatforms(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]platformDTO, 0, len(list))
	for _, p := range list {
		out = append(out, toDTO(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) loadPlatform(w http.ResponseWriter, r *http.Request) (*lti.Platform, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	p := &lti.Platform{RecordID: id}
	if err := a.Env.Connector.LoadPlatform(r.Context(), p); err != nil {
		if errors.Is(err, lti.ErrNotFound) {
			respondError(w, http.StatusNotFound, "platform not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return p, true
}

func (a *API) handleGetPlatform(w http.ResponseWriter, r *http.Request) {
	p, ok := a.loadPlatform(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toDTO(p))
}

func (a *API) handleUpdatePlatform(w http.ResponseWriter, r *http.Request) {
	p, ok := a.loadPlatform(w, r)
	if !ok {
		return
	}
	var req platformDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	req.apply(p)
	if err := a.Env.Connector.SavePlatform(r.Context(), p); err != nil {
		a.logger().Error("update platform", zap.Int64("id", p.RecordID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to save platform")
		return
	}
	respondJSON(w, http.StatusOK, toDTO(p))
}

func (a *API) handleDeletePlatform(w http.ResponseWriter, r *http.Request) {
	p, ok := a.loadPlatform(w, r)
	if !ok {
		return
	}
	if err := a.Env.Connector.DeletePlatform(r.Context(), p); err != nil {
		a.logger().Error("delete platform", zap.Int64("id", p.RecordID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to delete platform")
		return
	}
	a.logger().Info("platform deleted", zap.Int64("id", p.RecordID))
	w.WriteHeader(http.StatusNoContent)
}
