// pkg/tool/admin/admin.go
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-lti/pkg/tool/ags"
	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

/*
API is the JSON admin surface mounted under /admin:

	POST   /admin/platforms
	GET    /admin/platforms
	GET    /admin/platforms/{id}
	PUT    /admin/platforms/{id}
	DELETE /admin/platforms/{id}
	POST   /admin/resource-links/{id}/share-keys
	POST   /admin/resource-links/{id}/scores

Every route requires HTTP basic auth.
*/
type API struct {
	Env      *lti.Env
	Grader   *ags.Grader
	User     string
	PassHash string
}

func (a *API) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireBasicAuth(a.User, a.PassHash))

		r.Post("/platforms", a.handleCreatePlatform)
		r.Get("/platforms", a.handleListPlatforms)
		r.Get("/platforms/{id}", a.handleGetPlatform)
		r.Put("/platforms/{id}", a.handleUpdatePlatform)
		r.Delete("/platforms/{id}", a.handleDeletePlatform)

		r.Post("/resource-links/{id}/share-keys", a.handleCreateShareKey)
		r.Post("/resource-links/{id}/scores", a.handleSubmitScore)
	})
}

func (a *API) logger() *zap.Logger {
	if a.Env != nil && a.Env.Logger != nil {
		return a.Env.Logger
	}
	return zap.NewNop()
}

func (a *API) now() time.Time {
	if a.Env != nil && a.Env.Now != nil {
		return a.Env.Now()
	}
	return time.Now()
}

// ----- Share keys -----

type shareKeyReq struct {
	LifeHours   int  `json:"life_hours"`
	AutoApprove bool `json:"auto_approve"`
	Length      int  `json:"length"`
}

type shareKeyResp struct {
	ShareKey    string    `json:"share_key"`
	Expires     time.Time `json:"expires"`
	AutoApprove bool      `json:"auto_approve"`
}

func (a *API) handleCreateShareKey(w http.ResponseWriter, r *http.Request) {
	rl, ok := a.loadResourceLink(w, r)
	if !ok {
		return
	}
	var req shareKeyReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	k := lti.NewShareKey(rl, time.Duration(req.LifeHours)*time.Hour, req.AutoApprove, req.Length, a.now())
	if err := a.Env.Connector.SaveShareKey(r.Context(), k); err != nil {
		a.logger().Error("save share key", zap.Int64("resource_link", rl.RecordID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to save share key")
		return
	}
	respondJSON(w, http.StatusCreated, shareKeyResp{ShareKey: k.ID, Expires: k.Expires.UTC(), AutoApprove: k.AutoApprove})
}

// ----- Scores -----

type scoreReq struct {
	UserID           string   `json:"user_id"`
	Score            *float64 `json:"score"`
	PointsPossible   float64  `json:"points_possible"`
	Comment          string   `json:"comment"`
	ActivityProgress string   `json:"activity_progress"`
	GradingProgress  string   `json:"grading_progress"`
}

func (a *API) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	if a.Grader == nil {
		respondError(w, http.StatusNotImplemented, "grade service not configured")
		return
	}
	rl, ok := a.loadResourceLink(w, r)
	if !ok {
		return
	}
	var req scoreReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id required")
		return
	}
	u := &lti.UserResult{ResourceLinkID: rl.RecordID, LTIUserID: req.UserID}
	if err := a.Env.Connector.LoadUserResult(r.Context(), u); err != nil {
		if errors.Is(err, lti.ErrNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	err := a.Grader.Submit(r.Context(), rl, u, ags.Outcome{
		Value:            req.Score,
		PointsPossible:   req.PointsPossible,
		Comment:          req.Comment,
		ActivityProgress: req.ActivityProgress,
		GradingProgress:  req.GradingProgress,
	})
	switch {
	case errors.Is(err, ags.ErrNoLineItem):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
	}
}

func (a *API) loadResourceLink(w http.ResponseWriter, r *http.Request) (*lti.ResourceLink, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	rl := &lti.ResourceLink{RecordID: id}
	if err := a.Env.Connector.LoadResourceLink(r.Context(), rl); err != nil {
		if errors.Is(err, lti.ErrNotFound) {
			respondError(w, http.StatusNotFound, "resource link not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return rl, true
}

// ----- helpers -----

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
