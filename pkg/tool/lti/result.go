// pkg/tool/lti/result.go
package lti

import (
	"html"
	"net/http"

	"go.uber.org/zap"
)

// Render writes the outcome of l: the handler's redirect or output on
// success; on failure a redirect (or a signed content-item response) to the
// platform return URL when there is one, else an inline message.
func (l *Launch) Render(w http.ResponseWriter, r *http.Request) {
	switch {
	case l.Ignored:
		w.WriteHeader(http.StatusOK)
	case l.Err != nil:
		l.renderError(w, r)
	case l.Redirect != "":
		http.Redirect(w, r, l.Redirect, http.StatusFound)
	case l.Output != "":
		writeHTML(w, http.StatusOK, l.Output)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (l *Launch) renderError(w http.ResponseWriter, r *http.Request) {
	reason := l.Reason()
	if l.ReturnURL != "" {
		if l.Platform != nil && l.MessageType == MessageTypeContentItem {
			if page, err := l.contentItemError(r, reason); err == nil {
				writeHTML(w, http.StatusOK, page)
				return
			} else {
				l.Env.logger().Warn("content-item error response not signed", zap.Error(err))
			}
		}
		var target string
		switch {
		case l.Debug && reason != "":
			target = appendQuery(l.ReturnURL, "lti_errormsg", "Debug error: "+reason)
		case reason != "":
			target = appendQuery(l.ReturnURL, "lti_errormsg", ConnectionErrorMessage, "lti_errorlog", "Debug error: "+reason)
		default:
			target = appendQuery(l.ReturnURL, "lti_errormsg", ConnectionErrorMessage)
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	status := http.StatusBadRequest
	switch KindOf(l.Err) {
	case KindTrust:
		status = http.StatusUnauthorized
	case KindInternal:
		status = http.StatusInternalServerError
	}
	switch {
	case l.ErrorOutput != "":
		writeHTML(w, status, l.ErrorOutput)
	case l.Debug && reason != "":
		writeHTML(w, status, "Debug error: "+html.EscapeString(reason))
	default:
		writeHTML(w, status, "Error: "+html.EscapeString(ConnectionErrorMessage))
	}
}

// contentItemError signs a ContentItemSelection carrying the error back to
// the platform.
func (l *Launch) contentItemError(r *http.Request, reason string) (string, error) {
	form := Params{"lti_errormsg": ConnectionErrorMessage}
	switch {
	case l.Debug && reason != "":
		form["lti_errormsg"] = "Debug error: " + reason
	case reason != "":
		form["lti_errorlog"] = "Debug error: " + reason
	}
	if l.Params.Has("data") {
		form["data"] = l.Params.Get("data")
	}
	version := l.Version
	if version == "" {
		version = Version1
	}
	signed, err := l.Platform.Signer(l.Env).SignParameters(r.Context(), l.ReturnURL, MessageTypeContentItemReturn, version, form)
	if err != nil {
		return "", err
	}
	return SendForm(l.ReturnURL, signed, "")
}
