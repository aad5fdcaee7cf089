// pkg/tool/lti/content_item.go
package lti

import (
	"context"
	"encoding/json"
	"fmt"
)

// ContentItem is one item returned from a content-item selection.
type ContentItem struct {
	Type         string // ContentType* constant
	Title        string
	Text         string
	URL          string
	MediaType    string
	Custom       map[string]string
	LineItem     *LineItemHint
	Target       string // presentation document target
	Width        int
	Height       int
	ThumbnailURL string
}

// LineItemHint asks the platform to create a gradebook column for the item.
type LineItemHint struct {
	Label        string
	ScoreMaximum float64
	ResourceID   string
	Tag          string
}

const contentItemContext = "http://purl.imsglobal.org/ctx/lti/v1/ContentItem"

// ContentItemsJSON encodes items as the content_items parameter: a JSON-LD
// @graph document for LTI 1.x, a plain array of deep-linking items for 1.3.
func ContentItemsJSON(items []ContentItem, version string) (string, error) {
	var doc any
	if version == Version1P3 {
		list := make([]map[string]any, 0, len(items))
		for _, it := range items {
			list = append(list, it.deepLink())
		}
		doc = list
	} else {
		graph := make([]map[string]any, 0, len(items))
		for _, it := range items {
			graph = append(graph, it.jsonLD())
		}
		doc = map[string]any{"@context": contentItemContext, "@graph": graph}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("content items: %w", err)
	}
	return string(b), nil
}

func (it ContentItem) mediaType() string {
	switch {
	case it.MediaType != "":
		return it.MediaType
	case it.Type == ContentTypeLTILink:
		return LTILinkMediaType
	case it.Type == ContentTypeLink || it.Type == ContentTypeHTML:
		return "text/html"
	default:
		return ""
	}
}

func (it ContentItem) jsonLD() map[string]any {
	m := map[string]any{"mediaType": it.mediaType()}
	switch it.Type {
	case ContentTypeLTILink:
		m["@type"] = "LtiLinkItem"
	case ContentTypeFile:
		m["@type"] = "FileItem"
	default:
		m["@type"] = "ContentItem"
	}
	setIf(m, "title", it.Title)
	setIf(m, "text", it.Text)
	setIf(m, "url", it.URL)
	if len(it.Custom) > 0 {
		m["custom"] = it.Custom
	}
	if it.ThumbnailURL != "" {
		m["thumbnail"] = map[string]any{"@id": it.ThumbnailURL}
	}
	if it.Target != "" || it.Width > 0 || it.Height > 0 {
		pa := map[string]any{}
		setIf(pa, "presentationDocumentTarget", it.Target)
		if it.Width > 0 {
			pa["displayWidth"] = it.Width
		}
		if it.Height > 0 {
			pa["displayHeight"] = it.Height
		}
		m["placementAdvice"] = pa
	}
	if li := it.LineItem; li != nil {
		lm := map[string]any{
			"@type":           "LineItem",
			"label":           li.Label,
			"reportingMethod": "res:totalScore",
			"scoreConstraints": map[string]any{
				"@type":         "NumericLimits",
				"normalMaximum": li.ScoreMaximum,
			},
		}
		if li.ResourceID != "" {
			lm["assignedActivity"] = map[string]any{"activityId": li.ResourceID}
		}
		m["lineItem"] = lm
	}
	return m
}

func (it ContentItem) deepLink() map[string]any {
	m := map[string]any{"type": it.Type}
	if it.Type == ContentTypeFile || it.Type == ContentTypeImage {
		setIf(m, "mediaType", it.MediaType)
	}
	setIf(m, "title", it.Title)
	setIf(m, "text", it.Text)
	setIf(m, "url", it.URL)
	if len(it.Custom) > 0 {
		m["custom"] = it.Custom
	}
	if it.ThumbnailURL != "" {
		m["thumbnail"] = map[string]any{"url": it.ThumbnailURL}
	}
	switch it.Target {
	case "iframe", "frame", "embed":
		f := map[string]any{}
		if it.Width > 0 {
			f["width"] = it.Width
		}
		if it.Height > 0 {
			f["height"] = it.Height
		}
		m["iframe"] = f
	case "window", "popup":
		m["window"] = map[string]any{"targetName": "_blank"}
	}
	if li := it.LineItem; li != nil {
		lm := map[string]any{"label": li.Label, "scoreMaximum": li.ScoreMaximum}
		setIf(lm, "resourceId", li.ResourceID)
		setIf(lm, "tag", li.Tag)
		m["lineItem"] = lm
	}
	return m
}

func setIf(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

// SendContentItems answers a content-item selection request: items are
// signed for the platform and posted back to content_item_return_url by an
// auto-submitting page in l.Output.
func (l *Launch) SendContentItems(ctx context.Context, items []ContentItem, msg string) error {
	if l.MessageType != MessageTypeContentItem && l.MessageType != MessageTypeContentItemUpdate {
		return businessError("Not a content-item selection request.")
	}
	returnURL := l.Params.Trimmed("content_item_return_url")
	if returnURL == "" || l.Platform == nil {
		return protocolError("Missing content_item_return_url parameter.")
	}
	data, err := ContentItemsJSON(items, l.Version)
	if err != nil {
		return wrapError(KindInternal, "Unable to encode the content items.", err)
	}
	form := Params{"content_items": data}
	if l.Params.Has("data") {
		form["data"] = l.Params.Get("data")
	}
	if msg != "" {
		form["lti_msg"] = msg
	}
	version := l.Version
	if version == "" {
		version = Version1
	}
	signed, err := l.Platform.Signer(l.Env).SignParameters(ctx, returnURL, MessageTypeContentItemReturn, version, form)
	if err != nil {
		return wrapError(KindInternal, "Unable to sign the content items.", err)
	}
	page, err := SendForm(returnURL, signed, "")
	if err != nil {
		return wrapError(KindInternal, "Unable to sign the content items.", err)
	}
	l.Output = page
	return nil
}
