package lti

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleItems = []ContentItem{
	{
		Type:     ContentTypeLTILink,
		Title:    "Quiz 1",
		URL:      "https://tool.example.com/quiz/1",
		Custom:   map[string]string{"quiz": "1"},
		LineItem: &LineItemHint{Label: "Quiz 1", ScoreMaximum: 10, ResourceID: "q1"},
		Target:   "iframe",
		Width:    800,
	},
	{Type: ContentTypeFile, Title: "Notes", URL: "https://tool.example.com/notes.pdf", MediaType: "application/pdf"},
}

func TestContentItemsJSON_LegacyGraph(t *testing.T) {
	out, err := ContentItemsJSON(sampleItems, Version1)
	require.NoError(t, err)

	var doc struct {
		Context string           `json:"@context"`
		Graph   []map[string]any `json:"@graph"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, contentItemContext, doc.Context)
	require.Len(t, doc.Graph, 2)

	link := doc.Graph[0]
	assert.Equal(t, "LtiLinkItem", link["@type"])
	assert.Equal(t, LTILinkMediaType, link["mediaType"])
	assert.Equal(t, map[string]any{"presentationDocumentTarget": "iframe", "displayWidth": float64(800)}, link["placementAdvice"])
	li := link["lineItem"].(map[string]any)
	assert.Equal(t, "NumericLimits", li["scoreConstraints"].(map[string]any)["@type"])
	assert.Equal(t, map[string]any{"activityId": "q1"}, li["assignedActivity"])

	assert.Equal(t, "FileItem", doc.Graph[1]["@type"])
	assert.Equal(t, "application/pdf", doc.Graph[1]["mediaType"])
}

func TestContentItemsJSON_DeepLinking(t *testing.T) {
	out, err := ContentItemsJSON(sampleItems, Version1P3)
	require.NoError(t, err)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "ltiResourceLink", items[0]["type"])
	assert.Equal(t, map[string]any{"width": float64(800)}, items[0]["iframe"])
	assert.Equal(t, map[string]any{"label": "Quiz 1", "scoreMaximum": float64(10), "resourceId": "q1"}, items[0]["lineItem"])
	assert.NotContains(t, items[0], "mediaType")
	assert.Equal(t, "application/pdf", items[1]["mediaType"])
}

func TestSendContentItems(t *testing.T) {
	dc := newMemConnector()
	p := seedOAuth1Platform(t, dc, "key", "secret")
	env := newTestEnv(t, dc)
	l := &Launch{
		Env:         env,
		Platform:    p,
		MessageType: MessageTypeContentItem,
		Version:     Version1,
		Params:      Params{"content_item_return_url": "https://lms.example.com/ci", "data": "opaque"},
	}
	require.NoError(t, l.SendContentItems(context.Background(), sampleItems[:1], "Added"))

	action, fields := formFields(t, l.Output)
	assert.Equal(t, "https://lms.example.com/ci", action)
	assert.Equal(t, MessageTypeContentItemReturn, fields.Get("lti_message_type"))
	assert.Equal(t, "opaque", fields.Get("data"))
	assert.Equal(t, "Added", fields.Get("lti_msg"))
	assert.Contains(t, fields.Get("content_items"), `"LtiLinkItem"`)

	req := &Request{Method: "POST", URL: action, Query: Params{}, Form: fields}
	verifier := &OAuth1Signer{ConsumerKey: "key", Secret: "secret", NonceScope: "platform", Env: newTestEnv(t, nil)}
	assert.NoError(t, verifier.Verify(context.Background(), &Message{Request: req, Params: fields}))
}

func TestSendContentItems_WrongMessageType(t *testing.T) {
	l := &Launch{MessageType: MessageTypeLaunch, Params: Params{}}
	err := l.SendContentItems(context.Background(), sampleItems, "")
	assert.Equal(t, "Not a content-item selection request.", ReasonOf(err))
}
