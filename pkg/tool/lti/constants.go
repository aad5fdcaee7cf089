// pkg/tool/lti/constants.go
package lti

import "time"

// LTI versions carried in lti_version.
const (
	Version1   = "LTI-1p0"
	Version2   = "LTI-2p0"
	Version1P3 = "1.3.0"
)

// ClaimPrefix is the namespace shared by every LTI 1.3 claim.
const ClaimPrefix = "https://purl.imsglobal.org/spec/lti"

// Legacy message types (parameter namespace).
const (
	MessageTypeLaunch            = "basic-lti-launch-request"
	MessageTypeContentItem       = "ContentItemSelectionRequest"
	MessageTypeContentItemUpdate = "ContentItemUpdateRequest"
	MessageTypeContentItemReturn = "ContentItemSelection"
	MessageTypeDashboard         = "DashboardRequest"
	MessageTypeConfigure         = "ConfigureLaunchRequest"
	MessageTypeRegistration      = "ToolProxyRegistrationRequest"
)

// Media and content types used by content-item (deep linking) messages.
const (
	LTILinkMediaType = "application/vnd.ims.lti.v1.ltilink"
	ltiMediaPrefix   = "application/vnd.ims.lti."

	ContentTypeLTILink = "ltiResourceLink"
	ContentTypeLink    = "link"
	ContentTypeHTML    = "html"
	ContentTypeImage   = "image"
	ContentTypeFile    = "file"
)

// Role vocabularies.
const (
	roleV1Prefix = "urn:lti:role:ims/lis/"
	roleV2Prefix = "http://purl.imsglobal.org/vocab/lis/v2/membership#"
	courseTypeV2 = "http://purl.imsglobal.org/vocab/lis/v2/course#"
)

// ConnectionErrorMessage is shown to users when a request fails.
const ConnectionErrorMessage = "Sorry, there was an error connecting you to the application."

// Defaults used when the Env leaves a value unset.
const (
	DefaultNonceTTL      = 30 * time.Minute
	DefaultJWTLife       = 60 * time.Second
	DefaultJWTLeeway     = 60 * time.Second
	oauthTimestampWindow = 300 * time.Second
	ltiToolConfigClaim   = "https://purl.imsglobal.org/spec/lti-tool-configuration"
	ltiPlatformConfigKey = "https://purl.imsglobal.org/spec/lti-platform-configuration"
	clientAssertionType  = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	toolProfileMediaType = "application/vnd.ims.lti.v2.toolconsumerprofile+json"
	deploymentIDClaim    = ClaimPrefix + "/claim/deployment_id"
	targetLinkURIClaim   = ClaimPrefix + "/claim/target_link_uri"
	messageTypeClaim     = ClaimPrefix + "/claim/message_type"
	customClaimGroup     = ClaimPrefix + "/claim/custom"
	extClaimGroup        = ClaimPrefix + "/claim/ext"
)

// supportedVersions is the closed set accepted in lti_version.
var supportedVersions = []string{Version1, Version2, Version1P3}
