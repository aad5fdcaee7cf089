// pkg/tool/lti/settings.go
package lti

import (
	"sort"
	"strings"
)

// Message parameters retained as settings at each level.
var (
	platformSettingNames = []string{"custom_tc_profile_url", "custom_system_setting_url", "custom_oauth2_access_token_url"}
	contextSettingNames  = []string{
		"custom_context_setting_url", "custom_context_memberships_url", "custom_context_memberships_v2_url",
		"custom_lineitems_url", "custom_ags_scopes",
	}
	resourceLinkSettingNames = []string{
		"lis_result_sourcedid", "lis_outcome_service_url",
		"ext_ims_lis_basic_outcome_url", "ext_ims_lis_resultvalue_sourcedids", "ext_outcome_data_values_accepted",
		"ext_ims_lis_memberships_id", "ext_ims_lis_memberships_url",
		"ext_ims_lti_tool_setting", "ext_ims_lti_tool_setting_id", "ext_ims_lti_tool_setting_url",
		"custom_link_setting_url", "custom_link_memberships_url",
		"custom_lineitems_url", "custom_lineitem_url", "custom_ags_scopes",
	}
	// retainedSettingNames survive a launch that does not carry them.
	retainedSettingNames = []string{"custom_lineitem_url"}
)

// applySettings replaces the custom settings left by a previous launch at
// platform, context and resource-link level, in that order.
func (t *Tool) applySettings(l *Launch, rl *ResourceLink) {
	before := l.Platform.SystemSettings().Clone()
	levels := []Settings{l.Platform.SystemSettings()}
	if l.Context != nil {
		levels = append(levels, l.Context.settings())
	}
	levels = append(levels, rl.settings())

	for _, s := range levels {
		clearCustomSettings(s)
	}

	copySettings(l.Params, l.Platform.SystemSettings(), platformSettingNames)
	if l.Context != nil {
		copySettings(l.Params, l.Context.settings(), contextSettingNames)
	}
	copySettings(l.Params, rl.settings(), resourceLinkSettingNames)

	for _, name := range l.Params.Keys() {
		if !strings.HasPrefix(name, "custom_") || isNamedSetting(name) {
			continue
		}
		for _, s := range levels {
			s.Set(name, l.Params[name])
		}
	}

	if !before.Equal(l.Platform.SystemSettings()) {
		l.savePlatform = true
	}
}

func clearCustomSettings(s Settings) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.HasPrefix(name, "custom_") && !contains(retainedSettingNames, name) {
			s.Set(name, "")
		}
	}
}

func copySettings(params Params, s Settings, names []string) {
	for _, name := range names {
		switch {
		case params.Has(name):
			s.Set(name, params[name])
		case !contains(retainedSettingNames, name):
			s.Set(name, "")
		}
	}
}

func isNamedSetting(name string) bool {
	return contains(platformSettingNames, name) || contains(contextSettingNames, name) || contains(resourceLinkSettingNames, name)
}
