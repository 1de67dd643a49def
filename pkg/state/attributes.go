package state

// Visualization settings that attribute titles can be bound to.
const (
	AttrLabel      = "label"
	AttrLabelSize  = "label size"
	AttrLabelColor = "label color"
	AttrColor      = "color"
	AttrSlider     = "slider"
	AttrIcon       = "icon"
	AttrImage      = "image"
	AttrPosition   = "position"
	AttrGeo        = "geo"
)

// settings cleared when the key setting is turned on
var exclusions = map[string][]string{
	AttrSlider:   {AttrColor},
	AttrColor:    {AttrImage, AttrSlider},
	AttrIcon:     {AttrImage},
	AttrImage:    {AttrColor, AttrIcon},
	AttrPosition: {AttrGeo},
	AttrGeo:      {AttrPosition},
}

// settings cleared when the key setting is turned off
var dependents = map[string][]string{
	AttrLabel: {AttrLabelSize, AttrLabelColor},
}

// ToggleAttributeTitle binds value to setting, or unbinds it when it is
// already bound to the same value. Mutually exclusive settings are cleared on
// bind and dependent settings on unbind.
func (s *SideState) ToggleAttributeTitle(setting, value string) {
	if s.AttributeTitles == nil {
		s.AttributeTitles = map[string]string{}
	}
	if s.AttributeTitles[setting] == value {
		delete(s.AttributeTitles, setting)
		for _, dep := range dependents[setting] {
			delete(s.AttributeTitles, dep)
		}
		return
	}
	s.AttributeTitles[setting] = value
	for _, other := range exclusions[setting] {
		delete(s.AttributeTitles, other)
	}
}

// AttributesBoundTo returns which of settings are bound to value.
func (s SideState) AttributesBoundTo(settings []string, value string) []string {
	var out []string
	for _, setting := range settings {
		if s.AttributeTitles[setting] == value {
			out = append(out, setting)
		}
	}
	return out
}
