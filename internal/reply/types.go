// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reply

// =============================================================================
// KIND
// =============================================================================

// Kind is the closed set of reply kinds.
type Kind string

const (
	KindChat         Kind = "CHAT"
	KindCreateDoc    Kind = "CREATE_DOC"
	KindUpdateDoc    Kind = "UPDATE_DOC"
	KindListDocs     Kind = "LIST_DOCS"
	KindDeleteDoc    Kind = "DELETE_DOC"
	KindOpenLink     Kind = "OPEN_LINK"
	KindGetWeather   Kind = "GET_WEATHER"
	KindSetVoiceMode Kind = "SET_VOICE_MODE"
	KindPlot         Kind = "PLOT"
	KindSchematic    Kind = "SCHEMATIC"
)

// Action tags the model is instructed to emit. They are also the values
// clients receive in ai_response.action.
const (
	ActionChat              = "CHAT"
	ActionCreateArticle     = "CREATE_ARTICLE"
	ActionUpdateArticle     = "UPDATE_ARTICLE"
	ActionListArticles      = "LIST_ARTICLES"
	ActionDeleteArticle     = "DELETE_ARTICLE"
	ActionOpenBrowser       = "OPEN_BROWSER"
	ActionGetWeather        = "GET_WEATHER"
	ActionEnableTTS         = "ENABLE_TTS"
	ActionDisableTTS        = "DISABLE_TTS"
	ActionGeneratePlot      = "GENERATE_PLOT"
	ActionGenerateSchematic = "GENERATE_SCHEMATIC"
)

// actionKinds maps every accepted action tag to its kind. Kind names are
// accepted as tags too.
var actionKinds = map[string]Kind{
	ActionChat:              KindChat,
	ActionCreateArticle:     KindCreateDoc,
	ActionUpdateArticle:     KindUpdateDoc,
	ActionListArticles:      KindListDocs,
	ActionDeleteArticle:     KindDeleteDoc,
	ActionOpenBrowser:       KindOpenLink,
	ActionGetWeather:        KindGetWeather,
	ActionEnableTTS:         KindSetVoiceMode,
	ActionDisableTTS:        KindSetVoiceMode,
	ActionGeneratePlot:      KindPlot,
	ActionGenerateSchematic: KindSchematic,

	string(KindCreateDoc):    KindCreateDoc,
	string(KindUpdateDoc):    KindUpdateDoc,
	string(KindListDocs):     KindListDocs,
	string(KindDeleteDoc):    KindDeleteDoc,
	string(KindOpenLink):     KindOpenLink,
	string(KindSetVoiceMode): KindSetVoiceMode,
	string(KindPlot):         KindPlot,
	string(KindSchematic):    KindSchematic,
}

// kindActions maps a kind back to the action tag clients receive.
var kindActions = map[Kind]string{
	KindChat:         ActionChat,
	KindCreateDoc:    ActionCreateArticle,
	KindUpdateDoc:    ActionUpdateArticle,
	KindListDocs:     ActionListArticles,
	KindDeleteDoc:    ActionDeleteArticle,
	KindOpenLink:     ActionOpenBrowser,
	KindGetWeather:   ActionGetWeather,
	KindSetVoiceMode: ActionEnableTTS,
	KindPlot:         ActionGeneratePlot,
	KindSchematic:    ActionGenerateSchematic,
}

// canonicalAction returns the action tag for a decoded tag, replacing kind
// names with the corresponding action.
func canonicalAction(kind Kind, tag string) string {
	if _, isKindName := kindActions[Kind(tag)]; isKindName {
		return kindActions[kind]
	}
	return tag
}

// Actions returns the action tags the model may emit, in schema order.
func Actions() []string {
	return []string{
		ActionChat,
		ActionCreateArticle,
		ActionUpdateArticle,
		ActionListArticles,
		ActionDeleteArticle,
		ActionOpenBrowser,
		ActionEnableTTS,
		ActionDisableTTS,
		ActionGetWeather,
		ActionGeneratePlot,
		ActionGenerateSchematic,
	}
}

// KindOf returns the kind for an action tag.
func KindOf(action string) (Kind, bool) {
	k, ok := actionKinds[action]
	return k, ok
}

// =============================================================================
// STRUCTURED REPLY
// =============================================================================

// StructuredReply is one decoded model answer. Text is never empty.
type StructuredReply struct {
	Kind   Kind
	Action string
	Text   string

	DocName    string
	DocContent string

	URL       string
	Location  string
	Plot      *PlotSpec
	Schematic string

	// VoiceEnabled is set for KindSetVoiceMode.
	VoiceEnabled *bool

	// Degraded marks a reply built from raw text after decoding failed.
	Degraded bool
}

// HasDocument reports whether the reply carries a complete document
// mutation: a create or update kind with both name and content.
func (r StructuredReply) HasDocument() bool {
	if r.Kind != KindCreateDoc && r.Kind != KindUpdateDoc {
		return false
	}
	return r.DocName != "" && r.DocContent != ""
}

// PlotSpec describes a chart for the client to draw.
type PlotSpec struct {
	Type       string   `json:"type"` // "line" or "bar"
	Data       PlotData `json:"data"`
	Title      string   `json:"title,omitempty"`
	XAxisLabel string   `json:"xAxisLabel,omitempty"`
	YAxisLabel string   `json:"yAxisLabel,omitempty"`
}

// PlotData holds the chart series.
type PlotData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one named series.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}
