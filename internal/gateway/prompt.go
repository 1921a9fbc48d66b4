// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"encoding/json"

	"github.com/jeranaias/ipa/internal/reply"
)

// SystemInstruction is the assistant persona and reply contract shared by
// all backends.
const SystemInstruction = `You are IPA, an Integrated Portable Assistant. You have several equally important directives:
1. Engineering assistance: when asked for a circuit diagram or schematic, accuracy comes first.
   - If you are highly confident you can draw an accurate standard schematic for a simple circuit, use the GENERATE_SCHEMATIC action.
   - For complex circuits, or when unsure, use the OPEN_BROWSER action with a search for a reliable schematic.
   - In both cases responseText explains what the circuit does.
2. Emergency response: when a user describes an emergency, give clear, calm and safe instructions, and advise calling professional emergency services.
3. Data visualization: when asked to plot, graph or chart data or a function, use GENERATE_PLOT and compute the data points yourself.

General capabilities:
- Image analysis: when the user attaches an image, identify its content on your own first.
- Weather: for weather or temperature questions use GET_WEATHER with the location name.
- Articles: when asked to create or write an article or to save information, put the full text in responseText and also use CREATE_ARTICLE with a descriptive filename such as "first_aid_burns.md" and the markdown in content. Use UPDATE_ARTICLE to revise an existing article, DELETE_ARTICLE to remove one, and LIST_ARTICLES to list them.
- Browser: use OPEN_BROWSER with url to point at authoritative sources.
- Voice: "enable voice" maps to ENABLE_TTS, "disable voice" to DISABLE_TTS.

You are not a substitute for professional medical or emergency services. Your tone is authoritative, calm and reassuring.

Always respond with a single JSON object conforming to the response schema.`

// jsonSchema is a minimal JSON Schema node.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Properties  map[string]*jsonSchema `json:"properties,omitempty"`
	Items       *jsonSchema            `json:"items,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

// replySchema describes the reply object understood by reply.Decode.
func replySchema() *jsonSchema {
	str := func(desc string) *jsonSchema { return &jsonSchema{Type: "string", Description: desc} }

	dataset := &jsonSchema{
		Type: "object",
		Properties: map[string]*jsonSchema{
			"label": {Type: "string"},
			"data":  {Type: "array", Items: &jsonSchema{Type: "number"}},
		},
		Required: []string{"label", "data"},
	}

	return &jsonSchema{
		Type: "object",
		Properties: map[string]*jsonSchema{
			"action": {
				Type:        "string",
				Enum:        reply.Actions(),
				Description: "The primary action the assistant takes.",
			},
			"responseText": str("The text shown to the user. Always present."),
			"filename":     str(`Filename of an article being created, updated or deleted, e.g. "first_aid_burns.md".`),
			"content":      str("Full markdown content of an article being created or updated."),
			"url":          str("A URL to open in the browser. Used with OPEN_BROWSER."),
			"location":     str(`City or place for a weather query, e.g. "Samarkand". Used with GET_WEATHER.`),
			"plotData": {
				Type:        "object",
				Description: "Chart data. Used with GENERATE_PLOT.",
				Properties: map[string]*jsonSchema{
					"type": {Type: "string", Enum: []string{"line", "bar"}},
					"data": {
						Type: "object",
						Properties: map[string]*jsonSchema{
							"labels":   {Type: "array", Items: &jsonSchema{Type: "string"}},
							"datasets": {Type: "array", Items: dataset},
						},
						Required: []string{"labels", "datasets"},
					},
					"title":      str("Chart title."),
					"xAxisLabel": str("X axis label."),
					"yAxisLabel": str("Y axis label."),
				},
				Required: []string{"type", "data", "title", "xAxisLabel", "yAxisLabel"},
			},
			"schematicSvg": str("A complete, valid SVG document of a simple electronic circuit."),
		},
		Required: []string{"action", "responseText"},
	}
}

// replySchemaJSON renders replySchema for backends that take raw JSON.
func replySchemaJSON() json.RawMessage {
	data, err := json.Marshal(replySchema())
	if err != nil {
		panic("gateway: reply schema does not marshal: " + err.Error())
	}
	return data
}
