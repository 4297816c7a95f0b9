package catalog

import "encoding/json"

// JSON schema documents enforced at the model boundary. The schemas describe
// the fields each node consumes; additional fields from the model are
// tolerated and dropped by decoding.

var schemaContentAnalysis = json.RawMessage(`{
	"type": "object",
	"required": ["contentType", "tags", "confidence"],
	"properties": {
		"contentType": {"type": "string"},
		"sentiment": {"type": "string"},
		"purpose": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"recommendedActions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["action", "priority"],
				"properties": {
					"action": {"type": "string"},
					"priority": {"type": "string", "enum": ["high", "medium", "low"]},
					"reason": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		},
		"visualContext": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

var schemaKeyPoints = json.RawMessage(`{
	"type": "object",
	"required": ["keyPoints"],
	"properties": {
		"keyPoints": {"type": "array", "items": {"type": "string"}}
	}
}`)

var schemaQualitySummary = json.RawMessage(`{
	"type": "object",
	"required": ["summary", "qualityScore"],
	"properties": {
		"summary": {"type": "string"},
		"qualityScore": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

var schemaRefinedSummary = json.RawMessage(`{
	"type": "object",
	"required": ["finalSummary"],
	"properties": {
		"finalSummary": {"type": "string"}
	}
}`)

var schemaQueries = json.RawMessage(`{
	"type": "object",
	"required": ["researchQueries"],
	"properties": {
		"researchQueries": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1,
			"maxItems": 3
		}
	}
}`)

var schemaFindings = json.RawMessage(`{
	"type": "object",
	"required": ["keyFindings"],
	"properties": {
		"keyFindings": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

var schemaIntent = json.RawMessage(`{
	"type": "object",
	"required": ["intentAnalysis"],
	"properties": {
		"intentAnalysis": {"type": "object"}
	}
}`)

var schemaMembership = json.RawMessage(`{
	"type": "object",
	"required": ["sessionType", "belongsToSession", "confidence"],
	"properties": {
		"sessionType": {"type": "string"},
		"sessionTypeConfidence": {"type": "number", "minimum": 0, "maximum": 1},
		"belongsToSession": {"type": "boolean"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"sessionDecision": {"type": "string"}
	}
}`)

var schemaRelationships = json.RawMessage(`{
	"type": "object",
	"required": ["entityRelationships"],
	"properties": {
		"entityRelationships": {
			"type": "object",
			"required": ["consolidationStrategy", "entities"],
			"properties": {
				"consolidationStrategy": {"type": "string", "enum": ["COMPARE", "MERGE", "COMPLEMENT", "GENERIC"]},
				"type": {"type": "string"},
				"entities": {"type": "array", "items": {"type": "string"}},
				"comparisonDimensions": {"type": "array", "items": {"type": "string"}},
				"reasoning": {"type": "string"},
				"confidence": {"type": "number", "minimum": 0, "maximum": 1}
			}
		}
	}
}`)

var schemaConsolidation = json.RawMessage(`{
	"type": "object",
	"required": ["summary"],
	"properties": {
		"researchObjective": {"type": "string"},
		"summary": {"type": "string"},
		"primaryIntent": {"type": "string"},
		"researchGoals": {"type": "array", "items": {"type": "string"}},
		"nextSteps": {"type": "array", "items": {"type": "string"}},
		"comparisonMatrix": {
			"type": "object",
			"required": ["entities", "rows"],
			"properties": {
				"entities": {"type": "array", "items": {"type": "string"}},
				"rows": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["dimension", "cells"],
						"properties": {
							"dimension": {"type": "string"},
							"cells": {"type": "array", "items": {"type": "string"}},
							"winner": {"type": "string"}
						}
					}
				}
			}
		},
		"consolidatedProfile": {
			"type": "object",
			"required": ["entity", "findings"],
			"properties": {
				"entity": {"type": "string"},
				"findings": {"type": "array", "items": {"type": "string"}},
				"sources": {"type": "array"}
			}
		},
		"synergies": {"type": "array", "items": {"type": "string"}}
	}
}`)
