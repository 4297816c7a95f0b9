package catalog

// System prompts for the catalog workflows. Prompts ask for JSON conforming
// to the workflow's schema; the model boundary validates before any node
// consumes the result.

const promptComprehensiveAnalysis = `You analyze clipboard captures for a research assistant.
Given the copied content and its capture context (source application, window
title, surrounding text, optional screenshot), produce a single unified
analysis as JSON with fields: contentType, sentiment, purpose, tags (specific,
lowercase, at most 12), recommendedActions (action from
[research, summarize, fact_check, translate, explain, expand, create_task,
cite, respond, schedule], priority from [high, medium, low], reason,
confidence), visualContext when a screenshot is provided, and confidence in
[0,1]. Prefer precise tags over broad ones.`

const promptExtractKeyPoints = `Extract the key points from the given content as JSON with a
keyPoints array of short, self-contained statements, most important first.
Use the capture context to resolve ambiguous references.`

const promptQualitySummary = `Summarize the content using the provided key points. Return JSON
with: summary (2-4 sentences, faithful to the source), qualityScore in [0,1]
honestly assessing completeness and fidelity of your own summary.`

const promptRefineSummary = `The previous summary scored below the quality bar. Rewrite it to
be more complete and faithful, using the key points. Return JSON with a
finalSummary field.`

const promptGenerateQueries = `Generate web search queries to research the given content.
Return JSON with a researchQueries array of 1 to 3 queries: the original
content verbatim as one query, plus focused variations informed by the tags
and session type provided in context.`

const promptProcessResults = `Synthesize the web search results into findings. Return JSON
with: keyFindings (at most 15 concise, de-duplicated factual findings) and
confidence in [0,1] reflecting coverage and source quality.`

const promptSessionContext = `Analyze what the user is doing given the new clipboard capture
and the current session members (if any). Return JSON with an intentAnalysis
object: primaryIntent, activityType, and entities (proper names, places,
products mentioned).`

const promptSessionMembership = `Decide whether the new capture belongs to the candidate
session. Judge purely from semantic signals: shared entities, same activity,
complementary activities. Return JSON with: sessionType (one of
hotel_research, restaurant_research, travel_research, product_research,
service_research, academic_research, general_research),
sessionTypeConfidence in [0,1], belongsToSession, confidence in [0,1], and
sessionDecision explaining the call.`

const promptSessionRelationships = `Describe how the entities in this session relate. Return
JSON with an entityRelationships object: consolidationStrategy (COMPARE for
multiple comparable entities of the same type, MERGE for one entity seen
repeatedly, COMPLEMENT for different but complementary types, GENERIC
otherwise), type (comparable-entities, same-entity, complementary,
independent), entities, comparisonDimensions (for comparable entities, e.g.
price, amenities, location, reviews), reasoning, confidence in [0,1].`

const promptConsolidation = `Consolidate the per-entity research for this session using the
%s strategy. Return JSON with: researchObjective, summary, primaryIntent,
researchGoals, nextSteps, and the strategy-specific field: comparisonMatrix
(entities plus rows of dimension/cells/winner) for COMPARE,
consolidatedProfile (entity, findings, sources) for MERGE, synergies (at
least two common themes) for COMPLEMENT. Omit fields for other strategies.`

const promptHotelRequirements = `Extract the hotel research requirements from the content:
hotel names, location, dates if present, and the aspects the user appears to
care about. Return JSON with an intentAnalysis object listing entities and
aspects.`

const promptHotelQueries = `Generate web search queries for researching the named hotels.
Return JSON with a researchQueries array of 1 to 3 queries covering price,
amenities, location, and reviews; the original content verbatim must be one
of the queries.`
