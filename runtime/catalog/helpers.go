package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// Shared state channel keys. Inputs always include content and context;
// workflow-specific inputs and outputs use the channel names of their typed
// output records.
const (
	chanContent = "content"
	chanContext = "context"
)

// analyzeJSON issues an analysis request with the given schema and decodes
// the validated result into out. The context map from the workflow state is
// rendered as additional user parts; when it carries a screenshot path the
// request includes a vision part.
func analyzeJSON(ctx context.Context, ex *workflow.Execution, system string, schemaName string, schema json.RawMessage, extra []string, out any) error {
	req := &model.Request{
		System:     system,
		Schema:     schema,
		SchemaName: schemaName,
	}
	if content := ex.String(chanContent); content != "" {
		req.Parts = append(req.Parts, model.TextPart{Text: "Content:\n" + content})
	}
	if cc, ok := ex.State[chanContext].(map[string]any); ok {
		if txt := renderContext(cc); txt != "" {
			req.Parts = append(req.Parts, model.TextPart{Text: txt})
		}
		if path, _ := cc["screenshotPath"].(string); path != "" {
			hash, _ := cc["screenshotHash"].(string)
			req.Parts = append(req.Parts, model.ImagePart{Path: path, Hash: hash})
		}
	}
	for _, e := range extra {
		if e != "" {
			req.Parts = append(req.Parts, model.TextPart{Text: e})
		}
	}
	res, err := ex.Model.Analyze(ctx, req)
	if err != nil {
		return err
	}
	if len(res.JSON) == 0 {
		return model.NewProviderError("catalog", schemaName, 0, model.KindSchema, "model returned no structured result", false, nil)
	}
	if err := json.Unmarshal(res.JSON, out); err != nil {
		return model.NewProviderError("catalog", schemaName, 0, model.KindSchema, "decode structured result", false, err)
	}
	return nil
}

// renderContext flattens the capture context map into a prompt block.
func renderContext(cc map[string]any) string {
	var b strings.Builder
	appendIf := func(label, key string) {
		if v, _ := cc[key].(string); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	appendIf("Source application", "sourceApp")
	appendIf("Window title", "windowTitle")
	appendIf("Surrounding text", "surroundingText")
	appendIf("Session type", "sessionType")
	if tags := stringsOf(cc["tags"]); len(tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(tags, ", "))
	}
	if b.Len() == 0 {
		return ""
	}
	return "Capture context:\n" + b.String()
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// clamp01 bounds a confidence value to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// canonicalURL normalizes a URL for deduplication: lowercase scheme and
// host, dropped fragment, dropped tracking parameters, no trailing slash.
func canonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "ref" || key == "fbclid" || key == "gclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// dedupSources removes duplicate sources by canonical URL, preserving order.
func dedupSources(in []Source) []Source {
	seen := make(map[string]bool, len(in))
	out := make([]Source, 0, len(in))
	for _, s := range in {
		key := canonicalURL(s.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// typeKeywords maps session-type signals to detected types for the
// deterministic fallback path.
var typeKeywords = []struct {
	keywords []string
	detected string
}{
	{[]string{"hotel", "resort", "hilton", "marriott", "ritz", "shangri-la", "hyatt", "inn", "suites"}, "hotel_research"},
	{[]string{"restaurant", "menu", "dining", "bistro", "cuisine", "reservation"}, "restaurant_research"},
	{[]string{"flight", "airline", "itinerary", "airport", "visa", "travel"}, "travel_research"},
	{[]string{"price", "review", "buy", "specs", "model", "product"}, "product_research"},
	{[]string{"plumber", "contractor", "repair", "cleaning", "service"}, "service_research"},
	{[]string{"paper", "journal", "study", "thesis", "doi"}, "academic_research"},
}

// detectTypeKeywords is the deterministic session-type fallback used when the
// model output fails validation. A keyword matches at the start of a
// whitespace-separated word, so "inn" does not match inside "dinner" while
// "ritz" still matches "Ritz-Carlton". Unmatched content is general research.
func detectTypeKeywords(content string) string {
	words := strings.Fields(strings.ToLower(content))
	for _, tk := range typeKeywords {
		for _, kw := range tk.keywords {
			for _, w := range words {
				if strings.HasPrefix(strings.Trim(w, ".,!?:;\"'()[]"), kw) {
					return tk.detected
				}
			}
		}
	}
	return "general_research"
}

// normalizeTag lowercases and trims a tag, replacing inner whitespace with
// hyphens so the tag set stays queryable.
func normalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.Join(strings.Fields(tag), "-")
}

// fallbackTags derives minimal tags from content for the deterministic
// analysis fallback: the detected type stem plus up to three distinctive
// lowercase words.
func fallbackTags(content string) []string {
	detected := detectTypeKeywords(content)
	tags := []string{strings.TrimSuffix(detected, "_research")}
	for _, w := range strings.Fields(strings.ToLower(content)) {
		w = strings.Trim(w, ".,!?:;\"'()[]")
		if len(w) < 4 || len(tags) > 3 {
			continue
		}
		dup := false
		for _, t := range tags {
			if t == w {
				dup = true
				break
			}
		}
		if !dup {
			tags = append(tags, w)
		}
	}
	return tags
}
