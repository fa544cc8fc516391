package llm

import (
	"strings"
)

// Task types the router recognizes.
const (
	TaskPeerReview         = "peer-review"
	TaskLatexGeneration    = "latex-generation"
	TaskLiteratureSearch   = "literature-search"
	TaskScientificAnalysis = "scientific-analysis"
	TaskTranslation        = "translation"
	TaskCodeGeneration     = "code-generation"
	TaskSimpleEdit         = "simple-edit"
)

// ModelChoice is a recommended (provider, model) pair.
type ModelChoice struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// taskKeywords maps each task type to its indicative keywords. Detection
// walks taskDetectionOrder; the first task with a matching keyword wins.
var taskKeywords = map[string][]string{
	TaskPeerReview:         {"review", "critique", "referee", "assess"},
	TaskLatexGeneration:    {"latex", "equation", "table", "figure", "tikz"},
	TaskLiteratureSearch:   {"research", "literature", "citation", "reference", "paper"},
	TaskScientificAnalysis: {"analyze", "analyse", "interpret", "statistics"},
	TaskTranslation:        {"translate", "translation"},
	TaskCodeGeneration:     {"code", "script", "algorithm", "function"},
	TaskSimpleEdit:         {"improve", "rewrite", "edit", "polish"},
}

var taskDetectionOrder = []string{
	TaskPeerReview,
	TaskLatexGeneration,
	TaskLiteratureSearch,
	TaskScientificAnalysis,
	TaskTranslation,
	TaskCodeGeneration,
	TaskSimpleEdit,
}

// routingTable maps task type and user tier to a model choice. Tiers
// missing from a row fall back to the row's "free" entry; unknown task
// types fall back to the simple-edit row.
var routingTable = map[string]map[string]ModelChoice{
	TaskPeerReview: {
		"free":       {Provider: "anthropic", Model: "claude-3-sonnet-20240229"},
		"pro":        {Provider: "anthropic", Model: "claude-3-opus-20240229"},
		"enterprise": {Provider: "anthropic", Model: "claude-3-opus-20240229"},
	},
	TaskLatexGeneration: {
		"free":       {Provider: "openai", Model: "gpt-3.5-turbo"},
		"pro":        {Provider: "openai", Model: "gpt-4"},
		"enterprise": {Provider: "openai", Model: "gpt-4"},
	},
	TaskLiteratureSearch: {
		"free":       {Provider: "anthropic", Model: "claude-3-haiku-20240307"},
		"pro":        {Provider: "anthropic", Model: "claude-3-sonnet-20240229"},
		"enterprise": {Provider: "anthropic", Model: "claude-3-opus-20240229"},
	},
	TaskScientificAnalysis: {
		"free":       {Provider: "anthropic", Model: "claude-3-sonnet-20240229"},
		"pro":        {Provider: "anthropic", Model: "claude-3-opus-20240229"},
		"enterprise": {Provider: "anthropic", Model: "claude-3-opus-20240229"},
	},
	TaskTranslation: {
		"free":       {Provider: "openai", Model: "gpt-3.5-turbo"},
		"pro":        {Provider: "openai", Model: "gpt-4"},
		"enterprise": {Provider: "openai", Model: "gpt-4"},
	},
	TaskCodeGeneration: {
		"free":       {Provider: "openai", Model: "gpt-3.5-turbo"},
		"pro":        {Provider: "openai", Model: "gpt-4"},
		"enterprise": {Provider: "openai", Model: "gpt-4"},
	},
	TaskSimpleEdit: {
		"free":       {Provider: "anthropic", Model: "claude-3-haiku-20240307"},
		"pro":        {Provider: "anthropic", Model: "claude-3-sonnet-20240229"},
		"enterprise": {Provider: "anthropic", Model: "claude-3-sonnet-20240229"},
	},
}

// Router recommends a (provider, model) pair for a task and classifies
// free-text intent into a task category. Pure table lookups, no state.
type Router struct{}

// NewRouter creates a new model router
func NewRouter() *Router {
	return &Router{}
}

// DetectTaskType classifies free text into a task category. Matching is
// case-insensitive; precedence follows taskDetectionOrder, first match
// wins; no match defaults to simple-edit.
func (r *Router) DetectTaskType(text string) string {
	lowered := strings.ToLower(text)
	for _, task := range taskDetectionOrder {
		for _, kw := range taskKeywords[task] {
			if strings.Contains(lowered, kw) {
				return task
			}
		}
	}
	return TaskSimpleEdit
}

// Recommend returns the model choice for a task type and user tier
func (r *Router) Recommend(taskType, tier string) ModelChoice {
	row, ok := routingTable[taskType]
	if !ok {
		row = routingTable[TaskSimpleEdit]
	}
	choice, ok := row[tier]
	if !ok {
		choice = row["free"]
	}
	return choice
}
