// Package feed defines core types shared across the crawl pipeline.
package feed

import (
	"github.com/luisdavi29052005/pipfox/internal/classifier"
)

// WorkflowStatus represents the lifecycle state of an automation workflow.
type WorkflowStatus string

// Workflow status values persisted in the workflow store.
const (
	StatusIdle    WorkflowStatus = "idle"
	StatusRunning WorkflowStatus = "running"
	StatusError   WorkflowStatus = "error"
)

// Workflow is the persisted automation record loaded at job intake.
type Workflow struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	UserID    string         `json:"user_id"`
	Status    WorkflowStatus `json:"status"`
	Nodes     []WorkflowNode `json:"nodes"`
}

// WorkflowNode describes one group to crawl. Nodes are immutable inputs to a
// crawl run; only active nodes are crawled.
type WorkflowNode struct {
	GroupURL string   `json:"group_url"`
	Prompt   string   `json:"prompt"`
	Keywords []string `json:"keywords"`
	Active   bool     `json:"active"`
}

// Post is the transient message produced by a crawl run. It is never
// persisted by the pipeline: created once, delivered once, discarded.
type Post struct {
	URL                string
	Author             string
	Text               string
	Images             []string
	Timestamp          string
	ContentHash        string
	ExtractedFromModal bool
}

// Candidate is a DOM fragment observed in the feed region, carrying both the
// classification signals and the extracted content so the scoring decision
// stays out of the browser layer.
type Candidate struct {
	DOMID     string
	Features  classifier.Features
	URL       string
	Author    string
	Text      string
	Images    []string
	Timestamp string
	FromModal bool
}

// JobKind discriminates queue job payloads.
type JobKind string

// Job kinds consumed by the intake loop.
const (
	JobStartWorkflow JobKind = "start-workflow"
	JobStopWorkflow  JobKind = "stop-workflow"
	JobPostComment   JobKind = "post-comment"
)

// Job is one unit of work pulled from the external queue.
type Job struct {
	ID         string  `json:"id,omitempty"`
	Kind       JobKind `json:"kind"`
	WorkflowID string  `json:"workflowId,omitempty"`
	UserID     string  `json:"userId,omitempty"`
	AccountID  string  `json:"accountId,omitempty"`
	PostURL    string  `json:"postUrl,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

// EnvelopePost is the post section of the webhook body.
type EnvelopePost struct {
	URL                string   `json:"url"`
	Author             string   `json:"author"`
	Text               string   `json:"text"`
	Images             []string `json:"images"`
	Timestamp          string   `json:"timestamp"`
	ContentHash        string   `json:"contentHash"`
	ExtractedFromModal bool     `json:"extractedFromModal"`
}

// EnvelopeSource identifies where a post was discovered.
type EnvelopeSource struct {
	GroupURL  string `json:"groupUrl"`
	GroupName string `json:"groupName"`
}

// Envelope is the JSON body posted to the delivery webhook.
type Envelope struct {
	Kind       string         `json:"kind"`
	Post       EnvelopePost   `json:"post"`
	Source     EnvelopeSource `json:"source"`
	WorkflowID string         `json:"workflowId"`
}

// EnvelopeKindPost is the only event kind emitted by the crawl pipeline.
const EnvelopeKindPost = "facebook_post_analysis"

// NewEnvelope packages a discovered post for delivery.
func NewEnvelope(workflowID string, post Post, source EnvelopeSource) Envelope {
	images := post.Images
	if images == nil {
		images = []string{}
	}
	return Envelope{
		Kind: EnvelopeKindPost,
		Post: EnvelopePost{
			URL:                post.URL,
			Author:             post.Author,
			Text:               post.Text,
			Images:             images,
			Timestamp:          post.Timestamp,
			ContentHash:        post.ContentHash,
			ExtractedFromModal: post.ExtractedFromModal,
		},
		Source:     source,
		WorkflowID: workflowID,
	}
}
