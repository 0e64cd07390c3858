package models

import "time"

// User is the authenticated account as reported by the login endpoint.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// PrelightEstimate is the cost/feasibility estimate for an issue key.
type PrelightEstimate struct {
	IssueKey        string  `json:"issueKey"`
	Title           string  `json:"title"`
	IsUIStory       bool    `json:"isUiStory"`
	Attachments     int     `json:"attachments"`
	EstimatedTokens int     `json:"estimatedTokens"`
	EstimatedCost   float64 `json:"estimatedCost"`
}

// GenerationResult is the outcome of a test-case generation run.
type GenerationResult struct {
	IssueKey              string  `json:"issueKey"`
	GenerationTimeSeconds float64 `json:"generationTimeSeconds"`
	Markdown              string  `json:"markdown"`
	GenerationID          string  `json:"generationId"`
	ImagesUsed            int     `json:"imagesUsed"`
}

// Generation is a locally recorded completed generation run.
type Generation struct {
	ID                    string // local ULID
	GenerationID          string // server-issued id
	IssueKey              string
	Markdown              string
	GenerationTimeSeconds float64
	ImagesUsed            int
	CreatedAt             time.Time
}
