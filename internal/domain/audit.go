package domain

import "time"

// StepName identifies a pipeline step in the audit trail.
type StepName string

const (
	StepClassification StepName = "classification"
	StepEnrichment     StepName = "enrichment"
	StepRecommendation StepName = "recommendation"
)

// AuditEvent records one attempted pipeline step for a case.
type AuditEvent struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"caseId"`
	Step      StepName       `json:"step"`
	Timestamp time.Time      `json:"timestamp"`
	LatencyMs int64          `json:"latencyMs"`
	Success   bool           `json:"success"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// MetricsSnapshot is a point-in-time view of pipeline statistics.
type MetricsSnapshot struct {
	TotalCases          int64              `json:"totalCases"`
	ClassificationP95Ms int64              `json:"classificationP95Ms"`
	RecommendationP95Ms int64              `json:"recommendationP95Ms"`
	StepP95Ms           map[StepName]int64 `json:"stepP95Ms"`
	CasesByLabel        map[string]int64   `json:"casesByLabel"`
	AvgCostPerCaseUSD   float64            `json:"avgCostPerCaseUsd"`
}
