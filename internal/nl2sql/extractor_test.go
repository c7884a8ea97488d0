package nl2sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	extractor := NewExtractor([]string{"frontend", "api-gateway", "billing"})

	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{
			name:  "failed deployments with env and limit",
			query: "show me the last 5 failed deployments for frontend in prod",
			want:  Params{App: "frontend", Environment: "PROD", Shape: ShapeFailures, Limit: 5},
		},
		{
			name:  "paraphrase collapses to same params",
			query: "frontend deployment failures in production",
			want:  Params{App: "frontend", Environment: "PROD", Shape: ShapeFailures},
		},
		{
			name:  "count shape",
			query: "how many deployments did billing have last week",
			want:  Params{App: "billing", Shape: ShapeCount, Window: "last_7d"},
		},
		{
			name:  "latest single deployment",
			query: "what was the most recent deployment of api-gateway",
			want:  Params{App: "api-gateway", Shape: ShapeLatest},
		},
		{
			name:  "bounded list is not latest",
			query: "last 3 deployments for billing",
			want:  Params{App: "billing", Shape: ShapeList, Limit: 3},
		},
		{
			name:  "numeric window",
			query: "deployments in the last 14 days",
			want:  Params{Shape: ShapeList, Window: "last_14d"},
		},
		{
			name:  "hour window",
			query: "failures in the past 6 hours",
			want:  Params{Shape: ShapeFailures, Window: "last_6h"},
		},
		{
			name:  "unknown app after for",
			query: "deployments for checkout in staging",
			want:  Params{App: "checkout", Environment: "STAGING", Shape: ShapeList},
		},
		{
			name:  "environment word not mistaken for app",
			query: "deployments for prod",
			want:  Params{Environment: "PROD", Shape: ShapeList},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractor.Extract(tt.query))
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	extractor := NewExtractor([]string{"frontend"})
	query := "how many failed deployments for frontend in prod last week"

	first := extractor.Extract(query)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, extractor.Extract(query))
	}
}

func TestPatternKey(t *testing.T) {
	p := Params{App: "frontend", Environment: "PROD", Window: "last_7d", Shape: ShapeFailures}
	assert.Equal(t, "cicd:frontend:prod:last_7d:failures", p.PatternKey())

	empty := Params{Shape: ShapeList}
	assert.Equal(t, "cicd:any:any:any:list", empty.PatternKey())
}

func TestParamsFromKeyRoundTrip(t *testing.T) {
	p := Params{App: "billing", Environment: "STAGING", Window: "last_30d", Shape: ShapeCount}
	back := ParamsFromKey(p.PatternKey())

	assert.Equal(t, p.App, back.App)
	assert.Equal(t, p.Environment, back.Environment)
	assert.Equal(t, p.Window, back.Window)
	assert.Equal(t, p.Shape, back.Shape)
}

func TestParamsFromKeyMalformed(t *testing.T) {
	assert.Equal(t, Params{Shape: ShapeList}, ParamsFromKey("garbage"))
	assert.Equal(t, Params{Shape: ShapeList}, ParamsFromKey("other:a:b:c:d"))
}
