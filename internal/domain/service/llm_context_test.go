package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowProvider(t *testing.T) {
	ctx := WithWorkflowProvider(context.Background(), " consolidation ", "gemini")
	assert.Equal(t, "consolidation", WorkflowFromContext(ctx))
	assert.Equal(t, "gemini", ProviderFromContext(ctx))
}

func TestWorkflowProvider_Unknown(t *testing.T) {
	ctx := WithWorkflow(context.Background(), "   ")
	assert.Equal(t, "unknown", WorkflowFromContext(ctx))
	assert.Equal(t, "unknown", ProviderFromContext(ctx))
	//nolint:staticcheck
	assert.Equal(t, "unknown", WorkflowFromContext(nil))
}
