package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbsearch/backend/internal/toolerr"
)

type gatedPayload struct {
	Allow bool `json:"allow"`
}

func (g gatedPayload) Allowed() bool { return g.Allow }

func TestDispatchSuccess(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("echo", func(_ context.Context, args Args) (interface{}, error) {
		return map[string]string{"echo": args.String("msg")}, nil
	})

	result := d.Dispatch(context.Background(), "echo", Args{"msg": "hello"})

	assert.True(t, result.AllowedToAnswer)
	assert.Equal(t, "echo", result.Tool)
	assert.Nil(t, result.Error)
	assert.Equal(t, map[string]string{"echo": "hello"}, result.Data)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(time.Second)

	result := d.Dispatch(context.Background(), "nope", Args{})

	assert.False(t, result.AllowedToAnswer)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeUnknownTool, result.Error.Code)
}

func TestDispatchNormalizesErrorTaxonomy(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("invalid", func(_ context.Context, _ Args) (interface{}, error) {
		return nil, toolerr.NewValidation("score", "out of range")
	})
	d.Register("missing", func(_ context.Context, _ Args) (interface{}, error) {
		return nil, toolerr.NewNotFound("query", "q-123")
	})
	d.Register("down", func(_ context.Context, _ Args) (interface{}, error) {
		return nil, toolerr.NewBackendUnavailable("embedding service", errors.New("connection refused"))
	})
	d.Register("broken", func(_ context.Context, _ Args) (interface{}, error) {
		return nil, errors.New("unexpected failure")
	})

	tests := []struct {
		tool string
		code string
	}{
		{"invalid", CodeValidationError},
		{"missing", CodeNotFound},
		{"down", CodeBackendUnavailable},
		{"broken", CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			result := d.Dispatch(context.Background(), tt.tool, Args{})
			assert.False(t, result.AllowedToAnswer)
			require.NotNil(t, result.Error)
			assert.Equal(t, tt.code, result.Error.Code)
			assert.NotEmpty(t, result.Error.Message)
		})
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("panicky", func(_ context.Context, _ Args) (interface{}, error) {
		panic("boom")
	})

	result := d.Dispatch(context.Background(), "panicky", Args{})

	assert.False(t, result.AllowedToAnswer)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeInternalError, result.Error.Code)
	assert.Contains(t, result.Error.Message, "boom")
}

func TestDispatchTimesOut(t *testing.T) {
	d := NewDispatcher(50 * time.Millisecond)
	d.Register("slow", func(ctx context.Context, _ Args) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	result := d.Dispatch(context.Background(), "slow", Args{})

	assert.False(t, result.AllowedToAnswer)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeTimeout, result.Error.Code)
}

func TestDispatchHonorsPayloadGate(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("gated", func(_ context.Context, args Args) (interface{}, error) {
		return gatedPayload{Allow: args.Bool("allow", false)}, nil
	})

	denied := d.Dispatch(context.Background(), "gated", Args{"allow": false})
	assert.False(t, denied.AllowedToAnswer)
	assert.Nil(t, denied.Error)

	allowed := d.Dispatch(context.Background(), "gated", Args{"allow": true})
	assert.True(t, allowed.AllowedToAnswer)
}

func TestArgsHelpers(t *testing.T) {
	args := Args{
		"s":     "text",
		"n":     float64(7),
		"b":     true,
		"inner": map[string]interface{}{"k": "v", "skip": 3},
	}

	assert.Equal(t, "text", args.String("s"))
	assert.Equal(t, "", args.String("missing"))

	v, err := args.RequireString("s")
	require.NoError(t, err)
	assert.Equal(t, "text", v)

	_, err = args.RequireString("missing")
	assert.True(t, toolerr.IsValidation(err))

	assert.Equal(t, 7, args.Int("n", 0))
	assert.Equal(t, 5, args.Int("missing", 5))

	n, err := args.RequireInt("n")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = args.RequireInt("s")
	assert.True(t, toolerr.IsValidation(err))

	assert.True(t, args.Bool("b", false))
	assert.False(t, args.Bool("missing", false))

	assert.Equal(t, map[string]string{"k": "v"}, args.StringMap("inner"))
	assert.Nil(t, args.StringMap("missing"))
}
