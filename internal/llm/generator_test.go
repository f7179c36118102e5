package llm

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := ""
	if i < len(f.responses) {
		text = f.responses[i]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func TestGenerateReturnsText(t *testing.T) {
	client := &fakeClient{responses: []string{"a summary"}}
	g := NewAnthropic(client, "claude-haiku-4-5-20251001", 1024, "test")

	out, err := g.Generate(context.Background(), "system", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)
	assert.Equal(t, 1, client.calls)
}

func TestGenerateEmptyResponseErrors(t *testing.T) {
	client := &fakeClient{responses: []string{""}}
	g := NewAnthropic(client, "claude-haiku-4-5-20251001", 1024, "test")

	_, err := g.Generate(context.Background(), "system", "prompt")
	assert.Error(t, err)
}

func TestGenerateErrorSurfaces(t *testing.T) {
	client := &fakeClient{errs: []error{eris.New("boom"), eris.New("boom")}}
	g := NewAnthropic(client, "claude-haiku-4-5-20251001", 1024, "test")

	_, err := g.Generate(context.Background(), "system", "prompt")
	assert.Error(t, err)
}

func TestGenerateRetriesOverloadedProvider(t *testing.T) {
	client := &fakeClient{
		errs:      []error{resilience.Transient(eris.New("overloaded"), 529)},
		responses: []string{"", "a summary"},
	}
	g := NewAnthropic(client, "claude-haiku-4-5-20251001", 1024, "test")

	out, err := g.Generate(context.Background(), "system", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)
	assert.Equal(t, 2, client.calls)
}

func TestGenerateFailsFastOnFatalProviderError(t *testing.T) {
	client := &fakeClient{errs: []error{eris.New("invalid api key"), eris.New("invalid api key")}}
	g := NewAnthropic(client, "claude-haiku-4-5-20251001", 1024, "test")

	_, err := g.Generate(context.Background(), "system", "prompt")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "fatal errors must not burn retry attempts")
}

func TestAvailability(t *testing.T) {
	assert.False(t, Null{}.Available())
	assert.False(t, NewAnthropic(nil, "m", 0, "test").Available())
	assert.True(t, NewAnthropic(&fakeClient{}, "m", 0, "test").Available())
}

func TestNullAlwaysErrors(t *testing.T) {
	_, err := Null{}.Generate(context.Background(), "s", "p")
	assert.Error(t, err)
}
