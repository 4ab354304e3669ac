package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	calls  []string
	tiers  []ModelTier
	refs   int
	err    error
	text   string
	closed bool
}

func (f *fakeClient) GenerateContent(_ context.Context, prompt string, tier ModelTier) (string, error) {
	f.calls = append(f.calls, "text:"+prompt)
	f.tiers = append(f.tiers, tier)
	return f.text, f.err
}

func (f *fakeClient) GenerateJSON(_ context.Context, prompt string, tier ModelTier) (string, error) {
	f.calls = append(f.calls, "json:"+prompt)
	f.tiers = append(f.tiers, tier)
	return f.text, f.err
}

func (f *fakeClient) GenerateImage(_ context.Context, prompt string, refs []Attachment) (*Image, error) {
	f.calls = append(f.calls, "image:"+prompt)
	f.refs = len(refs)
	if f.err != nil {
		return nil, f.err
	}
	return &Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"}, nil
}

func (f *fakeClient) GetModel(tier ModelTier) string { return string(tier) }

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestInvoker_DispatchesByShape(t *testing.T) {
	client := &fakeClient{text: `{"ok": true}`}
	inv := NewInvoker(client)
	ctx := context.Background()

	resp, err := inv.Invoke(ctx, Request{Instruction: "a", Shape: ShapeText})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, resp.Text)

	_, err = inv.Invoke(ctx, Request{Instruction: "b", Shape: ShapeJSON, Tier: TierLite})
	require.NoError(t, err)

	resp, err = inv.Invoke(ctx, Request{
		Instruction: "c",
		Shape:       ShapeImage,
		Attachments: []Attachment{{MIMEType: "image/png", Data: []byte{9}}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Image)
	assert.Equal(t, []byte{1, 2, 3}, resp.Image.Data)

	assert.Equal(t, []string{"text:a", "json:b", "image:c"}, client.calls)
	assert.Equal(t, []ModelTier{TierStandard, TierLite}, client.tiers)
	assert.Equal(t, 1, client.refs)
}

func TestInvoker_PropagatesErrors(t *testing.T) {
	client := &fakeClient{err: errors.New("quota exceeded")}
	inv := NewInvoker(client)

	_, err := inv.Invoke(context.Background(), Request{Instruction: "x", Shape: ShapeImage})
	assert.EqualError(t, err, "quota exceeded")
}

func TestInvoker_UnknownShape(t *testing.T) {
	inv := NewInvoker(&fakeClient{})

	_, err := inv.Invoke(context.Background(), Request{Instruction: "x", Shape: "audio"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported response shape")
}

func TestThrottledClient_DelegatesAndHonoursContext(t *testing.T) {
	inner := &fakeClient{text: "hello"}
	client := NewThrottledClient(inner, 1)

	text, err := client.GenerateContent(context.Background(), "p", TierStandard)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	// The single token is spent; a short deadline cannot wait a full minute.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.GenerateContent(ctx, "p", TierStandard)
	assert.Error(t, err)
	assert.Len(t, inner.calls, 1)

	require.NoError(t, client.Close())
	assert.True(t, inner.closed)
	assert.Equal(t, "image", client.GetModel(TierImage))
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), DefaultOpenAIConfig(), "")
	assert.Error(t, err)
}
