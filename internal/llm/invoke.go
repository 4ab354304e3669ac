package llm

import (
	"context"
	"fmt"
)

// Shape is the form a model response is expected to take
type Shape string

// Response shapes
const (
	ShapeText  Shape = "free_text"
	ShapeJSON  Shape = "structured_json"
	ShapeImage Shape = "image_bytes"
)

// Request is one model invocation
type Request struct {
	Instruction string
	Shape       Shape
	// Tier defaults to TierImage for image requests and TierStandard otherwise
	Tier        ModelTier
	Attachments []Attachment
}

// Response holds text for text and JSON shapes, or an image
type Response struct {
	Text  string
	Image *Image
}

// Invoker dispatches requests to a Client by response shape
type Invoker struct {
	client Client
}

// NewInvoker creates an Invoker over client
func NewInvoker(client Client) *Invoker {
	return &Invoker{client: client}
}

// Invoke runs the request against the configured provider
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	tier := req.Tier
	if tier == "" {
		tier = TierStandard
		if req.Shape == ShapeImage {
			tier = TierImage
		}
	}

	switch req.Shape {
	case ShapeText, "":
		text, err := i.client.GenerateContent(ctx, req.Instruction, tier)
		if err != nil {
			return nil, err
		}
		return &Response{Text: text}, nil
	case ShapeJSON:
		text, err := i.client.GenerateJSON(ctx, req.Instruction, tier)
		if err != nil {
			return nil, err
		}
		return &Response{Text: text}, nil
	case ShapeImage:
		img, err := i.client.GenerateImage(ctx, req.Instruction, req.Attachments)
		if err != nil {
			return nil, err
		}
		return &Response{Image: img}, nil
	default:
		return nil, fmt.Errorf("unsupported response shape %q", req.Shape)
	}
}
