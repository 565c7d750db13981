package planner

import (
	"context"
	"sync"

	"github.com/fpang/ecom-image-studio/internal/gateway"
)

// fakeGateway answers every call with a canned body. JSON-mode requests are
// validated against their schema the same way the real gateway does.
type fakeGateway struct {
	mu    sync.Mutex
	calls []gateway.Request

	body string
	err  error

	InvokeFunc func(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

func (f *fakeGateway) Invoke(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.InvokeFunc != nil {
		return f.InvokeFunc(ctx, req)
	}
	if f.err != nil {
		return nil, f.err
	}
	if req.Schema != nil {
		return gateway.DecodeStructured(req.Model, f.body, req.Schema)
	}
	return &gateway.Result{Text: f.body}, nil
}

func (f *fakeGateway) lastCall() gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func productImage() gateway.Image {
	return gateway.Image{Data: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg"}
}
