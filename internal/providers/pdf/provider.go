package pdf

import (
	"context"
	"io"
)

// Provider renders payment documents.
type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

// NoOpProvider is used where document rendering is disabled.
type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	return nil, nil
}
