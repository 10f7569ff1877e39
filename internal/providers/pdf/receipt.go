package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData carries everything printed on a payment receipt. Amounts
// arrive pre-formatted so the renderer stays currency-agnostic.
type ReceiptData struct {
	OperatorName  string
	OperatorEmail string

	InvoiceNumber string
	DatePaid      string
	ServicePeriod string
	Purpose       string
	Method        string

	TenantName  string
	TenantEmail string
	Subdomain   string

	PlanName string
	Amount   string
	Currency string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(12, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+receipt.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 4}),
			text.New("Service period: "+receipt.ServicePeriod, props.Text{Top: 8}),
			text.New("Payment method: "+receipt.Method, props.Text{Top: 12}),
		),
		col.New(6),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(receipt.OperatorName, props.Text{Style: fontstyle.Bold}),
			text.New(receipt.OperatorEmail, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.TenantName, props.Text{Top: 5}),
			text.New(receipt.TenantEmail, props.Text{Top: 9}),
			text.New(receipt.Subdomain, props.Text{Top: 13}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Purpose", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		text.NewCol(6, receipt.PlanName, props.Text{Size: 9}),
		text.NewCol(3, receipt.Purpose, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(3, receipt.Amount+" "+receipt.Currency, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total paid", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, receipt.Amount+" "+receipt.Currency, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
