// Package document renders and stores invoice documents.
package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-pdf/fpdf"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// Store renders invoices to PDF files under a directory
type Store struct {
	dir         string
	companyName string
	logger      logger.Logger
}

// NewStore creates the directory if needed
func NewStore(dir, companyName string, logger logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create invoice directory %s: %w", dir, err)
	}
	return &Store{dir: dir, companyName: companyName, logger: logger}, nil
}

// PathFor returns where the document of an invoice is written
func (s *Store) PathFor(invoiceID string) string {
	return filepath.Join(s.dir, "invoice_"+invoiceID+".pdf")
}

// Render writes the invoice PDF and returns its path
func (s *Store) Render(inv *models.Invoice) (string, error) {
	var buf bytes.Buffer
	if err := RenderInvoice(&buf, inv, s.companyName); err != nil {
		return "", err
	}

	path := s.PathFor(inv.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write invoice document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store invoice document: %w", err)
	}

	s.logger.Debug("Invoice document rendered", "invoiceID", inv.ID, "path", path, "bytes", buf.Len())
	return path, nil
}

// Read returns a stored document
func (s *Store) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove deletes a stored document. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RenderInvoice lays out a single-page invoice with one row per line
func RenderInvoice(w io.Writer, inv *models.Invoice, companyName string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Facture "+inv.Number, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, companyName)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, "Facture: "+inv.Number)
	pdf.Ln(6)
	pdf.Cell(0, 6, "Date: "+inv.IssuedOn.Format("2006-01-02"))
	pdf.Ln(6)
	pdf.Cell(0, 6, "Client: "+inv.UserID)
	pdf.Ln(6)
	if inv.TransactionID != nil {
		pdf.Cell(0, 6, "Transaction: "+*inv.TransactionID)
		pdf.Ln(6)
	}
	pdf.Ln(4)

	widths := []float64{10, 55, 50, 15, 25, 25}
	headers := []string{"#", "Order", "Product", "Qty", "Unit price", "TTC"}

	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for i, l := range inv.Lines {
		row := []string{
			strconv.Itoa(i + 1),
			l.OrderID,
			l.ProductID,
			strconv.Itoa(l.Quantity),
			l.UnitPrice.StringFixed(2),
			l.TTC.StringFixed(2),
		}
		for j, cell := range row {
			align := "L"
			if j >= 3 {
				align = "R"
			}
			pdf.CellFormat(widths[j], 6, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(155, 7, "Total", "", 0, "R", false, 0, "")
	pdf.CellFormat(25, 7, inv.Total.StringFixed(2), "1", 0, "R", false, 0, "")

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to lay out invoice %s: %w", inv.ID, err)
	}
	return pdf.Output(w)
}
