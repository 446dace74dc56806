package api

import (
	"net/http"
	"strconv"

	"github.com/vaidashi/order-settlement-api/internal/service"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

// listTransactionsHandler returns a page of payment transactions
func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	txns, err := s.deps.Payments.ListTransactions(r.Context(), page)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, PageResponse{Items: txns, Limit: page.Limit, Offset: page.Offset})
}

// createTransactionHandler batches orders into a payment and returns the client secret
func (s *Server) createTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CreateTransactionInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	created, err := s.deps.Payments.CreateTransaction(r.Context(), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, created)
}

// getTransactionHandler returns a transaction with its order ids
func (s *Server) getTransactionHandler(w http.ResponseWriter, r *http.Request) {
	txn, err := s.deps.Payments.GetTransaction(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, txn)
}

// updateTransactionStatusHandler records a gateway status reported over HTTP
func (s *Server) updateTransactionStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	txn, err := s.deps.Payments.UpdateTransactionStatus(r.Context(), pathID(r), req.Status)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, txn)
}

// deleteTransactionHandler removes a transaction that has not succeeded
func (s *Server) deleteTransactionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Payments.DeleteTransaction(r.Context(), pathID(r)); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listTransactionInvoicesHandler returns the consolidated invoice of a transaction
func (s *Server) listTransactionInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.deps.Payments.GetTransaction(r.Context(), id); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	invoices, err := s.deps.Invoices.ListByTransaction(r.Context(), id)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, invoices)
}

// createInvoiceHandler invoices a single order
func (s *Server) createInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CreateInvoiceInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	inv, err := s.deps.Invoices.CreateForOrder(r.Context(), in)
	if err != nil {
		if inv != nil && apperrors.Is(err, apperrors.ErrDocumentGeneration) {
			// The invoice is stored; its document is rendered again on download
			s.logger.Warn("Invoice created without document", "error", err, "invoiceID", inv.ID)
			s.respondWithData(w, http.StatusCreated, inv)
			return
		}
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, inv)
}

// getInvoiceHandler returns an invoice with its lines
func (s *Server) getInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	inv, err := s.deps.Invoices.GetInvoice(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, inv)
}

// getInvoiceDocumentHandler streams the invoice PDF
func (s *Server) getInvoiceDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	data, err := s.deps.Invoices.GetDocument(r.Context(), id)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="invoice_`+id+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// deleteInvoiceHandler removes an invoice and its document
func (s *Server) deleteInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Invoices.DeleteInvoice(r.Context(), pathID(r)); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
