package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		invoicesTotal,
		invoiceFailuresTotal,
		gatewayAuthRefreshTotal,
	)
}

var (
	invoicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_invoices_total",
			Help: "Invoices created, labeled by payment system.",
		},
		[]string{"ps"},
	)

	invoiceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guest_invoice_failures_total",
			Help: "Invoice creation failures by reason.",
		},
		[]string{"reason"},
	)

	gatewayAuthRefreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_auth_refresh_total",
			Help: "Bearer credential refreshes against the payment gateway.",
		},
	)
)

func IncInvoiceCreated(ps string) {
	invoicesTotal.WithLabelValues(norm(ps)).Inc()
}

func IncInvoiceFailed(reason string) {
	invoiceFailuresTotal.WithLabelValues(norm(reason)).Inc()
}

func IncAuthRefresh() {
	gatewayAuthRefreshTotal.Inc()
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
