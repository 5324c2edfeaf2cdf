package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingComputations counts cart pricing runs by tier unit price.
	PricingComputations *prometheus.CounterVec
	// CouponApplyTotal counts coupon resolution attempts by outcome.
	CouponApplyTotal *prometheus.CounterVec
	// CartPersistFallbacks counts carts that loaded as empty because stored data was unusable.
	CartPersistFallbacks *prometheus.CounterVec
	// UploadFilesTotal counts uploaded files by outcome.
	UploadFilesTotal *prometheus.CounterVec
	// UploadBytesTotal sums bytes written by the upload gateway.
	UploadBytesTotal prometheus.Counter
	// PaymentIntentTotal counts payment preference creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// DeliveryTotal counts photo delivery task outcomes.
	DeliveryTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers storefront collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_computations_total",
			Help:      "Cart pricing computations by applied unit price.",
		}, []string{"unit_price", "coupon"})
		CouponApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_apply_total",
			Help:      "Coupon resolution attempts by outcome.",
		}, []string{"result"})
		CartPersistFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_persist_fallback_total",
			Help:      "Carts reset to empty because persisted state could not be used.",
		}, []string{"reason"})
		UploadFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_files_total",
			Help:      "Uploaded files by outcome.",
		}, []string{"result"})
		UploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes stored by the upload gateway.",
		})
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Payment preference creation attempts by outcome.",
		}, []string{"provider", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		DeliveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_total",
			Help:      "Photo delivery task outcomes.",
		}, []string{"result"})

		for _, vec := range []**prometheus.CounterVec{
			&PricingComputations, &CouponApplyTotal, &CartPersistFallbacks, &UploadFilesTotal,
			&PaymentIntentTotal, &PaymentWebhookTotal, &DeliveryTotal,
		} {
			mustRegisterCollector(reg, *vec, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*vec = v
				}
			})
		}
		mustRegisterCollector(reg, UploadBytesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				UploadBytesTotal = v
			}
		})
	})
}

// Inc increments vec for labels when the collector has been registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// AddUploadBytes records stored upload bytes.
func AddUploadBytes(n int64) {
	if UploadBytesTotal == nil || n <= 0 {
		return
	}
	UploadBytesTotal.Add(float64(n))
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
