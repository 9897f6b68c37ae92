package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// paymongoEvent is the slice of the PayMongo webhook envelope this service
// reads. The internal payment id travels in the payment's metadata.
type paymongoEvent struct {
	Data struct {
		Attributes struct {
			Type string `json:"type"`
			Data struct {
				ID         string `json:"id"`
				Attributes struct {
					Metadata struct {
						PaymentID string `json:"payment_id"`
					} `json:"metadata"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// handlePaymentWebhook confirms a payment and books it into the pool.
// Replays are harmless: MarkPaid is idempotent and DepositToPool no-ops on
// anything already pooled. Unknown event types are acknowledged so the
// gateway stops retrying them.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	// The envelope carries far more than we model, so no strict decoding
	// here.
	var event paymongoEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid webhook payload"})
		return
	}

	if event.Data.Attributes.Type != "payment.paid" {
		s.writeJSON(w, http.StatusOK, nil)
		return
	}

	paymentID := event.Data.Attributes.Data.Attributes.Metadata.PaymentID
	gatewayRef := event.Data.Attributes.Data.ID
	if paymentID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing payment_id metadata"})
		return
	}

	p, err := s.payments.MarkPaid(r.Context(), paymentID, gatewayRef)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.engine.DepositToPool(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info("payment webhook processed",
		zap.String("payment_id", p.ID),
		zap.String("gateway_payment_id", gatewayRef),
		zap.Bool("deposited", result.Deposited),
	)
	s.writeJSON(w, http.StatusOK, struct {
		Deposited bool `json:"deposited"`
	}{Deposited: result.Deposited})
}
