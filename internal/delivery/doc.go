// Package delivery posts accepted events to recipient callbacks.
//
// Each (event, recipient) pair becomes one job with a stable deliveryId and a
// payload serialized once, so the HMAC signature holds across retries. Failed
// attempts back off exponentially at baseDelay * 2^(attempt-1) up to the
// configured maximum; every attempt is handed to the audit sink. Deliveries
// to different recipients overlap freely, while retries for one recipient are
// serialized by the prior failure's timer.
package delivery
