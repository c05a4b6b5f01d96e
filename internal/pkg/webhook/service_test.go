package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/app/repository"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
	"github.com/ManuelReschke/PayHook/internal/pkg/database"
	"github.com/ManuelReschke/PayHook/internal/pkg/effects"
	"github.com/ManuelReschke/PayHook/internal/pkg/jobqueue"
	metrics "github.com/ManuelReschke/PayHook/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayHook/internal/pkg/reconcile"
)

const testSecret = "whsec_test_secret"

type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []effects.Command
}

func (d *recordingDispatcher) Dispatch(_ context.Context, cmds []effects.Command) []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmds = append(d.cmds, cmds...)
	return nil
}

type recordingEnqueuer struct {
	keys []string
}

func (q *recordingEnqueuer) EnqueueUniqueJob(_ context.Context, jobType jobqueue.JobType, key string, payload map[string]interface{}) (*jobqueue.Job, bool, error) {
	q.keys = append(q.keys, key)
	return &jobqueue.Job{ID: key, Type: jobType, Payload: payload}, true, nil
}

type fixture struct {
	db         *gorm.DB
	service    *Service
	dispatcher *recordingDispatcher
	archive    *recordingEnqueuer
	outcomes   []string
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	require.NoError(t, db.Create(&models.User{Name: "Jane Doe", Email: "jane@example.com", Status: models.STATUS_ACTIVE}).Error)
	require.NoError(t, db.Create(&[]models.ProductVariant{
		{ID: "var_beans_250", ProductName: "House Blend", Name: "250g", StockQuantity: 10},
		{ID: "var_espresso_1kg", ProductName: "Espresso", Name: "1kg", StockQuantity: 5},
	}).Error)
	require.NoError(t, db.Create(&[]models.PurchaseOption{
		{ID: "po_beans", VariantID: "var_beans_250", Type: models.PurchaseTypeOneTime, PriceInCents: 1200},
		{ID: "po_espresso", VariantID: "var_espresso_1kg", Type: models.PurchaseTypeOneTime, PriceInCents: 1000},
	}).Error)

	repos := repository.NewRepositories(db)
	processor := billing.NewStripeProcessor(billing.NewStripeVerifier(secret), billing.NewStripeAdapter(nil, time.Second))
	f := &fixture{db: db, dispatcher: &recordingDispatcher{}, archive: &recordingEnqueuer{}}
	f.service = NewService(repos.WebhookEvent, reconcile.NewEngine(repos.Commerce, "roastery@example.com"), f.dispatcher, processor).
		WithArchive(f.archive).
		WithOutcomeCounter(func(_, outcome string) error {
			f.outcomes = append(f.outcomes, outcome)
			return nil
		})
	return f
}

func checkoutSession(cart string) map[string]interface{} {
	return map[string]interface{}{
		"id":             "cs_test_123",
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": "paid",
		"amount_total":   4200,
		"customer":       "cus_jane",
		"customer_details": map[string]interface{}{
			"email": "Jane@Example.com",
			"name":  "Jane Doe",
			"phone": "+15035550100",
			"address": map[string]interface{}{
				"line1": "303 2nd Street", "city": "San Francisco", "state": "CA", "postal_code": "94107", "country": "US",
			},
		},
		"collected_information": map[string]interface{}{
			"shipping_details": map[string]interface{}{
				"name": "Jane Doe",
				"address": map[string]interface{}{
					"line1": "1 Roast Lane", "city": "Portland", "state": "OR", "postal_code": "97201", "country": "US",
				},
			},
		},
		"metadata": map[string]string{
			"cartItems":      cart,
			"deliveryMethod": "DELIVERY",
		},
		"payment_intent": map[string]interface{}{
			"id": "pi_123",
			"latest_charge": map[string]interface{}{
				"id":                     "ch_123",
				"payment_method_details": map[string]interface{}{"card": map[string]interface{}{"brand": "visa", "last4": "4242"}},
			},
		},
		"total_details": map[string]interface{}{"amount_discount": 0},
	}
}

const defaultCart = `[{"po":"po_beans","qty":1},{"po":"po_espresso","qty":2}]`

func envelope(t *testing.T, eventID, eventType string, object interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"api_version": "2025-08-27.basil",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return body
}

// sign builds a Stripe-Signature header: t=<unix>,v1=hex(HMAC-SHA256(secret, "<unix>.<payload>")).
func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestHandle_CheckoutEndToEnd(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()
	payload := envelope(t, "evt_test_1", billing.StripeEventCheckoutSessionCompleted, checkoutSession(defaultCart))

	res, err := f.service.Handle(ctx, billing.ProcessorStripe, payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeAccepted, res.Outcome)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 4, res.Commands)

	var orders []models.Order
	require.NoError(t, f.db.Preload("Items").Find(&orders).Error)
	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, int64(4200), order.TotalInCents)
	assert.Equal(t, int64(1000), order.ShippingInCents)
	assert.Equal(t, "1 Roast Lane", order.ShippingStreet)
	assert.Equal(t, "Visa ****4242", order.PaymentCardLast4)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, 2, order.Items[1].Quantity)

	assert.Equal(t, 2, effects.Count(f.dispatcher.cmds, effects.KindDecrementStock))
	assert.Equal(t, 2, effects.Count(f.dispatcher.cmds, effects.KindSendEmail))
	assert.Equal(t, []string{"archive:stripe:evt_test_1"}, f.archive.keys)

	var ev models.WebhookEvent
	require.NoError(t, f.db.Where("event_id = ?", "evt_test_1").First(&ev).Error)
	assert.True(t, ev.Succeeded())
	assert.Equal(t, billing.StripeEventCheckoutSessionCompleted, ev.EventType)

	// Same event redelivered.
	res, err = f.service.Handle(ctx, billing.ProcessorStripe, payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeDuplicate, res.Outcome)

	// Same session under a new event id: the engine decides once.
	again := envelope(t, "evt_test_2", billing.StripeEventCheckoutSessionCompleted, checkoutSession(defaultCart))
	res, err = f.service.Handle(ctx, billing.ProcessorStripe, again, sign(again, testSecret))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeDuplicate, res.Outcome)
	assert.Zero(t, res.Commands)

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, f.dispatcher.cmds, 4)
	assert.Equal(t, []string{metrics.OutcomeAccepted, metrics.OutcomeDuplicate, metrics.OutcomeDuplicate}, f.outcomes)
}

func TestHandle_Rejections(t *testing.T) {
	payloadFor := func(t *testing.T) []byte {
		return envelope(t, "evt_rej", billing.StripeEventCheckoutSessionCompleted, checkoutSession(defaultCart))
	}

	tests := []struct {
		name      string
		secret    string
		processor string
		header    func(payload []byte) string
		status    int
		target    error
	}{
		{"unknown processor", testSecret, "paypal", func(p []byte) string { return sign(p, testSecret) }, http.StatusNotFound, ErrUnknownProcessor},
		{"missing signature", testSecret, billing.ProcessorStripe, func([]byte) string { return "" }, http.StatusBadRequest, billing.ErrMissingSignature},
		{"wrong secret", testSecret, billing.ProcessorStripe, func(p []byte) string { return sign(p, "whsec_other") }, http.StatusBadRequest, billing.ErrInvalidSignature},
		{"secret not configured", "", billing.ProcessorStripe, func(p []byte) string { return sign(p, testSecret) }, http.StatusInternalServerError, billing.ErrMisconfiguredSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.secret)
			payload := payloadFor(t)

			_, err := f.service.Handle(context.Background(), tt.processor, payload, tt.header(payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.status, StatusFor(err))

			var events int64
			require.NoError(t, f.db.Model(&models.WebhookEvent{}).Count(&events).Error)
			assert.Zero(t, events)
			assert.Empty(t, f.dispatcher.cmds)
		})
	}
}

func TestHandle_IgnoredEventType(t *testing.T) {
	f := newFixture(t, testSecret)
	payload := envelope(t, "evt_ignored", "charge.refunded", map[string]interface{}{"id": "ch_1", "object": "charge"})

	res, err := f.service.Handle(context.Background(), billing.ProcessorStripe, payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)

	var ev models.WebhookEvent
	require.NoError(t, f.db.Where("event_id = ?", "evt_ignored").First(&ev).Error)
	assert.True(t, ev.Succeeded())
}

func TestHandle_TerminalFailureIsRecordedAndRetried(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()
	payload := envelope(t, "evt_bad_cart", billing.StripeEventCheckoutSessionCompleted, checkoutSession(`[{"po":"po_unknown","qty":1}]`))

	res, err := f.service.Handle(ctx, billing.ProcessorStripe, payload, sign(payload, testSecret))
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrUnknownPurchaseOption)
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
	assert.Equal(t, metrics.OutcomeRejected, res.Outcome)

	var ev models.WebhookEvent
	require.NoError(t, f.db.Where("event_id = ?", "evt_bad_cart").First(&ev).Error)
	assert.False(t, ev.Succeeded())
	assert.Contains(t, ev.ProcessingError, "po_unknown")

	// Once the catalog knows the option, the redelivery goes through.
	require.NoError(t, f.db.Create(&models.PurchaseOption{ID: "po_unknown", VariantID: "var_beans_250", Type: models.PurchaseTypeOneTime, PriceInCents: 4200}).Error)
	res, err = f.service.Handle(ctx, billing.ProcessorStripe, payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeAccepted, res.Outcome)

	require.NoError(t, f.db.Where("event_id = ?", "evt_bad_cart").First(&ev).Error)
	assert.True(t, ev.Succeeded())
	assert.Equal(t, 2, ev.Attempts)
	assert.Len(t, f.archive.keys, 1)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{ErrUnknownProcessor, http.StatusNotFound},
		{billing.ErrMissingSignature, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", billing.ErrInvalidSignature), http.StatusBadRequest},
		{billing.ErrInvalidPayload, http.StatusBadRequest},
		{billing.ErrMisconfiguredSecret, http.StatusInternalServerError},
		{reconcile.ErrInvalidEvent, http.StatusBadRequest},
		{reconcile.ErrInvalidPeriod, http.StatusBadRequest},
		{reconcile.ErrConcurrentUpdate, http.StatusInternalServerError},
		{billing.ErrLookupFailed, http.StatusInternalServerError},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.err))
		})
	}
}
