package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/models"
)

func newTestServer(t *testing.T, r *mux.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/"})
}

func TestNotificationsDecodesNumericAndStringIDs(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice smith", r.URL.Query().Get("username"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 2, "type": "INVEST_REQUEST", "from_username": "bob", "to_username": "alice smith",
			 "asset_id": 42, "amount": 1000, "status": "pending", "txid": null, "created_at": "2025-03-01T10:00:00.123456"},
			{"id": "n-3", "type": "INVEST_ACCEPTED", "from_username": "carol", "to_username": "alice smith",
			 "asset_id": 43, "amount": "250.5", "status": "accepted", "txid": "TX9", "created_at": "2025-03-01T11:00:00Z"}
		]`))
	}).Methods(http.MethodGet)

	c := newTestServer(t, r)
	got, err := c.Notifications(context.Background(), "alice smith")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.RemoteID("2"), got[0].ID)
	assert.Equal(t, models.RemoteID("n-3"), got[1].ID)
	require.NotNil(t, got[0].AssetID)
	assert.Equal(t, uint64(42), *got[0].AssetID)
	assert.Nil(t, got[0].TxID)
	assert.True(t, got[1].Amount.Equal(decimal.RequireFromString("250.5")))
}

func TestInvestRequestSendsPayloadAndIdempotencyKey(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/invest/request", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["buyer_username"])
		assert.Equal(t, "bob", body["seller_username"])
		assert.EqualValues(t, 42, body["asset_id"])

		w.Write([]byte(`{"notification_id": 17, "status": "pending", "message": "ok"}`))
	}).Methods(http.MethodPost)

	c := newTestServer(t, r)
	resp, err := c.InvestRequest(context.Background(), models.InvestRequest{
		BuyerUsername:  "alice",
		SellerUsername: "bob",
		AssetID:        42,
		Amount:         decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, models.RemoteID("17"), resp.NotificationID)
}

func TestDecisionSendsNumericNotificationID(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/invest/decision", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 17, body["notification_id"])
		assert.Equal(t, true, body["accept"])
		w.Write([]byte(`{"status": "accepted", "txid": "TX1"}`))
	}).Methods(http.MethodPost)

	c := newTestServer(t, r)
	resp, err := c.InvestDecision(context.Background(), models.DecisionRequest{
		SellerUsername: "alice", NotificationID: "17", Accept: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "TX1", resp.TxID)
}

func TestDecisionSendsNonCanonicalIDAsString(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/invest/decision", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "007", body["notification_id"])
		w.Write([]byte(`{"status": "declined"}`))
	}).Methods(http.MethodPost)

	c := newTestServer(t, r)
	resp, err := c.InvestDecision(context.Background(), models.DecisionRequest{
		SellerUsername: "alice", NotificationID: "007", Accept: false,
	})
	require.NoError(t, err)
	assert.Equal(t, "declined", resp.Status)
}

func TestErrorResponsesCarryRemoteDetail(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/invest/request", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail": "User bob has no LocalNet account. Call /localnet_account first."}`))
	})
	r.HandleFunc("/invest/decision", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": [{"loc": ["body", "accept"], "msg": "field required"}]}`))
	})

	c := newTestServer(t, r)
	_, err := c.InvestRequest(context.Background(), models.InvestRequest{BuyerUsername: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemoteService)

	var re *domain.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadRequest, re.Status)
	assert.Contains(t, re.Detail, "no LocalNet account")

	_, err = c.InvestDecision(context.Background(), models.DecisionRequest{})
	require.True(t, errors.As(err, &re))
	assert.Contains(t, re.Detail, "field required")
}

func TestTransportFailureIsRemoteServiceError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base})
	_, err := c.Notifications(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemoteService)
	assert.Equal(t, "RemoteServiceError", domain.Kind(err))
}

func TestTokenizedAsset(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/account/{username}", func(w http.ResponseWriter, r *http.Request) {
		switch mux.Vars(r)["username"] {
		case "bob":
			w.Write([]byte(`{"username": "bob", "asset_id": 42}`))
		case "dave":
			w.Write([]byte(`{"username": "dave", "asset_id": null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "User 'zed' not found"}`))
		}
	})

	c := newTestServer(t, r)
	ctx := context.Background()

	id, ok, err := c.TokenizedAsset(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)

	_, ok, err = c.TokenizedAsset(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.TokenizedAsset(ctx, "zed")
	assert.ErrorIs(t, err, domain.ErrRemoteService)
	assert.Equal(t, "User 'zed' not found", domain.RemoteDetail(err))
}
