package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteIDAcceptsNumbersStringsAndNull(t *testing.T) {
	var got []RemoteID
	require.NoError(t, json.Unmarshal([]byte(`[17, "abc-1", null, 12345678901234]`), &got))
	assert.Equal(t, []RemoteID{"17", "abc-1", "", "12345678901234"}, got)

	var bad RemoteID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}

func TestRemoteIDMarshalsCanonicalIntegersAsNumbers(t *testing.T) {
	out, err := json.Marshal(DecisionRequest{SellerUsername: "carol", NotificationID: "17", Accept: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seller_username":"carol","notification_id":17,"accept":true}`, string(out))

	cases := map[RemoteID]string{
		"n-17":                 `"n-17"`,
		"007":                  `"007"`,
		"+5":                   `"+5"`,
		"-3":                   `-3`,
		"0":                    `0`,
		"99999999999999999999": `"99999999999999999999"`,
	}
	for id, want := range cases {
		out, err := json.Marshal(id)
		require.NoError(t, err, "id %q", id)
		assert.Equal(t, want, string(out), "id %q", id)
	}

	out, err = json.Marshal(DecisionRequest{SellerUsername: "carol", NotificationID: "007", Accept: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seller_username":"carol","notification_id":"007","accept":false}`, string(out))
}

func TestErrorResponseMessage(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"string detail": {`{"detail":"Notification already processed"}`, "Notification already processed"},
		"list detail":   {`{"detail":[{"loc":["body","amount"],"msg":"field required"}]}`, `[{"loc":["body","amount"],"msg":"field required"}]`},
		"error field":   {`{"error":"bad gateway"}`, "bad gateway"},
		"null detail":   {`{"detail":null,"error":"oops"}`, "oops"},
		"empty":         {`{}`, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var e ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(tc.body), &e))
			assert.Equal(t, tc.want, e.Message())
		})
	}
}
