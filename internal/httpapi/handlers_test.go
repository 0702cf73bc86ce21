package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, method, url, group string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if group != "" {
		req.Header.Set(headerConsumerGroup, group)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHandlePushAndPop(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/queue/push", "orders", "payload")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pushed pushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pushed))

	popResp := doJSON(t, http.MethodGet, srv.URL+"/queue/pop", "orders", nil)
	defer popResp.Body.Close()
	require.Equal(t, http.StatusOK, popResp.StatusCode)

	var popped pushResponse
	require.NoError(t, json.NewDecoder(popResp.Body).Decode(&popped))
	require.Equal(t, pushed.ID, popped.ID)
}

func TestHandlePopWithNothingAvailableReturns404(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/queue/pop", "orders", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.RequestID)
}

func TestHandlePushRejectsMissingGroup(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/queue/push", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleBatchPush(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/queue/batch/push", "orders", []string{"a", "b", "c"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []pushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 3)
}

func TestHandleAckNackAndExtendVisibility(t *testing.T) {
	srv := newTestServer(t)

	pushResp := doJSON(t, http.MethodPost, srv.URL+"/queue/push", "orders", "payload")
	var pushed pushResponse
	require.NoError(t, json.NewDecoder(pushResp.Body).Decode(&pushed))
	pushResp.Body.Close()

	popResp := doJSON(t, http.MethodGet, srv.URL+"/queue/pop", "orders", nil)
	popResp.Body.Close()

	extendResp := doJSON(t, http.MethodPost, srv.URL+"/queue/extend-visibility?id="+pushed.ID+"&seconds=300", "orders", nil)
	defer extendResp.Body.Close()
	require.Equal(t, http.StatusOK, extendResp.StatusCode)

	nackResp := doJSON(t, http.MethodPost, srv.URL+"/queue/nack?id="+pushed.ID+"&reason=boom", "orders", nil)
	defer nackResp.Body.Close()
	require.Equal(t, http.StatusOK, nackResp.StatusCode)

	redeliverResp := doJSON(t, http.MethodGet, srv.URL+"/queue/pop", "orders", nil)
	redeliverResp.Body.Close()

	ackResp := doJSON(t, http.MethodPost, srv.URL+"/queue/ack?id="+pushed.ID, "orders", nil)
	defer ackResp.Body.Close()
	require.Equal(t, http.StatusOK, ackResp.StatusCode)
}

func TestHandleAckMissingMessageReturns404(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/queue/ack?id=ghost", "orders", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleView(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/queue/push", "orders", "payload").Body.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/queue/view", "orders", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []pushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
}

func TestHandleDLQViewAndReplay(t *testing.T) {
	srv := newTestServer(t)

	pushResp := doJSON(t, http.MethodPost, srv.URL+"/queue/push", "orders", "payload")
	var pushed pushResponse
	require.NoError(t, json.NewDecoder(pushResp.Body).Decode(&pushed))
	pushResp.Body.Close()

	// The test server's engine uses the default MaxDeliveryAttempts, so
	// drive enough nacks through the HTTP surface to land the message in
	// the DLQ before asserting on it.
	for i := 0; i < 10; i++ {
		popResp := doJSON(t, http.MethodGet, srv.URL+"/queue/pop", "orders", nil)
		if popResp.StatusCode != http.StatusOK {
			popResp.Body.Close()
			break
		}
		popResp.Body.Close()
		doJSON(t, http.MethodPost, srv.URL+"/queue/nack?id="+pushed.ID+"&reason=boom", "orders", nil).Body.Close()
	}

	viewResp := doJSON(t, http.MethodGet, srv.URL+"/queue/dlq/view", "orders", nil)
	defer viewResp.Body.Close()
	require.Equal(t, http.StatusOK, viewResp.StatusCode)

	var entries []map[string]interface{}
	require.NoError(t, json.NewDecoder(viewResp.Body).Decode(&entries))
	require.Len(t, entries, 1)

	replayResp := doJSON(t, http.MethodPost, srv.URL+"/queue/dlq/replay", "orders", []string{pushed.ID})
	defer replayResp.Body.Close()
	require.Equal(t, http.StatusOK, replayResp.StatusCode)

	var count int
	require.NoError(t, json.NewDecoder(replayResp.Body).Decode(&count))
	require.Equal(t, 1, count)
}
