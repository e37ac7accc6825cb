// SPDX-License-Identifier: GPL-3.0-or-later

package apiserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bassosimone/raphnet/controller"
	"github.com/stretchr/testify/require"
)

func TestHealthzReportsIdleState(t *testing.T) {
	ctrl := controller.New(nil)

	mux := http.NewServeMux()
	Mount(mux, ctrl, "")

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Idle", body["state"])
}

func TestEventsRequiresBearerTokenWhenConfigured(t *testing.T) {
	ctrl := controller.New(nil)

	mux := http.NewServeMux()
	Mount(mux, ctrl, "secret")

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
