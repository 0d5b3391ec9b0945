package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/call-service/internal/config"
)

func TestGetICEServers(t *testing.T) {
	tests := []struct {
		name     string
		servers  []config.ICEServerConfig
		wantURLs [][]string
	}{
		{
			name:     "nothing configured",
			wantURLs: [][]string{{fallbackSTUN}},
		},
		{
			name: "turn only gets a stun fallback",
			servers: []config.ICEServerConfig{
				{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
			},
			wantURLs: [][]string{{fallbackSTUN}, {"turn:turn.example.com:3478"}},
		},
		{
			name: "stun configured",
			servers: []config.ICEServerConfig{
				{URLs: []string{"stun:stun.example.com:3478"}},
			},
			wantURLs: [][]string{{"stun:stun.example.com:3478"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.servers)

			w, env := s.do(t, http.MethodGet, "/api/v1/ice-servers", "", nil)
			require.Equal(t, http.StatusOK, w.Code)

			var res ICEServersResponse
			require.NoError(t, json.Unmarshal(env.Data, &res))
			var got [][]string
			for _, s := range res.ICEServers {
				got = append(got, s.URLs)
			}
			assert.Equal(t, tt.wantURLs, got)
		})
	}
}
