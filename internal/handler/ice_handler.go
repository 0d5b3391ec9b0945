package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/call-service/internal/config"
	"github.com/weiawesome/wes-io-live/call-service/pkg/response"
)

const fallbackSTUN = "stun:stun.l.google.com:19302"

// ICEHandler serves ICE server configuration.
type ICEHandler struct {
	iceServers []config.ICEServerConfig
}

// NewICEHandler creates a new ICE handler.
func NewICEHandler(iceServers []config.ICEServerConfig) *ICEHandler {
	return &ICEHandler{
		iceServers: iceServers,
	}
}

// ICEServersResponse is the body of the ICE server endpoint.
type ICEServersResponse struct {
	ICEServers []config.ICEServerConfig `json:"iceServers"`
}

// GetICEServers returns the configured servers, always including a STUN
// server.
func (h *ICEHandler) GetICEServers(c *gin.Context) {
	servers := h.iceServers

	hasSTUN := false
	for _, s := range servers {
		for _, url := range s.URLs {
			if strings.HasPrefix(url, "stun:") || strings.HasPrefix(url, "stuns:") {
				hasSTUN = true
				break
			}
		}
	}
	if !hasSTUN {
		servers = append([]config.ICEServerConfig{{
			URLs: []string{fallbackSTUN},
		}}, servers...)
	}

	response.Success(c, &ICEServersResponse{ICEServers: servers})
}

// RegisterRoutes registers the ICE routes. They are public.
func (h *ICEHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/v1/ice-servers", h.GetICEServers)
}
