package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/murmur-chat/calling/pkg/internal/auth"
	"github.com/murmur-chat/calling/pkg/internal/services"
	"github.com/murmur-chat/calling/pkg/internal/signaling"
)

type API struct {
	calls   *services.CallService
	gateway *signaling.Gateway
	auth    *auth.Middleware
}

func NewAPI(calls *services.CallService, gateway *signaling.Gateway, guard *auth.Middleware) *API {
	return &API{
		calls:   calls,
		gateway: gateway,
		auth:    guard,
	}
}

func (v *API) MapAPIs(app *fiber.App, baseURL string) {
	api := app.Group(baseURL).Name("API")
	{
		calls := api.Group("/calls").Use(v.auth.Handler()).Name("Calls API")
		{
			calls.Get("/ws", websocket.New(v.signalingGateway))

			calls.Get("/active", v.getActiveCall)
			calls.Get("/history", v.listCallHistory)
			calls.Get("/stats", v.getCallStats)
			calls.Post("/start", v.startCall)

			calls.Get("/:callId", v.getCall)
			calls.Post("/:callId/join", v.joinCall)
			calls.Post("/:callId/end", v.endCall)
			calls.Post("/:callId/token", v.exchangeCallToken)
			calls.Patch("/:callId/participant", v.updateParticipant)
		}
	}
}
