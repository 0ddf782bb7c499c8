package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/murmur-chat/calling/pkg/internal/models"
)

func (v *API) signalingGateway(c *websocket.Conn) {
	user := c.Locals("user").(models.Account)
	v.gateway.Launch(user, c)
}
