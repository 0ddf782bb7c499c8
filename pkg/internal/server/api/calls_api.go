package api

import (
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/murmur-chat/calling/pkg/internal/server/exts"
	"github.com/murmur-chat/calling/pkg/internal/services"
)

var callLocks sync.Map

// remapCallError translates the service taxonomy into HTTP statuses.
func remapCallError(err error) error {
	switch {
	case errors.Is(err, services.ErrCallNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrAlreadyInCall):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrCallNotActive), errors.Is(err, services.ErrSelfInvite):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotInvited), errors.Is(err, services.ErrNotInCall):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrMediaRelay):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func (v *API) startCall(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)

	var data struct {
		Type           string `json:"type" validate:"required,oneof=audio video"`
		ChatID         *uint  `json:"chat_id"`
		ParticipantIDs []uint `json:"participant_ids" validate:"required,min=1,max=7,dive,gt=0"`
		AudioEnabled   *bool  `json:"audio_enabled"`
		VideoEnabled   *bool  `json:"video_enabled"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	if _, ok := callLocks.Load(user.ID); ok {
		return fiber.NewError(fiber.StatusLocked, "there is already a call in creation progress for you")
	} else {
		callLocks.Store(user.ID, true)
	}

	ticket, err := v.calls.StartCall(user, data.Type, data.ParticipantIDs, data.ChatID, services.MediaFlagsPatch{
		AudioEnabled: data.AudioEnabled,
		VideoEnabled: data.VideoEnabled,
	})
	callLocks.Delete(user.ID)
	if err != nil {
		return remapCallError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(ticket)
}

func (v *API) joinCall(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)
	callID, err := c.ParamsInt("callId")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ticket, err := v.calls.JoinCall(user, uint(callID))
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(ticket)
}

func (v *API) endCall(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)
	callID, err := c.ParamsInt("callId")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var data struct {
		Reason string `json:"reason" validate:"omitempty,oneof=normal timeout declined busy failed cancelled network_error no_answer"`
	}
	if len(c.Body()) > 0 {
		if err := exts.BindAndValidate(c, &data); err != nil {
			return err
		}
	}

	call, err := v.calls.EndCall(user, uint(callID), data.Reason)
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(call)
}

func (v *API) exchangeCallToken(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)
	callID, err := c.ParamsInt("callId")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	token, iceServers, err := v.calls.ExchangeToken(user, uint(callID))
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(fiber.Map{
		"token":       token,
		"ice_servers": iceServers,
	})
}

func (v *API) getCall(c *fiber.Ctx) error {
	callID, err := c.ParamsInt("callId")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	call, err := v.calls.GetCall(uint(callID))
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(call)
}

func (v *API) getActiveCall(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)

	call, err := v.calls.GetActiveCall(user.ID)
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(call)
}

func (v *API) listCallHistory(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)
	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	calls, err := v.calls.ListHistory(user.ID, take, offset)
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(calls)
}

func (v *API) getCallStats(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)

	stats, err := v.calls.GetStats(user.ID)
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(stats)
}

func (v *API) updateParticipant(c *fiber.Ctx) error {
	user := c.Locals("user").(models.Account)
	callID, err := c.ParamsInt("callId")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var data services.MediaFlagsPatch
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	participant, err := v.calls.UpdateParticipantMedia(user, uint(callID), data)
	if err != nil {
		return remapCallError(err)
	}
	return c.JSON(participant)
}
