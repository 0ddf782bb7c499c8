package services

import (
	"sync/atomic"
	"time"

	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Advisory lock key shared by every reaper instance in the fleet.
const reaperLockKey int64 = 0x6D63_6C6C

const qualityRetention = 7 * 24 * time.Hour

// Reaper reconciles calls and participants that violate timeout policy.
// Sweeps are fault-isolated: one failing sweep never aborts the others.
type Reaper struct {
	store CallStore
	relay MediaRelay
	push  Publisher

	running atomic.Bool

	ringingTimeout    time.Duration
	connectionTimeout time.Duration
	maxDuration       time.Duration
}

func NewReaper(store CallStore, relay MediaRelay, push Publisher) *Reaper {
	return &Reaper{
		store:             store,
		relay:             relay,
		push:              push,
		ringingTimeout:    durationSetting("calling.ringing_timeout", time.Minute),
		connectionTimeout: durationSetting("calling.connection_timeout", 30*time.Second),
		maxDuration:       durationSetting("calling.max_duration", 4*time.Hour),
	}
}

func durationSetting(key string, fallback time.Duration) time.Duration {
	if secs := viper.GetInt(key); secs > 0 {
		return time.Second * time.Duration(secs)
	}
	return fallback
}

// RunSweeps is the cron entrypoint. At most one run executes at a time
// per process, and the store-level advisory lock keeps horizontally
// scaled instances from double-sweeping.
func (v *Reaper) RunSweeps() {
	if !v.running.CompareAndSwap(false, true) {
		return
	}
	defer v.running.Store(false)

	locked, err := v.store.TryAdvisoryLock(reaperLockKey)
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when acquiring reaper lock...")
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := v.store.ReleaseAdvisoryLock(reaperLockKey); err != nil {
			log.Error().Err(err).Msg("An error occurred when releasing reaper lock...")
		}
	}()

	v.sweepRingingCalls()
	v.sweepConnectingCalls()
	v.sweepLongRunningCalls()
	v.sweepOrphanParticipants()
	v.purgeQualitySamples()
	v.reportOrphanRooms()
}

func (v *Reaper) sweepRingingCalls() {
	deadline := time.Now().Add(-v.ringingTimeout)
	calls, err := v.store.ListTimedOutCalls([]models.CallState{models.CallStateRinging}, false, deadline)
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when sweeping ringing calls...")
		return
	}

	for _, call := range calls {
		v.forceTerminal(call, models.CallStateEnded, models.CallEndReasonTimeout)
	}
}

// sweepConnectingCalls also covers calls stranded in initiating when the
// orchestrator died between provisioning the room and ringing.
func (v *Reaper) sweepConnectingCalls() {
	deadline := time.Now().Add(-v.connectionTimeout)
	calls, err := v.store.ListTimedOutCalls([]models.CallState{
		models.CallStateInitiating,
		models.CallStateConnecting,
	}, false, deadline)
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when sweeping connecting calls...")
		return
	}

	for _, call := range calls {
		v.forceTerminal(call, models.CallStateFailed, models.CallEndReasonTimeout)
	}
}

func (v *Reaper) sweepLongRunningCalls() {
	deadline := time.Now().Add(-v.maxDuration)
	calls, err := v.store.ListTimedOutCalls([]models.CallState{
		models.CallStateConnected,
		models.CallStateReconnecting,
	}, true, deadline)
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when sweeping long-running calls...")
		return
	}

	for _, call := range calls {
		v.forceTerminal(call, models.CallStateEnded, models.CallEndReasonTimeout)
	}
}

// forceTerminal drives one stale call to a terminal state through the
// same transition table the orchestrator uses.
func (v *Reaper) forceTerminal(call models.Call, state models.CallState, reason models.CallEndReason) {
	if !CanTransitionCall(call.State, state) {
		return
	}

	now := time.Now()
	call.State = state
	call.EndReason = reason
	call.EndedAt = lo.ToPtr(now)

	participants, _ := v.store.ListParticipants(call.ID)
	if err := v.store.EndCallCascade(&call, now); err != nil {
		log.Error().Err(err).Uint("call", call.ID).Msg("An error occurred when reaping stale call...")
		return
	}

	if err := v.relay.DeleteRoom(call.ExternalID); err != nil {
		log.Error().Err(err).Str("room", call.ExternalID).Msg("Unable to delete room at media relay side...")
	}

	v.push.PushUserBatch(remainingUserIDs(participants), models.WebSocketPackage{
		Action: models.ActionCallEnded,
		Payload: map[string]any{
			"call_id": call.ID,
			"reason":  reason,
			"call":    call,
		},
	})

	log.Info().
		Uint("call", call.ID).
		Str("state", state).
		Str("reason", reason).
		Msg("Reaped one stale call.")
}

func (v *Reaper) sweepOrphanParticipants() {
	count, err := v.store.BackfillParticipantLeaves()
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when backfilling participant leaves...")
		return
	}
	if count > 0 {
		log.Info().Int64("affected", count).Msg("Backfilled participant leave timestamps.")
	}
}

func (v *Reaper) purgeQualitySamples() {
	count, err := v.store.PurgeQualitySamples(time.Now().Add(-qualityRetention))
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when purging quality samples...")
		return
	}
	if count > 0 {
		log.Debug().Int64("affected", count).Msg("Purged expired quality samples.")
	}
}

// reportOrphanRooms diffs the relay's room listing against active call
// rows and reports rooms nothing owns. Cleanup stays manual.
func (v *Reaper) reportOrphanRooms() {
	rooms, err := v.relay.ListRooms()
	if err != nil {
		log.Warn().Err(err).Msg("Unable to list rooms at media relay side...")
		return
	}
	active, err := v.store.ListActiveRoomNames()
	if err != nil {
		log.Error().Err(err).Msg("An error occurred when listing active rooms...")
		return
	}

	orphans, _ := lo.Difference(rooms, active)
	for _, room := range orphans {
		log.Warn().Str("room", room).Msg("Found orphaned room at media relay side.")
	}
}
