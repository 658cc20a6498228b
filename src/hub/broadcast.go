package hub

import "github.com/Egcarson/chatroom/src/types"

// DeliveryReport summarizes one fan-out attempt. It is informational;
// a skipped member never fails the broadcast.
type DeliveryReport struct {
	RoomID    string
	Delivered int
	Skipped   int
	Evicted   int
}

// Broadcast delivers a stored message to every live member of a room,
// minus the excluded connection id if any. Enqueueing is non-blocking:
// a member whose outbound queue is full is skipped, and after DropLimit
// consecutive skips it is force-closed as a slow consumer instead of
// backpressuring the room.
func (h *Hub) Broadcast(roomID string, msg types.Message, excludeID string) DeliveryReport {
	report := DeliveryReport{RoomID: roomID}

	for _, c := range h.Members(roomID) {
		if excludeID != "" && c.ID == excludeID {
			continue
		}
		if c.Enqueue(msg) {
			c.resetDrops()
			report.Delivered++
			continue
		}
		report.Skipped++
		if c.noteDrop() >= h.opts.DropLimit {
			h.evict(c)
			report.Evicted++
		}
	}

	h.logger.Debug().
		Str("room_id", roomID).
		Str("message_id", msg.ID).
		Int("delivered", report.Delivered).
		Int("skipped", report.Skipped).
		Int("evicted", report.Evicted).
		Msg("broadcast")
	return report
}

// evict force-closes a slow consumer and removes it from its room so
// later broadcasts stop considering it. Only the evicted connection is
// affected; delivery to other members continues.
func (h *Hub) evict(c *Client) {
	h.logger.Warn().
		Str("room_id", c.RoomID).
		Str("connection_id", c.ID).
		Str("user_id", c.Identity.UserID).
		Msg("evicting slow consumer")
	c.CloseWithCode(types.CloseSlowConsumer, "outbound queue overflow")
	h.Remove(c)
}
