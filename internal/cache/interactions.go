package cache

// contextRange is how many messages on each side of a user's message are
// inspected when extracting interactions.
const contextRange = 3

// partnerWindow is the wider radius used for partner frequency counts.
const partnerWindow = 5

// extractInteractions walks one chat's chronological sequence and
// accumulates the target user's interactions into out. Every message of
// the user lands in Self. Every other participant's message within
// contextRange of it becomes one record in that participant's bucket:
// context that precedes the user's message carries no UserMessage, a
// reply that follows it does. A partner appearing in two overlapping
// windows yields two records.
func extractInteractions(msgs []Message, userID int64, out *Interactions) {
	for i, m := range msgs {
		if m.UserID != userID {
			continue
		}
		out.Self = append(out.Self, m)

		start := i - contextRange
		if start < 0 {
			start = 0
		}
		end := i + contextRange + 1
		if end > len(msgs) {
			end = len(msgs)
		}
		for j := start; j < end; j++ {
			other := msgs[j]
			if other.UserID == userID {
				continue
			}
			rec := Interaction{
				PartnerMessage: other,
				Timestamp:      other.Timestamp,
				ChatID:         other.ChatID,
			}
			if j > i {
				um := m
				rec.UserMessage = &um
			}
			out.Partners[other.Username] = append(out.Partners[other.Username], rec)
		}
	}
}

// capPartners trims every partner bucket to its most recent limit
// records. Self is never trimmed. limit <= 0 keeps everything.
func (x *Interactions) capPartners(limit int) {
	if limit <= 0 {
		return
	}
	for name, recs := range x.Partners {
		if len(recs) > limit {
			x.Partners[name] = recs[len(recs)-limit:]
		}
	}
}

// communicationPartners counts, per participant, how many of their
// messages fall within partnerWindow of the target user's messages. A
// message near several of the user's messages is counted once per
// window it falls into.
func communicationPartners(msgs []Message, userID int64) map[string]PartnerStats {
	partners := make(map[string]PartnerStats)
	for i, m := range msgs {
		if m.UserID != userID {
			continue
		}
		start := i - partnerWindow
		if start < 0 {
			start = 0
		}
		end := i + partnerWindow + 1
		if end > len(msgs) {
			end = len(msgs)
		}
		for j := start; j < end; j++ {
			if j == i {
				continue
			}
			other := msgs[j]
			if other.UserID == userID {
				continue
			}
			st := partners[other.Username]
			st.UserID = other.UserID
			st.MessageCount++
			st.LastInteraction = other.Timestamp
			partners[other.Username] = st
		}
	}
	return partners
}
