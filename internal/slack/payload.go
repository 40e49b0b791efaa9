package slack

import (
	"encoding/json"
	"strings"
	"time"

	"caldnd/internal/model"
)

const (
	dndPartial = "partial"
	dndAllDay  = "all_day"
	dndCustom  = "custom"
)

// Prefs is the users.prefs.set payload for a custom weekly DND schedule.
// Weekdays with an interval get dnd_enabled_<day>=partial and the interval
// as dnd_before_<day>/dnd_after_<day>; the rest are all_day with null
// bounds.
type Prefs struct {
	Enabled bool
	Days    model.WeeklyProfile
}

// NewPrefs builds an enabled schedule from a weekly profile.
func NewPrefs(p model.WeeklyProfile) Prefs {
	return Prefs{Enabled: true, Days: p}
}

func (p Prefs) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"dnd_enabled": p.Enabled,
		"dnd_days":    dndCustom,
	}
	for _, wd := range model.Weekdays {
		day := strings.ToLower(wd.String())
		if iv, ok := p.Days.Day(wd); ok {
			m["dnd_before_"+day] = iv.Start.String()
			m["dnd_after_"+day] = iv.End.String()
			m["dnd_enabled_"+day] = dndPartial
			continue
		}
		m["dnd_before_"+day] = nil
		m["dnd_after_"+day] = nil
		m["dnd_enabled_"+day] = dndAllDay
	}
	return json.Marshal(m)
}

// Profile is the users.profile.set payload for the status line.
type Profile struct {
	StatusEmoji      string `json:"status_emoji"`
	StatusExpiration int64  `json:"status_expiration"`
	StatusText       string `json:"status_text"`
}

// InOffice clears the status.
func InOffice() Profile {
	return Profile{}
}

// OutOfOffice sets a status that expires when the next busy period starts.
func OutOfOffice(until time.Time, text, emoji string) Profile {
	return Profile{
		StatusEmoji:      emoji,
		StatusExpiration: until.Unix(),
		StatusText:       text,
	}
}

// ProfileFor picks the status for a presence state. The boolean is false when
// there is nothing to set: not busy now and nothing scheduled.
func ProfileFor(state model.PresenceState, text, emoji string) (Profile, bool) {
	if state.Busy {
		return InOffice(), true
	}
	if next, ok := state.Next(); ok {
		return OutOfOffice(next, text, emoji), true
	}
	return Profile{}, false
}
