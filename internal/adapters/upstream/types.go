package upstream

import (
	"time"

	"github.com/dross/clantally/internal/domain/counter"
)

// The upstream schema has drifted over time: the same logical value appears
// under different field names depending on record age. Each logical value
// gets one ordered alias list, tried in order, defaulting when none is
// present.
var (
	completionAliases = []string{"completed", "success"}
	aggregateAliases  = []string{"activityCompletions", "activityCompletedCount"}
)

// statValue is the upstream's nested numeric stat shape.
type statValue struct {
	Basic struct {
		Value float64 `json:"value"`
	} `json:"basic"`
}

type historyEnvelope struct {
	Activities []wireActivity `json:"activities"`
}

type wireActivity struct {
	Period      string               `json:"period"`
	InstanceID  string               `json:"instance_id"`
	ReferenceID int64                `json:"reference_id"`
	Values      map[string]statValue `json:"values"`
}

func (a wireActivity) completed() bool {
	for _, alias := range completionAliases {
		if v, ok := a.Values[alias]; ok {
			return v.Basic.Value > 0
		}
	}
	return false
}

// record normalizes a wire row. A row with an unparseable period is kept as
// a non-completed placeholder: it cannot be counted, but it must still count
// toward the page length, or a full page would look short and end pagination
// for the character early.
func (a wireActivity) record() counter.Record {
	period, err := time.Parse(time.RFC3339, a.Period)
	if err != nil {
		return counter.Record{ReferenceID: a.ReferenceID}
	}
	return counter.Record{
		InstanceID:  a.InstanceID,
		Period:      period,
		ReferenceID: a.ReferenceID,
		Completed:   a.completed(),
	}
}

type aggregateEnvelope struct {
	Activities []struct {
		ActivityHash int64                `json:"activity_hash"`
		Values       map[string]statValue `json:"values"`
	} `json:"activities"`
}

func (e aggregateEnvelope) completions() map[int64]int {
	out := make(map[int64]int, len(e.Activities))
	for _, a := range e.Activities {
		for _, alias := range aggregateAliases {
			if v, ok := a.Values[alias]; ok {
				out[a.ActivityHash] += int(v.Basic.Value)
				break
			}
		}
	}
	return out
}

type rosterEnvelope struct {
	Members []struct {
		MembershipID   string `json:"membership_id"`
		MembershipType int    `json:"membership_type"`
		DisplayName    string `json:"display_name"`
		IsOnline       bool   `json:"is_online"`
	} `json:"members"`
}

type profileEnvelope struct {
	CharacterIDs []string `json:"character_ids"`
}
