package fakeupstream

import (
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/dross/clantally/internal/domain/refmap"
)

// activity is one generated completed (or failed) run.
type activity struct {
	InstanceID  string
	Period      time.Time
	ReferenceID int64
	Completed   bool
}

type character struct {
	ID         string
	Activities []activity
}

type member struct {
	MembershipID   string
	MembershipType int
	DisplayName    string
	IsOnline       bool
	Characters     []character
}

// world is the full generated dataset, immutable after generation.
type world struct {
	members map[string]*member
	order   []string
	// instances indexes every generated activity for /instances lookups.
	instances map[string]activity
}

var adjectives = []string{"swift", "grim", "lucky", "silent", "iron", "stray", "bold", "pale"}
var nouns = []string{"falcon", "warden", "drifter", "lancer", "oracle", "reaper", "pilgrim", "sentry"}

// generate builds a reproducible clan from the seed. Activity periods are
// spread over the trailing year, and roughly one run in ten is left
// incomplete so completion filtering has something to reject.
func generate(cfg *Config) *world {
	rng := rand.New(rand.NewSource(cfg.Seed))
	groups := refmap.Groups()
	now := time.Now().UTC().Truncate(time.Second)

	w := &world{
		members:   make(map[string]*member, cfg.Members),
		instances: make(map[string]activity),
	}
	nextInstance := int64(1000000000)

	for i := 0; i < cfg.Members; i++ {
		m := &member{
			MembershipID:   strconv.Itoa(4611686018000000000 + i),
			MembershipType: 3,
			DisplayName:    adjectives[rng.Intn(len(adjectives))] + "-" + nouns[rng.Intn(len(nouns))] + "-" + strconv.Itoa(i),
			IsOnline:       rng.Intn(4) == 0,
		}
		for c := 0; c < 1+rng.Intn(cfg.MaxCharacters); c++ {
			char := character{ID: strconv.FormatInt(2305843009000000000+int64(i*10+c), 10)}
			for a := 0; a < rng.Intn(cfg.MaxClears+1); a++ {
				group := groups[rng.Intn(len(groups))]
				variants := refmap.Variants(group.ID)
				act := activity{
					InstanceID:  strconv.FormatInt(nextInstance, 10),
					Period:      now.Add(-time.Duration(rng.Intn(365*24)) * time.Hour),
					ReferenceID: variants[rng.Intn(len(variants))],
					Completed:   rng.Intn(10) != 0,
				}
				nextInstance++
				char.Activities = append(char.Activities, act)
				w.instances[act.InstanceID] = act
			}
			// History endpoints page newest-first.
			sort.Slice(char.Activities, func(x, y int) bool {
				return char.Activities[x].Period.After(char.Activities[y].Period)
			})
			m.Characters = append(m.Characters, char)
		}
		w.members[m.MembershipID] = m
		w.order = append(w.order, m.MembershipID)
	}
	return w
}

func (w *world) character(membershipID, characterID string) *character {
	m, ok := w.members[membershipID]
	if !ok {
		return nil
	}
	for i := range m.Characters {
		if m.Characters[i].ID == characterID {
			return &m.Characters[i]
		}
	}
	return nil
}

// aggregates sums completed runs per variant id for one character.
func (w *world) aggregates(membershipID, characterID string) map[int64]int {
	char := w.character(membershipID, characterID)
	if char == nil {
		return nil
	}
	out := make(map[int64]int)
	for _, act := range char.Activities {
		if act.Completed {
			out[act.ReferenceID]++
		}
	}
	return out
}
