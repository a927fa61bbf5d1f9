// Package refmap holds the static table mapping upstream activity-variant
// identifiers to canonical activity groups.
//
// Several raw identifiers can alias one canonical group (normal, master and
// legacy editions of the same activity). Counting is always done per group,
// never per raw identifier. Exactly one table ships; earlier copies of this
// data diverged and were reconciled here.
package refmap

// Group is a canonical activity addressed by one or more variant ids.
type Group struct {
	ID          string
	DisplayName string
	// Special marks the tracked special subcategory (dungeons), tallied
	// separately from the headline clear count.
	Special bool
}

// entry binds a group to its known upstream variant identifiers.
type entry struct {
	group    Group
	variants []int64
}

var table = []entry{
	{Group{ID: "spire_of_dusk", DisplayName: "Spire of Dusk"}, []int64{2693136600, 2693136601, 2693136602, 1685065161}},
	{Group{ID: "keep_of_wishes", DisplayName: "Keep of Wishes"}, []int64{2122313384, 1661734046}},
	{Group{ID: "sunken_vault", DisplayName: "Sunken Vault"}, []int64{3881495763, 1441982566}},
	{Group{ID: "garden_eternal", DisplayName: "Garden Eternal"}, []int64{3458480158, 2497200493, 3845997235}},
	{Group{ID: "crypt_of_glass", DisplayName: "Crypt of Glass"}, []int64{910380154, 3976949817}},
	{Group{ID: "vow_of_ruin", DisplayName: "Vow of Ruin"}, []int64{1441981546, 4217492330, 4156879541}},
	{Group{ID: "kingsfall_court", DisplayName: "King's Court"}, []int64{1374392663, 2964135793, 3257594522}},
	{Group{ID: "root_of_echoes", DisplayName: "Root of Echoes"}, []int64{2381413764, 2918919505}},
	{Group{ID: "crimson_end", DisplayName: "Crimson End"}, []int64{4179289725, 4103176774, 156253568}},
	{Group{ID: "edge_of_dawn", DisplayName: "Edge of Dawn"}, []int64{1541433876, 4129614942}},

	{Group{ID: "shattered_spire", DisplayName: "Shattered Spire", Special: true}, []int64{2032534090}},
	{Group{ID: "pit_below", DisplayName: "The Pit Below", Special: true}, []int64{785700673, 785700678}},
	{Group{ID: "oracle_passage", DisplayName: "Oracle Passage", Special: true}, []int64{4148187374, 1077850348}},
	{Group{ID: "grasp_of_greed", DisplayName: "Grasp of Greed", Special: true}, []int64{4078656646, 3774021532}},
	{Group{ID: "twin_abyss", DisplayName: "Twin Abyss", Special: true}, []int64{2823159265, 3012587626}},
	{Group{ID: "watchers_spire", DisplayName: "Watcher's Spire", Special: true}, []int64{1262462921, 2296818662}},
	{Group{ID: "drifting_deep", DisplayName: "The Drifting Deep", Special: true}, []int64{313828469, 2716998124}},
	{Group{ID: "warlords_keep", DisplayName: "Warlord's Keep", Special: true}, []int64{2534833093, 3431536690}},
}

var byVariant = buildIndex()

func buildIndex() map[int64]Group {
	idx := make(map[int64]Group)
	for _, e := range table {
		for _, v := range e.variants {
			// First mapping wins; a variant id must not alias two groups.
			if _, ok := idx[v]; !ok {
				idx[v] = e.group
			}
		}
	}
	return idx
}

// Resolve maps an upstream variant identifier to its canonical group.
func Resolve(variantID int64) (Group, bool) {
	g, ok := byVariant[variantID]
	return g, ok
}

// Groups returns every canonical group, raid groups first.
func Groups() []Group {
	out := make([]Group, 0, len(table))
	for _, e := range table {
		out = append(out, e.group)
	}
	return out
}

// Variants returns the known variant ids for a group, or nil for an
// unknown group id.
func Variants(groupID string) []int64 {
	for _, e := range table {
		if e.group.ID == groupID {
			out := make([]int64, len(e.variants))
			copy(out, e.variants)
			return out
		}
	}
	return nil
}

// SpecialCount returns how many groups belong to the special subcategory.
func SpecialCount() int {
	n := 0
	for _, e := range table {
		if e.group.Special {
			n++
		}
	}
	return n
}
