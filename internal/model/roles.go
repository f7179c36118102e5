package model

// RoleSpec fixes the identity and word budget of one of the ten packet
// documents. Violating hard bounds blocks a commit; drifting past the
// soft target only warns.
type RoleSpec struct {
	ID         int    `json:"id"`
	Key        string `json:"key"`
	Title      string `json:"title"`
	SoftTarget int    `json:"soft_target"`
	HardMin    int    `json:"hard_min"`
	HardMax    int    `json:"hard_max"`
}

// RoleCatalog is the fixed ten-document catalog, ids 1 through 10.
// No packet may omit a role or carry an extra one.
var RoleCatalog = []RoleSpec{
	{ID: 1, Key: "vision", Title: "Product Vision", SoftTarget: 320, HardMin: 170, HardMax: 900},
	{ID: 2, Key: "audience", Title: "Target Audience", SoftTarget: 280, HardMin: 150, HardMax: 800},
	{ID: 3, Key: "features", Title: "Core Features", SoftTarget: 360, HardMin: 200, HardMax: 1000},
	{ID: 4, Key: "journeys", Title: "User Journeys", SoftTarget: 320, HardMin: 170, HardMax: 900},
	{ID: 5, Key: "monetization", Title: "Monetization", SoftTarget: 260, HardMin: 140, HardMax: 800},
	{ID: 6, Key: "data", Title: "Data & Content", SoftTarget: 260, HardMin: 140, HardMax: 800},
	{ID: 7, Key: "platform", Title: "Platform & Launch", SoftTarget: 280, HardMin: 150, HardMax: 800},
	{ID: 8, Key: "quality", Title: "Quality & Testing", SoftTarget: 260, HardMin: 140, HardMax: 800},
	{ID: 9, Key: "risks", Title: "Risks & Unknowns", SoftTarget: 240, HardMin: 130, HardMax: 700},
	{ID: 10, Key: "handoff", Title: "Builder Handoff", SoftTarget: 300, HardMin: 160, HardMax: 900},
}

// RequiredHeadings are the six section headings every role document must
// contain, matched case-insensitively.
var RequiredHeadings = []string{
	"Purpose",
	"Key Decisions",
	"Acceptance Criteria",
	"Success Measures",
	"Unknowns",
	"Builder Notes",
}

var rolesByID = func() map[int]RoleSpec {
	m := make(map[int]RoleSpec, len(RoleCatalog))
	for _, r := range RoleCatalog {
		m[r.ID] = r
	}
	return m
}()

// RoleByID returns the role spec for the given id and whether it exists.
func RoleByID(id int) (RoleSpec, bool) {
	r, ok := rolesByID[id]
	return r, ok
}
