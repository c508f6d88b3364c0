package hierarchy

import "strings"

type Kind string

const (
	KindCompany    Kind = "company"
	KindDepartment Kind = "department"
	KindRole       Kind = "role"
	KindUser       Kind = "user"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCompany, KindDepartment, KindRole, KindUser:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusFree Status = "free"
	StatusBusy Status = "busy"
	StatusSick Status = "sick"
)

func (s Status) Valid() bool {
	switch s {
	case StatusFree, StatusBusy, StatusSick:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes user input ("  Busy ") into a Status.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// UserSnapshot is the denormalized view of a bound user kept on the record for display.
type UserSnapshot struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// Record is a server-owned hierarchy node. BoundUserID is a weak reference: the user is
// looked up, never owned.
type Record struct {
	ID          string        `json:"id"`
	ParentID    *string       `json:"parentId"`
	Kind        Kind          `json:"kind"`
	Title       string        `json:"title"`
	RoleTitle   *string       `json:"roleTitle"`
	Status      *Status       `json:"status"`
	BoundUserID *string       `json:"boundUserId"`
	BoundUser   *UserSnapshot `json:"boundUser,omitempty"`
}

func (r Record) IsRoot() bool {
	return r.ParentID == nil || strings.TrimSpace(*r.ParentID) == ""
}

func (r Record) HasBoundUser() bool {
	return r.BoundUserID != nil && strings.TrimSpace(*r.BoundUserID) != ""
}

// Clone returns a deep copy; records are shared between the store's mirror and snapshots.
func (r Record) Clone() Record {
	out := r
	out.ParentID = cloneString(r.ParentID)
	out.RoleTitle = cloneString(r.RoleTitle)
	out.BoundUserID = cloneString(r.BoundUserID)
	if r.Status != nil {
		s := *r.Status
		out.Status = &s
	}
	if r.BoundUser != nil {
		u := *r.BoundUser
		out.BoundUser = &u
	}
	return out
}

func CloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

type Permissions struct {
	CanEdit bool `json:"canEdit"`
}

// Tree is the payload returned by the tree endpoint.
type Tree struct {
	Records     []Record    `json:"records"`
	Permissions Permissions `json:"permissions"`
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func StringPtr(v string) *string {
	return &v
}
