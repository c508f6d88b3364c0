package orggraph

import "strings"

// CEOLabel is the role title written by SetCEO.
const CEOLabel = "CEO"

var ceoTitles = map[string]struct{}{
	"ceo":                     {},
	"chief executive officer": {},
	"генеральный директор":    {},
	"гендиректор":             {},
}

func IsCEOTitle(title string) bool {
	_, ok := ceoTitles[strings.ToLower(strings.TrimSpace(title))]
	return ok
}

// resolveCEO flags the first CEO-titled user in walk order and, when nobody is bound to the
// company directly, lets the company node borrow that user's display. It returns the ids of
// any further matches.
func resolveCEO(nodes []Node) []string {
	companyIdx := -1
	ceoIdx := -1
	var ambiguous []string
	for i := range nodes {
		switch nodes[i].Type {
		case NodeCompany:
			if companyIdx < 0 {
				companyIdx = i
			}
		case NodeUser:
			if nodes[i].Meta.RoleTitle == nil || !IsCEOTitle(*nodes[i].Meta.RoleTitle) {
				continue
			}
			if ceoIdx < 0 {
				ceoIdx = i
				continue
			}
			ambiguous = append(ambiguous, nodes[i].ID)
		}
	}
	if ceoIdx < 0 {
		return nil
	}

	nodes[ceoIdx].Meta.IsCEO = true
	if companyIdx < 0 || nodes[companyIdx].HasBoundUser() {
		return ambiguous
	}

	company := &nodes[companyIdx]
	ceo := nodes[ceoIdx]
	if company.Subtitle == SubtitleRoot {
		company.Subtitle = company.Title
	}
	company.Title = ceo.Title
	company.Meta.Avatar = ceo.Meta.Avatar
	company.Meta.IsCEO = true
	company.Meta.CEONodeID = ceo.ID
	return ambiguous
}
